// Package convert provides Registry, the default core.Converter.
//
// Built-in rules cover strings, booleans, signed and unsigned integers of
// every width, floats, time.Duration, RFC 3339 time.Time, pointers to any
// supported type and types implementing encoding.TextUnmarshaler. Named
// types convert to themselves, so a parameter declared as
//
//	type Level int
//
// receives a Level. Custom parsers take precedence:
//
//	conv := convert.New()
//	convert.RegisterFunc(conv, func(ctx context.Context, token string) (Player, error) {
//	    return players.Find(ctx, token)
//	})
package convert
