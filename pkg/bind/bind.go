// Package bind maps raw command tokens onto a resolved handler's parameters.
package bind

import (
	"context"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

// Bind produces one argument per parameter of desc, in ascending index order.
//
// A parameter whose index is within the supplied tokens, or that has no
// declared default, is always fetched through params, which enforces bounds
// and converts the token. Only a missing token for a defaulted parameter is
// bound to the use-default marker. Binding stops at the first error and
// returns no partial result.
func Bind(ctx context.Context, desc *core.HandlerDescriptor, params *core.Parameters) (core.BoundArguments, error) {
	args := make(core.BoundArguments, len(desc.Parameters))

	for i, spec := range desc.Parameters {
		if i < params.Len() || !spec.HasDefault {
			v, err := params.Get(ctx, i, spec.Type)
			if err != nil {
				return nil, err
			}
			args[i] = core.Converted(v)
			continue
		}
		args[i] = core.UseDefault()
	}

	return args, nil
}
