// Package tokenize splits command lines into raw parameter tokens.
//
// Splitting follows POSIX shell quoting: whitespace separates tokens,
// single and double quotes group them, backslash escapes a character and
// '#' starts a comment.
package tokenize

import (
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

// Split tokenizes line. It returns core.ErrEmptyCommandLine when line holds
// no tokens.
func Split(line string) ([]string, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	if len(tokens) == 0 {
		return nil, core.ErrEmptyCommandLine
	}
	return tokens, nil
}

// Command splits line into the command name and its parameter tokens.
func Command(line string) (string, []string, error) {
	tokens, err := Split(line)
	if err != nil {
		return "", nil, err
	}
	return tokens[0], tokens[1:], nil
}

// Join renders tokens as a line that Split turns back into the same tokens.
func Join(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = quote(tok)
	}
	return strings.Join(quoted, " ")
}

func quote(tok string) string {
	if tok == "" {
		return "''"
	}
	if !strings.ContainsAny(tok, " \t\r\n'\"\\#") {
		return tok
	}
	return "'" + strings.ReplaceAll(tok, "'", `'"'"'`) + "'"
}
