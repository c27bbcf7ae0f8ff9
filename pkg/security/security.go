package security

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

// Limits on what a command line or a stored invocation may carry.
const (
	MaxCommandNameLength  = 255
	MaxQueueNameLength    = 255
	MaxUniqueKeyLength    = 255
	MaxTokens             = 256
	MaxTokenLength        = 4 << 10
	MaxRetries            = 100
	MaxConcurrency        = 1000
	MaxErrorMessageLength = 4096

	// MaxQuotedTokenLength bounds a rejected token echoed in a stored error.
	MaxQuotedTokenLength = 64
)

// identifier is the shape shared by command and queue names: a letter
// followed by letters, digits, '_', '-' or '.'.
var identifier = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

func checkIdentifier(s string, maxLen int, invalid, tooLong error) error {
	switch {
	case len(s) > maxLen:
		return tooLong
	case !identifier.MatchString(s):
		return invalid
	}
	return nil
}

// ValidateCommandName checks a name passed to Register or found on a command line.
func ValidateCommandName(name string) error {
	return checkIdentifier(name, MaxCommandNameLength, core.ErrInvalidCommandName, core.ErrCommandNameTooLong)
}

// ValidateQueueName checks a queue an invocation is enqueued on.
func ValidateQueueName(name string) error {
	return checkIdentifier(name, MaxQueueNameLength, core.ErrInvalidQueueName, core.ErrQueueNameTooLong)
}

// ValidateTokens enforces the token count and size limits of one invocation.
func ValidateTokens(tokens []string) error {
	if n := len(tokens); n > MaxTokens {
		return fmt.Errorf("%w: %d > %d", core.ErrTooManyTokens, n, MaxTokens)
	}
	for i, tok := range tokens {
		if len(tok) > MaxTokenLength {
			return fmt.Errorf("%w: parameter %d is %d bytes", core.ErrTokenTooLong, i, len(tok))
		}
	}
	return nil
}

// ValidateUniqueKey checks the deduplication key of an enqueued invocation.
func ValidateUniqueKey(key string) error {
	if len(key) > MaxUniqueKeyLength {
		return core.ErrUniqueKeyTooLong
	}
	return nil
}

// ErrorMessage renders err for an invocation's LastError. Every quoted copy
// of a token rejected by a parameter parse error is shortened, since tokens
// come from the caller and may be up to MaxTokenLength bytes.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	var parseErr *core.ParameterParseError
	if errors.As(err, &parseErr) {
		if short, ok := shorten(parseErr.Token); ok {
			msg = strings.ReplaceAll(msg, strconv.Quote(parseErr.Token), strconv.Quote(short)+"...")
		}
	}
	return SanitizeErrorMessage(msg)
}

func shorten(token string) (string, bool) {
	runes := []rune(token)
	if len(runes) <= MaxQuotedTokenLength {
		return token, false
	}
	return string(runes[:MaxQuotedTokenLength]), true
}

// SanitizeErrorMessage strips control characters other than line breaks and
// tabs, and truncates to MaxErrorMessageLength runes.
func SanitizeErrorMessage(msg string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, msg)

	runes := []rune(clean)
	if len(runes) > MaxErrorMessageLength {
		return string(runes[:MaxErrorMessageLength-3]) + "..."
	}
	return clean
}

// ClampRetries bounds the retry budget of an enqueued invocation.
func ClampRetries(n int) int {
	return max(0, min(n, MaxRetries))
}

// ClampConcurrency bounds the goroutines a worker runs per queue.
func ClampConcurrency(n int) int {
	return max(1, min(n, MaxConcurrency))
}
