package agent

import (
	"errors"
	"strings"

	"dataanalyst/internal/ingest"
)

// Failure classes. Handle never returns them; they are wrapped into
// Response.Err and rendered into the assistant text by describe.
var (
	ErrParse            = errors.New("file could not be parsed")
	ErrExtractionMiss   = errors.New("no usable code in model reply")
	ErrExecutionTimeout = errors.New("execution timed out")
	ErrExecutionFailure = errors.New("execution failed")
	ErrUnsupportedType  = errors.New("unsupported file type")
	ErrUpstreamModel    = errors.New("model request failed")
)

// UnsupportedTypeMessage is the reply for files of an unknown kind.
const UnsupportedTypeMessage = "Unsupported file type."

// describe renders a classified error as user-facing text.
func describe(err error) string {
	if err == nil {
		return ""
	}

	var pe *ingest.ParseError
	switch {
	case errors.Is(err, ErrUnsupportedType):
		return UnsupportedTypeMessage
	case errors.As(err, &pe):
		return pe.Error()
	case errors.Is(err, ErrExtractionMiss):
		d := detail(err, ErrExtractionMiss)
		if d == "" {
			d = ErrExtractionMiss.Error()
		}
		return "Note: " + d + "; ran the default histogram script instead."
	case errors.Is(err, ErrExecutionTimeout), errors.Is(err, ErrExecutionFailure):
		// Wrapped with the sandbox's own error text.
		if d := detail(err, ErrExecutionTimeout, ErrExecutionFailure); d != "" {
			return d
		}
		return capitalize(err.Error()) + "."
	case errors.Is(err, ErrUpstreamModel):
		return "The model request failed: " + detail(err, ErrUpstreamModel)
	}
	return "Error: " + err.Error()
}

// detail strips the sentinel prefix added by fmt.Errorf("%w: ...").
func detail(err error, sentinels ...error) string {
	msg := err.Error()
	for _, s := range sentinels {
		if rest, ok := strings.CutPrefix(msg, s.Error()+": "); ok {
			return rest
		}
		if msg == s.Error() {
			return ""
		}
	}
	return msg
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
