package recovery

import (
	"errors"
	"fmt"
)

// ErrNoCandidate is returned by a strategy that found nothing to parse.
var ErrNoCandidate = errors.New("no json candidate")

const snippetLimit = 2000

// UnrecoverableError is returned when every strategy failed. The raw text is
// persisted through the engine's Sink before it is returned.
type UnrecoverableError struct {
	Err     error  // last parser error
	Path    string // where the raw text was saved, empty if it was not
	Snippet string // leading part of the raw text
	SaveErr error  // set when persisting the raw text failed
}

func (e *UnrecoverableError) Error() string {
	msg := fmt.Sprintf("unrecoverable model response: %v", e.Err)
	switch {
	case e.Path != "":
		msg += fmt.Sprintf(" (raw response saved to %s)", e.Path)
	case e.SaveErr != nil:
		msg += fmt.Sprintf(" (could not save raw response: %v)", e.SaveErr)
	}
	return msg
}

func (e *UnrecoverableError) Unwrap() error { return e.Err }

func snippet(raw string) string {
	r := []rune(raw)
	if len(r) <= snippetLimit {
		return raw
	}
	return string(r[:snippetLimit])
}
