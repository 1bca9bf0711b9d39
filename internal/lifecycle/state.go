// Package lifecycle owns cache generations: it installs a generation from the
// precache manifest, activates it, garbage-collects every other generation
// and answers control messages.
package lifecycle

import (
	"github.com/jmgilman/go/errors"
)

// State is a lifecycle phase of one generation.
type State int

const (
	// StateInstalling is the initial state; the precache manifest is being fetched.
	StateInstalling State = iota
	// StateWaiting means the generation is installed but not yet serving.
	StateWaiting
	// StateActive means the generation serves intercepted requests.
	StateActive
	// StateSuperseded means a newer generation took over in this process.
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	}
	return "unknown"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func illegalTransition(op string, from State) error {
	err := errors.Newf(errors.CodeConflict, "cannot %s while %s", op, from)
	return errors.WithContext(err, "state", from.String())
}
