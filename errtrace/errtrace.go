// Package errtrace threads a path of nested names through a Check/audit
// pass so that an invariant violation found deep inside a nested store or
// list reports the full path to the offending field.
//
// Go has no ambient thread-local storage to hang an implicit frame stack
// on, and reaching for one (via goroutine-id hacks) would be out of
// character for the rest of this module. Instead Trace is passed explicitly
// down the call chain, the same way spinlock.Tag is threaded through every
// lock call.
package errtrace

import "strings"

// Trace accumulates path segments during a recursive Check call. A nil
// *Trace is a valid empty trace, so an outermost caller can simply pass nil.
type Trace struct {
	frames []string
}

// Push returns a new Trace with what appended as the innermost frame. The
// receiver is left unmodified, so callers can fan out Check calls to
// siblings without frames leaking between them.
func (t *Trace) Push(what string) *Trace {
	var base []string
	if t != nil {
		base = t.frames
	}
	frames := make([]string, len(base)+1)
	copy(frames, base)
	frames[len(frames)-1] = what
	return &Trace{frames: frames}
}

// Wrap formats err, if non-nil, with the accumulated path prefixed.
func (t *Trace) Wrap(err error) error {
	if err == nil {
		return nil
	}
	if t == nil || len(t.frames) == 0 {
		return err
	}
	return &tracedError{path: strings.Join(t.frames, "."), err: err}
}

type tracedError struct {
	path string
	err  error
}

func (e *tracedError) Error() string {
	return e.path + ": " + e.err.Error()
}

func (e *tracedError) Unwrap() error {
	return e.err
}
