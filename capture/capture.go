// Package capture produces the bitmap stream a share session encodes. A
// source runs its own timing loop and hands frames to a single-slot mailbox;
// a slow consumer costs dropped frames, never queue growth.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by Mailbox.Take after the source stopped.
	ErrClosed = errors.New("capture: source closed")

	// ErrAlreadyStarted is returned by Start on reuse.
	ErrAlreadyStarted = errors.New("capture: source already started")
)

// Source is a frame producer. Run the loop with Start (it blocks until the
// context is cancelled or capture fails), read frames from the mailbox, and
// call Stop to release waiting consumers.
type Source interface {
	// Start captures frames until ctx is cancelled. A capture failure is
	// returned as a non-nil error and ends the session.
	Start(ctx context.Context) error

	// Frames returns the handoff mailbox the source publishes into.
	Frames() *Mailbox

	// Bounds reports the capture dimensions in pixels.
	Bounds() (width, height int)

	// Stop closes the mailbox so blocked consumers return ErrClosed.
	// Safe to call more than once and concurrently with Start.
	Stop()
}
