// Package keyevent lets the runner poll for a single operator keypress
// (space bars past the current pass, 'q' ends the run at the runner's next
// check, before the next batch)
// without blocking the reduction loop.
package keyevent

import (
	"context"
	"os"

	"golang.org/x/term"
)

// Key is a recognized single-key command.
type Key int

const (
	// KeyNone means no recognized key is currently pending.
	KeyNone Key = iota
	// KeySkipPass requests skipping the remainder of the current pass.
	KeySkipPass
	// KeyQuit requests ending the run: the runner checks for it before each
	// batch and then returns an error, so no later pass runs.
	KeyQuit
)

// Reader polls stdin for single keypresses in raw mode. Disabled entirely
// (Poll always returns KeyNone) when stdin is not a terminal or the driver
// was configured with skip_key_off.
type Reader struct {
	fd       int
	oldState *term.State
	enabled  bool
}

// New prepares a Reader. disabled forces Poll to always report KeyNone,
// matching --skip-key-off or a non-interactive stdin.
func New(disabled bool) *Reader {
	fd := int(os.Stdin.Fd())

	if disabled || !term.IsTerminal(fd) {
		return &Reader{enabled: false}
	}

	return &Reader{fd: fd, enabled: true}
}

// Start puts stdin into raw mode. Must be paired with Stop. A no-op if this
// Reader is disabled.
func (r *Reader) Start() error {
	if !r.enabled {
		return nil
	}

	state, err := term.MakeRaw(r.fd)
	if err != nil {
		r.enabled = false

		return err
	}

	r.oldState = state

	return nil
}

// Stop restores the terminal's original mode. A no-op if this Reader is
// disabled or was never started.
func (r *Reader) Stop() {
	if !r.enabled || r.oldState == nil {
		return
	}

	_ = term.Restore(r.fd, r.oldState)
}

// Poll reads a single byte from stdin and translates it into a Key. The
// read itself blocks, so the runner calls Poll from a dedicated goroutine
// and consumes results through a channel rather than calling Poll inline in
// its submit loop.
func (r *Reader) Poll() Key {
	if !r.enabled {
		return KeyNone
	}

	buf := make([]byte, 1)

	n, err := os.Stdin.Read(buf)
	if err != nil || n == 0 {
		return KeyNone
	}

	switch buf[0] {
	case ' ':
		return KeySkipPass
	case 'q', 'Q':
		return KeyQuit
	default:
		return KeyNone
	}
}

// Watch spawns a goroutine that calls Poll in a loop and forwards every
// recognized key onto the returned channel, so a caller (the reduction
// loop) can check for a pending keypress with a non-blocking select
// instead of calling the blocking Poll directly. If this Reader is
// disabled, the returned channel is never written to. The background
// goroutine is not joined on ctx cancellation: Poll's underlying read can
// block indefinitely on a real terminal, so the goroutine is left to exit
// with the process rather than be waited on.
func (r *Reader) Watch(ctx context.Context) <-chan Key {
	keys := make(chan Key)

	if !r.enabled {
		return keys
	}

	go func() {
		for {
			k := r.Poll()
			if k == KeyNone {
				continue
			}

			select {
			case keys <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	return keys
}
