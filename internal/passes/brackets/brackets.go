// Package brackets implements a balanced-parenthesis removal pass with
// three sub-modes: removing a matched pair and everything between them
// ("parens"), removing only the delimiters and keeping their contents
// ("parens-only"), and removing only the contents while keeping the
// delimiters ("parens-inside").
//
// Every Transform call re-scans the current file content for matching
// pairs rather than trusting offsets computed at New time: a prior
// successful removal shifts every later byte offset, so positions are only
// ever valid against the content they were computed from.
package brackets

import (
	"context"
	"errors"
	"os"
	"sort"

	"github.com/reduceit/reduce/internal/pass"
)

// Mode selects which of the three sub-behaviors Transform applies.
type Mode string

const (
	ModeBoth   Mode = "parens"        // remove delimiters and contents
	ModeOnly   Mode = "parens-only"   // remove delimiters, keep contents
	ModeInside Mode = "parens-inside" // remove contents, keep delimiters
)

// ErrUnknownMode is returned by New if constructed with an unrecognized
// sub-mode string.
var ErrUnknownMode = errors.New("brackets: unknown mode")

// Pass is a [pass.Pass] implementation; use [New] to construct one.
type Pass struct {
	mode Mode
}

// New validates mode and returns a ready-to-use Pass.
func New(mode string) (*Pass, error) {
	switch Mode(mode) {
	case ModeBoth, ModeOnly, ModeInside:
		return &Pass{mode: Mode(mode)}, nil
	default:
		return nil, ErrUnknownMode
	}
}

func (p *Pass) Name() string             { return "brackets" }
func (p *Pass) Arg() string              { return string(p.mode) }
func (p *Pass) Identity() string         { return "brackets/" + string(p.mode) }
func (p *Pass) CheckPrerequisites() bool { return true }

// pairState indexes into the set of matched bracket pairs found by
// scanning the file content at Transform time, ordered by opening bracket
// position ascending.
type pairState int

func (p *Pass) New(testCasePath string) (pass.State, error) {
	data, err := os.ReadFile(testCasePath) //nolint:gosec // path is driver-controlled
	if err != nil {
		return nil, err
	}

	if len(matchedPairs(data)) == 0 {
		return nil, nil
	}

	return pairState(0), nil
}

func (p *Pass) Advance(testCasePath string, state pass.State) (pass.State, error) {
	idx, ok := state.(pairState)
	if !ok {
		return nil, nil
	}

	data, err := os.ReadFile(testCasePath) //nolint:gosec // path is driver-controlled
	if err != nil {
		return nil, err
	}

	next := idx + 1
	if int(next) >= len(matchedPairs(data)) {
		return nil, nil
	}

	return next, nil
}

// AdvanceOnSuccess keeps the same index: the pair just removed is no longer
// in the freshly-scanned list, so the same index now addresses what used to
// be the following pair.
func (p *Pass) AdvanceOnSuccess(testCasePath string, state pass.State) (pass.State, error) {
	idx, ok := state.(pairState)
	if !ok {
		return nil, nil
	}

	data, err := os.ReadFile(testCasePath) //nolint:gosec // path is driver-controlled
	if err != nil {
		return nil, err
	}

	if int(idx) >= len(matchedPairs(data)) {
		return nil, nil
	}

	return idx, nil
}

func (p *Pass) Transform(_ context.Context, testCasePath string, state pass.State, _ int, _ chan<- pass.PIDReport) (pass.Outcome, pass.State, error) {
	idx, ok := state.(pairState)
	if !ok {
		return pass.STOP, nil, nil
	}

	data, err := os.ReadFile(testCasePath) //nolint:gosec // path is driver-controlled
	if err != nil {
		return pass.ERROR, nil, err
	}

	pairs := matchedPairs(data)
	if int(idx) < 0 || int(idx) >= len(pairs) {
		return pass.STOP, nil, nil
	}

	pr := pairs[idx]

	var result []byte

	switch p.mode {
	case ModeBoth:
		result = append(result, data[:pr.open]...)
		result = append(result, data[pr.close+1:]...)
	case ModeOnly:
		result = append(result, data[:pr.open]...)
		result = append(result, data[pr.open+1:pr.close]...)
		result = append(result, data[pr.close+1:]...)
	case ModeInside:
		result = append(result, data[:pr.open+1]...)
		result = append(result, data[pr.close:]...)
	}

	if err := os.WriteFile(testCasePath, result, 0o644); err != nil { //nolint:mnd // standard file perm
		return pass.ERROR, nil, err
	}

	return pass.OK, state, nil
}

type bracketPair struct {
	open, close int
}

// matchedPairs finds every matched '(' ... ')' pair in data via a stack
// scan, returned sorted by opening position ascending (outer pairs of a
// nested group precede their inner pairs).
func matchedPairs(data []byte) []bracketPair {
	var stack []int

	var pairs []bracketPair

	for i, b := range data {
		switch b {
		case '(':
			stack = append(stack, i)
		case ')':
			if len(stack) == 0 {
				continue
			}

			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pairs = append(pairs, bracketPair{open: open, close: i})
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].open < pairs[j].open })

	return pairs
}

var _ pass.Pass = (*Pass)(nil)
