// Package lines implements the classic delta-debugging line-chunk removal
// strategy: try removing progressively smaller contiguous runs of lines,
// sliding a window across the file and halving the window size whenever a
// full sweep fails to find a removable chunk.
package lines

import (
	"bytes"
	"context"
	"os"

	"github.com/reduceit/reduce/internal/pass"
)

// Pass is a [pass.Pass] implementation. The zero value is ready to use.
type Pass struct{}

// New returns a ready Pass.
func New() *Pass { return &Pass{} }

func (p *Pass) Name() string             { return "lines" }
func (p *Pass) Arg() string              { return "" }
func (p *Pass) Identity() string         { return "lines/" }
func (p *Pass) CheckPrerequisites() bool { return true }

// chunkState is the sliding window: ChunkSize lines starting at Index are
// removed by Transform. Index is re-validated against the current line
// count on every call, since a successful removal shifts every later line.
type chunkState struct {
	ChunkSize int
	Index     int
}

func (p *Pass) New(testCasePath string) (pass.State, error) {
	n, err := lineCount(testCasePath)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		return nil, nil
	}

	return chunkState{ChunkSize: n, Index: 0}, nil
}

// Advance slides the window forward by ChunkSize lines; once the window
// runs past the end of the file, it halves ChunkSize and restarts at 0.
// The pass is exhausted once ChunkSize drops below 1.
func (p *Pass) Advance(testCasePath string, state pass.State) (pass.State, error) {
	cs, ok := state.(chunkState)
	if !ok {
		return nil, nil
	}

	n, err := lineCount(testCasePath)
	if err != nil {
		return nil, err
	}

	return nextChunkState(cs, n), nil
}

// AdvanceOnSuccess keeps the same ChunkSize and Index: the chunk just
// removed shifted every later line up by ChunkSize, so Index now already
// addresses the next window.
func (p *Pass) AdvanceOnSuccess(testCasePath string, state pass.State) (pass.State, error) {
	cs, ok := state.(chunkState)
	if !ok {
		return nil, nil
	}

	n, err := lineCount(testCasePath)
	if err != nil {
		return nil, err
	}

	if cs.Index >= n {
		return nextChunkState(cs, n), nil
	}

	return cs, nil
}

func nextChunkState(cs chunkState, lineTotal int) pass.State {
	next := chunkState{ChunkSize: cs.ChunkSize, Index: cs.Index + cs.ChunkSize}
	if next.Index < lineTotal {
		return next
	}

	halved := cs.ChunkSize / 2 //nolint:mnd // halving is the algorithm, not a tunable
	if halved < 1 {
		return nil
	}

	return chunkState{ChunkSize: halved, Index: 0}
}

func (p *Pass) Transform(_ context.Context, testCasePath string, state pass.State, _ int, _ chan<- pass.PIDReport) (pass.Outcome, pass.State, error) {
	cs, ok := state.(chunkState)
	if !ok {
		return pass.STOP, nil, nil
	}

	data, err := os.ReadFile(testCasePath) //nolint:gosec // path is driver-controlled
	if err != nil {
		return pass.ERROR, nil, err
	}

	lines := splitLines(data)
	if cs.Index >= len(lines) {
		return pass.STOP, nil, nil
	}

	end := cs.Index + cs.ChunkSize
	if end > len(lines) {
		end = len(lines)
	}

	if cs.Index == end {
		return pass.STOP, nil, nil
	}

	result := append([]byte(nil), bytes.Join(lines[:cs.Index], nil)...)
	result = append(result, bytes.Join(lines[end:], nil)...)

	if err := os.WriteFile(testCasePath, result, 0o644); err != nil { //nolint:mnd // standard file perm
		return pass.ERROR, nil, err
	}

	return pass.OK, state, nil
}

// splitLines splits data into lines, each retaining its trailing newline
// (if any) so rejoining is a pure concatenation.
func splitLines(data []byte) [][]byte {
	var lines [][]byte

	start := 0

	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}

	if start < len(data) {
		lines = append(lines, data[start:])
	}

	return lines
}

func lineCount(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is driver-controlled
	if err != nil {
		return 0, err
	}

	return len(splitLines(data)), nil
}

var _ pass.Pass = (*Pass)(nil)
