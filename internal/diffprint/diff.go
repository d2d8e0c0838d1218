// Package diffprint renders a unified diff between two versions of a test
// case, printed to the operator's terminal after a pass commits a smaller
// candidate when --print-diff is set.
package diffprint

import (
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// Unified renders a unified diff of before -> after, labeled with path. An
// empty result means the two are identical.
func Unified(path string, before, after []byte) string {
	edits := myers.ComputeEdits(span.URIFromPath(path), string(before), string(after))
	if len(edits) == 0 {
		return ""
	}

	unified := gotextdiff.ToUnified(path, path, string(before), edits)

	return fmt.Sprint(unified)
}

