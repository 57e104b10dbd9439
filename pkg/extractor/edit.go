package extractor

import (
	"fmt"
	"sort"
	"strings"
)

// Edit replaces src[Start:End] with Text. Start == End inserts.
type Edit struct {
	Start uint32
	End   uint32
	Text  string
}

// Apply applies edits to src. An insertion at the start of a replacement
// goes before it. An edit fully contained in another edit is dropped, a
// partial overlap is an error.
func Apply(src []byte, edits []Edit) (string, error) {
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		if insI, insJ := sorted[i].Start == sorted[i].End, sorted[j].Start == sorted[j].End; insI != insJ {
			return insI
		}
		return sorted[i].End > sorted[j].End
	})

	var b strings.Builder
	b.Grow(len(src))
	var cursor uint32
	covered := false
	for _, e := range sorted {
		if e.End < e.Start || int(e.End) > len(src) {
			return "", fmt.Errorf("edit [%d,%d) out of range for %d bytes", e.Start, e.End, len(src))
		}
		if covered && e.Start < cursor {
			if e.End <= cursor {
				continue
			}
			return "", fmt.Errorf("edit [%d,%d) overlaps previous edit ending at %d", e.Start, e.End, cursor)
		}
		b.Write(src[cursor:e.Start])
		b.WriteString(e.Text)
		cursor = e.End
		covered = true
	}
	b.Write(src[cursor:])
	return b.String(), nil
}
