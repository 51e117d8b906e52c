package shadertest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Segment is one piece of a composed kernel: shared helper code, a PRNG, a
// struct declaration, or the entry point itself. Tests assemble kernels from
// segments so the code under test and its host-side mirror share one source
// of truth.
type Segment struct {
	Name   string
	Source string
}

// SegmentFile loads a segment from disk, named after the file.
func SegmentFile(path string) (Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Segment{}, fmt.Errorf("shadertest: read segment %s: %w", path, err)
	}
	return Segment{Name: filepath.Base(path), Source: string(data)}, nil
}

// ComposeKernel concatenates segments into one WGSL source and returns a
// SourceMap for translating composed line numbers back to their segment.
func ComposeKernel(segs ...Segment) (string, *SourceMap) {
	var sb strings.Builder
	m := &SourceMap{}
	line := 1
	for _, seg := range segs {
		src := seg.Source
		if !strings.HasSuffix(src, "\n") {
			src += "\n"
		}
		n := strings.Count(src, "\n")
		m.spans = append(m.spans, span{name: seg.Name, first: line, last: line + n - 1})
		sb.WriteString(src)
		line += n
	}
	return sb.String(), m
}

// span is the composed line range [first, last] occupied by one segment.
type span struct {
	name        string
	first, last int
}

// SourceMap maps line numbers in a composed kernel back to the segment they
// came from. Compiler diagnostics report composed line numbers; Locate turns
// them into a segment name and a line within that segment.
type SourceMap struct {
	spans []span
}

// Locate returns the segment containing the given composed line (1-based)
// and the line's position within that segment.
func (m *SourceMap) Locate(line int) (segment string, localLine int, ok bool) {
	for _, s := range m.spans {
		if line >= s.first && line <= s.last {
			return s.name, line - s.first + 1, true
		}
	}
	return "", 0, false
}

// lineRefRe matches the line:column references compiler diagnostics carry,
// either leading the message ("12:5: expected ...") or inside a source
// context arrow ("--> line 12:5").
var lineRefRe = regexp.MustCompile(`(?m)(^|line )(\d+):(\d+)`)

// Rewrite annotates every line reference in a diagnostic with the segment
// that composed line came from, so a broken composition points at the
// segment its author wrote rather than a line number in a source nobody has
// seen. References the map cannot place are left alone; if no reference
// resolves at all, the segment layout is appended so the diagnostic still
// names the segments involved.
func (m *SourceMap) Rewrite(diags string) string {
	resolved := false
	out := lineRefRe.ReplaceAllStringFunc(diags, func(ref string) string {
		sub := lineRefRe.FindStringSubmatch(ref)
		line, err := strconv.Atoi(sub[2])
		if err != nil {
			return ref
		}
		seg, local, ok := m.Locate(line)
		if !ok {
			return ref
		}
		resolved = true
		return fmt.Sprintf("%s%d:%s [segment %q line %d]", sub[1], line, sub[3], seg, local)
	})
	if !resolved && len(m.spans) > 0 {
		var sb strings.Builder
		sb.WriteString(out)
		sb.WriteString("\nsegments:")
		for _, s := range m.spans {
			fmt.Fprintf(&sb, "\n  %q lines %d-%d", s.name, s.first, s.last)
		}
		return sb.String()
	}
	return out
}
