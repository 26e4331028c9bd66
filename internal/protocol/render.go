package protocol

import (
	"fmt"
	"strings"
)

// Render writes mutations in wire form, so that Parse(Render(m)) == m.
// It fails for content Parse could not recover: a full line equal to
// ^^^end, or a first line equal to ^^^delete.
func Render(mutations []FileMutation) (string, error) {
	var b strings.Builder
	for _, m := range mutations {
		b.WriteString(FileSigil)
		b.WriteString(m.Path)
		b.WriteByte('\n')

		if m.IsDelete() {
			b.WriteString(DeleteMarker)
			b.WriteByte('\n')
			continue
		}

		content := *m.Content
		for i, line := range strings.Split(content, "\n") {
			line = strings.TrimRight(line, "\r")
			if line == EndMarker || (i == 0 && line == DeleteMarker) {
				return "", fmt.Errorf("content of %s cannot be rendered: contains marker line %q", m.Path, line)
			}
		}
		b.WriteString(content)
		b.WriteByte('\n')
		b.WriteString(EndMarker)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
