package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingFilename  = errors.New("file block without a filename")
	ErrLeadingSpace     = errors.New("whitespace between file sigil and filename")
	ErrMultipleStatus   = errors.New("more than one status sentinel")
	ErrMultipleComments = errors.New("more than one comment block")
	ErrMissingStatus    = errors.New("no status sentinel")
)

// SyntaxError ties a parse failure to its 1-based line number.
type SyntaxError struct {
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// FileMutation replaces a file with Content, or deletes it when Content is nil.
// An empty, non-nil Content is a valid empty file.
type FileMutation struct {
	Path    string
	Content *string
}

// IsDelete reports whether the mutation removes its file.
func (m FileMutation) IsDelete() bool { return m.Content == nil }

// Write returns a create-or-replace mutation.
func Write(path, content string) FileMutation {
	return FileMutation{Path: path, Content: &content}
}

// Delete returns a delete-if-present mutation.
func Delete(path string) FileMutation {
	return FileMutation{Path: path}
}

// Response is everything recognized in one model response.
type Response struct {
	// Mutations are in response order. Duplicate paths are kept; the last
	// one wins when applied.
	Mutations  []FileMutation
	Status     Status
	Comment    string
	HasComment bool
	ExtraFiles []string
}

// RequireStatus returns ErrMissingStatus when the response declared no status.
func (r *Response) RequireStatus() error {
	if r.Status == StatusNone {
		return ErrMissingStatus
	}
	return nil
}

// Parse scans text for file blocks and control blocks. Paths are not
// validated here.
//
// A file block with no ^^^end consumes the rest of the input as content. This
// leniency is intentional: truncated responses still yield their last file.
func Parse(text string) (*Response, error) {
	lines := splitLines(text)
	resp := &Response{}
	statusLine := 0
	commentLine := 0

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		marker := strings.TrimSpace(line)

		switch {
		case marker == EndMarker || marker == DeleteMarker:
			// Stray terminators outside a block.
			continue

		case strings.HasPrefix(line, FileSigil):
			name := strings.TrimRight(line[len(FileSigil):], " \t")
			if name == "" {
				return nil, &SyntaxError{Line: i + 1, Err: ErrMissingFilename}
			}
			if name[0] == ' ' || name[0] == '\t' {
				return nil, &SyntaxError{Line: i + 1, Err: ErrLeadingSpace}
			}
			var m FileMutation
			m, i = readFileBlock(name, lines, i+1)
			resp.Mutations = append(resp.Mutations, m)

		case sentinels[marker] != StatusNone:
			if statusLine != 0 {
				return nil, &SyntaxError{Line: i + 1, Err: fmt.Errorf("%w (first on line %d)", ErrMultipleStatus, statusLine)}
			}
			statusLine = i + 1
			resp.Status = sentinels[marker]

		case strings.HasPrefix(marker, CommentOpen):
			if commentLine != 0 {
				return nil, &SyntaxError{Line: i + 1, Err: fmt.Errorf("%w (first on line %d)", ErrMultipleComments, commentLine)}
			}
			commentLine = i + 1
			resp.Comment, i = readComment(marker, lines, i)
			resp.HasComment = true

		case marker == FilesOpen:
			var paths []string
			paths, i = readFileList(lines, i+1)
			resp.ExtraFiles = append(resp.ExtraFiles, paths...)
		}
	}

	return resp, nil
}

// splitLines splits on \n. A single trailing newline does not produce an
// extra empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// readFileBlock reads the block body starting at lines[start] and returns the
// index of the last line it consumed.
func readFileBlock(name string, lines []string, start int) (FileMutation, int) {
	if start < len(lines) && strings.TrimRight(lines[start], "\r") == DeleteMarker {
		return Delete(name), start
	}

	end := start
	for end < len(lines) && strings.TrimRight(lines[end], "\r") != EndMarker {
		end++
	}
	content := strings.Join(lines[start:end], "\n")
	// end == len(lines) when unterminated; the caller's loop then stops.
	return Write(name, content), end
}

func readComment(first string, lines []string, open int) (string, int) {
	rest := strings.TrimPrefix(first, CommentOpen)
	if before, _, ok := strings.Cut(rest, CommentClose); ok {
		return strings.TrimSpace(before), open
	}

	body := []string{rest}
	i := open + 1
	for ; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if before, _, ok := strings.Cut(line, CommentClose); ok {
			body = append(body, before)
			break
		}
		body = append(body, line)
	}
	return strings.TrimSpace(strings.Join(body, "\n")), i
}

func readFileList(lines []string, start int) ([]string, int) {
	var paths []string
	i := start
	for ; i < len(lines); i++ {
		entry := strings.TrimSpace(lines[i])
		if entry == FilesClose {
			break
		}
		if entry == "" {
			continue
		}
		paths = append(paths, entry)
	}
	return paths, i
}
