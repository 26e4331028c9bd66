// Package prompt assembles the text sent to the model. The instruction text
// itself is opaque and comes from configuration; this package only frames
// it with task context, build output and the response format.
package prompt

import (
	"fmt"
	"strings"

	"forge/internal/protocol"
)

// formatGuide describes the response protocol to the model. It is built from
// the protocol token literals so the two cannot drift apart.
var formatGuide = fmt.Sprintf(`## Response format

Write every file you change in full. Partial edits are not supported.

To create or replace a file:
%[1]spath/relative/to/project/root
<complete file content>
%[2]s

To delete a file:
%[1]spath/relative/to/project/root
%[3]s

Paths are relative to the project root. Never write a space after %[1]s.
Anything outside these blocks is ignored.`,
	protocol.FileSigil, protocol.EndMarker, protocol.DeleteMarker)

var reviewGuide = fmt.Sprintf(`## Review outcome

End your response with exactly one of these lines:
%[1]s             the specification passes this stage unchanged
%[2]s   it needs changes only the author can make
%[3]s   you edited files in this response

Explain your findings in a single comment block:
%[4]s
<comment>
%[5]s`,
	protocol.SuccessMarker, protocol.ChangesRequestedMarker, protocol.ChangesAttemptedMarker,
	protocol.CommentOpen, protocol.CommentClose)

var filesGuide = fmt.Sprintf(`List the paths of any additional project files you need to read before
making changes, one per line, between these markers:
%[1]s
path/one
path/two
%[2]s
Reply with an empty list if the context above is sufficient. Do not change
any files in this response.`, protocol.FilesOpen, protocol.FilesClose)

// File is a project file shown to the model.
type File struct {
	Path    string
	Content string
}

// Builder frames static instructions into the prompts of a run.
type Builder struct {
	instructions string
}

// NewBuilder returns a builder for instructions.
func NewBuilder(instructions string) *Builder {
	return &Builder{instructions: strings.TrimSpace(instructions)}
}

// Initial is the first prompt of a build-repair run.
func (b *Builder) Initial(task string, files []File) string {
	var sb strings.Builder
	b.writeInstructions(&sb)
	writeTask(&sb, task)
	writeFiles(&sb, "Project files", files)
	sb.WriteString("\n\n")
	sb.WriteString(formatGuide)
	sb.WriteString("\n")
	return sb.String()
}

// Repair asks the model to fix a failed build. changes holds the latest
// content of every file changed so far in the run.
func (b *Builder) Repair(task, buildOutput string, changes []protocol.FileMutation, files []File) (string, error) {
	rendered, err := protocol.Render(changes)
	if err != nil {
		return "", fmt.Errorf("failed to render previous changes: %w", err)
	}

	var sb strings.Builder
	b.writeInstructions(&sb)
	writeTask(&sb, task)

	if rendered != "" {
		sb.WriteString("\n\n## Changes made so far\n")
		sb.WriteString("These files already contain the content below:\n\n")
		sb.WriteString(rendered)
	}
	writeFiles(&sb, "Additional files", files)

	sb.WriteString("\n\n## Build output\n")
	sb.WriteString("The build failed with this output:\n\n")
	writeFence(&sb, buildOutput)
	sb.WriteString("\nFix the build.\n\n")
	sb.WriteString(formatGuide)
	sb.WriteString("\n")
	return sb.String(), nil
}

// ContextRequest asks the model which further files it wants to read.
// previous is the prompt the answer will be appended to.
func (b *Builder) ContextRequest(previous string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(previous, "\n"))
	sb.WriteString("\n\n## Before you answer\n")
	sb.WriteString(filesGuide)
	sb.WriteString("\n")
	return sb.String()
}

// ReviewInput is one stage review of one module specification.
type ReviewInput struct {
	Stage    string
	Goal     string
	SpecPath string
	Spec     string
	// Related are other specifications the stage checks against.
	Related []File
}

// Review is the prompt for a single review stage.
func (b *Builder) Review(in ReviewInput) string {
	var sb strings.Builder
	b.writeInstructions(&sb)

	fmt.Fprintf(&sb, "\n\n## Review stage: %s\n%s\n", in.Stage, strings.TrimSpace(in.Goal))
	fmt.Fprintf(&sb, "\n## Specification under review: %s\n", in.SpecPath)
	writeFence(&sb, in.Spec)
	writeFiles(&sb, "Related specifications", in.Related)

	sb.WriteString("\n\n")
	sb.WriteString(reviewGuide)
	sb.WriteString("\n\n")
	sb.WriteString(formatGuide)
	sb.WriteString("\n")
	return sb.String()
}

func (b *Builder) writeInstructions(sb *strings.Builder) {
	if b.instructions == "" {
		return
	}
	sb.WriteString(b.instructions)
}

func writeTask(sb *strings.Builder, task string) {
	task = strings.TrimSpace(task)
	if task == "" {
		return
	}
	sb.WriteString("\n\n## Task\n")
	sb.WriteString(task)
}

func writeFiles(sb *strings.Builder, title string, files []File) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n\n## %s\n", title)
	for _, f := range files {
		fmt.Fprintf(sb, "\n### %s\n", f.Path)
		writeFence(sb, f.Content)
	}
}

// writeFence wraps content in a code fence longer than any backtick run
// inside it.
func writeFence(sb *strings.Builder, content string) {
	fence := "```"
	for strings.Contains(content, fence) {
		fence += "`"
	}
	sb.WriteString(fence)
	sb.WriteByte('\n')
	sb.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString(fence)
	sb.WriteByte('\n')
}
