// Package protocol parses the line-oriented text format a model uses to
// propose file mutations and report review status.
//
// A response is scanned top to bottom. File blocks look like
//
//	^^^src/a/impl.go
//	package a
//	^^^end
//
// and deletions like
//
//	^^^src/a/old.go
//	^^^delete
//
// Status sentinels, comments and extra-file requests use %%% markers and are
// only recognized outside file blocks. Any other line is ignored.
package protocol

// Token literals. These are part of the wire contract with the prompt text.
const (
	FileSigil    = "^^^"
	EndMarker    = "^^^end"
	DeleteMarker = "^^^delete"

	SuccessMarker          = "%%%success"
	ChangesRequestedMarker = "%%%changes-requested"
	ChangesAttemptedMarker = "%%%changes-attempted"

	FilesOpen  = "%%%files"
	FilesClose = "%%%end"

	CommentOpen  = "%%%["
	CommentClose = "%%%]"
)

// Status is the review outcome a response declares.
type Status string

const (
	StatusNone             Status = ""
	StatusSuccess          Status = "success"
	StatusChangesRequested Status = "changes-requested"
	StatusChangesAttempted Status = "changes-attempted"
)

var sentinels = map[string]Status{
	SuccessMarker:          StatusSuccess,
	ChangesRequestedMarker: StatusChangesRequested,
	ChangesAttemptedMarker: StatusChangesAttempted,
}

// Marker returns the sentinel line for s, or "" for StatusNone.
func (s Status) Marker() string {
	for marker, st := range sentinels {
		if st == s {
			return marker
		}
	}
	return ""
}
