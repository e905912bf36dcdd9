package model

import "time"

// MessageID is the store-assigned identifier of a message within a folder listing.
type MessageID string

// BodySource records which part of the MIME tree the body was taken from.
type BodySource string

const (
	BodySourceNone   BodySource = "none"
	BodySourcePlain  BodySource = "plain"
	BodySourceHTML   BodySource = "html"
	BodySourceSingle BodySource = "single"
)

// ParsedMessage holds the header fields and body text recovered from a raw message.
// Fields that could not be recovered are left empty with the matching Has flag unset.
type ParsedMessage struct {
	Date       string
	HasDate    bool
	ParsedDate time.Time

	Subject    string
	HasSubject bool

	From    string
	HasFrom bool

	Body       string
	BodySource BodySource

	// Warnings collects non-fatal decode problems.
	Warnings []error
}

// Year returns the year of the parsed Date header. ok is false when the
// header was missing or did not match any known layout.
func (p ParsedMessage) Year() (year int, ok bool) {
	if p.ParsedDate.IsZero() {
		return 0, false
	}
	return p.ParsedDate.Year(), true
}

// Label is the binary classification assigned to a message body.
type Label string

const (
	Spam    Label = "Spam"
	NotSpam Label = "Not Spam"
)

// LabelFor maps a binary prediction to a Label.
func LabelFor(isSpam bool) Label {
	if isSpam {
		return Spam
	}
	return NotSpam
}

// OutputRecord is one row of the report.
type OutputRecord struct {
	Subject    string
	From       string
	Date       string
	SpamStatus Label
}

// SkipReason explains why a message produced no record.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipNoYear       SkipReason = "no_year"
	SkipYearMismatch SkipReason = "year_mismatch"
	SkipFiltered     SkipReason = "filtered"
)

// Outcome is the per-message result of a run.
type Outcome struct {
	Index  int
	ID     MessageID
	Record *OutputRecord
	Skip   SkipReason
	Err    error
}

// Failure describes a message that could not be processed.
type Failure struct {
	ID  MessageID
	Err error
}
