// Package export renders a review session summary for download as JSON or PDF
// and optionally archives it in object storage.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts an empty value as JSON.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Summary is the serializable record of one session.
type Summary struct {
	SessionID            string               `json:"sessionId"`
	Name                 string               `json:"name"`
	Description          string               `json:"description,omitempty"`
	ProjectID            string               `json:"projectId,omitempty"`
	Status               string               `json:"status"`
	RequirementsTotal    int                  `json:"requirementsTotal"`
	RequirementsReviewed int                  `json:"requirementsReviewed"`
	ParticipantCount     int                  `json:"participantCount"`
	Participants         []Participant        `json:"participants"`
	StartedAt            *time.Time           `json:"startedAt,omitempty"`
	CompletedAt          *time.Time           `json:"completedAt,omitempty"`
	GeneratedAt          time.Time            `json:"generatedAt"`
	Requirements         []RequirementSummary `json:"requirements"`
}

type Participant struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type RequirementSummary struct {
	Ref      string    `json:"requirementId"`
	Decision *Decision `json:"decision,omitempty"`
	Tally    Tally     `json:"tally"`
	Votes    []Vote    `json:"votes"`
	Comments []Comment `json:"comments"`
}

// Reviewed reports whether the requirement has a decision or at least one vote.
func (r RequirementSummary) Reviewed() bool {
	return r.Decision != nil || len(r.Votes) > 0
}

type Tally struct {
	Approve         int     `json:"approve"`
	Reject          int     `json:"reject"`
	NeedsDiscussion int     `json:"needs-discussion"`
	Voted           int     `json:"voted"`
	RosterSize      int     `json:"rosterSize"`
	PercentVoted    float64 `json:"percentVoted"`
}

type Vote struct {
	UserID   string    `json:"userId"`
	VoteType string    `json:"voteType"`
	Comment  string    `json:"comment,omitempty"`
	CastAt   time.Time `json:"castAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	Mentions  []string  `json:"mentions,omitempty"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Decision struct {
	Outcome   string    `json:"outcome"`
	Rationale string    `json:"rationale,omitempty"`
	DecidedBy string    `json:"decidedBy"`
	DecidedAt time.Time `json:"decidedAt"`
}

// Result contains the export output
type Result struct {
	Data        []byte
	Filename    string
	MimeType    string
	ArchiveKey  string
	DownloadURL string
}

var (
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
