package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) Store(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://objects.example/" + key, nil
}

func sampleSummary() Summary {
	return Summary{
		SessionID:            "ses_1",
		Name:                 "Sprint 12 review",
		Status:               "completed",
		RequirementsTotal:    2,
		RequirementsReviewed: 1,
		ParticipantCount:     2,
		Participants: []Participant{
			{UserID: "U1", DisplayName: "Avery", Role: "facilitator"},
			{UserID: "U2", DisplayName: "Jamie", Role: "participant"},
		},
		GeneratedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Requirements: []RequirementSummary{
			{
				Ref:      "R1",
				Decision: &Decision{Outcome: "approved", DecidedBy: "U1"},
				Tally:    Tally{Approve: 1, Reject: 1, Voted: 2, RosterSize: 2, PercentVoted: 100},
				Votes: []Vote{
					{UserID: "U1", VoteType: "approve"},
					{UserID: "U2", VoteType: "reject", Comment: "<script>"},
				},
				Comments: []Comment{{ID: "c1", AuthorID: "U2", Text: "hello"}},
			},
			{Ref: "R2", Tally: Tally{RosterSize: 2}},
		},
	}
}

func TestExportJSON(t *testing.T) {
	svc := NewService(nil, nil, nil)
	result, err := svc.Export(context.Background(), sampleSummary(), FormatJSON)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.MimeType != "application/json" || result.Filename != "Sprint-12-review.json" {
		t.Fatalf("unexpected result metadata: %+v", result)
	}

	var decoded map[string]any
	if err := json.Unmarshal(result.Data, &decoded); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if decoded["requirementsReviewed"] != float64(1) || decoded["requirementsTotal"] != float64(2) {
		t.Fatalf("unexpected counts: %v", decoded)
	}
	requirements := decoded["requirements"].([]any)
	tally := requirements[0].(map[string]any)["tally"].(map[string]any)
	if tally["needs-discussion"] != float64(0) || tally["approve"] != float64(1) {
		t.Fatalf("unexpected tally: %v", tally)
	}
}

func TestExportPDFUsesRendererAndArchive(t *testing.T) {
	var renderedHTML string
	renderer := func(_ context.Context, html, title string) (*Result, error) {
		renderedHTML = html
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}
	archive := &fakeArchive{}
	svc := NewService(renderer, archive, nil)

	result, err := svc.Export(context.Background(), sampleSummary(), FormatPDF)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(renderedHTML, "Avery") || !strings.Contains(renderedHTML, "Reviewed 1 of 2") {
		t.Fatalf("rendered HTML missing summary content: %s", renderedHTML)
	}
	if strings.Contains(renderedHTML, "<script>") {
		t.Fatal("vote comment was not escaped")
	}
	wantKey := "sessions/ses_1/20260304T050607Z.pdf"
	if result.ArchiveKey != wantKey || result.DownloadURL != "https://objects.example/"+wantKey {
		t.Fatalf("unexpected archive info: key=%q url=%q", result.ArchiveKey, result.DownloadURL)
	}
}

func TestExportArchiveFailureStillReturnsResult(t *testing.T) {
	svc := NewService(nil, &fakeArchive{err: errors.New("bucket gone")}, nil)
	result, err := svc.Export(context.Background(), sampleSummary(), FormatJSON)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.DownloadURL != "" || result.ArchiveKey != "" {
		t.Fatalf("expected no archive info, got %+v", result)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatJSON {
		t.Fatalf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if f, err := ParseFormat("pdf"); err != nil || f != FormatPDF {
		t.Fatalf("ParseFormat(pdf) = %q, %v", f, err)
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ParseFormat(docx) error = %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Sprint 12 review": "Sprint-12-review",
		"!!!":              "session",
		"a/b\\c":           "abc",
	}
	for input, want := range cases {
		if got := sanitizeFilename(input); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestChromeRendererMissingBrowser(t *testing.T) {
	r := NewChromeRenderer("/nonexistent/reviewroom-chrome")
	_, err := r.Render(context.Background(), "<p>x</p>", "Sprint 12 review")
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestFooterTemplateEscapesTitle(t *testing.T) {
	footer := footerTemplate(`Review <script>alert(1)</script>`)
	if strings.Contains(footer, "<script>") {
		t.Fatalf("title must be escaped: %s", footer)
	}
	if !strings.Contains(footer, `class="pageNumber"`) || !strings.Contains(footer, `class="totalPages"`) {
		t.Fatalf("footer missing page counters: %s", footer)
	}
}
