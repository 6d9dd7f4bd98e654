package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// PDFRenderer turns rendered summary HTML into a PDF document.
type PDFRenderer func(ctx context.Context, html, title string) (*Result, error)

// Archive stores an export and returns a time-limited download URL.
type Archive interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Service provides session summary export functionality
type Service struct {
	pdf     PDFRenderer
	archive Archive
	logger  *slog.Logger
}

// NewService creates an export service. archive may be nil.
func NewService(pdf PDFRenderer, archive Archive, logger *slog.Logger) *Service {
	if pdf == nil {
		pdf = NewChromeRenderer("").Render
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pdf: pdf, archive: archive, logger: logger}
}

// Export renders the summary in the requested format and archives it when
// object storage is configured. An archive failure is logged and the export
// is still returned without a download URL.
func (s *Service) Export(ctx context.Context, summary Summary, format Format) (*Result, error) {
	var (
		result *Result
		err    error
	)
	switch format {
	case FormatJSON, "":
		result, err = exportJSON(summary)
	case FormatPDF:
		html, renderErr := RenderSummaryHTML(summary)
		if renderErr != nil {
			return nil, fmt.Errorf("render template: %w", renderErr)
		}
		result, err = s.pdf(ctx, html, summary.Name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		key := ArchiveKey(summary, format)
		url, archiveErr := s.archive.Store(ctx, key, result.Data, result.MimeType)
		if archiveErr != nil {
			s.logger.Warn("export archive failed", "session_id", summary.SessionID, "key", key, "error", archiveErr)
		} else {
			result.ArchiveKey = key
			result.DownloadURL = url
		}
	}
	return result, nil
}

func exportJSON(summary Summary) (*Result, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(summary.Name) + ".json",
		MimeType: "application/json",
	}, nil
}

// ArchiveKey is sessions/<id>/<generated-at>.<ext>.
func ArchiveKey(summary Summary, format Format) string {
	generated := summary.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	if format == "" {
		format = FormatJSON
	}
	return fmt.Sprintf("sessions/%s/%s.%s", summary.SessionID, generated.UTC().Format("20060102T150405Z"), format)
}
