package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var summaryTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"percent": func(value float64) string {
			return fmt.Sprintf("%.0f%%", value)
		},
		"participantName": func(names map[string]string, userID string) string {
			if name, ok := names[userID]; ok && name != "" {
				return name
			}
			return userID
		},
	}

	templateContent, err := templateFS.ReadFile("templates/summary.html")
	if err != nil {
		summaryTemplate = template.Must(template.New("summary").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	summaryTemplate = template.Must(template.New("summary").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for summary template rendering
type TemplateData struct {
	Summary Summary
	Names   map[string]string
}

// RenderSummaryHTML renders the summary template with display names resolved
// from the roster.
func RenderSummaryHTML(summary Summary) (string, error) {
	names := make(map[string]string, len(summary.Participants))
	for _, p := range summary.Participants {
		names[p.UserID] = p.DisplayName
	}
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, TemplateData{Summary: summary, Names: names}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Summary.Name}}</title></head>
<body>
  <h1>{{.Summary.Name}}</h1>
  <p>Reviewed {{.Summary.RequirementsReviewed}} of {{.Summary.RequirementsTotal}}</p>
  {{range .Summary.Requirements}}<h2>{{.Ref}}</h2>{{end}}
</body>
</html>`
