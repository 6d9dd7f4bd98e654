package export

import (
	"context"
	"fmt"
	"html"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Paper is a page size and uniform margin in inches.
type Paper struct {
	Width  float64
	Height float64
	Margin float64
}

var PaperA4 = Paper{Width: 8.27, Height: 11.69, Margin: 0.6}

var browserNames = []string{"chromium-browser", "chromium", "google-chrome", "headless-shell"}

// ChromeRenderer prints summary HTML with a headless Chrome. Its Render
// method satisfies PDFRenderer.
type ChromeRenderer struct {
	// ExecPath pins the browser binary. Empty means the usual names are
	// looked up on PATH.
	ExecPath string
	Timeout  time.Duration
	Paper    Paper
}

func NewChromeRenderer(execPath string) *ChromeRenderer {
	return &ChromeRenderer{ExecPath: execPath, Timeout: 30 * time.Second, Paper: PaperA4}
}

func (r *ChromeRenderer) browser() (string, error) {
	if r.ExecPath != "" {
		path, err := exec.LookPath(r.ExecPath)
		if err != nil {
			return "", fmt.Errorf("%w: %s not found", ErrPDFDependencyMissing, r.ExecPath)
		}
		return path, nil
	}
	for _, name := range browserNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no chromium on PATH", ErrPDFDependencyMissing)
}

func (r *ChromeRenderer) Render(ctx context.Context, document, title string) (*Result, error) {
	browser, err := r.browser()
	if err != nil {
		return nil, err
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	paper := r.Paper
	if paper.Width <= 0 || paper.Height <= 0 {
		paper = PaperA4
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(browser),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var data []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		setDocument(document),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			data, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(paper.Width).
				WithPaperHeight(paper.Height).
				WithMarginTop(paper.Margin).
				WithMarginBottom(paper.Margin).
				WithMarginLeft(paper.Margin).
				WithMarginRight(paper.Margin).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate("<span></span>").
				WithFooterTemplate(footerTemplate(title)).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print session pdf: %w", err)
	}

	return &Result{
		Data:     data,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// setDocument replaces the blank tab's content in place, so the summary
// never has to be encoded into a URL.
func setDocument(document string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("frame tree: %w", err)
		}
		return page.SetDocumentContent(tree.Frame.ID, document).Do(ctx)
	})
}

func footerTemplate(title string) string {
	return `<div style="font-size:8px;width:100%;padding:0 24px;display:flex;justify-content:space-between;">` +
		`<span>` + html.EscapeString(title) + `</span>` +
		`<span><span class="pageNumber"></span> / <span class="totalPages"></span></span></div>`
}

// sanitizeFilename keeps ASCII letters, digits, '-' and '_', maps spaces to
// hyphens and caps the result at 50 bytes.
func sanitizeFilename(title string) string {
	var result strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			result.WriteRune(r)
		case r == ' ':
			result.WriteByte('-')
		}
	}
	name := result.String()
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "session"
	}
	return name
}
