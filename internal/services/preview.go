package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/Riboost-Studio/print-queue-agent/internal/model"
)

const (
	defaultPreviewWidth = 384
	previewTimeout      = 30 * time.Second
)

const receiptTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  html, body { margin: 0; padding: 0; background: #fff; }
  .receipt {
    width: {{.Width}}px;
    padding: 8px 0 {{.FeedPx}}px 0;
    font-family: "DejaVu Sans Mono", "Courier New", monospace;
    font-size: 12px;
    line-height: 16px;
    color: #000;
  }
  .line { white-space: pre-wrap; word-break: break-all; min-height: 16px; }
</style>
</head>
<body>
<div class="receipt">
{{- range .Lines}}
  <div class="line">{{.}}</div>
{{- end}}
</div>
</body>
</html>`

// PreviewRenderer draws a job payload the way a 58 mm receipt prints it.
// It is a diagnostic aid and never touches the device.
type PreviewRenderer struct {
	width      int
	chromePath string
	tmpl       *template.Template
}

func NewPreviewRenderer(cfg model.PreviewConfig) (*PreviewRenderer, error) {
	width := cfg.WidthPx
	if width <= 0 {
		width = defaultPreviewWidth
	}
	tmpl, err := template.New("receipt").Parse(receiptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &PreviewRenderer{width: width, chromePath: cfg.ChromePath, tmpl: tmpl}, nil
}

// HTML renders content into the receipt template. Control bytes are dropped
// and the trailing feed is drawn as blank space.
func (r *PreviewRenderer) HTML(content string) (string, error) {
	data := struct {
		Width  int
		FeedPx int
		Lines  []string
	}{
		Width:  r.width,
		FeedPx: len(FeedTrailer) * 16,
		Lines:  strings.Split(printable(content), "\n"),
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// Render captures the receipt as PNG through headless Chrome.
func (r *PreviewRenderer) Render(ctx context.Context, content string) ([]byte, error) {
	html, err := r.HTML(content)
	if err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(r.width, 600),
	)
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	cdpCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	cdpCtx, timeoutCancel := context.WithTimeout(cdpCtx, previewTimeout)
	defer timeoutCancel()

	var pngBytes []byte
	err = chromedp.Run(cdpCtx,
		chromedp.Navigate("data:text/html,"+urlEncode(html)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, err := page.CaptureScreenshot().
				WithCaptureBeyondViewport(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pngBytes = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed generating preview: %w", err)
	}
	return pngBytes, nil
}

func printable(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, s)
}

// Helper for encoding HTML into a data URL
func urlEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
