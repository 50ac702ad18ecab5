package mcp

import (
	_ "embed"
	"fmt"
	"html"
	"net/http"

	"github.com/metheoryt/arbuz-concierge/internal/markdown"
)

//go:embed landing.md
var landingSource []byte

const landingLayout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>
  *, *::before, *::after { box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #0f172a; color: #e2e8f0; margin: 0; padding: 3rem 0; }
  .card { max-width: 680px; width: 90%%; margin: 0 auto; background: #1e293b; border-radius: 12px; padding: 2.5rem; box-shadow: 0 25px 50px rgba(0,0,0,0.4); }
  h1 { color: #f8fafc; margin-top: 0; }
  h2 { font-size: 0.8rem; text-transform: uppercase; letter-spacing: 0.1em; color: #64748b; margin-top: 2rem; }
  nav { border-left: 2px solid #334155; padding-left: 1rem; margin-bottom: 1.5rem; font-size: 0.9rem; }
  a { color: #38bdf8; text-decoration: none; }
  a:hover { text-decoration: underline; }
  pre { background: #0f172a; border: 1px solid #334155; border-radius: 8px; padding: 1rem; overflow-x: auto; font-size: 0.85rem; }
  code { font-family: "SF Mono", "Fira Code", Menlo, monospace; color: #a5b4fc; }
</style>
</head>
<body>
<div class="card">
<nav>%s</nav>
%s
</div>
</body>
</html>`

// NewLandingHandler renders the landing page once and serves it at /.
func NewLandingHandler() (http.HandlerFunc, error) {
	page, err := markdown.NewRenderer().Render(landingSource)
	if err != nil {
		return nil, fmt.Errorf("render landing page: %w", err)
	}
	body := []byte(fmt.Sprintf(landingLayout, html.EscapeString(page.Title), page.TOC, page.Body))

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(body)
	}, nil
}
