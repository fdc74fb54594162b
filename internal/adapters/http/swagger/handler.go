// Package swagger serves the API reference.
package swagger

import (
	"context"
	"net/http"
	"strings"
)

// Script locations for the docs page.
const (
	redocCDN   = "https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"
	redocLocal = "/api-docs/redoc.standalone.js"
)

// Register attaches the API docs and the OpenAPI spec routes to mux.
// Routes:
//
//	GET /api-docs                      -> ReDoc HTML
//	GET /openapi.yaml                  -> Embedded OpenAPI document
//	GET /api-docs/redoc.standalone.js  -> ReDoc bundle, when one is configured
//
// Without a configured bundle the page loads ReDoc from its CDN and falls
// back to a link to the raw document when the script cannot be fetched.
func Register(_ context.Context, mux *http.ServeMux, opts ...Option) {
	if mux == nil {
		panic("mux is nil")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	script := redocCDN
	if len(o.redocJS) > 0 {
		script = redocLocal
		mux.HandleFunc("GET "+redocLocal, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			_, _ = w.Write(o.redocJS)
		})
	}
	page := strings.Replace(indexHTML, "{{script}}", script, 1)

	mux.HandleFunc("GET /api-docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})

	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})
}

const indexHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>Mjolnir API Docs</title>
    <style>body{margin:0;padding:0}#fallback{display:none;font-family:sans-serif;padding:2em}</style>
  </head>
  <body>
    <div id="fallback">ReDoc could not be loaded. The API is described in <a href="/openapi.yaml">openapi.yaml</a>.</div>
    <noscript><p>The API is described in <a href="/openapi.yaml">openapi.yaml</a>.</p></noscript>
    <redoc id="redoc-container"></redoc>
    <script src="{{script}}"></script>
    <script>
      if (typeof Redoc === 'undefined') {
        document.getElementById('fallback').style.display = 'block';
      } else {
        Redoc.init('/openapi.yaml', { suppressWarnings: true }, document.getElementById('redoc-container'));
      }
    </script>
  </body>
</html>`
