package handler

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"html/template"
	"net/http"

	"github.com/tablepay/payments-reconciler/internal/logging"
)

// SpecPath is where the embedded OpenAPI document is served.
const SpecPath = "/docs/openapi.yaml"

// DocsHandler serves the OpenAPI document and a Swagger UI page over it.
type DocsHandler struct {
	spec []byte
	etag string
	page []byte
}

func NewDocsHandler(spec []byte, title string) (*DocsHandler, error) {
	sum := sha256.Sum256(spec)

	var page bytes.Buffer
	err := docsPage.Execute(&page, struct{ Title, SpecURL string }{title, SpecPath})
	if err != nil {
		return nil, err
	}
	return &DocsHandler{
		spec: spec,
		etag: `"` + hex.EncodeToString(sum[:8]) + `"`,
		page: page.Bytes(),
	}, nil
}

// Spec serves the document with a content hash ETag so operators' tooling
// can poll it cheaply.
func (h *DocsHandler) Spec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", h.etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == h.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	if _, err := w.Write(h.spec); err != nil {
		logging.FromContext(r.Context()).Debug("failed to write openapi document", "error", err)
	}
}

func (h *DocsHandler) UI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(h.page); err != nil {
		logging.FromContext(r.Context()).Debug("failed to write docs page", "error", err)
	}
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: {{.SpecURL}},
      dom_id: "#swagger-ui",
      deepLinking: true,
      supportedSubmitMethods: ["get"],
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: "BaseLayout"
    });
  </script>
</body>
</html>`))
