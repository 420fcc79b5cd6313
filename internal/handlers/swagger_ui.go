package handlers

import (
	"bytes"
	"html/template"
	"net/http"

	"climatedata-api/pkg/logging"
)

const (
	docsPath     = "/api/docs"
	specPath     = "/api/docs/openapi.json"
	swaggerAsset = "https://unpkg.com/swagger-ui-dist@5.17.14"
)

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<link rel="stylesheet" href="{{.Assets}}/swagger-ui.css">
</head>
<body>
<div id="docs"></div>
<script src="{{.Assets}}/swagger-ui-bundle.js" crossorigin></script>
<script>
window.addEventListener("load", function () {
  window.ui = SwaggerUIBundle({
    url: {{.SpecURL}},
    dom_id: "#docs",
    layout: "BaseLayout",
    docExpansion: "list",
    defaultModelsExpandDepth: 0,
    supportedSubmitMethods: ["get", "post"],
    tryItOutEnabled: {{.TryItOut}}
  });
});
</script>
</body>
</html>
`))

type docsData struct {
	Title    string
	Assets   string
	SpecURL  string
	TryItOut bool
}

// DocsPage renders the interactive API reference over the OpenAPI document.
// Requests only run from the page in debug mode.
func (h *Handler) DocsPage(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := docsPage.Execute(&buf, docsData{
		Title:    "Climate Data API",
		Assets:   swaggerAsset,
		SpecURL:  specPath,
		TryItOut: h.cfg.Server.Debug,
	})
	if err != nil {
		h.logger.Error(r.Context(), "[API_DOCS_ERROR] Failed to render documentation page", logging.Fields{
			"path": r.URL.Path,
		}, err)
		h.sendError(w, r, docsPath, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	h.metrics.RecordAPIRequest(docsPath, r.Method, "200")
	_, _ = buf.WriteTo(w)
}
