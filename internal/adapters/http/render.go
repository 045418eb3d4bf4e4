package http

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gatekit/portal/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// viewData is what every page template receives. User drives the navigation
// bar: the logout link renders iff it is non-nil.
type viewData struct {
	User    *domain.User
	Flash   string
	Error   string
	Locator string
	Next    string
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data viewData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		httpLogger().ErrorContext(r.Context(), "template render failed",
			"operation", "render",
			"outcome", "failure",
			"template", name,
			"request_id", requestIDFromContext(r.Context()),
			"error", err.Error(),
		)
	}
}
