package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gorilla/csrf"
)

//go:embed templates/*.gohtml
var templatesFS embed.FS

// page is a parsed layout plus one content template.
type page struct {
	tpl *template.Template
}

func parsePage(content string) (page, error) {
	tpl := template.New("layout")
	// Funcs must be registered before parsing; the real csrfField is bound per request.
	tpl.Funcs(template.FuncMap{
		"csrfField": func() (template.HTML, error) {
			return "", fmt.Errorf("csrfField not bound")
		},
	})
	tpl, err := tpl.ParseFS(templatesFS, "templates/layout.gohtml", "templates/error.gohtml", "templates/"+content)
	if err != nil {
		return page{}, fmt.Errorf("parsing template %s: %w", content, err)
	}
	return page{tpl: tpl}, nil
}

// render executes the page into a buffer first so that a template error never
// produces a half-written response.
func (p page) render(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, data any) {
	tpl, err := p.tpl.Clone()
	if err != nil {
		logger.Error("http.render.clone_error", "error", err)
		http.Error(w, "There was an error rendering the page", http.StatusInternalServerError)
		return
	}
	tpl.Funcs(template.FuncMap{
		"csrfField": func() template.HTML {
			return csrf.TemplateField(r)
		},
	})

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		logger.Error("http.render.execute_error", "error", err)
		http.Error(w, "There was an error rendering the page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
