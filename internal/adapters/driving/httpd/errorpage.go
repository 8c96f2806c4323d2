package httpd

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

// ErrorData holds data for rendering the error page template.
type ErrorData struct {
	Title   string
	Message string
}

// ErrorRenderer renders terminal error pages. html/template auto-escapes,
// so identity errors can safely name the offending claim value.
type ErrorRenderer struct {
	tmpl   *template.Template
	logger *zap.Logger
}

// NewErrorRenderer creates a renderer using the embedded template.
func NewErrorRenderer(logger *zap.Logger) (*ErrorRenderer, error) {
	tmpl, err := template.ParseFS(embeddedTemplates, "templates/error.html")
	if err != nil {
		return nil, fmt.Errorf("parse embedded error.html: %w", err)
	}
	return &ErrorRenderer{tmpl: tmpl, logger: logger}, nil
}

// Render writes the error page with the status mapped from the error code.
// Internal causes are logged, never shown to the browser.
func (er *ErrorRenderer) Render(w http.ResponseWriter, appErr *domain.AppError) {
	er.logger.Warn("request failed",
		zap.String("code", appErr.Code.String()),
		zap.String("message", appErr.Message),
		zap.Error(appErr.Cause))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(appErr.Code.HTTPStatus())

	data := ErrorData{
		Title:   appErr.Code.Title(),
		Message: appErr.Message,
	}
	if err := er.tmpl.Execute(w, data); err != nil {
		er.logger.Error("error page render failed", zap.Error(err))
	}
}
