package api

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var webFS embed.FS

var pages = template.Must(template.ParseFS(webFS, "templates/*.html"))

// index serves the submission form. Field bounds come from the manager so
// the page and the API agree.
func (h *APIHandler) index(c *gin.Context) {
	l := h.TM.Limits()
	c.HTML(http.StatusOK, "index.html", gin.H{
		"MaxURLs":       l.MaxURLs,
		"MinSizeMB":     l.MinSizeMB,
		"MaxSizeMB":     l.MaxSizeMB,
		"DefaultSizeMB": l.DefaultSizeMB,
		"DefaultName":   l.DefaultName,
	})
}
