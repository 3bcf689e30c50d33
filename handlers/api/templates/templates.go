package templates

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"meme-composer/templates"
)

func HandleList(catalog *templates.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, catalog.List())
	}
}

// HandleImage serves the template file so clients can show a picker.
func HandleImage(catalog *templates.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		t, ok := catalog.Get(name)
		if !ok {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Template not found"})
			return
		}
		http.ServeFile(w, r, catalog.Path(t))
	}
}
