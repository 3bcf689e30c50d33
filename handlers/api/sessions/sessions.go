package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"meme-composer/editor"
	"meme-composer/middleware"
	raster "meme-composer/render"
	registry "meme-composer/sessions"
	"meme-composer/templates"
)

// MaxUploadBytes bounds a multipart upload of templates or overlay images.
const MaxUploadBytes = 64 << 20

func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// lookup resolves the {id} session of the caller.
func lookup(reg *registry.Registry, w http.ResponseWriter, r *http.Request) (*registry.Session, bool) {
	claims, ok := middleware.Claims(r)
	if !ok {
		fail(w, r, http.StatusUnauthorized, "User claims not found")
		return nil, false
	}
	s, err := reg.Get(chi.URLParam(r, "id"), claims.Subject)
	if err != nil {
		fail(w, r, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return s, true
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, editor.ErrNoTemplate), errors.Is(err, editor.ErrStaleDecode):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// decodeMessage is what a client learns about a failed load. Upstream
// details stay in the log.
func decodeMessage(err error) string {
	switch {
	case errors.Is(err, editor.ErrNoTemplate):
		return editor.ErrNoTemplate.Error()
	case errors.Is(err, editor.ErrStaleDecode):
		return editor.ErrStaleDecode.Error()
	case errors.Is(err, editor.ErrForbiddenHost):
		return editor.ErrForbiddenHost.Error()
	default:
		return "Failed to load image"
	}
}

func HandleCreate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			fail(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}
		s := reg.Create(claims.Subject)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, s.View())
	}
}

func HandleList(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			fail(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}
		ids := make([]string, 0)
		for _, s := range reg.List(claims.Subject) {
			ids = append(ids, s.ID)
		}
		render.JSON(w, r, ids)
	}
}

func HandleDelete(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			fail(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}
		if err := reg.Delete(chi.URLParam(r, "id"), claims.Subject); err != nil {
			fail(w, r, http.StatusNotFound, "Session not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleState(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(reg, w, r)
		if !ok {
			return
		}
		render.JSON(w, r, s.View())
	}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// uploadedSources reads every "file" part of a multipart request.
func uploadedSources(r *http.Request) ([]editor.Source, error) {
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	var srcs []editor.Source
	for _, header := range r.MultipartForm.File["file"] {
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, editor.BytesSource{Name: header.Filename, Data: data})
	}
	if len(srcs) == 0 {
		return nil, fmt.Errorf("file part is required")
	}
	return srcs, nil
}

// HandleTemplate loads the base image from an upload, a URL, or a catalog
// entry, and answers once the decode has been applied.
func HandleTemplate(reg *registry.Registry, catalog *templates.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(reg, w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

		var src editor.Source
		if isMultipart(r) {
			srcs, err := uploadedSources(r)
			if err != nil {
				fail(w, r, http.StatusBadRequest, err.Error())
				return
			}
			src = srcs[0]
		} else {
			var body struct {
				URL  string `json:"url"`
				Name string `json:"name"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				fail(w, r, http.StatusBadRequest, "Invalid request body")
				return
			}
			switch {
			case body.URL != "":
				src = editor.URLSource{URL: body.URL}
			case body.Name != "" && catalog != nil:
				var err error
				if src, err = catalog.Source(body.Name); err != nil {
					fail(w, r, http.StatusNotFound, err.Error())
					return
				}
			default:
				fail(w, r, http.StatusBadRequest, "One of file, url or name is required")
				return
			}
		}

		log := logrus.WithFields(logrus.Fields{"session_id": s.ID, "source": src.String()})
		select {
		case err := <-s.Editor.LoadTemplate(r.Context(), src):
			if err != nil {
				log.WithError(err).Warn("Template load failed")
				fail(w, r, statusFor(err), decodeMessage(err))
				return
			}
		case <-r.Context().Done():
			return
		}
		render.JSON(w, r, s.View())
	}
}

// HandleImages adds overlay images from uploads or URLs. Images that decode
// are added even when others fail.
func HandleImages(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(reg, w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

		var srcs []editor.Source
		if isMultipart(r) {
			var err error
			if srcs, err = uploadedSources(r); err != nil {
				fail(w, r, http.StatusBadRequest, err.Error())
				return
			}
		} else {
			var body struct {
				URLs []string `json:"urls"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.URLs) == 0 {
				fail(w, r, http.StatusBadRequest, "urls is required")
				return
			}
			for _, u := range body.URLs {
				srcs = append(srcs, editor.URLSource{URL: u})
			}
		}

		select {
		case err := <-s.Editor.AddImageSources(r.Context(), srcs...):
			if err != nil {
				logrus.WithError(err).WithField("session_id", s.ID).Warn("Some images failed to load")
				render.Status(r, statusFor(err))
				render.JSON(w, r, map[string]any{"error": decodeMessage(err), "view": s.View()})
				return
			}
		case <-r.Context().Done():
			return
		}
		render.JSON(w, r, s.View())
	}
}

// HandleCommands applies a JSON array of commands in order and stops at the
// first one that fails.
func HandleCommands(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(reg, w, r)
		if !ok {
			return
		}
		var cmds []registry.Command
		if err := json.NewDecoder(r.Body).Decode(&cmds); err != nil {
			fail(w, r, http.StatusBadRequest, "Body must be a JSON array of commands")
			return
		}

		results := make([]registry.Result, 0, len(cmds))
		for i, cmd := range cmds {
			res, err := s.Apply(cmd)
			if err != nil {
				status := http.StatusBadRequest
				if errors.Is(err, editor.ErrNoTemplate) {
					status = http.StatusConflict
				}
				render.Status(r, status)
				render.JSON(w, r, map[string]any{
					"error":   err.Error(),
					"index":   i,
					"results": results,
					"view":    s.View(),
				})
				return
			}
			results = append(results, res)
		}
		render.JSON(w, r, map[string]any{"results": results, "view": s.View()})
	}
}

func HandlePreview(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(reg, w, r)
		if !ok {
			return
		}
		data, err := raster.Encode(s.Editor.Preview(), raster.PNG, 0)
		if err != nil {
			fail(w, r, http.StatusInternalServerError, "Failed to encode preview")
			return
		}
		w.Header().Set("Content-Type", raster.PNG.ContentType())
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
	}
}

// HandleExport encodes the document. Query: format=png|jpeg, quality=1..100,
// download=1 for an attachment.
func HandleExport(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(reg, w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		format, err := raster.ParseFormat(q.Get("format"))
		if err != nil {
			fail(w, r, http.StatusBadRequest, err.Error())
			return
		}
		quality := 0
		if v := q.Get("quality"); v != "" {
			if quality, err = strconv.Atoi(v); err != nil {
				fail(w, r, http.StatusBadRequest, "quality must be an integer")
				return
			}
		}

		data, err := s.Editor.Export(format, quality)
		if err != nil {
			fail(w, r, statusFor(err), err.Error())
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		if q.Get("download") != "" {
			ext := "png"
			if format == raster.JPEG {
				ext = "jpg"
			}
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="meme-%s.%s"`, s.ID, ext))
		}
		w.Write(data)
	}
}

// HandleSave exports the document and stores it for the caller.
func HandleSave(reg *registry.Registry, saver editor.Saver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(reg, w, r)
		if !ok {
			return
		}
		var body struct {
			Category string   `json:"category"`
			Labels   []string `json:"labels"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				fail(w, r, http.StatusBadRequest, "Invalid request body")
				return
			}
		}

		id, err := s.Editor.Save(r.Context(), saver, s.Owner, body.Category, body.Labels)
		if err != nil {
			if errors.Is(err, editor.ErrNoTemplate) {
				fail(w, r, http.StatusConflict, err.Error())
				return
			}
			logrus.WithError(err).WithField("session_id", s.ID).Error("Failed to save meme")
			fail(w, r, http.StatusInternalServerError, "Failed to save meme")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]string{"id": id})
	}
}
