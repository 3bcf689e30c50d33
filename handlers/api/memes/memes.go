package memes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"meme-composer/core"
	"meme-composer/middleware"
)

// MaxUploadBytes bounds an uploaded raster.
const MaxUploadBytes = 32 << 20

func unauthorized(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{"error": "User claims not found"})
}

func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// HandleMe returns the stored profile of the caller.
func HandleMe(users core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			unauthorized(w, r)
			return
		}
		user, err := users.GetUser(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Tokens outlive a wiped in-memory store.
				render.JSON(w, r, &core.User{
					Subject:   claims.Subject,
					Provider:  claims.Provider,
					Login:     claims.Login,
					Email:     claims.Email,
					AvatarURL: claims.AvatarURL,
					Name:      claims.Name,
				})
				return
			}
			logrus.WithError(err).WithField("subject", claims.Subject).Error("Failed to load user")
			fail(w, r, http.StatusInternalServerError, "Failed to load user")
			return
		}
		render.JSON(w, r, user)
	}
}

func HandleListMemes(lib *Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			unauthorized(w, r)
			return
		}

		memes, err := lib.Memes.ListMemes(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"account": claims.Subject,
			}).Error("Failed to list memes")
			fail(w, r, http.StatusInternalServerError, "Failed to list memes")
			return
		}
		if memes == nil {
			memes = []*core.Meme{}
		}
		render.JSON(w, r, memes)
	}
}

func HandleGetMeme(lib *Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			unauthorized(w, r)
			return
		}

		id := chi.URLParam(r, "id")
		meme, err := lib.Memes.GetMeme(r.Context(), id)
		if err != nil || meme.Account != claims.Subject {
			if err != nil && !errors.Is(err, core.ErrNotFound) {
				logrus.WithError(err).WithField("meme_id", id).Error("Failed to get meme")
				fail(w, r, http.StatusInternalServerError, "Failed to get meme")
				return
			}
			fail(w, r, http.StatusNotFound, "Meme not found")
			return
		}
		render.JSON(w, r, meme)
	}
}

// splitLabels accepts repeated values and comma-separated lists.
func splitLabels(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}

// HandleCreateMeme accepts either a multipart form with a "file" part or a
// raw image body. Category and labels come from form fields or the query.
func HandleCreateMeme(lib *Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			unauthorized(w, r)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

		var (
			raster      []byte
			contentType string
			err         error
		)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err = r.ParseMultipartForm(MaxUploadBytes); err != nil {
				fail(w, r, http.StatusBadRequest, "Invalid multipart form")
				return
			}
			file, header, ferr := r.FormFile("file")
			if ferr != nil {
				fail(w, r, http.StatusBadRequest, "File part is required")
				return
			}
			defer file.Close()
			raster, err = io.ReadAll(file)
			contentType = header.Header.Get("Content-Type")
		} else {
			raster, err = io.ReadAll(r.Body)
			contentType = r.Header.Get("Content-Type")
		}
		if err != nil {
			fail(w, r, http.StatusBadRequest, "Failed to read raster")
			return
		}
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(raster)
		}

		category := r.FormValue("category")
		labels := splitLabels(r.Form["labels"])

		id, err := lib.Create(r.Context(), claims.Subject, raster, contentType, category, labels)
		if err != nil {
			if errors.Is(err, errNotRaster) {
				fail(w, r, http.StatusUnsupportedMediaType, err.Error())
				return
			}
			logrus.WithError(err).WithField("account", claims.Subject).Error("Failed to create meme")
			fail(w, r, http.StatusInternalServerError, "Failed to create meme")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]string{"id": id})
	}
}

func HandleDeleteMeme(lib *Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			unauthorized(w, r)
			return
		}

		id := chi.URLParam(r, "id")
		if err := lib.Delete(r.Context(), claims.Subject, id); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				fail(w, r, http.StatusNotFound, "Meme not found")
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"account": claims.Subject,
				"meme_id": id,
			}).Error("Failed to delete meme")
			fail(w, r, http.StatusInternalServerError, "Failed to delete meme")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleEvent bumps the download or share counter of a meme.
func HandleEvent(lib *Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Kind string `json:"kind"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			fail(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		kind, err := core.ParseEventKind(body.Kind)
		if err != nil {
			fail(w, r, http.StatusBadRequest, err.Error())
			return
		}

		id := chi.URLParam(r, "id")
		if err := lib.Memes.Increment(r.Context(), id, kind); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				fail(w, r, http.StatusNotFound, "Meme not found")
				return
			}
			logrus.WithError(err).WithField("meme_id", id).Error("Failed to record event")
			fail(w, r, http.StatusInternalServerError, "Failed to record event")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleImage serves the raster publicly so shared links work without a
// token. ?thumb=1 selects the thumbnail.
func HandleImage(lib *Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		thumb := r.URL.Query().Get("thumb") != ""
		data, contentType, err := lib.Raster(r.Context(), id, thumb)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			logrus.WithError(err).WithField("meme_id", id).Error("Failed to load meme raster")
			http.Error(w, "Failed to load image", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Write(data)
	}
}
