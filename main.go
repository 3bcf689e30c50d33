package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"meme-composer/geometry"
	"meme-composer/handlers/api/memes"
	editsessions "meme-composer/handlers/api/sessions"
	apitemplates "meme-composer/handlers/api/templates"
	"meme-composer/handlers/auth"
	"meme-composer/handlers/websocket"
	"meme-composer/layers"
	authMiddleware "meme-composer/middleware"
	"meme-composer/sessions"
	"meme-composer/stores"
	"meme-composer/templates"
)

func setupRouter(store stores.Store, lib *memes.Library, reg *sessions.Registry, catalog *templates.Catalog) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api/v2", func(r chi.Router) {
		r.With(authMiddleware.AuthJWT).Get("/me", memes.HandleMe(store))

		r.Route("/memes", func(r chi.Router) {
			// Shared links and counters work without a token.
			r.Get("/{id}/image", memes.HandleImage(lib))
			r.Post("/{id}/events", memes.HandleEvent(lib))

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.AuthJWT)
				r.Get("/", memes.HandleListMemes(lib))
				r.Post("/", memes.HandleCreateMeme(lib))
				r.Get("/{id}", memes.HandleGetMeme(lib))
				r.Delete("/{id}", memes.HandleDeleteMeme(lib))
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT)
			r.Get("/", editsessions.HandleList(reg))
			r.Post("/", editsessions.HandleCreate(reg))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", editsessions.HandleState(reg))
				r.Delete("/", editsessions.HandleDelete(reg))
				r.Post("/template", editsessions.HandleTemplate(reg, catalog))
				r.Post("/images", editsessions.HandleImages(reg))
				r.Post("/commands", editsessions.HandleCommands(reg))
				r.Get("/preview.png", editsessions.HandlePreview(reg))
				r.Get("/export", editsessions.HandleExport(reg))
				r.Post("/save", editsessions.HandleSave(reg, lib))
			})
		})

		r.Get("/templates", apitemplates.HandleList(catalog))
		r.Get("/templates/{name}", apitemplates.HandleImage(catalog))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/nonce", auth.HandleNonce)
		r.Post("/wallet", auth.HandleWalletLogin)
		r.Get("/login", auth.HandleLogin)
		r.Get("/callback", auth.HandleCallback)
	})

	return r
}

// parseSize reads "WxH".
func parseSize(s string) (geometry.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return geometry.Size{}, fmt.Errorf("size %q is not WxH", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return geometry.Size{}, fmt.Errorf("invalid width in %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return geometry.Size{}, fmt.Errorf("invalid height in %q", s)
	}
	return geometry.Size{W: float64(width), H: float64(height)}, nil
}

// sessionConfig reads the editor settings from the environment.
func sessionConfig() (sessions.Config, error) {
	var cfg sessions.Config
	var err error

	if cfg.Policy, err = layers.ParsePolicy(os.Getenv("FRAME_POLICY")); err != nil {
		return cfg, err
	}
	if v := os.Getenv("FIXED_FRAME_SIZE"); v != "" {
		if cfg.FixedSize, err = parseSize(v); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("MAX_PADDING"); v != "" {
		if cfg.MaxPadding, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, fmt.Errorf("invalid MAX_PADDING: %w", err)
		}
	}
	if v := os.Getenv("HISTORY_LIMIT"); v != "" {
		if cfg.HistoryLimit, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("invalid HISTORY_LIMIT: %w", err)
		}
	}
	if v := os.Getenv("SESSION_IDLE_TTL"); v != "" {
		if cfg.IdleTTL, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("invalid SESSION_IDLE_TTL: %w", err)
		}
	}
	return cfg, nil
}

func waitForShutdown(server *http.Server, ioo *socketio.Server, scheduler *cron.Cron, stopWatch context.CancelFunc) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopWatch()
	<-scheduler.Stop().Done()
	ioo.Close(nil)
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown failed")
	}
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	store := stores.GetStore()
	blobs := stores.GetBlobStore()
	auth.InitAuth(store)

	cfg, err := sessionConfig()
	if err != nil {
		logrus.Fatalf("Invalid editor configuration: %v", err)
	}
	reg := sessions.NewRegistry(cfg)
	logrus.WithFields(logrus.Fields{
		"policy":    cfg.Policy.String(),
		"fixedSize": cfg.FixedSize,
		"idleTTL":   cfg.IdleTTL,
	}).Info("Editor sessions configured")

	scheduler := cron.New()
	if _, err := reg.Schedule(scheduler, "@every 1m"); err != nil {
		logrus.Fatal(err)
	}
	scheduler.Start()

	templatesDir := os.Getenv("TEMPLATES_DIR")
	if templatesDir == "" {
		templatesDir = "./templates"
	}
	catalog, err := templates.NewCatalog(templatesDir)
	if err != nil {
		logrus.Fatalf("Failed to load templates: %v", err)
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	if err := catalog.Watch(watchCtx); err != nil {
		logrus.WithError(err).Warn("Template hot reload disabled")
	}

	lib := memes.NewLibrary(store, blobs)
	r := setupRouter(store, lib, reg, catalog)

	ioo := websocket.SetupSocketIO(reg)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	server := &http.Server{Addr: *listenAddress, Handler: r}
	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(server, ioo, scheduler, stopWatch)
}
