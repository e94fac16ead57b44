package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Herbiiiii/Nano-banana/internal/http/handlers"
	"github.com/Herbiiiii/Nano-banana/internal/middleware"
)

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
	// StaticDir, when set, is served read-only under /files/. Used with the
	// filesystem storage backend.
	StaticDir string
	Logger    zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)
	r.Post("/v1/admin/cleanup", app.AdminCleanup)

	if opts.StaticDir != "" {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Method(http.MethodGet, "/files/*", files)
	}

	r.Route("/v1/images", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		if opts.RateLimit > 0 {
			r.With(middleware.RateLimit(opts.RateLimit, opts.RateWindow)).
				Post("/generate", app.ImagesGenerate)
		} else {
			r.Post("/generate", app.ImagesGenerate)
		}
		r.Get("/", app.ImagesList)
		r.Get("/{id}", app.ImageGet)
		r.Delete("/{id}", app.ImageDelete)
	})

	return r
}
