// Package api exposes the HTTP surface: task submission, listing,
// deletion and retry, plus health, metrics and debug endpoints.
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nadmax/siteqa/internal/auth"
	"github.com/nadmax/siteqa/internal/middleware"
	"github.com/nadmax/siteqa/internal/queue"
	"github.com/nadmax/siteqa/internal/store"
)

type Options struct {
	Store         store.TaskStore
	Queue         *queue.Queue
	Verifier      auth.Verifier
	AllowedOrigin string
	Production    bool
	Log           zerolog.Logger
}

type API struct {
	echo       *echo.Echo
	store      store.TaskStore
	queue      *queue.Queue
	validator  *Validator
	production bool
	log        zerolog.Logger
}

func New(opts Options) *API {
	a := &API{
		echo:       echo.New(),
		store:      opts.Store,
		queue:      opts.Queue,
		validator:  NewValidator(),
		production: opts.Production,
		log:        opts.Log.With().Str("component", "api").Logger(),
	}

	a.echo.HideBanner = true
	a.echo.HidePort = true
	a.echo.Use(echomw.Recover())
	a.echo.Use(middleware.Metrics())

	origins := []string{"*"}
	if opts.AllowedOrigin != "" {
		origins = []string{opts.AllowedOrigin}
	}
	a.echo.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: origins,
	}))

	a.echo.GET("/", a.root)
	a.echo.GET("/health", a.health)
	a.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	tasks := a.echo.Group("/api", auth.Middleware(opts.Verifier))
	tasks.GET("/tasks", a.listTasks)
	tasks.POST("/tasks", a.createTask)
	tasks.DELETE("/tasks/:id", a.deleteTask)
	tasks.POST("/tasks/:id/retry", a.retryTask)

	if !opts.Production {
		a.echo.GET("/debug/whoami", a.whoami, auth.Middleware(opts.Verifier))
		tasks.GET("/queue/stats", a.queueStats)
		tasks.GET("/queue/recent", a.queueRecent)
	}

	return a
}

// Echo returns the underlying router, used by tests and the server main.
func (a *API) Echo() *echo.Echo {
	return a.echo
}

func (a *API) Start(addr string) error {
	return a.echo.Start(addr)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.echo.Shutdown(ctx)
}
