package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/handlers"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/middleware"
	"github.com/vidforge/composer-api/pipeline"
)

func ListenAndServe(ctx context.Context, cli config.Cli, coordinator *pipeline.Coordinator) error {
	router := NewComposerAPIRouter(coordinator, cli.APIToken)
	server := http.Server{Addr: cli.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID(
		"Starting Composer API!",
		"version", config.Version,
		"host", cli.HTTPAddress,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewComposerAPIRouter(coordinator *pipeline.Coordinator, apiToken string) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()
	withAuth := middleware.IsAuthorized

	composerApiHandlers := &handlers.ComposerAPIHandlersCollection{Coordinator: coordinator}

	// Simple endpoint for healthchecks
	router.GET("/ok", withLogging(composerApiHandlers.Ok()))

	// Public Composer API
	router.POST("/api/video",
		withLogging(
			withAuth(
				apiToken,
				composerApiHandlers.ComposeVideo(),
			),
		),
	)
	router.GET("/api/video/:requestID/status",
		withLogging(
			withAuth(
				apiToken,
				composerApiHandlers.VideoStatus(),
			),
		),
	)
	router.DELETE("/api/video/:requestID",
		withLogging(
			withAuth(
				apiToken,
				composerApiHandlers.CancelVideo(),
			),
		),
	)

	return router
}
