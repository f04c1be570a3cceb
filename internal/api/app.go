package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-cloudclip/internal/auth"
	"github.com/npezzotti/go-cloudclip/internal/blob"
	"github.com/npezzotti/go-cloudclip/internal/config"
	"github.com/npezzotti/go-cloudclip/internal/database"
	"github.com/npezzotti/go-cloudclip/internal/ratelimit"
	"github.com/npezzotti/go-cloudclip/internal/server"
)

type CloudClipApp struct {
	log            *log.Logger
	srv            *http.Server
	rooms          *server.Dispatcher
	ledger         database.MessageLedger
	blobs          blob.Store
	gate           *auth.Gate
	limiter        ratelimit.Limiter
	prefix         string
	allowedOrigins []string
	heartbeat      time.Duration
	textLimit      int
	fileLimit      int64
}

func NewCloudClipApp(mux *http.ServeMux, logger *log.Logger, rooms *server.Dispatcher, ledger database.MessageLedger,
	blobs blob.Store, gate *auth.Gate, limiter ratelimit.Limiter, cfg *config.Config) *CloudClipApp {
	s := &CloudClipApp{
		log:            logger,
		rooms:          rooms,
		ledger:         ledger,
		blobs:          blobs,
		gate:           gate,
		limiter:        limiter,
		prefix:         cfg.Prefix,
		allowedOrigins: cfg.AllowedOrigins,
		heartbeat:      cfg.HeartbeatTimeout,
		textLimit:      cfg.TextLimit,
		fileLimit:      cfg.FileLimit,
	}

	p := s.prefix
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET "+p+"/server", s.serverInfo)
	mux.HandleFunc("POST "+p+"/auth/token", s.rateLimit(s.issueToken))
	mux.HandleFunc("POST "+p+"/text", s.rateLimit(s.publishText))
	mux.HandleFunc("POST "+p+"/upload", s.rateLimit(s.uploadFile))
	mux.HandleFunc("GET "+p+"/file/{uuid}", s.getFile)
	mux.HandleFunc("GET "+p+"/file/{uuid}/{name...}", s.getFile)
	mux.HandleFunc("DELETE "+p+"/file/{uuid}", s.rateLimit(s.deleteFile))
	mux.HandleFunc("DELETE "+p+"/revoke/all", s.rateLimit(s.revokeAll))
	mux.HandleFunc("DELETE "+p+"/revoke/{id}", s.rateLimit(s.revoke))
	mux.HandleFunc("GET "+p+"/content/{id}", s.getContent)
	mux.HandleFunc("GET "+p+"/rooms", s.listRooms)
	mux.HandleFunc("GET "+p+"/push", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
	)(mux)

	h = handlers.ProxyHeaders(h)
	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *CloudClipApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *CloudClipApp) Start() error {
	s.log.Printf("starting server on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *CloudClipApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
