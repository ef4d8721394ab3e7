package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/metrics"
	"github.com/indieinfra/mediavault/scheduler"
	"github.com/indieinfra/mediavault/server/auth"
	"github.com/indieinfra/mediavault/server/handler/cleanup"
	"github.com/indieinfra/mediavault/server/handler/content"
	"github.com/indieinfra/mediavault/server/handler/upload"
	"github.com/indieinfra/mediavault/server/middleware"
	"github.com/indieinfra/mediavault/server/state"
)

const shutdownTimeout = 10 * time.Second

// Routes builds the admin API on top of already wired state.
func Routes(st *state.MediaVaultState) http.Handler {
	cfg := st.Cfg
	authed := func(h http.Handler) http.Handler {
		return middleware.ValidateTokenMiddleware(cfg, h)
	}
	scoped := func(scope auth.Scope, h http.Handler) http.Handler {
		return authed(middleware.RequireScope(scope, h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /media", scoped(auth.ScopeMedia, upload.HandleMediaUpload(st)))
	mux.Handle("GET /media/uploads", authed(upload.HandleActiveUploads(st)))
	mux.Handle("GET /media/uploads/{id}", authed(upload.HandleUploadProgress(st)))
	mux.Handle("DELETE /media/uploads/{id}", scoped(auth.ScopeMedia, upload.HandleCancelUpload(st)))

	mux.Handle("PUT /content/{type}/{id}/references", scoped(auth.ScopeUpdate, content.HandleSyncReferences(st)))
	mux.Handle("GET /assets/{id}/references", authed(content.HandleCountReferences(st)))
	mux.Handle("POST /content/validate", authed(content.HandleValidateImages(st)))

	mux.Handle("GET /orphans", authed(cleanup.HandleFindOrphans(st)))
	mux.Handle("POST /orphans/verify", authed(cleanup.HandleVerifyOrphans(st)))
	mux.Handle("GET /orphans/stats", authed(cleanup.HandleOrphanStats(st)))
	mux.Handle("GET /cleanup/preview", authed(cleanup.HandlePreview(st)))
	mux.Handle("POST /cleanup", scoped(auth.ScopeDelete, cleanup.HandleCleanup(st)))
	mux.Handle("GET /cleanup/history", authed(cleanup.HandleHistory(st)))

	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	return mux
}

// StartServer wires every store, starts the cleanup scheduler and serves the
// admin API until SIGINT or SIGTERM.
func StartServer(cfg *config.Config) error {
	st, err := state.Initialize(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := scheduler.New(nil)
	if err := sched.RegisterCleanup(cfg.Cleanup, st.Engine); err != nil {
		return err
	}
	if err := sched.RegisterProgressPrune(st.Orchestrator); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bindAddress := net.JoinHostPort(cfg.Server.Address, fmt.Sprint(cfg.Server.Port))
	srv := &http.Server{
		Addr:              bindAddress,
		Handler:           Routes(st),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("serving http requests on %q", bindAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Println("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	return nil
}
