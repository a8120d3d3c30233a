package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/DanikLP1/tus-storage-service/internal/config"
	"github.com/DanikLP1/tus-storage-service/internal/db"
	"github.com/DanikLP1/tus-storage-service/internal/events"
	"github.com/DanikLP1/tus-storage-service/internal/logging"
	"github.com/DanikLP1/tus-storage-service/internal/server"
	"github.com/DanikLP1/tus-storage-service/internal/storage"
	"github.com/DanikLP1/tus-storage-service/internal/storage/filestore"
)

func main() {
	cfg := config.New()

	logger := logging.New(logging.Config{
		Level: cfg.LogLevel,
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		log.Fatal(err)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	srvOpts := server.Options{
		BasePath: cfg.BasePath,
		MaxSize:  cfg.MaxSize,
		Logger:   logger,
	}
	fsOpts := filestore.Options{
		MaxSize:    cfg.MaxSize,
		Expiration: cfg.ExpireAfter,
		Logger:     logger,
	}

	if cfg.InfoStore != "sidecar" {
		database, err := db.Open(cfg.InfoStore, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer database.Close()

		repo := db.NewUploadRepo(database)
		fsOpts.InfoStore = repo
		srvOpts.FindExpired = repo.Expired
		srvOpts.Ready = func(ctx context.Context) error {
			return database.WithContext(ctx).Exec("SELECT 1").Error
		}
	}

	fs, err := filestore.New(cfg.DataDir, fsOpts)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}

	bus := events.NewBus(logger)
	bus.Subscribe(events.UploadComplete, func(e events.Event) {
		logger.Info("upload.finished", "upload_id", e.UploadID, "size", e.Size)
	})
	bus.Subscribe(events.FileDeleted, func(e events.Event) {
		logger.Info("upload.deleted", "upload_id", e.UploadID)
	})

	st := storage.NewWithDataStore(fs, bus, logger)
	defer func() {
		_ = st.Close()
		bus.Close()
	}()

	srv := server.New(st, srvOpts)
	handler := server.WrapWriteCheck(
		cors.New(cfg.CorsOptions()).Handler(
			srv.WithRecover(srv.WithRequestLogger(srv.Router())),
		),
	)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http.listening", "addr", cfg.Addr, "base_path", cfg.BasePath, "info_store", cfg.InfoStore,
			"extensions", st.Extensions().String())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		logger.Info("http.shutdown")
		return httpSrv.Shutdown(shutdownCtx)
	})
	if cfg.ExpireAfter > 0 {
		g.Go(func() error {
			return srv.RunExpiry(gctx, cfg.ExpiryEvery, cfg.ExpiryBatch)
		})
	}
	return g.Wait()
}
