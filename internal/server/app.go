// Package server wires the sync server: storage, the change broker, the
// account and document services, the gRPC endpoint and the optional S3
// archive export.
package server

import (
	"context"
	"fmt"

	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/archive"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/broker"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/config"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/repomanager"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/services"
	"golang.org/x/sync/errgroup"

	gs "github.com/Masparrito/lactokeeper-sub001/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    repomanager.Store
	grpc     *gs.GRPCServer
	archiver *archive.Archiver
}

func openStore(ctx context.Context, c *config.Config) (repomanager.Store, error) {
	if c.UseMemoryStore() {
		return repomanager.NewMemoryStore(), nil
	}
	return repomanager.OpenPostgres(ctx, c.DatabaseDSN)
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	store, err := openStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if c.UseMemoryStore() {
		logger.Warn(ctx, "Using in-memory store, data is lost on restart")
	}

	b := broker.New(broker.DefaultBuffer)
	us := services.NewUserService(store, c)
	ds := services.NewDocumentService(store, b, logger)

	app := &App{
		config: c,
		logger: logger,
		store:  store,
		grpc:   gs.NewGRPCServer(c.EndpointAddrGRPC, logger, us, ds),
	}

	if c.ArchiveInterval > 0 {
		s3c, err := archive.NewS3Client(ctx, c)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		app.archiver = archive.New(ds, s3c, c.S3Bucket, c.ArchiveInterval, logger)
	}

	return app, nil
}

// Run serves until ctx is done or a component fails, then closes the store.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...")
	defer func() {
		if err := app.store.Close(); err != nil {
			app.logger.Error(context.Background(), "store close error", "error", err)
		}
		app.logger.Info(context.Background(), "App stopped")
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.grpc.Run(ctx)
	})

	if app.archiver != nil {
		g.Go(func() error {
			return app.archiver.Run(ctx)
		})
	}

	return g.Wait()
}
