package workerapp

import (
	"context"
	"log/slog"
)

type app struct {
	di *dependencyInjector
}

func New(ctx context.Context) *app {
	return &app{di: newDI()}
}

func (a *app) Run(ctx context.Context) error {
	c := a.di.Consumer(ctx)
	slog.Info("worker starting...")

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			a.di.Config().ShutdownTimeout,
		)
		defer cancel()

		if err := a.di.EngineLoader(shutdownCtx).Close(shutdownCtx); err != nil {
			slog.Warn("engine loader close", slog.String("error", err.Error()))
		}
	}()
	defer c.Stop(ctx)

	c.Run(ctx)
	slog.Info("worker running...")

	c.StartCleanup(ctx)
	slog.Info("cleanup running...")

	<-ctx.Done()

	slog.Info("worker shutting down...")
	return nil
}
