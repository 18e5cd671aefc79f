package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/api"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the periodic dispatcher and planner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), !noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false,
		"serve the API only; dispatch and plan are then triggered externally")

	return cmd
}

func runServe(parent context.Context, withScheduler bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(api.Deps{
		Jobs:           a.service,
		Dispatcher:     a.dispatcher,
		Planner:        a.planner,
		Rankings:       a.store,
		Metrics:        a.metrics,
		MetricsHandler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		Logger:         a.log,
	})

	server := &http.Server{
		Addr:         a.cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	var sched *scheduler.Scheduler
	if withScheduler {
		sched, err = a.startScheduler(ctx)
		if err != nil {
			return err
		}
	}

	errChan := make(chan error, 1)
	go func() {
		a.log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	select {
	case serveErr := <-errChan:
		a.log.Error("Server error", logger.Error(serveErr))
		stop()
		a.stopScheduler(sched)
		return fmt.Errorf("server error: %w", serveErr)
	case <-ctx.Done():
		a.log.Info("Shutdown signal received")
	}

	a.stopScheduler(sched)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.log.Info("Stopping HTTP server")
	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	a.log.Info("Server stopped successfully")
	return nil
}

func (a *app) startScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	sched := scheduler.New(ctx, a.log)

	err := sched.Every("dispatch", a.cfg.Dispatcher.Interval, func(ctx context.Context) error {
		_, runErr := a.dispatcher.RunOnce(ctx)
		return runErr
	})
	if err != nil {
		return nil, err
	}

	err = sched.Every("plan", a.cfg.Planner.Interval, func(ctx context.Context) error {
		_, planErr := a.planner.Plan(ctx)
		return planErr
	})
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}

func (a *app) stopScheduler(sched *scheduler.Scheduler) {
	if sched == nil {
		return
	}

	a.log.Info("Stopping scheduler")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Stop(stopCtx); err != nil {
		a.log.Error("Failed to stop scheduler", logger.Error(err))
	}
}
