package commands

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/latency-dashboard/internal/auth"
	"github.com/example/latency-dashboard/internal/config"
	"github.com/example/latency-dashboard/internal/grpchealth"
	"github.com/example/latency-dashboard/internal/handlers"
	"github.com/example/latency-dashboard/internal/logging"
	"github.com/example/latency-dashboard/internal/scheduler"
	"github.com/example/latency-dashboard/internal/server"
)

const shutdownTimeout = 15 * time.Second

func (a *app) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API and run the daily scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":5001", "HTTP listen address")
	cmd.Flags().Bool("scheduler", true, "run the daily fetch cycle")
	_ = a.v.BindPFlag("http_addr", cmd.Flags().Lookup("addr"))
	_ = a.v.BindPFlag("scheduler_enabled", cmd.Flags().Lookup("scheduler"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger(a.cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	rt, err := buildRuntime(ctx, a.cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	var sched *scheduler.Scheduler
	if a.cfg.SchedulerEnabled {
		hour, minute, err := config.ParseScheduleTime(a.cfg.ScheduleTime)
		if err != nil {
			return err
		}
		sched, err = scheduler.New(rt.ingestor, hour, minute, time.Local, a.cfg.CycleTimeout, logger)
		if err != nil {
			return err
		}
		sched.Start()
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	if a.cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", a.cfg.GRPCHealthAddr)
		if err != nil {
			return err
		}
		health := grpchealth.NewServer(rt.repo, 10*time.Second, logger)
		go func() {
			if err := health.Serve(bgCtx, lis); err != nil {
				logger.Error("grpc health server stopped", zap.Error(err))
			}
		}()
		logger.Info("grpc health listening", zap.String("addr", a.cfg.GRPCHealthAddr))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logging.GinMiddleware(logger), gin.Recovery())

	deps := handlers.Dependencies{
		Ingestor: rt.ingestor,
		Query:    rt.query,
		Store:    rt.repo,
		Metrics:  promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}),
		Operator: auth.OperatorMiddleware(a.cfg.OperatorJWTSecret, a.cfg.OperatorJWTAudience),
	}
	if sched != nil {
		deps.Scheduler = sched
	}
	handlers.RegisterRoutes(r, deps)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("latency API listening",
		zap.String("addr", a.cfg.HTTPAddr),
		zap.String("type", a.cfg.MetricType),
		zap.Bool("scheduler", sched != nil),
	)
	return server.ServeHTTP(srv, shutdownTimeout, logger, server.Options{
		OnShutdown: func(ctx context.Context) {
			stopBackground()
			if sched != nil {
				sched.Stop(ctx)
			}
		},
	})
}
