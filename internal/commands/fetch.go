package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/latency-dashboard/internal/daterange"
)

// withRuntime runs fn against a wired runtime. Interrupts cancel ctx, which range fetches
// observe between dates.
func (a *app) withRuntime(cmd *cobra.Command, needUpstream bool, fn func(ctx context.Context, rt *runtime) error) error {
	if needUpstream {
		if err := a.cfg.RequireUpstream(); err != nil {
			return err
		}
	}
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	return fn(ctx, rt)
}

func (a *app) dailyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Run the daily cycle for yesterday now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, true, func(ctx context.Context, rt *runtime) error {
				result, err := rt.ingestor.RunDaily(ctx)
				printDateResult(cmd.OutOrStdout(), result)
				return err
			})
		},
	}
}

func (a *app) fetchRangeCommand() *cobra.Command {
	var startDate, endDate string
	cmd := &cobra.Command{
		Use:   "fetch-range",
		Short: "Fetch and aggregate every date of an inclusive range",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := daterange.Parse(startDate)
			if err != nil {
				return err
			}
			end, err := daterange.Parse(endDate)
			if err != nil {
				return err
			}
			return a.withRuntime(cmd, true, func(ctx context.Context, rt *runtime) error {
				report, err := rt.ingestor.FetchRange(ctx, start, end, a.cfg.MetricType)
				if report != nil {
					printRangeReport(cmd.OutOrStdout(), report)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&startDate, "start", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&endDate, "end", "", "last date, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func (a *app) backfillCommand() *cobra.Command {
	var (
		days         int
		includeToday bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Seed the store with the last N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, true, func(ctx context.Context, rt *runtime) error {
				report, err := rt.ingestor.Backfill(ctx, days, includeToday)
				if report != nil {
					printRangeReport(cmd.OutOrStdout(), report)
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 3, "number of days to fetch")
	cmd.Flags().BoolVar(&includeToday, "include-today", false, "end the window today instead of yesterday")
	return cmd
}

func (a *app) refreshCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-aggregate the recent window from stored samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, false, func(ctx context.Context, rt *runtime) error {
				result, err := rt.query.Refresh(ctx, a.cfg.MetricType, days)
				if err != nil {
					return err
				}
				printRefreshResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "size of the window ending yesterday")
	return cmd
}

func (a *app) checkDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-db",
		Short: "Verify the metric store is reachable and migrated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, false, func(ctx context.Context, rt *runtime) error {
				if err := rt.repo.Ping(ctx); err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "database %s on %s:%d is reachable", a.cfg.DBName, a.cfg.DBHost, a.cfg.DBPort)
				return nil
			})
		},
	}
}
