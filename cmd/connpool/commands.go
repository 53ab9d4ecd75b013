package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuku/connpool"
	"go.uber.org/zap"
)

type checkReport struct {
	Engine  string        `json:"engine"`
	Probe   string        `json:"probe,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Stats   statsReport   `json:"stats"`
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Open a pool, check out one connection, probe it and print stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			start := time.Now()
			pool, err := connpool.New(a.cfg, a.options()...)
			if err != nil {
				return fmt.Errorf("failed to open pool: %w", err)
			}
			defer pool.Close()

			g, err := pool.Checkout(ctx)
			if err != nil {
				return fmt.Errorf("failed to check out a connection: %w", err)
			}
			if err := g.Conn().Ping(); err != nil {
				g.MarkBroken()
				g.Release()
				return fmt.Errorf("failed to ping: %w", err)
			}
			if probe := a.cfg.ValidationProbe; probe != "" {
				if _, err := g.Query(probe); err != nil {
					g.Release()
					return fmt.Errorf("failed to run probe: %w", err)
				}
			}
			g.Release()

			return printJSON(cmd, checkReport{
				Engine:  pool.Config().Engine,
				Probe:   a.cfg.ValidationProbe,
				Elapsed: time.Since(start),
				Stats:   newStatsReport(pool.Stats()),
			})
		},
	}
}

type benchReport struct {
	Concurrency  int         `json:"concurrency"`
	Duration     string      `json:"duration"`
	Operations   int64       `json:"operations"`
	Errors       int64       `json:"errors"`
	OpsPerSecond float64     `json:"ops_per_second"`
	Stats        statsReport `json:"stats"`
}

func newBenchCommand(a *app) *cobra.Command {
	var (
		concurrency int
		duration    time.Duration
		query       string
		useTx       bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a concurrent workload through an async pool and print stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if concurrency < 1 {
				return fmt.Errorf("concurrency must be at least 1: given %d", concurrency)
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			pool, err := connpool.NewAsync(ctx, a.cfg, a.options()...)
			if err != nil {
				return fmt.Errorf("failed to open pool: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := pool.Close(closeCtx); err != nil {
					a.logger.Warn("failed to close pool", zap.Error(err))
				}
			}()

			runCtx, stop := context.WithTimeout(ctx, duration)
			defer stop()

			var (
				wg   sync.WaitGroup
				ops  atomic.Int64
				errs atomic.Int64
			)
			start := time.Now()
			for range concurrency {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for runCtx.Err() == nil {
						if err := benchOnce(runCtx, pool, query, useTx); err != nil {
							if runCtx.Err() != nil {
								return
							}
							errs.Add(1)
							a.logger.Debug("bench operation failed", zap.Error(err))
							continue
						}
						ops.Add(1)
					}
				}()
			}
			wg.Wait()
			elapsed := time.Since(start)

			return printJSON(cmd, benchReport{
				Concurrency:  concurrency,
				Duration:     elapsed.Round(time.Millisecond).String(),
				Operations:   ops.Load(),
				Errors:       errs.Load(),
				OpsPerSecond: float64(ops.Load()) / elapsed.Seconds(),
				Stats:        newStatsReport(pool.Stats()),
			})
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "Number of concurrent callers")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "How long to run")
	cmd.Flags().StringVar(&query, "query", "SELECT 1", "Statement each operation runs")
	cmd.Flags().BoolVar(&useTx, "tx", false, "Run each operation inside a transaction")
	return cmd
}

func benchOnce(ctx context.Context, pool *connpool.AsyncPool, query string, useTx bool) error {
	if useTx {
		return pool.WithTx(ctx, func(tx *connpool.Tx) error {
			_, err := tx.Query(query)
			return err
		})
	}
	_, err := pool.Query(ctx, query)
	return err
}
