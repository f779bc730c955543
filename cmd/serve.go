package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/signal-sink/internal/analyze"
	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/collector"
	"github.com/sells-group/signal-sink/internal/relay"
	"github.com/sells-group/signal-sink/internal/scanner"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collector daemon",
	Long:  "Starts the HTTP capture surface, the ingestion session, the background analysis worker and, when a watch URL is configured, the URL parameter scanner.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hub := bus.New(cfg.Server.SubscriberBacklog)
		defer hub.Close()

		sess, err := initSession(ctx, st, hub)
		if err != nil {
			return err
		}

		analyzer, err := initAnalyzer()
		if err != nil {
			return err
		}
		worker := analyze.NewWorker(st, analyzer, analyze.WorkerConfig{
			QueueDepth:    cfg.Analyzer.QueueDepth,
			RatePerMinute: cfg.Analyzer.RatePerMinute,
			MaxAttempts:   cfg.Analyzer.MaxAttempts,
		})
		sess.SetScheduler(worker)

		if n, err := worker.Recover(ctx); err != nil {
			zap.L().Warn("requeue interrupted analysis", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("requeued interrupted analysis", zap.Int("records", n))
		}

		bc := relay.NewBroadcaster(hub, st)
		handler := collector.New(bc, sess, cfg.Server.MaxPayloadBytes)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler.Routes(),
		}

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			err := sess.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})

		g.Go(func() error {
			err := worker.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})

		if cfg.Scanner.WatchURL != "" {
			sc := scanner.New(bc, sess.Settings)
			every := time.Duration(cfg.Scanner.PollIntervalMs) * time.Millisecond
			g.Go(func() error {
				err := sc.Run(ctx, cfg.Scanner.WatchURL, every)
				if err == context.Canceled {
					return nil
				}
				return err
			})
		}

		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down collector")
			grace := time.Duration(cfg.Server.ShutdownGraceSecs) * time.Second
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			zap.L().Info("collector listening", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "collector listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "collector port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
