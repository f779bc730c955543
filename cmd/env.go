package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-sink/internal/analyze"
	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/relay"
	"github.com/sells-group/signal-sink/internal/store"
	"github.com/sells-group/signal-sink/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "signal-sink.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// loadSettings prefers the settings persisted in the store and falls back
// to the file config on first launch.
func loadSettings(ctx context.Context, st store.Store) (*model.Settings, error) {
	settings, err := st.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = cfg.SeedSettings()
		if err := st.SetSettings(ctx, settings); err != nil {
			return nil, err
		}
	}
	return settings, nil
}

func initSession(ctx context.Context, st store.Store, b *bus.Bus) (*relay.Session, error) {
	settings, err := loadSettings(ctx, st)
	if err != nil {
		return nil, err
	}
	sess, err := relay.NewSession(st, b, settings, relay.Config{
		DedupCacheSize: cfg.Ingest.DedupCacheSize,
		LogCap:         cfg.Ingest.LogCap,
		ClipboardCap:   cfg.Ingest.ClipboardCap,
		DrainInterval:  time.Duration(cfg.Server.DrainIntervalSecs) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	// Remember stored records so restarts keep rejecting duplicates.
	if err := sess.Prime(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func initAnalyzer() (analyze.Analyzer, error) {
	switch cfg.Analyzer.Provider {
	case "heuristic", "":
		return analyze.NewHeuristic(), nil
	case "claude":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("anthropic API key is required (SINK_ANTHROPIC_KEY)")
		}
		client := anthropic.NewClient(cfg.Anthropic.Key)
		return analyze.NewClaude(client, cfg.Anthropic.Model), nil
	default:
		return nil, eris.Errorf("unsupported analyzer provider: %s", cfg.Analyzer.Provider)
	}
}
