package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zuevav/pik-tracker/internal/ingest"
	"github.com/zuevav/pik-tracker/internal/notify"
	"github.com/zuevav/pik-tracker/internal/pik"
	"github.com/zuevav/pik-tracker/internal/store"
)

// trackerEnv holds the initialized store, source, and runner shared by the
// sync/serve/projects commands.
type trackerEnv struct {
	Store  store.Store
	Source pik.Source
	Runner *ingest.Runner
}

func (e *trackerEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store

	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "connect postgres")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, eris.Wrap(err, "ping postgres")
		}
		st = store.NewPostgres(pool)

	case "sqlite", "":
		if dir := filepath.Dir(cfg.Store.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrap(err, "create data dir")
			}
		}
		s, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		st = s

	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initSource builds the listing source named by the config or the --source
// override. The site source needs project slugs registered before fetching.
func initSource(ctx context.Context, st store.Store, name string) (pik.Source, error) {
	if name == "" {
		name = cfg.Sync.Source
	}

	switch name {
	case "api", "":
		return pik.NewClient(pik.Options{
			BaseURL:      cfg.PIK.APIBase,
			Version:      cfg.PIK.APIVersion,
			SiteURL:      cfg.PIK.SiteURL,
			Timeout:      cfg.PIK.Timeout(),
			RequestDelay: cfg.PIK.RequestDelay(),
			PageLimit:    cfg.PIK.PageLimit,
			MaxOffset:    cfg.PIK.MaxOffset,
			Parallel:     cfg.Sync.FetchParallel,
		}), nil

	case "site":
		sc := pik.NewSiteClient(cfg.PIK.SiteURL, cfg.PIK.Timeout())
		projects, err := st.ListProjects(ctx, true)
		if err != nil {
			return nil, eris.Wrap(err, "load projects for site source")
		}
		for _, p := range projects {
			sc.RegisterSlug(p.ExternalID, p.Slug)
		}
		return sc, nil

	default:
		return nil, eris.Errorf("unknown source %q (want api or site)", name)
	}
}

// initEnv wires the full pipeline. dryRun suppresses email delivery.
func initEnv(ctx context.Context, sourceName string, dryRun bool) (*trackerEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	source, err := initSource(ctx, st, sourceName)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var mailer notify.Mailer
	if cfg.Email.Enabled && !dryRun {
		mailer = notify.NewSMTPMailer(cfg.Email)
	} else {
		mailer = notify.NewLogMailer()
		if dryRun {
			zap.L().Info("dry run: email delivery suppressed")
		}
	}

	dispatcher := notify.NewDispatcher(st, mailer, cfg.Email.DefaultTo)
	runner := ingest.NewRunner(st, source, dispatcher, cfg.Sync.LockTTL(), cfg.PIK.SiteURL)

	return &trackerEnv{Store: st, Source: source, Runner: runner}, nil
}
