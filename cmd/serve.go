package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zuevav/pik-tracker/internal/ingest"
	"github.com/zuevav/pik-tracker/internal/model"
	"github.com/zuevav/pik-tracker/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "", false)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			// The signal context is already canceled; draining needs its own
			// deadline.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newRouter(env *trackerEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", env.handleListProjects)
		r.Post("/projects/sync", env.handleSyncProjects)
		r.Put("/projects/{id}/tracked", env.handleSetTracked)

		r.Get("/listings", env.handleListListings)
		r.Get("/listings/{id}/history", env.handlePriceHistory)

		r.Get("/subscriptions", env.handleListSubscriptions)
		r.Post("/subscriptions", env.handleSaveSubscription)
		r.Get("/subscriptions/{id}", env.handleGetSubscription)
		r.Put("/subscriptions/{id}", env.handleSaveSubscription)
		r.Delete("/subscriptions/{id}", env.handleDeleteSubscription)

		r.Post("/sync", env.handleRunCycle)
		r.Get("/cycles", env.handleListCycles)
		r.Get("/stats", env.handleStats)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (e *trackerEnv) handleListProjects(w http.ResponseWriter, r *http.Request) {
	trackedOnly := r.URL.Query().Get("tracked") == "1"
	projects, err := e.Store.ListProjects(r.Context(), trackedOnly)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (e *trackerEnv) handleSyncProjects(w http.ResponseWriter, r *http.Request) {
	n, err := e.Runner.SyncProjects(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": n})
}

func (e *trackerEnv) handleSetTracked(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Tracked bool `json:"tracked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := e.Store.SetProjectTracked(r.Context(), id, body.Tracked); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"external_id": id, "tracked": body.Tracked})
}

func (e *trackerEnv) handleListListings(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := e.Store.QueryListings(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// filterFromQuery parses listing filter query parameters. All bounds are
// inclusive, matching the subscription semantics.
func filterFromQuery(r *http.Request) (store.ListingFilter, error) {
	q := r.URL.Query()
	f := store.ListingFilter{}

	for _, raw := range q["project"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, fmt.Errorf("bad project id %q", raw)
		}
		f.ProjectIDs = append(f.ProjectIDs, id)
	}

	intBound := func(key string, dst **int) error {
		if raw := q.Get(key); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("bad %s %q", key, raw)
			}
			*dst = &v
		}
		return nil
	}
	int64Bound := func(key string, dst **int64) error {
		if raw := q.Get(key); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("bad %s %q", key, raw)
			}
			*dst = &v
		}
		return nil
	}
	floatBound := func(key string, dst **float64) error {
		if raw := q.Get(key); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("bad %s %q", key, raw)
			}
			*dst = &v
		}
		return nil
	}

	for _, parse := range []func() error{
		func() error { return intBound("rooms_min", &f.RoomsMin) },
		func() error { return intBound("rooms_max", &f.RoomsMax) },
		func() error { return int64Bound("price_min", &f.PriceMin) },
		func() error { return int64Bound("price_max", &f.PriceMax) },
		func() error { return floatBound("area_min", &f.AreaMin) },
		func() error { return floatBound("area_max", &f.AreaMax) },
		func() error { return intBound("floor_min", &f.FloorMin) },
		func() error { return intBound("floor_max", &f.FloorMax) },
	} {
		if err := parse(); err != nil {
			return f, err
		}
	}

	f.IncludeSold = q.Get("include_sold") == "1"
	if raw := q.Get("limit"); raw != "" {
		f.Limit, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("offset"); raw != "" {
		f.Offset, _ = strconv.Atoi(raw)
	}
	return f, nil
}

func (e *trackerEnv) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	externalID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l, err := e.Store.GetListing(r.Context(), externalID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	history, err := e.Store.PriceHistory(r.Context(), l.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing": l, "history": history})
}

func (e *trackerEnv) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "1"
	subs, err := e.Store.ListSubscriptions(r.Context(), activeOnly)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (e *trackerEnv) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sub, err := e.Store.GetSubscription(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (e *trackerEnv) handleSaveSubscription(w http.ResponseWriter, r *http.Request) {
	var sub model.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if raw := chi.URLParam(r, "id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sub.ID = id
	}
	if sub.Name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
		return
	}

	saved, err := e.Store.SaveSubscription(r.Context(), sub)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	status := http.StatusOK
	if sub.ID == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (e *trackerEnv) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := e.Store.DeleteSubscription(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunCycle triggers one ingestion cycle and returns its report, the
// same shape the scheduler path produces.
func (e *trackerEnv) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := e.Runner.Run(r.Context())
	if err != nil {
		if eris.Is(err, ingest.ErrCycleRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (e *trackerEnv) handleListCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	cycles, err := e.Store.ListCycles(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (e *trackerEnv) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := e.Store.Stats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	lastCheck, err := e.Store.GetSetting(r.Context(), ingest.LastCheckKey)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "last_check": lastCheck})
}
