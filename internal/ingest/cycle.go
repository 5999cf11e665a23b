// Package ingest orchestrates one full tracking cycle: fetch, normalize,
// reconcile, classify deltas, notify, record the run.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zuevav/pik-tracker/internal/model"
	"github.com/zuevav/pik-tracker/internal/notify"
	"github.com/zuevav/pik-tracker/internal/pik"
	"github.com/zuevav/pik-tracker/internal/store"
)

// LastCheckKey is the settings key holding the completion time of the most
// recent cycle.
const LastCheckKey = "last_check"

// ErrCycleRunning is returned when another cycle holds the lock.
var ErrCycleRunning = eris.New("ingest: another cycle is already running")

// Runner executes ingestion cycles against one store and one source.
type Runner struct {
	store      store.Store
	source     pik.Source
	dispatcher *notify.Dispatcher
	lockTTL    time.Duration
	siteURL    string
	log        *zap.Logger
}

func NewRunner(st store.Store, source pik.Source, dispatcher *notify.Dispatcher, lockTTL time.Duration, siteURL string) *Runner {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Runner{
		store:      st,
		source:     source,
		dispatcher: dispatcher,
		lockTTL:    lockTTL,
		siteURL:    siteURL,
		log:        zap.L().With(zap.String("component", "ingest")),
	}
}

// SyncProjects refreshes the project catalog from the source. Tracked flags
// are preserved across resyncs.
func (r *Runner) SyncProjects(ctx context.Context) (int, error) {
	infos, err := r.source.FetchProjects(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: fetch projects")
	}

	for _, info := range infos {
		p := model.Project{
			ExternalID: info.ExternalID,
			GUID:       info.GUID,
			Name:       info.Name,
			Slug:       info.Slug,
			URL:        info.URL,
			FlatsCount: info.FlatsCount,
			PriceMin:   info.PriceMin,
		}
		if _, err := r.store.UpsertProject(ctx, p, false); err != nil {
			return 0, eris.Wrapf(err, "ingest: upsert project %d", info.ExternalID)
		}
	}

	r.log.Info("project catalog synced", zap.Int("projects", len(infos)))
	return len(infos), nil
}

// Run executes one full cycle under the cycle lock. Store failures abort the
// run; upstream and delivery failures are recorded in the report and the
// remaining work continues.
func (r *Runner) Run(ctx context.Context) (*model.CycleReport, error) {
	got, err := r.store.AcquireCycleLock(ctx, r.lockTTL)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: acquire lock")
	}
	if !got {
		return nil, ErrCycleRunning
	}
	defer func() {
		if err := r.store.ReleaseCycleLock(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("lock release failed", zap.Error(err))
		}
	}()

	report := &model.CycleReport{StartedAt: time.Now().UTC()}

	projects, err := r.store.ListProjects(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list tracked projects")
	}
	subs, err := r.store.ListSubscriptions(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list subscriptions")
	}

	if len(projects) == 0 {
		r.log.Info("no tracked projects, nothing to do")
		report.CompletedAt = time.Now().UTC()
		if err := r.store.RecordCycle(ctx, *report); err != nil {
			return nil, eris.Wrap(err, "ingest: record cycle")
		}
		return report, nil
	}

	ids := make([]int64, len(projects))
	for i, p := range projects {
		ids[i] = p.ExternalID
	}

	// One batched call covers every tracked project; partial results are
	// still reconciled, but a failed fetch must not trigger sold marking.
	records, fetchErr := r.source.FetchListings(ctx, pik.Criteria{BlockIDs: ids})
	if fetchErr != nil {
		r.log.Warn("listing fetch failed", zap.Error(fetchErr))
		report.Errors = append(report.Errors, fmt.Sprintf("fetch: %v", fetchErr))
	}
	report.Fetched = len(records)

	byProject := make(map[int64][]pik.RawRecord)
	for _, rec := range records {
		pid, ok := rec.Int64Field("block_id", "blockId")
		if !ok {
			r.log.Warn("record without project attribution dropped")
			continue
		}
		byProject[pid] = append(byProject[pid], rec)
	}

	var newListings []model.Listing
	var priceChanges []model.PriceChange

	for _, p := range projects {
		recs := byProject[p.ExternalID]
		seen := make([]int64, 0, len(recs))

		for _, rec := range recs {
			l, ok := pik.Normalize(rec, pik.Defaults{ProjectID: p.ExternalID, SiteURL: r.siteURL})
			if !ok {
				r.log.Warn("unparseable record dropped", zap.Int64("project", p.ExternalID))
				continue
			}

			res, err := r.store.UpsertListing(ctx, *l)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("project %d: %v", p.ExternalID, err))
				// The unit was present upstream even though the write failed;
				// it must not be marked sold below.
				seen = append(seen, l.ExternalID)
				continue
			}
			seen = append(seen, res.Listing.ExternalID)

			switch {
			case res.IsNew, res.Reactivated:
				report.New++
				newListings = append(newListings, res.Listing)
				// A relisted unit at a changed price still belongs in the
				// price digest; the new-listing notification alone is deduped
				// away for units seen before.
				if res.Reactivated && res.PriceChanged {
					priceChanges = append(priceChanges, model.PriceChange{
						Listing:  res.Listing,
						OldPrice: res.OldPrice,
						NewPrice: res.Listing.Price,
					})
				}
			case res.PriceChanged:
				report.Updated++
				priceChanges = append(priceChanges, model.PriceChange{
					Listing:  res.Listing,
					OldPrice: res.OldPrice,
					NewPrice: res.Listing.Price,
				})
			}
		}

		// An empty seen set after a clean fetch means the project genuinely
		// has no units left; everything active transitions to sold.
		if fetchErr == nil {
			sold, err := r.store.MarkSoldExcept(ctx, p.ExternalID, seen)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("project %d: %v", p.ExternalID, err))
				continue
			}
			if sold > 0 {
				r.log.Info("listings marked sold",
					zap.Int64("project", p.ExternalID),
					zap.Int64("count", sold),
				)
			}
		}
	}

	if r.dispatcher != nil {
		dr, err := r.dispatcher.Dispatch(ctx, newListings, priceChanges, subs)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: dispatch")
		}
		report.Errors = append(report.Errors, dr.Errors...)
	}

	report.CompletedAt = time.Now().UTC()
	if err := r.store.RecordCycle(ctx, *report); err != nil {
		return nil, eris.Wrap(err, "ingest: record cycle")
	}
	if err := r.store.SetSetting(ctx, LastCheckKey, report.CompletedAt.Format(time.RFC3339)); err != nil {
		return nil, eris.Wrap(err, "ingest: save last check")
	}

	r.log.Info("cycle complete",
		zap.Int("fetched", report.Fetched),
		zap.Int("new", report.New),
		zap.Int("updated", report.Updated),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", report.CompletedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// RunEvery runs cycles on a fixed interval until the context ends. The first
// cycle starts immediately. A cycle already running elsewhere is not an
// error, just a skipped tick.
func (r *Runner) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Run(ctx); err != nil {
			if eris.Is(err, ErrCycleRunning) {
				r.log.Info("cycle already running, skipping tick")
			} else {
				r.log.Error("cycle failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
