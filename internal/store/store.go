// Package store is the durable reconciliation layer: projects, listings,
// price history, subscriptions and the notification/cycle logs, with
// interchangeable SQLite and Postgres backends.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/zuevav/pik-tracker/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// UpsertResult reports how an upsert changed the stored listing. The
// orchestrator classifies events from these flags.
type UpsertResult struct {
	IsNew        bool
	PriceChanged bool
	// Reactivated is set when a previously sold listing reappeared. The
	// listing keeps its external id and history; status returns to active.
	Reactivated bool
	OldPrice    int64
	Listing     model.Listing
}

// ListingFilter selects listings. All bounds are inclusive; nil means
// unconstrained. ProjectIDs are project external ids; empty matches all.
// Only active listings are returned unless IncludeSold is set.
type ListingFilter struct {
	ProjectIDs  []int64
	RoomsMin    *int
	RoomsMax    *int
	PriceMin    *int64
	PriceMax    *int64
	AreaMin     *float64
	AreaMax     *float64
	FloorMin    *int
	FloorMax    *int
	IncludeSold bool
	Limit       int
	Offset      int
}

// ListingPage is one page of results plus the total row count computed under
// the same predicate as the page.
type ListingPage struct {
	Items  []model.Listing `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// Stats summarizes the store for dashboards and CLI output.
type Stats struct {
	ActiveListings      int `json:"active_listings"`
	Projects            int `json:"projects"`
	TrackedProjects     int `json:"tracked_projects"`
	ActiveSubscriptions int `json:"active_subscriptions"`
	PriceChangesToday   int `json:"price_changes_today"`
	NewListingsToday    int `json:"new_listings_today"`
}

// Store is the persistence interface for the ingestion pipeline and the
// trigger surfaces.
type Store interface {
	// Projects. UpsertProject refreshes display fields unconditionally but
	// writes the tracked flag only when updateTracked is set: a bare resync
	// must never silently untrack a project the operator opted into.
	UpsertProject(ctx context.Context, p model.Project, updateTracked bool) (*model.Project, error)
	GetProject(ctx context.Context, externalID int64) (*model.Project, error)
	ListProjects(ctx context.Context, trackedOnly bool) ([]model.Project, error)
	SetProjectTracked(ctx context.Context, externalID int64, tracked bool) error

	// Listings. UpsertListing is keyed by external id: inserts get status
	// active, both seen timestamps and one price history entry; updates
	// append a history entry before overwriting when the price differs,
	// then overwrite all mutable fields and refresh last-seen.
	UpsertListing(ctx context.Context, l model.Listing) (*UpsertResult, error)
	GetListing(ctx context.Context, externalID int64) (*model.Listing, error)
	// MarkSoldExcept transitions every active listing of one project whose
	// external id is not in seen to sold. Scoped per project so partial
	// polls cannot touch other projects.
	MarkSoldExcept(ctx context.Context, projectID int64, seen []int64) (int64, error)
	QueryListings(ctx context.Context, f ListingFilter) (*ListingPage, error)
	PriceHistory(ctx context.Context, listingID int64) ([]model.PriceEntry, error)

	// Subscriptions (owned by the user-facing layer; read-only to the pipeline).
	SaveSubscription(ctx context.Context, s model.Subscription) (*model.Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context, activeOnly bool) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id int64) error

	// Notification log (owned by the dispatcher).
	LogNotification(ctx context.Context, rec model.NotificationRecord) error
	HasNotification(ctx context.Context, subscriptionID *int64, listingID int64, kind model.NotificationKind) (bool, error)

	// Cycle bookkeeping.
	RecordCycle(ctx context.Context, report model.CycleReport) error
	ListCycles(ctx context.Context, limit int) ([]model.CycleReport, error)
	AcquireCycleLock(ctx context.Context, ttl time.Duration) (bool, error)
	ReleaseCycleLock(ctx context.Context) error

	// Settings KV.
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
