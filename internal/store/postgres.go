package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/zuevav/pik-tracker/internal/db"
	"github.com/zuevav/pik-tracker/internal/model"
)

// cycleLockKey identifies the ingestion advisory lock. Arbitrary but stable.
const cycleLockKey = 7741001

// PostgresStore implements Store over a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	external_id BIGINT PRIMARY KEY,
	guid        TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	tracked     BOOLEAN NOT NULL DEFAULT FALSE,
	flats_count INTEGER NOT NULL DEFAULT 0,
	price_min   BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
	id              BIGSERIAL PRIMARY KEY,
	external_id     BIGINT NOT NULL UNIQUE,
	project_id      BIGINT NOT NULL REFERENCES projects(external_id),
	rooms           INTEGER,
	is_studio       BOOLEAN NOT NULL DEFAULT FALSE,
	area            DOUBLE PRECISION NOT NULL DEFAULT 0,
	floor           INTEGER,
	floors_total    INTEGER,
	price           BIGINT NOT NULL,
	price_per_meter BIGINT,
	address         TEXT NOT NULL DEFAULT '',
	building        TEXT NOT NULL DEFAULT '',
	section         TEXT NOT NULL DEFAULT '',
	finishing       TEXT NOT NULL DEFAULT '',
	completion_date TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'active',
	first_seen_at   TIMESTAMPTZ NOT NULL,
	last_seen_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id              BIGSERIAL PRIMARY KEY,
	listing_id      BIGINT NOT NULL REFERENCES listings(id),
	price           BIGINT NOT NULL,
	price_per_meter BIGINT,
	recorded_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	project_ids  JSONB NOT NULL DEFAULT '[]',
	rooms_min    INTEGER,
	rooms_max    INTEGER,
	price_min    BIGINT,
	price_max    BIGINT,
	area_min     DOUBLE PRECISION,
	area_max     DOUBLE PRECISION,
	floor_min    INTEGER,
	floor_max    INTEGER,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	notify_email TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id              UUID PRIMARY KEY,
	subscription_id BIGINT REFERENCES subscriptions(id),
	listing_id      BIGINT NOT NULL REFERENCES listings(id),
	kind            TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	sent_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ NOT NULL,
	fetched       INTEGER NOT NULL DEFAULT 0,
	new_count     INTEGER NOT NULL DEFAULT 0,
	updated_count INTEGER NOT NULL DEFAULT 0,
	errors        JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_project ON listings(project_id);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(price);
CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(listing_id);
CREATE INDEX IF NOT EXISTS idx_notifications_dedup ON notifications(listing_id, kind, subscription_id);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- projects ---

const pgProjectCols = `external_id, guid, name, slug, url, tracked, flats_count, price_min, created_at, updated_at`

func (s *PostgresStore) UpsertProject(ctx context.Context, p model.Project, updateTracked bool) (*model.Project, error) {
	now := time.Now().UTC()
	p.UpdatedAt = now
	p.CreatedAt = now

	// The tracked column only takes the incoming value on conflict when the
	// caller asked for it; otherwise the stored flag wins.
	trackedExpr := `projects.tracked`
	if updateTracked {
		trackedExpr = `EXCLUDED.tracked`
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO projects (`+pgProjectCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (external_id) DO UPDATE SET
			guid = EXCLUDED.guid, name = EXCLUDED.name, slug = EXCLUDED.slug,
			url = EXCLUDED.url, tracked = `+trackedExpr+`,
			flats_count = EXCLUDED.flats_count, price_min = EXCLUDED.price_min,
			updated_at = EXCLUDED.updated_at
		 RETURNING `+pgProjectCols,
		p.ExternalID, p.GUID, p.Name, p.Slug, p.URL, p.Tracked,
		p.FlatsCount, p.PriceMin, now, now,
	)
	out, err := scanProjectPG(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert project %d", p.ExternalID)
	}
	return out, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, externalID int64) (*model.Project, error) {
	p, err := scanProjectPG(s.pool.QueryRow(ctx,
		`SELECT `+pgProjectCols+` FROM projects WHERE external_id = $1`, externalID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %d", externalID)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, trackedOnly bool) ([]model.Project, error) {
	query := `SELECT ` + pgProjectCols + ` FROM projects`
	if trackedOnly {
		query += ` WHERE tracked`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProjectPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		projects = append(projects, *p)
	}
	return projects, eris.Wrap(rows.Err(), "postgres: list projects iterate")
}

func (s *PostgresStore) SetProjectTracked(ctx context.Context, externalID int64, tracked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET tracked = $1, updated_at = $2 WHERE external_id = $3`,
		tracked, time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set project %d tracked", externalID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProjectPG(row pgx.Row) (*model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ExternalID, &p.GUID, &p.Name, &p.Slug, &p.URL, &p.Tracked,
		&p.FlatsCount, &p.PriceMin, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- listings ---

const pgListingCols = `id, external_id, project_id, rooms, is_studio, area, floor, floors_total,
	price, price_per_meter, address, building, section, finishing, completion_date, url,
	status, first_seen_at, last_seen_at`

func (s *PostgresStore) UpsertListing(ctx context.Context, l model.Listing) (*UpsertResult, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin upsert listing")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := scanListingPG(tx.QueryRow(ctx,
		`SELECT `+pgListingCols+` FROM listings WHERE external_id = $1 FOR UPDATE`, l.ExternalID))

	res := &UpsertResult{}
	switch {
	case err == pgx.ErrNoRows:
		res.IsNew = true
		l.Status = model.StatusActive
		l.FirstSeenAt = now
		l.LastSeenAt = now
		err = tx.QueryRow(ctx,
			`INSERT INTO listings (external_id, project_id, rooms, is_studio, area, floor, floors_total,
			 price, price_per_meter, address, building, section, finishing, completion_date, url,
			 status, first_seen_at, last_seen_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			 RETURNING id`,
			l.ExternalID, l.ProjectID, l.Rooms, l.IsStudio, l.Area, l.Floor, l.FloorsTotal,
			l.Price, l.PricePerMeter, l.Address, l.Building, l.Section, l.Finishing,
			l.CompletionDate, l.URL, string(model.StatusActive), now, now,
		).Scan(&l.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: insert listing %d", l.ExternalID)
		}
		if err := insertPriceEntryPG(ctx, tx, l.ID, l.Price, l.PricePerMeter, now); err != nil {
			return nil, err
		}

	case err != nil:
		return nil, eris.Wrapf(err, "postgres: lookup listing %d", l.ExternalID)

	default:
		res.OldPrice = existing.Price
		res.PriceChanged = existing.Price != l.Price
		res.Reactivated = existing.Status == model.StatusSold
		l.ID = existing.ID
		l.FirstSeenAt = existing.FirstSeenAt
		l.Status = model.StatusActive
		l.LastSeenAt = now

		if res.PriceChanged {
			if err := insertPriceEntryPG(ctx, tx, l.ID, l.Price, l.PricePerMeter, now); err != nil {
				return nil, err
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE listings SET project_id = $1, rooms = $2, is_studio = $3, area = $4, floor = $5,
			 floors_total = $6, price = $7, price_per_meter = $8, address = $9, building = $10,
			 section = $11, finishing = $12, completion_date = $13, url = $14, status = $15,
			 last_seen_at = $16 WHERE external_id = $17`,
			l.ProjectID, l.Rooms, l.IsStudio, l.Area, l.Floor, l.FloorsTotal,
			l.Price, l.PricePerMeter, l.Address, l.Building, l.Section, l.Finishing,
			l.CompletionDate, l.URL, string(model.StatusActive), now, l.ExternalID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: update listing %d", l.ExternalID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit upsert listing")
	}

	res.Listing = l
	return res, nil
}

func insertPriceEntryPG(ctx context.Context, tx pgx.Tx, listingID, price int64, ppm *int64, at time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO price_history (listing_id, price, price_per_meter, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		listingID, price, ppm, at,
	)
	return eris.Wrapf(err, "postgres: insert price entry for listing %d", listingID)
}

func (s *PostgresStore) GetListing(ctx context.Context, externalID int64) (*model.Listing, error) {
	l, err := scanListingPG(s.pool.QueryRow(ctx,
		`SELECT `+pgListingCols+` FROM listings WHERE external_id = $1`, externalID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get listing %d", externalID)
	}
	return l, nil
}

func (s *PostgresStore) MarkSoldExcept(ctx context.Context, projectID int64, seen []int64) (int64, error) {
	query := `UPDATE listings SET status = $1, last_seen_at = $2 WHERE project_id = $3 AND status = $4`
	args := []any{string(model.StatusSold), time.Now().UTC(), projectID, string(model.StatusActive)}

	if len(seen) > 0 {
		query += ` AND NOT (external_id = ANY($5))`
		args = append(args, seen)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: mark sold in project %d", projectID)
	}
	return tag.RowsAffected(), nil
}

func dollarMark(n int) string { return "$" + strconv.Itoa(n) }

func (s *PostgresStore) QueryListings(ctx context.Context, f ListingFilter) (*ListingPage, error) {
	where, args := listingPredicate(f, dollarMark)

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM listings WHERE `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count listings")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	n := len(args)
	query := `SELECT ` + pgListingCols + ` FROM listings WHERE ` + where +
		` ORDER BY price ASC, external_id ASC LIMIT ` + dollarMark(n+1) + ` OFFSET ` + dollarMark(n+2)
	pageArgs := append(append([]any{}, args...), limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query listings")
	}
	defer rows.Close()

	page := &ListingPage{Total: total, Limit: limit, Offset: f.Offset}
	for rows.Next() {
		l, err := scanListingPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		page.Items = append(page.Items, *l)
	}
	return page, eris.Wrap(rows.Err(), "postgres: query listings iterate")
}

func (s *PostgresStore) PriceHistory(ctx context.Context, listingID int64) ([]model.PriceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, listing_id, price, price_per_meter, recorded_at
		 FROM price_history WHERE listing_id = $1 ORDER BY id`, listingID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: price history for %d", listingID)
	}
	defer rows.Close()

	var entries []model.PriceEntry
	for rows.Next() {
		var e model.PriceEntry
		if err := rows.Scan(&e.ID, &e.ListingID, &e.Price, &e.PricePerMeter, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: price history iterate")
}

func scanListingPG(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	var status string
	err := row.Scan(&l.ID, &l.ExternalID, &l.ProjectID, &l.Rooms, &l.IsStudio, &l.Area,
		&l.Floor, &l.FloorsTotal, &l.Price, &l.PricePerMeter, &l.Address, &l.Building,
		&l.Section, &l.Finishing, &l.CompletionDate, &l.URL, &status, &l.FirstSeenAt, &l.LastSeenAt)
	if err != nil {
		return nil, err
	}
	l.Status = model.ListingStatus(status)
	return &l, nil
}

// --- subscriptions ---

const pgSubCols = `id, name, project_ids, rooms_min, rooms_max, price_min, price_max,
	area_min, area_max, floor_min, floor_max, active, notify_email, created_at, updated_at`

func (s *PostgresStore) SaveSubscription(ctx context.Context, sub model.Subscription) (*model.Subscription, error) {
	now := time.Now().UTC()
	projectIDs, err := json.Marshal(sub.ProjectIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal project ids")
	}

	if sub.ID == 0 {
		sub.CreatedAt = now
		sub.UpdatedAt = now
		err = s.pool.QueryRow(ctx,
			`INSERT INTO subscriptions (name, project_ids, rooms_min, rooms_max, price_min, price_max,
			 area_min, area_max, floor_min, floor_max, active, notify_email, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 RETURNING id`,
			sub.Name, projectIDs, sub.RoomsMin, sub.RoomsMax, sub.PriceMin, sub.PriceMax,
			sub.AreaMin, sub.AreaMax, sub.FloorMin, sub.FloorMax, sub.Active, sub.NotifyEmail,
			now, now,
		).Scan(&sub.ID)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert subscription")
		}
		return &sub, nil
	}

	sub.UpdatedAt = now
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET name = $1, project_ids = $2, rooms_min = $3, rooms_max = $4,
		 price_min = $5, price_max = $6, area_min = $7, area_max = $8, floor_min = $9,
		 floor_max = $10, active = $11, notify_email = $12, updated_at = $13 WHERE id = $14`,
		sub.Name, projectIDs, sub.RoomsMin, sub.RoomsMax, sub.PriceMin, sub.PriceMax,
		sub.AreaMin, sub.AreaMax, sub.FloorMin, sub.FloorMax, sub.Active, sub.NotifyEmail,
		now, sub.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update subscription %d", sub.ID)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, err := scanSubscriptionPG(s.pool.QueryRow(ctx,
		`SELECT `+pgSubCols+` FROM subscriptions WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get subscription %d", id)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, activeOnly bool) ([]model.Subscription, error) {
	query := `SELECT ` + pgSubCols + ` FROM subscriptions`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list subscriptions")
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan subscription")
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: list subscriptions iterate")
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete subscription %d", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubscriptionPG(row pgx.Row) (*model.Subscription, error) {
	var sub model.Subscription
	var projectIDs []byte
	err := row.Scan(&sub.ID, &sub.Name, &projectIDs, &sub.RoomsMin, &sub.RoomsMax,
		&sub.PriceMin, &sub.PriceMax, &sub.AreaMin, &sub.AreaMax, &sub.FloorMin, &sub.FloorMax,
		&sub.Active, &sub.NotifyEmail, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(projectIDs, &sub.ProjectIDs)
	return &sub, nil
}

// --- notifications ---

func (s *PostgresStore) LogNotification(ctx context.Context, rec model.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, subscription_id, listing_id, kind, message, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.SubscriptionID, rec.ListingID, string(rec.Kind), rec.Message, rec.SentAt,
	)
	return eris.Wrap(err, "postgres: log notification")
}

func (s *PostgresStore) HasNotification(ctx context.Context, subscriptionID *int64, listingID int64, kind model.NotificationKind) (bool, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE listing_id = $1 AND kind = $2`
	args := []any{listingID, string(kind)}
	if subscriptionID == nil {
		query += ` AND subscription_id IS NULL`
	} else {
		query += ` AND subscription_id = $3`
		args = append(args, *subscriptionID)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return false, eris.Wrap(err, "postgres: has notification")
	}
	return count > 0, nil
}

// --- cycles ---

func (s *PostgresStore) RecordCycle(ctx context.Context, report model.CycleReport) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	errsJSON, err := json.Marshal(report.Errors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cycle errors")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cycles (id, started_at, completed_at, fetched, new_count, updated_count, errors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ID, report.StartedAt, report.CompletedAt, report.Fetched, report.New, report.Updated, errsJSON,
	)
	return eris.Wrap(err, "postgres: record cycle")
}

func (s *PostgresStore) ListCycles(ctx context.Context, limit int) ([]model.CycleReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, completed_at, fetched, new_count, updated_count, errors
		 FROM cycles ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cycles")
	}
	defer rows.Close()

	var reports []model.CycleReport
	for rows.Next() {
		var r model.CycleReport
		var errsJSON []byte
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.CompletedAt, &r.Fetched, &r.New, &r.Updated, &errsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cycle")
		}
		_ = json.Unmarshal(errsJSON, &r.Errors)
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list cycles iterate")
}

// AcquireCycleLock uses a session advisory lock; ttl is handled by Postgres
// releasing the lock when the session dies, so the argument is unused here.
func (s *PostgresStore) AcquireCycleLock(ctx context.Context, _ time.Duration) (bool, error) {
	var got bool
	err := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, cycleLockKey).Scan(&got)
	if err != nil {
		return false, eris.Wrap(err, "postgres: acquire cycle lock")
	}
	return got, nil
}

func (s *PostgresStore) ReleaseCycleLock(ctx context.Context) error {
	var released bool
	err := s.pool.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, cycleLockKey).Scan(&released)
	return eris.Wrap(err, "postgres: release cycle lock")
}

// --- settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return eris.Wrapf(err, "postgres: set setting %s", key)
}

// --- stats ---

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		dst   *int
		query string
	}{
		{&stats.ActiveListings, `SELECT COUNT(*) FROM listings WHERE status = 'active'`},
		{&stats.Projects, `SELECT COUNT(*) FROM projects`},
		{&stats.TrackedProjects, `SELECT COUNT(*) FROM projects WHERE tracked`},
		{&stats.ActiveSubscriptions, `SELECT COUNT(*) FROM subscriptions WHERE active`},
		{&stats.PriceChangesToday, `SELECT COUNT(*) FROM price_history WHERE recorded_at >= date_trunc('day', now())`},
		{&stats.NewListingsToday, `SELECT COUNT(*) FROM listings WHERE first_seen_at >= date_trunc('day', now())`},
	}
	for _, q := range queries {
		if err := s.pool.QueryRow(ctx, q.query).Scan(q.dst); err != nil {
			return nil, eris.Wrap(err, "postgres: stats")
		}
	}
	return stats, nil
}

var _ Store = (*PostgresStore)(nil)
