package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/zuevav/pik-tracker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	external_id INTEGER PRIMARY KEY,
	guid        TEXT,
	name        TEXT NOT NULL,
	slug        TEXT,
	url         TEXT,
	tracked     INTEGER NOT NULL DEFAULT 0,
	flats_count INTEGER NOT NULL DEFAULT 0,
	price_min   INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id     INTEGER NOT NULL UNIQUE,
	project_id      INTEGER NOT NULL REFERENCES projects(external_id),
	rooms           INTEGER,
	is_studio       INTEGER NOT NULL DEFAULT 0,
	area            REAL NOT NULL DEFAULT 0,
	floor           INTEGER,
	floors_total    INTEGER,
	price           INTEGER NOT NULL,
	price_per_meter INTEGER,
	address         TEXT NOT NULL DEFAULT '',
	building        TEXT NOT NULL DEFAULT '',
	section         TEXT NOT NULL DEFAULT '',
	finishing       TEXT NOT NULL DEFAULT '',
	completion_date TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'active',
	first_seen_at   DATETIME NOT NULL,
	last_seen_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	listing_id      INTEGER NOT NULL REFERENCES listings(id),
	price           INTEGER NOT NULL,
	price_per_meter INTEGER,
	recorded_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	project_ids  TEXT NOT NULL DEFAULT '[]',
	rooms_min    INTEGER,
	rooms_max    INTEGER,
	price_min    INTEGER,
	price_max    INTEGER,
	area_min     REAL,
	area_max     REAL,
	floor_min    INTEGER,
	floor_max    INTEGER,
	active       INTEGER NOT NULL DEFAULT 1,
	notify_email TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id              TEXT PRIMARY KEY,
	subscription_id INTEGER REFERENCES subscriptions(id),
	listing_id      INTEGER NOT NULL REFERENCES listings(id),
	kind            TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	sent_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
	id            TEXT PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME NOT NULL,
	fetched       INTEGER NOT NULL DEFAULT 0,
	new_count     INTEGER NOT NULL DEFAULT 0,
	updated_count INTEGER NOT NULL DEFAULT 0,
	errors        TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cycle_lock (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	locked_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_project ON listings(project_id);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(price);
CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(listing_id);
CREATE INDEX IF NOT EXISTS idx_notifications_dedup ON notifications(listing_id, kind, subscription_id);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- projects ---

const sqliteProjectCols = `external_id, guid, name, slug, url, tracked, flats_count, price_min, created_at, updated_at`

func (s *SQLiteStore) UpsertProject(ctx context.Context, p model.Project, updateTracked bool) (*model.Project, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin upsert project")
	}
	defer tx.Rollback() //nolint:errcheck

	var tracked bool
	err = tx.QueryRowContext(ctx,
		`SELECT tracked FROM projects WHERE external_id = ?`, p.ExternalID,
	).Scan(&tracked)
	switch {
	case err == sql.ErrNoRows:
		p.CreatedAt = now
		p.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO projects (`+sqliteProjectCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ExternalID, p.GUID, p.Name, p.Slug, p.URL, p.Tracked, p.FlatsCount, p.PriceMin, now, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert project %d", p.ExternalID)
		}
	case err != nil:
		return nil, eris.Wrapf(err, "sqlite: lookup project %d", p.ExternalID)
	default:
		if !updateTracked {
			p.Tracked = tracked
		}
		p.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`UPDATE projects SET guid = ?, name = ?, slug = ?, url = ?, tracked = ?,
			 flats_count = ?, price_min = ?, updated_at = ? WHERE external_id = ?`,
			p.GUID, p.Name, p.Slug, p.URL, p.Tracked, p.FlatsCount, p.PriceMin, now, p.ExternalID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: update project %d", p.ExternalID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit upsert project")
	}
	return &p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, externalID int64) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProjectCols+` FROM projects WHERE external_id = ?`, externalID)
	p, err := scanProjectSQL(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get project %d", externalID)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, trackedOnly bool) ([]model.Project, error) {
	query := `SELECT ` + sqliteProjectCols + ` FROM projects`
	if trackedOnly {
		query += ` WHERE tracked = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProjectSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		projects = append(projects, *p)
	}
	return projects, eris.Wrap(rows.Err(), "sqlite: list projects iterate")
}

func (s *SQLiteStore) SetProjectTracked(ctx context.Context, externalID int64, tracked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET tracked = ?, updated_at = ? WHERE external_id = ?`,
		tracked, time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set project %d tracked", externalID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProjectSQL(row rowScanner) (*model.Project, error) {
	var p model.Project
	var guid, slug, url sql.NullString
	err := row.Scan(&p.ExternalID, &guid, &p.Name, &slug, &url, &p.Tracked,
		&p.FlatsCount, &p.PriceMin, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.GUID = guid.String
	p.Slug = slug.String
	p.URL = url.String
	return &p, nil
}

// --- listings ---

const sqliteListingCols = `id, external_id, project_id, rooms, is_studio, area, floor, floors_total,
	price, price_per_meter, address, building, section, finishing, completion_date, url,
	status, first_seen_at, last_seen_at`

func (s *SQLiteStore) UpsertListing(ctx context.Context, l model.Listing) (*UpsertResult, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin upsert listing")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanListingSQL(tx.QueryRowContext(ctx,
		`SELECT `+sqliteListingCols+` FROM listings WHERE external_id = ?`, l.ExternalID))

	res := &UpsertResult{}
	switch {
	case err == sql.ErrNoRows:
		res.IsNew = true
		l.Status = model.StatusActive
		l.FirstSeenAt = now
		l.LastSeenAt = now
		sqlRes, err := tx.ExecContext(ctx,
			`INSERT INTO listings (external_id, project_id, rooms, is_studio, area, floor, floors_total,
			 price, price_per_meter, address, building, section, finishing, completion_date, url,
			 status, first_seen_at, last_seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ExternalID, l.ProjectID, nullIntPtr(l.Rooms), l.IsStudio, l.Area,
			nullIntPtr(l.Floor), nullIntPtr(l.FloorsTotal), l.Price, nullInt64Ptr(l.PricePerMeter),
			l.Address, l.Building, l.Section, l.Finishing, l.CompletionDate, l.URL,
			string(model.StatusActive), now, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert listing %d", l.ExternalID)
		}
		l.ID, err = sqlRes.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: listing insert id")
		}
		if err := insertPriceEntrySQL(ctx, tx, l.ID, l.Price, l.PricePerMeter, now); err != nil {
			return nil, err
		}

	case err != nil:
		return nil, eris.Wrapf(err, "sqlite: lookup listing %d", l.ExternalID)

	default:
		res.OldPrice = existing.Price
		res.PriceChanged = existing.Price != l.Price
		res.Reactivated = existing.Status == model.StatusSold
		l.ID = existing.ID
		l.FirstSeenAt = existing.FirstSeenAt
		l.Status = model.StatusActive
		l.LastSeenAt = now

		// History entry goes in before the row is overwritten so a failed
		// update never leaves a price without its audit record.
		if res.PriceChanged {
			if err := insertPriceEntrySQL(ctx, tx, l.ID, l.Price, l.PricePerMeter, now); err != nil {
				return nil, err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE listings SET project_id = ?, rooms = ?, is_studio = ?, area = ?, floor = ?,
			 floors_total = ?, price = ?, price_per_meter = ?, address = ?, building = ?,
			 section = ?, finishing = ?, completion_date = ?, url = ?, status = ?, last_seen_at = ?
			 WHERE external_id = ?`,
			l.ProjectID, nullIntPtr(l.Rooms), l.IsStudio, l.Area, nullIntPtr(l.Floor),
			nullIntPtr(l.FloorsTotal), l.Price, nullInt64Ptr(l.PricePerMeter),
			l.Address, l.Building, l.Section, l.Finishing, l.CompletionDate, l.URL,
			string(model.StatusActive), now, l.ExternalID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: update listing %d", l.ExternalID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit upsert listing")
	}

	res.Listing = l
	return res, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPriceEntrySQL(ctx context.Context, tx execer, listingID, price int64, ppm *int64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO price_history (listing_id, price, price_per_meter, recorded_at) VALUES (?, ?, ?, ?)`,
		listingID, price, nullInt64Ptr(ppm), at,
	)
	return eris.Wrapf(err, "sqlite: insert price entry for listing %d", listingID)
}

func (s *SQLiteStore) GetListing(ctx context.Context, externalID int64) (*model.Listing, error) {
	l, err := scanListingSQL(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteListingCols+` FROM listings WHERE external_id = ?`, externalID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get listing %d", externalID)
	}
	return l, nil
}

func (s *SQLiteStore) MarkSoldExcept(ctx context.Context, projectID int64, seen []int64) (int64, error) {
	query := `UPDATE listings SET status = ?, last_seen_at = ? WHERE project_id = ? AND status = ?`
	args := []any{string(model.StatusSold), time.Now().UTC(), projectID, string(model.StatusActive)}

	if len(seen) > 0 {
		query += ` AND external_id NOT IN (?` + strings.Repeat(", ?", len(seen)-1) + `)`
		for _, id := range seen {
			args = append(args, id)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: mark sold in project %d", projectID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: mark sold rows affected")
}

// listingPredicate renders the filter as a WHERE clause shared by the count
// and page queries, so the two can never drift apart.
func listingPredicate(f ListingFilter, placeholder func(int) string) (string, []any) {
	var conds []string
	var args []any
	n := 0
	add := func(cond string, vals ...any) {
		for range vals {
			n++
			cond = strings.Replace(cond, "{}", placeholder(n), 1)
		}
		conds = append(conds, cond)
		args = append(args, vals...)
	}

	if !f.IncludeSold {
		add(`status = {}`, string(model.StatusActive))
	}
	if len(f.ProjectIDs) > 0 {
		marks := make([]string, len(f.ProjectIDs))
		for i, id := range f.ProjectIDs {
			n++
			marks[i] = placeholder(n)
			args = append(args, id)
		}
		conds = append(conds, `project_id IN (`+strings.Join(marks, ", ")+`)`)
	}
	if f.RoomsMin != nil {
		add(`rooms >= {}`, *f.RoomsMin)
	}
	if f.RoomsMax != nil {
		add(`rooms <= {}`, *f.RoomsMax)
	}
	if f.PriceMin != nil {
		add(`price >= {}`, *f.PriceMin)
	}
	if f.PriceMax != nil {
		add(`price <= {}`, *f.PriceMax)
	}
	if f.AreaMin != nil {
		add(`area >= {}`, *f.AreaMin)
	}
	if f.AreaMax != nil {
		add(`area <= {}`, *f.AreaMax)
	}
	if f.FloorMin != nil {
		add(`floor >= {}`, *f.FloorMin)
	}
	if f.FloorMax != nil {
		add(`floor <= {}`, *f.FloorMax)
	}

	if len(conds) == 0 {
		return `1 = 1`, nil
	}
	return strings.Join(conds, " AND "), args
}

func questionMark(int) string { return "?" }

func (s *SQLiteStore) QueryListings(ctx context.Context, f ListingFilter) (*ListingPage, error) {
	where, args := listingPredicate(f, questionMark)

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count listings")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sqliteListingCols + ` FROM listings WHERE ` + where +
		` ORDER BY price ASC, external_id ASC LIMIT ? OFFSET ?`
	pageArgs := append(append([]any{}, args...), limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query listings")
	}
	defer rows.Close()

	page := &ListingPage{Total: total, Limit: limit, Offset: f.Offset}
	for rows.Next() {
		l, err := scanListingSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		page.Items = append(page.Items, *l)
	}
	return page, eris.Wrap(rows.Err(), "sqlite: query listings iterate")
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, listingID int64) ([]model.PriceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, listing_id, price, price_per_meter, recorded_at
		 FROM price_history WHERE listing_id = ? ORDER BY id`, listingID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: price history for %d", listingID)
	}
	defer rows.Close()

	var entries []model.PriceEntry
	for rows.Next() {
		var e model.PriceEntry
		var ppm sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ListingID, &e.Price, &ppm, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price entry")
		}
		if ppm.Valid {
			e.PricePerMeter = &ppm.Int64
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: price history iterate")
}

func scanListingSQL(row rowScanner) (*model.Listing, error) {
	var l model.Listing
	var rooms, floor, floorsTotal, ppm sql.NullInt64
	var status string
	err := row.Scan(&l.ID, &l.ExternalID, &l.ProjectID, &rooms, &l.IsStudio, &l.Area,
		&floor, &floorsTotal, &l.Price, &ppm, &l.Address, &l.Building, &l.Section,
		&l.Finishing, &l.CompletionDate, &l.URL, &status, &l.FirstSeenAt, &l.LastSeenAt)
	if err != nil {
		return nil, err
	}
	l.Status = model.ListingStatus(status)
	if rooms.Valid {
		r := int(rooms.Int64)
		l.Rooms = &r
	}
	if floor.Valid {
		fl := int(floor.Int64)
		l.Floor = &fl
	}
	if floorsTotal.Valid {
		ft := int(floorsTotal.Int64)
		l.FloorsTotal = &ft
	}
	if ppm.Valid {
		l.PricePerMeter = &ppm.Int64
	}
	return &l, nil
}

func nullIntPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt64Ptr(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// --- subscriptions ---

const sqliteSubCols = `id, name, project_ids, rooms_min, rooms_max, price_min, price_max,
	area_min, area_max, floor_min, floor_max, active, notify_email, created_at, updated_at`

func (s *SQLiteStore) SaveSubscription(ctx context.Context, sub model.Subscription) (*model.Subscription, error) {
	now := time.Now().UTC()
	projectIDs, err := json.Marshal(sub.ProjectIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal project ids")
	}

	if sub.ID == 0 {
		sub.CreatedAt = now
		sub.UpdatedAt = now
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO subscriptions (name, project_ids, rooms_min, rooms_max, price_min, price_max,
			 area_min, area_max, floor_min, floor_max, active, notify_email, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sub.Name, string(projectIDs), nullIntPtr(sub.RoomsMin), nullIntPtr(sub.RoomsMax),
			nullInt64Ptr(sub.PriceMin), nullInt64Ptr(sub.PriceMax), nullFloatPtr(sub.AreaMin),
			nullFloatPtr(sub.AreaMax), nullIntPtr(sub.FloorMin), nullIntPtr(sub.FloorMax),
			sub.Active, sub.NotifyEmail, now, now,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert subscription")
		}
		sub.ID, err = res.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: subscription insert id")
		}
		return &sub, nil
	}

	sub.UpdatedAt = now
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET name = ?, project_ids = ?, rooms_min = ?, rooms_max = ?,
		 price_min = ?, price_max = ?, area_min = ?, area_max = ?, floor_min = ?, floor_max = ?,
		 active = ?, notify_email = ?, updated_at = ? WHERE id = ?`,
		sub.Name, string(projectIDs), nullIntPtr(sub.RoomsMin), nullIntPtr(sub.RoomsMax),
		nullInt64Ptr(sub.PriceMin), nullInt64Ptr(sub.PriceMax), nullFloatPtr(sub.AreaMin),
		nullFloatPtr(sub.AreaMax), nullIntPtr(sub.FloorMin), nullIntPtr(sub.FloorMax),
		sub.Active, sub.NotifyEmail, now, sub.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update subscription %d", sub.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func nullFloatPtr(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func (s *SQLiteStore) GetSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, err := scanSubscriptionSQL(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSubCols+` FROM subscriptions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get subscription %d", id)
	}
	return sub, nil
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context, activeOnly bool) ([]model.Subscription, error) {
	query := `SELECT ` + sqliteSubCols + ` FROM subscriptions`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list subscriptions")
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subscription")
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: list subscriptions iterate")
}

func (s *SQLiteStore) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete subscription %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubscriptionSQL(row rowScanner) (*model.Subscription, error) {
	var sub model.Subscription
	var projectIDs string
	var roomsMin, roomsMax, priceMin, priceMax, floorMin, floorMax sql.NullInt64
	var areaMin, areaMax sql.NullFloat64
	err := row.Scan(&sub.ID, &sub.Name, &projectIDs, &roomsMin, &roomsMax, &priceMin, &priceMax,
		&areaMin, &areaMax, &floorMin, &floorMax, &sub.Active, &sub.NotifyEmail,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(projectIDs), &sub.ProjectIDs)
	if roomsMin.Valid {
		v := int(roomsMin.Int64)
		sub.RoomsMin = &v
	}
	if roomsMax.Valid {
		v := int(roomsMax.Int64)
		sub.RoomsMax = &v
	}
	if priceMin.Valid {
		sub.PriceMin = &priceMin.Int64
	}
	if priceMax.Valid {
		sub.PriceMax = &priceMax.Int64
	}
	if areaMin.Valid {
		sub.AreaMin = &areaMin.Float64
	}
	if areaMax.Valid {
		sub.AreaMax = &areaMax.Float64
	}
	if floorMin.Valid {
		v := int(floorMin.Int64)
		sub.FloorMin = &v
	}
	if floorMax.Valid {
		v := int(floorMax.Int64)
		sub.FloorMax = &v
	}
	return &sub, nil
}

// --- notifications ---

func (s *SQLiteStore) LogNotification(ctx context.Context, rec model.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, subscription_id, listing_id, kind, message, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, nullInt64Ptr(rec.SubscriptionID), rec.ListingID, string(rec.Kind), rec.Message, rec.SentAt,
	)
	return eris.Wrap(err, "sqlite: log notification")
}

func (s *SQLiteStore) HasNotification(ctx context.Context, subscriptionID *int64, listingID int64, kind model.NotificationKind) (bool, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE listing_id = ? AND kind = ?`
	args := []any{listingID, string(kind)}
	if subscriptionID == nil {
		query += ` AND subscription_id IS NULL`
	} else {
		query += ` AND subscription_id = ?`
		args = append(args, *subscriptionID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, eris.Wrap(err, "sqlite: has notification")
	}
	return count > 0, nil
}

// --- cycles ---

func (s *SQLiteStore) RecordCycle(ctx context.Context, report model.CycleReport) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	errsJSON, err := json.Marshal(report.Errors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cycle errors")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cycles (id, started_at, completed_at, fetched, new_count, updated_count, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.StartedAt, report.CompletedAt, report.Fetched, report.New, report.Updated, string(errsJSON),
	)
	return eris.Wrap(err, "sqlite: record cycle")
}

func (s *SQLiteStore) ListCycles(ctx context.Context, limit int) ([]model.CycleReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, completed_at, fetched, new_count, updated_count, errors
		 FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cycles")
	}
	defer rows.Close()

	var reports []model.CycleReport
	for rows.Next() {
		var r model.CycleReport
		var errsJSON string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.CompletedAt, &r.Fetched, &r.New, &r.Updated, &errsJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cycle")
		}
		_ = json.Unmarshal([]byte(errsJSON), &r.Errors)
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list cycles iterate")
}

// AcquireCycleLock takes the single-row lock, stealing it when the holder is
// older than ttl (crashed cycles must not wedge the scheduler forever).
func (s *SQLiteStore) AcquireCycleLock(ctx context.Context, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin lock")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cycle_lock WHERE locked_at < ?`, now.Add(-ttl),
	); err != nil {
		return false, eris.Wrap(err, "sqlite: expire stale lock")
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO cycle_lock (id, locked_at) VALUES (1, ?)`, now)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: acquire lock")
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit lock")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ReleaseCycleLock(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cycle_lock WHERE id = 1`)
	return eris.Wrap(err, "sqlite: release lock")
}

// --- settings ---

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return eris.Wrapf(err, "sqlite: set setting %s", key)
}

// --- stats ---

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		dst   *int
		query string
	}{
		{&stats.ActiveListings, `SELECT COUNT(*) FROM listings WHERE status = 'active'`},
		{&stats.Projects, `SELECT COUNT(*) FROM projects`},
		{&stats.TrackedProjects, `SELECT COUNT(*) FROM projects WHERE tracked = 1`},
		{&stats.ActiveSubscriptions, `SELECT COUNT(*) FROM subscriptions WHERE active = 1`},
		{&stats.PriceChangesToday, `SELECT COUNT(*) FROM price_history WHERE DATE(recorded_at) = DATE('now')`},
		{&stats.NewListingsToday, `SELECT COUNT(*) FROM listings WHERE DATE(first_seen_at) = DATE('now')`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats")
		}
	}
	return stats, nil
}

var _ Store = (*SQLiteStore)(nil)
