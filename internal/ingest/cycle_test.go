package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuevav/pik-tracker/internal/model"
	"github.com/zuevav/pik-tracker/internal/notify"
	"github.com/zuevav/pik-tracker/internal/pik"
	"github.com/zuevav/pik-tracker/internal/store"
)

// stubSource plays back canned raw records.
type stubSource struct {
	projects []pik.ProjectInfo
	records  []pik.RawRecord
	err      error
	calls    int
}

func (s *stubSource) FetchProjects(context.Context) ([]pik.ProjectInfo, error) {
	return s.projects, nil
}

func (s *stubSource) FetchListings(context.Context, pik.Criteria) ([]pik.RawRecord, error) {
	s.calls++
	return s.records, s.err
}

type nullMailer struct{}

func (nullMailer) Send(context.Context, string, string, string) error { return nil }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func rawFlat(id, blockID, price int64) pik.RawRecord {
	return pik.RawRecord{
		"id":       id,
		"block_id": blockID,
		"price":    price,
		"rooms":    int64(2),
		"area":     54.3,
		"floor":    int64(7),
	}
}

func newTestRunner(st store.Store, src pik.Source) *Runner {
	dispatcher := notify.NewDispatcher(st, nullMailer{}, "")
	return NewRunner(st, src, dispatcher, time.Minute, "https://www.pik.ru")
}

func seedTrackedProject(t *testing.T, st store.Store, id int64) {
	t.Helper()
	_, err := st.UpsertProject(context.Background(), model.Project{
		ExternalID: id,
		Name:       "Test Project",
		Tracked:    true,
	}, true)
	require.NoError(t, err)
}

func TestRunFullCycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedTrackedProject(t, st, 42)

	src := &stubSource{records: []pik.RawRecord{
		rawFlat(100, 42, 15_000_000),
		rawFlat(101, 42, 18_000_000),
	}}
	runner := newTestRunner(st, src)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, 0, report.Updated)
	assert.Empty(t, report.Errors)

	// Second poll: 100 drops in price, 101 vanished.
	src.records = []pik.RawRecord{rawFlat(100, 42, 14_000_000)}

	report, err = runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 0, report.New)
	assert.Equal(t, 1, report.Updated)

	gone, err := st.GetListing(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSold, gone.Status)

	kept, err := st.GetListing(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, kept.Status)
	history, err := st.PriceHistory(ctx, kept.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(15_000_000), history[0].Price)
	assert.Equal(t, int64(14_000_000), history[1].Price)
}

func TestRunIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedTrackedProject(t, st, 42)

	src := &stubSource{records: []pik.RawRecord{rawFlat(100, 42, 15_000_000)}}
	runner := newTestRunner(st, src)

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.New)
	assert.Equal(t, 0, report.Updated)
}

func TestRunFetchErrorSkipsSoldMarking(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedTrackedProject(t, st, 42)

	src := &stubSource{records: []pik.RawRecord{rawFlat(100, 42, 15_000_000)}}
	runner := newTestRunner(st, src)
	_, err := runner.Run(ctx)
	require.NoError(t, err)

	// A failed fetch returns nothing; the listing must stay active rather
	// than being presumed sold.
	src.records = nil
	src.err = eris.New("upstream 500")

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fetched)
	require.Len(t, report.Errors, 1)

	l, err := st.GetListing(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, l.Status)
}

func TestRunEmptyResultMarksAllSold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedTrackedProject(t, st, 42)

	src := &stubSource{records: []pik.RawRecord{rawFlat(100, 42, 15_000_000)}}
	runner := newTestRunner(st, src)
	_, err := runner.Run(ctx)
	require.NoError(t, err)

	// A clean fetch returning no units means the project sold out.
	src.records = nil

	_, err = runner.Run(ctx)
	require.NoError(t, err)

	l, err := st.GetListing(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSold, l.Status)
}

func TestRunReactivationCountsAsNew(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedTrackedProject(t, st, 42)

	src := &stubSource{records: []pik.RawRecord{rawFlat(100, 42, 15_000_000)}}
	runner := newTestRunner(st, src)
	_, err := runner.Run(ctx)
	require.NoError(t, err)

	src.records = nil
	_, err = runner.Run(ctx)
	require.NoError(t, err)

	src.records = []pik.RawRecord{rawFlat(100, 42, 15_000_000)}
	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.New)
}

// flakyStore fails UpsertListing for one external id a set number of times.
type flakyStore struct {
	store.Store
	failID    int64
	remaining int
}

func (s *flakyStore) UpsertListing(ctx context.Context, l model.Listing) (*store.UpsertResult, error) {
	if l.ExternalID == s.failID && s.remaining > 0 {
		s.remaining--
		return nil, eris.New("disk full")
	}
	return s.Store.UpsertListing(ctx, l)
}

func TestRunUpsertErrorDoesNotMarkSold(t *testing.T) {
	base := newTestStore(t)
	ctx := context.Background()
	seedTrackedProject(t, base, 42)

	src := &stubSource{records: []pik.RawRecord{
		rawFlat(100, 42, 15_000_000),
		rawFlat(101, 42, 18_000_000),
	}}
	_, err := newTestRunner(base, src).Run(ctx)
	require.NoError(t, err)

	// Second poll: the write for 101 fails once. The unit was present
	// upstream, so it must survive sold marking and stay active.
	st := &flakyStore{Store: base, failID: 101, remaining: 1}
	report, err := newTestRunner(st, src).Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)

	l, err := base.GetListing(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, l.Status)
}

func TestRunRelistedCheaperEntersPriceDigest(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedTrackedProject(t, st, 42)

	src := &stubSource{records: []pik.RawRecord{rawFlat(100, 42, 15_000_000)}}
	dispatcher := notify.NewDispatcher(st, nullMailer{}, "watch@example.com")
	runner := NewRunner(st, src, dispatcher, time.Minute, "https://www.pik.ru")

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	src.records = nil
	_, err = runner.Run(ctx)
	require.NoError(t, err)

	// The unit reappears cheaper. It counts as new again, and the decrease
	// still lands in the price-drop digest.
	src.records = []pik.RawRecord{rawFlat(100, 42, 14_000_000)}
	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.New)

	l, err := st.GetListing(ctx, 100)
	require.NoError(t, err)
	dropped, err := st.HasNotification(ctx, nil, l.ID, model.KindPriceDrop)
	require.NoError(t, err)
	assert.True(t, dropped)
}

func TestRunUntrackedProjectIgnored(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertProject(ctx, model.Project{ExternalID: 42, Name: "Untracked"}, true)
	require.NoError(t, err)

	src := &stubSource{records: []pik.RawRecord{rawFlat(100, 42, 15_000_000)}}
	runner := newTestRunner(st, src)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 0, src.calls)
}

func TestRunRecordsCycleAndLastCheck(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedTrackedProject(t, st, 42)

	src := &stubSource{records: []pik.RawRecord{rawFlat(100, 42, 15_000_000)}}
	runner := newTestRunner(st, src)

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	cycles, err := st.ListCycles(ctx, 5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, 1, cycles[0].Fetched)

	lastCheck, err := st.GetSetting(ctx, LastCheckKey)
	require.NoError(t, err)
	assert.NotEmpty(t, lastCheck)
}

func TestSyncProjects(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	src := &stubSource{projects: []pik.ProjectInfo{
		{ExternalID: 42, Name: "Саларьево парк", Slug: "salarevo", FlatsCount: 120, PriceMin: 7_500_000},
		{ExternalID: 43, Name: "Бунинские луга", Slug: "buninskie", FlatsCount: 80, PriceMin: 6_900_000},
	}}
	runner := newTestRunner(st, src)

	n, err := runner.SyncProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Resync keeps tracked flags set in the meantime.
	require.NoError(t, st.SetProjectTracked(ctx, 42, true))
	_, err = runner.SyncProjects(ctx)
	require.NoError(t, err)

	p, err := st.GetProject(ctx, 42)
	require.NoError(t, err)
	assert.True(t, p.Tracked)
}
