package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuevav/pik-tracker/internal/model"
)

func intPtr(v int) *int          { return &v }
func int64Ptr(v int64) *int64    { return &v }
func floatPtr(v float64) *float64 { return &v }

func testListing(externalID, projectID int64, price int64) model.Listing {
	return model.Listing{
		ExternalID:     externalID,
		ProjectID:      projectID,
		Rooms:          intPtr(2),
		Area:           54.3,
		Floor:          intPtr(7),
		FloorsTotal:    intPtr(25),
		Price:          price,
		PricePerMeter:  int64Ptr(price / 54),
		Building:       "к. 2",
		CompletionDate: "2027-03-31",
		URL:            "https://www.pik.ru/flat/100",
	}
}

func seedProject(t *testing.T, s Store, externalID int64, name string) {
	t.Helper()
	_, err := s.UpsertProject(context.Background(), model.Project{
		ExternalID: externalID,
		Name:       name,
		Tracked:    true,
	}, true)
	require.NoError(t, err)
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertProjectPreservesTracked", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p, err := s.UpsertProject(ctx, model.Project{ExternalID: 42, Name: "Саларьево парк", Tracked: true}, true)
		require.NoError(t, err)
		assert.True(t, p.Tracked)

		// A bare resync refreshes display fields but must not untrack.
		p, err = s.UpsertProject(ctx, model.Project{ExternalID: 42, Name: "Саларьево парк (обновл.)", Tracked: false}, false)
		require.NoError(t, err)
		assert.True(t, p.Tracked)
		assert.Equal(t, "Саларьево парк (обновл.)", p.Name)

		// An explicit tracked-state change does apply.
		p, err = s.UpsertProject(ctx, model.Project{ExternalID: 42, Name: "Саларьево парк", Tracked: false}, true)
		require.NoError(t, err)
		assert.False(t, p.Tracked)
	})

	t.Run("UpsertListingIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProject(t, s, 42, "Саларьево парк")

		res, err := s.UpsertListing(ctx, testListing(100, 42, 15_000_000))
		require.NoError(t, err)
		assert.True(t, res.IsNew)
		assert.False(t, res.PriceChanged)

		// Same listing again: no new row, no price change, no extra history.
		res, err = s.UpsertListing(ctx, testListing(100, 42, 15_000_000))
		require.NoError(t, err)
		assert.False(t, res.IsNew)
		assert.False(t, res.PriceChanged)

		history, err := s.PriceHistory(ctx, res.Listing.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
		assert.Equal(t, int64(15_000_000), history[0].Price)
	})

	t.Run("PriceChangeAppendsHistory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProject(t, s, 42, "Саларьево парк")

		res, err := s.UpsertListing(ctx, testListing(100, 42, 15_000_000))
		require.NoError(t, err)
		require.True(t, res.IsNew)

		res, err = s.UpsertListing(ctx, testListing(100, 42, 14_000_000))
		require.NoError(t, err)
		assert.False(t, res.IsNew)
		assert.True(t, res.PriceChanged)
		assert.Equal(t, int64(15_000_000), res.OldPrice)
		assert.Equal(t, int64(14_000_000), res.Listing.Price)

		history, err := s.PriceHistory(ctx, res.Listing.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, int64(15_000_000), history[0].Price)
		assert.Equal(t, int64(14_000_000), history[1].Price)
	})

	t.Run("MarkSoldScopedPerProject", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProject(t, s, 42, "Project A")
		seedProject(t, s, 43, "Project B")

		_, err := s.UpsertListing(ctx, testListing(100, 42, 15_000_000))
		require.NoError(t, err)
		_, err = s.UpsertListing(ctx, testListing(200, 43, 18_000_000))
		require.NoError(t, err)

		// Empty seen set for project 42 marks all of its actives sold.
		sold, err := s.MarkSoldExcept(ctx, 42, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), sold)

		a, err := s.GetListing(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSold, a.Status)

		// Project 43 untouched.
		b, err := s.GetListing(ctx, 200)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, b.Status)
	})

	t.Run("MarkSoldSparesSeen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProject(t, s, 42, "Project A")

		_, err := s.UpsertListing(ctx, testListing(100, 42, 15_000_000))
		require.NoError(t, err)
		_, err = s.UpsertListing(ctx, testListing(101, 42, 18_000_000))
		require.NoError(t, err)

		sold, err := s.MarkSoldExcept(ctx, 42, []int64{100})
		require.NoError(t, err)
		assert.Equal(t, int64(1), sold)

		kept, err := s.GetListing(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, kept.Status)

		gone, err := s.GetListing(ctx, 101)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSold, gone.Status)
	})

	t.Run("SoldListingReactivates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProject(t, s, 42, "Project A")

		first, err := s.UpsertListing(ctx, testListing(100, 42, 15_000_000))
		require.NoError(t, err)

		_, err = s.MarkSoldExcept(ctx, 42, nil)
		require.NoError(t, err)

		res, err := s.UpsertListing(ctx, testListing(100, 42, 15_000_000))
		require.NoError(t, err)
		assert.False(t, res.IsNew)
		assert.True(t, res.Reactivated)
		assert.Equal(t, model.StatusActive, res.Listing.Status)
		assert.Equal(t, first.Listing.ID, res.Listing.ID)
	})

	t.Run("QueryListingsInclusiveBounds", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProject(t, s, 42, "Project A")

		_, err := s.UpsertListing(ctx, testListing(100, 42, 20_000_000))
		require.NoError(t, err)
		_, err = s.UpsertListing(ctx, testListing(101, 42, 20_000_001))
		require.NoError(t, err)

		page, err := s.QueryListings(ctx, ListingFilter{PriceMax: int64Ptr(20_000_000)})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, 1, page.Total)
		assert.Equal(t, int64(100), page.Items[0].ExternalID)
	})

	t.Run("QueryListingsTotalMatchesPredicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProject(t, s, 42, "Project A")

		for i := int64(0); i < 5; i++ {
			_, err := s.UpsertListing(ctx, testListing(100+i, 42, 10_000_000+i*1_000_000))
			require.NoError(t, err)
		}

		page, err := s.QueryListings(ctx, ListingFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		require.Len(t, page.Items, 2)
		// Ordered by price ascending.
		assert.Equal(t, int64(12_000_000), page.Items[0].Price)
	})

	t.Run("QueryListingsExcludesSoldByDefault", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProject(t, s, 42, "Project A")

		_, err := s.UpsertListing(ctx, testListing(100, 42, 15_000_000))
		require.NoError(t, err)
		_, err = s.MarkSoldExcept(ctx, 42, nil)
		require.NoError(t, err)

		page, err := s.QueryListings(ctx, ListingFilter{})
		require.NoError(t, err)
		assert.Empty(t, page.Items)

		page, err = s.QueryListings(ctx, ListingFilter{IncludeSold: true})
		require.NoError(t, err)
		assert.Len(t, page.Items, 1)
	})

	t.Run("SubscriptionRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sub := model.Subscription{
			Name:        "двушки до 20 млн",
			ProjectIDs:  []int64{42, 43},
			RoomsMin:    intPtr(2),
			RoomsMax:    intPtr(2),
			PriceMax:    int64Ptr(20_000_000),
			AreaMin:     floatPtr(40),
			Active:      true,
			NotifyEmail: "me@example.com",
		}
		saved, err := s.SaveSubscription(ctx, sub)
		require.NoError(t, err)
		require.NotZero(t, saved.ID)

		got, err := s.GetSubscription(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{42, 43}, got.ProjectIDs)
		require.NotNil(t, got.PriceMax)
		assert.Equal(t, int64(20_000_000), *got.PriceMax)
		assert.Nil(t, got.PriceMin)
		assert.Nil(t, got.FloorMin)

		got.Active = false
		updated, err := s.SaveSubscription(ctx, *got)
		require.NoError(t, err)
		assert.False(t, updated.Active)

		require.NoError(t, s.DeleteSubscription(ctx, saved.ID))
		_, err = s.GetSubscription(ctx, saved.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("NotificationDedup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProject(t, s, 42, "Project A")

		res, err := s.UpsertListing(ctx, testListing(100, 42, 15_000_000))
		require.NoError(t, err)
		sub, err := s.SaveSubscription(ctx, model.Subscription{Name: "f", Active: true})
		require.NoError(t, err)

		has, err := s.HasNotification(ctx, &sub.ID, res.Listing.ID, model.KindNew)
		require.NoError(t, err)
		assert.False(t, has)

		require.NoError(t, s.LogNotification(ctx, model.NotificationRecord{
			SubscriptionID: &sub.ID,
			ListingID:      res.Listing.ID,
			Kind:           model.KindNew,
		}))

		has, err = s.HasNotification(ctx, &sub.ID, res.Listing.ID, model.KindNew)
		require.NoError(t, err)
		assert.True(t, has)

		// A different kind or the global (nil subscription) scope is unaffected.
		has, err = s.HasNotification(ctx, &sub.ID, res.Listing.ID, model.KindPriceDrop)
		require.NoError(t, err)
		assert.False(t, has)
		has, err = s.HasNotification(ctx, nil, res.Listing.ID, model.KindNew)
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("CycleRecordAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		now := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, s.RecordCycle(ctx, model.CycleReport{
			StartedAt:   now,
			CompletedAt: now.Add(3 * time.Second),
			Fetched:     12,
			New:         2,
			Updated:     1,
			Errors:      []string{"project 7: timeout"},
		}))

		cycles, err := s.ListCycles(ctx, 10)
		require.NoError(t, err)
		require.Len(t, cycles, 1)
		assert.Equal(t, 12, cycles[0].Fetched)
		assert.Equal(t, []string{"project 7: timeout"}, cycles[0].Errors)
	})

	t.Run("CycleLock", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		got, err := s.AcquireCycleLock(ctx, time.Minute)
		require.NoError(t, err)
		assert.True(t, got)

		require.NoError(t, s.ReleaseCycleLock(ctx))

		got, err = s.AcquireCycleLock(ctx, time.Minute)
		require.NoError(t, err)
		assert.True(t, got)
		require.NoError(t, s.ReleaseCycleLock(ctx))
	})

	t.Run("Settings", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		v, err := s.GetSetting(ctx, "last_check")
		require.NoError(t, err)
		assert.Empty(t, v)

		require.NoError(t, s.SetSetting(ctx, "last_check", "2026-09-01T10:00:00Z"))
		require.NoError(t, s.SetSetting(ctx, "last_check", "2026-09-01T11:00:00Z"))

		v, err = s.GetSetting(ctx, "last_check")
		require.NoError(t, err)
		assert.Equal(t, "2026-09-01T11:00:00Z", v)
	})
}
