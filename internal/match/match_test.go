package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zuevav/pik-tracker/internal/model"
)

func intPtr(v int) *int           { return &v }
func int64Ptr(v int64) *int64     { return &v }
func floatPtr(v float64) *float64 { return &v }

func listing(projectID int64, rooms int, price int64, area float64, floor int) model.Listing {
	return model.Listing{
		ProjectID: projectID,
		Rooms:     &rooms,
		Price:     price,
		Area:      area,
		Floor:     &floor,
	}
}

func TestMatchesEmptySubscriptionMatchesAll(t *testing.T) {
	sub := model.Subscription{Active: true}
	assert.True(t, Matches(listing(42, 2, 15_000_000, 54.3, 7), sub))
	assert.True(t, Matches(listing(99, 0, 1, 0.1, 1), sub))
}

func TestMatchesProjectMembership(t *testing.T) {
	sub := model.Subscription{ProjectIDs: []int64{42, 43}}
	assert.True(t, Matches(listing(42, 2, 15_000_000, 54, 7), sub))
	assert.True(t, Matches(listing(43, 2, 15_000_000, 54, 7), sub))
	assert.False(t, Matches(listing(44, 2, 15_000_000, 54, 7), sub))
}

func TestMatchesPriceBoundsInclusive(t *testing.T) {
	sub := model.Subscription{PriceMax: int64Ptr(20_000_000)}
	assert.True(t, Matches(listing(42, 2, 20_000_000, 54, 7), sub))
	assert.False(t, Matches(listing(42, 2, 20_000_001, 54, 7), sub))

	sub = model.Subscription{PriceMin: int64Ptr(10_000_000)}
	assert.True(t, Matches(listing(42, 2, 10_000_000, 54, 7), sub))
	assert.False(t, Matches(listing(42, 2, 9_999_999, 54, 7), sub))
}

func TestMatchesRoomBucket(t *testing.T) {
	// A bound of 3 takes 3, 4 and 5-room listings but not 2.
	sub := model.Subscription{RoomsMin: intPtr(3), RoomsMax: intPtr(3)}
	assert.True(t, Matches(listing(42, 3, 1, 1, 1), sub))
	assert.True(t, Matches(listing(42, 4, 1, 1, 1), sub))
	assert.True(t, Matches(listing(42, 5, 1, 1, 1), sub))
	assert.False(t, Matches(listing(42, 2, 1, 1, 1), sub))
}

func TestMatchesExactRoomCounts(t *testing.T) {
	sub := model.Subscription{RoomsMin: intPtr(1), RoomsMax: intPtr(2)}
	assert.False(t, Matches(listing(42, 0, 1, 1, 1), sub))
	assert.True(t, Matches(listing(42, 1, 1, 1, 1), sub))
	assert.True(t, Matches(listing(42, 2, 1, 1, 1), sub))
	assert.False(t, Matches(listing(42, 3, 1, 1, 1), sub))
}

func TestMatchesStudio(t *testing.T) {
	sub := model.Subscription{RoomsMin: intPtr(0), RoomsMax: intPtr(0)}
	assert.True(t, Matches(listing(42, 0, 1, 1, 1), sub))

	// A studio flag substitutes for an explicit zero room count.
	studio := model.Listing{ProjectID: 42, IsStudio: true, Price: 1, Area: 1}
	assert.True(t, Matches(studio, sub))
}

func TestMatchesUnknownRoomsFailsRoomBoundedSub(t *testing.T) {
	sub := model.Subscription{RoomsMin: intPtr(1)}
	unknown := model.Listing{ProjectID: 42, Price: 1, Area: 1}
	assert.False(t, Matches(unknown, sub))

	// Without room bounds the same listing matches.
	assert.True(t, Matches(unknown, model.Subscription{}))
}

func TestMatchesAreaAndFloorBounds(t *testing.T) {
	sub := model.Subscription{
		AreaMin:  floatPtr(40),
		AreaMax:  floatPtr(60),
		FloorMin: intPtr(2),
		FloorMax: intPtr(20),
	}
	assert.True(t, Matches(listing(42, 2, 1, 40, 2), sub))
	assert.True(t, Matches(listing(42, 2, 1, 60, 20), sub))
	assert.False(t, Matches(listing(42, 2, 1, 39.9, 10), sub))
	assert.False(t, Matches(listing(42, 2, 1, 50, 1), sub))

	// Floor-bounded subscriptions reject listings without a floor.
	noFloor := model.Listing{ProjectID: 42, Rooms: intPtr(2), Price: 1, Area: 50}
	assert.False(t, Matches(noFloor, sub))
}

func TestFilterListingsPreservesOrder(t *testing.T) {
	sub := model.Subscription{PriceMax: int64Ptr(15_000_000)}
	in := []model.Listing{
		listing(42, 2, 10_000_000, 40, 3),
		listing(42, 2, 20_000_000, 40, 3),
		listing(42, 2, 12_000_000, 40, 3),
	}
	out := FilterListings(in, sub)
	assert.Len(t, out, 2)
	assert.Equal(t, int64(10_000_000), out[0].Price)
	assert.Equal(t, int64(12_000_000), out[1].Price)
}
