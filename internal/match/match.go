// Package match evaluates listings against subscription criteria. The
// predicate is pure so the dispatcher and the query layer agree on semantics.
package match

import (
	"slices"

	"github.com/zuevav/pik-tracker/internal/model"
)

// roomBucketCap folds every room count of three or more into a single open
// bucket, mirroring how the upstream categorizes apartments (studio, 1, 2, 3+).
const roomBucketCap = 3

// Matches reports whether the listing satisfies every criterion of the
// subscription. All bounds are inclusive and an absent bound imposes no
// constraint. An empty project set matches any project.
func Matches(l model.Listing, sub model.Subscription) bool {
	if len(sub.ProjectIDs) > 0 && !slices.Contains(sub.ProjectIDs, l.ProjectID) {
		return false
	}

	if sub.RoomsMin != nil || sub.RoomsMax != nil {
		rooms, ok := effectiveRooms(l)
		if !ok {
			// A room-bounded subscription cannot match a listing whose room
			// count is unknown.
			return false
		}
		if sub.RoomsMin != nil && rooms < bucket(*sub.RoomsMin) {
			return false
		}
		if sub.RoomsMax != nil && rooms > bucket(*sub.RoomsMax) {
			return false
		}
	}

	if sub.PriceMin != nil && l.Price < *sub.PriceMin {
		return false
	}
	if sub.PriceMax != nil && l.Price > *sub.PriceMax {
		return false
	}

	if sub.AreaMin != nil && l.Area < *sub.AreaMin {
		return false
	}
	if sub.AreaMax != nil && l.Area > *sub.AreaMax {
		return false
	}

	if sub.FloorMin != nil || sub.FloorMax != nil {
		if l.Floor == nil {
			return false
		}
		if sub.FloorMin != nil && *l.Floor < *sub.FloorMin {
			return false
		}
		if sub.FloorMax != nil && *l.Floor > *sub.FloorMax {
			return false
		}
	}

	return true
}

// FilterListings returns the subset of listings matching the subscription,
// preserving input order.
func FilterListings(listings []model.Listing, sub model.Subscription) []model.Listing {
	var out []model.Listing
	for _, l := range listings {
		if Matches(l, sub) {
			out = append(out, l)
		}
	}
	return out
}

// effectiveRooms resolves the room count used for bound checks: studios count
// as zero rooms, and anything at the bucket cap or above collapses to the cap
// so that a "3-room" bound takes 3, 4 and 5-room listings alike.
func effectiveRooms(l model.Listing) (int, bool) {
	if l.Rooms == nil {
		if l.IsStudio {
			return 0, true
		}
		return 0, false
	}
	return bucket(*l.Rooms), true
}

func bucket(rooms int) int {
	if rooms > roomBucketCap {
		return roomBucketCap
	}
	return rooms
}
