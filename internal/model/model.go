// Package model defines the canonical entities tracked by the pipeline.
package model

import (
	"strconv"
	"time"
)

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	// StatusActive means the listing was present in the most recent poll.
	StatusActive ListingStatus = "active"
	// StatusSold means the listing disappeared from a full poll of its project.
	StatusSold ListingStatus = "sold"
)

// NotificationKind classifies a sent notification.
type NotificationKind string

const (
	KindNew           NotificationKind = "new"
	KindPriceDrop     NotificationKind = "price_drop"
	KindPriceIncrease NotificationKind = "price_increase"
)

// Project is a trackable listing group (a residential complex on the source).
// ExternalID is the source-assigned stable identifier and the only project key.
type Project struct {
	ExternalID int64     `json:"external_id"`
	GUID       string    `json:"guid,omitempty"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug,omitempty"`
	URL        string    `json:"url,omitempty"`
	Tracked    bool      `json:"tracked"`
	FlatsCount int       `json:"flats_count,omitempty"`
	PriceMin   int64     `json:"price_min,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Listing is one unit for sale. ExternalID is the reconciliation key; exactly
// one row exists per external id. Rooms is nil when the source did not report
// a room count (0 means studio).
type Listing struct {
	ID             int64         `json:"id"`
	ExternalID     int64         `json:"external_id"`
	ProjectID      int64         `json:"project_id"` // project external id
	Rooms          *int          `json:"rooms"`
	IsStudio       bool          `json:"is_studio"`
	Area           float64       `json:"area"`
	Floor          *int          `json:"floor,omitempty"`
	FloorsTotal    *int          `json:"floors_total,omitempty"`
	Price          int64         `json:"price"`
	PricePerMeter  *int64        `json:"price_per_meter,omitempty"`
	Address        string        `json:"address,omitempty"`
	Building       string        `json:"building,omitempty"`
	Section        string        `json:"section,omitempty"`
	Finishing      string        `json:"finishing,omitempty"`
	CompletionDate string        `json:"completion_date,omitempty"`
	URL            string        `json:"url,omitempty"`
	Status         ListingStatus `json:"status"`
	FirstSeenAt    time.Time     `json:"first_seen_at"`
	LastSeenAt     time.Time     `json:"last_seen_at"`
}

// RoomsLabel renders the room count for humans ("Студия" for studios).
func (l Listing) RoomsLabel() string {
	if l.Rooms == nil {
		return "?"
	}
	if *l.Rooms == 0 {
		return "Студия"
	}
	return strconv.Itoa(*l.Rooms) + "-комн."
}

// PriceEntry is an append-only price history record. One entry is written at
// listing creation and one more each time the price changes.
type PriceEntry struct {
	ID            int64     `json:"id"`
	ListingID     int64     `json:"listing_id"`
	Price         int64     `json:"price"`
	PricePerMeter *int64    `json:"price_per_meter,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Subscription is a saved search filter plus an optional notification email.
// All bounds are inclusive; a nil bound imposes no constraint. An empty
// ProjectIDs set (project external ids) matches any project.
type Subscription struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ProjectIDs  []int64   `json:"project_ids,omitempty"`
	RoomsMin    *int      `json:"rooms_min,omitempty"`
	RoomsMax    *int      `json:"rooms_max,omitempty"`
	PriceMin    *int64    `json:"price_min,omitempty"`
	PriceMax    *int64    `json:"price_max,omitempty"`
	AreaMin     *float64  `json:"area_min,omitempty"`
	AreaMax     *float64  `json:"area_max,omitempty"`
	FloorMin    *int      `json:"floor_min,omitempty"`
	FloorMax    *int      `json:"floor_max,omitempty"`
	Active      bool      `json:"active"`
	NotifyEmail string    `json:"notify_email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NotificationRecord logs one sent notice for one listing. SubscriptionID is
// nil for the global price-drop digest. Records are append-only and gate
// duplicate sends for the same subscription+listing+kind.
type NotificationRecord struct {
	ID             string           `json:"id"`
	SubscriptionID *int64           `json:"subscription_id,omitempty"`
	ListingID      int64            `json:"listing_id"`
	Kind           NotificationKind `json:"kind"`
	Message        string           `json:"message,omitempty"`
	SentAt         time.Time        `json:"sent_at"`
}

// PriceChange pairs a listing with its previous and current price.
type PriceChange struct {
	Listing  Listing `json:"listing"`
	OldPrice int64   `json:"old_price"`
	NewPrice int64   `json:"new_price"`
}

// Delta returns the signed price difference (negative for drops).
func (c PriceChange) Delta() int64 { return c.NewPrice - c.OldPrice }

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Fetched     int       `json:"fetched"`
	New         int       `json:"new"`
	Updated     int       `json:"updated"`
	Errors      []string  `json:"errors,omitempty"`
}
