package pik

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zuevav/pik-tracker/internal/model"
)

// RawRecord is one record as decoded from the upstream JSON, before
// normalization. The upstream renames fields between releases
// (snake_case/camelCase) and nests some of them, so lookups go through
// ordered alias lists instead of struct tags.
type RawRecord map[string]any

// Defaults carries per-batch context the raw record itself lacks.
type Defaults struct {
	ProjectID int64  // owning project external id
	SiteURL   string // base for building deep links when the record has none
}

// pick returns the first present, non-nil value among the candidate keys.
func pick(r RawRecord, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// pickNested looks up path segments through nested objects ("bulk.floors").
func pickNested(r RawRecord, paths ...string) (any, bool) {
	for _, p := range paths {
		cur := any(map[string]any(r))
		found := true
		for _, seg := range strings.Split(p, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			cur, ok = m[seg]
			if !ok || cur == nil {
				found = false
				break
			}
		}
		if found {
			return cur, true
		}
	}
	return nil, false
}

// asInt64 coerces JSON numbers and numeric strings to int64.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// asFloat coerces JSON numbers and numeric strings to float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(n), ",", ".", 1), 64)
		return f, err == nil
	}
	return 0, false
}

// asString coerces scalars to their string form; objects/arrays are rejected.
func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10), true
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

// asBool coerces JSON booleans and 0/1 numbers.
func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	}
	return false, false
}

// firstScalar unwraps array-or-scalar fields (the upstream sends both shapes
// for section and bulk ids).
func firstScalar(v any) any {
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return nil
		}
		return arr[0]
	}
	return v
}

// Int64Field resolves a numeric field through its alias list.
func (r RawRecord) Int64Field(keys ...string) (int64, bool) {
	v, ok := pick(r, keys...)
	if !ok {
		return 0, false
	}
	return asInt64(firstScalar(v))
}

// FloatField resolves a float field through its alias list.
func (r RawRecord) FloatField(keys ...string) (float64, bool) {
	v, ok := pick(r, keys...)
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

// StringField resolves a string field through its alias list.
func (r RawRecord) StringField(keys ...string) (string, bool) {
	v, ok := pick(r, keys...)
	if !ok {
		return "", false
	}
	return asString(firstScalar(v))
}

// ExternalID returns the record's stable identifier, or false when the record
// is unparseable (no id means nothing to reconcile against).
func (r RawRecord) ExternalID() (int64, bool) {
	return r.Int64Field("id")
}

// Rooms resolves the room count. roomsType is a string bucket where anything
// non-numeric means studio. Returns nil when the source reported nothing.
func (r RawRecord) Rooms() *int {
	if v, ok := pick(r, "rooms", "room_count"); ok {
		if n, ok := asInt64(v); ok {
			rooms := int(n)
			return &rooms
		}
	}
	if v, ok := pick(r, "roomsType"); ok {
		rooms := 0
		if n, ok := asInt64(v); ok {
			rooms = int(n)
		}
		return &rooms
	}
	return nil
}

// Normalize maps a raw upstream record into the canonical Listing shape.
// Records without a stable identifier are rejected (nil, false). Pure: no
// I/O, no clock reads; first/last-seen timestamps belong to the store.
func Normalize(r RawRecord, d Defaults) (*model.Listing, bool) {
	id, ok := r.ExternalID()
	if !ok {
		return nil, false
	}

	l := &model.Listing{
		ExternalID: id,
		ProjectID:  d.ProjectID,
		Status:     model.StatusActive,
	}

	if pid, ok := r.Int64Field("block_id", "blockId"); ok {
		l.ProjectID = pid
	}

	l.Rooms = r.Rooms()

	if area, ok := r.FloatField("area", "square"); ok {
		l.Area = area
	}
	if price, ok := r.Int64Field("price", "currentPrice"); ok {
		l.Price = price
	}
	// Derived, never trusted from upstream: round(price/area) when area > 0.
	if l.Area > 0 {
		ppm := int64(math.Round(float64(l.Price) / l.Area))
		l.PricePerMeter = &ppm
	} else if ppm, ok := r.Int64Field("price_per_meter", "meterPrice"); ok {
		l.PricePerMeter = &ppm
	}

	if floor, ok := r.Int64Field("floor"); ok {
		f := int(floor)
		l.Floor = &f
	}
	if total, ok := r.Int64Field("floors_total", "floorsTotal", "maxFloor"); ok {
		t := int(total)
		l.FloorsTotal = &t
	} else if v, ok := pickNested(r, "bulk.floors"); ok {
		if n, ok := asInt64(v); ok {
			t := int(n)
			l.FloorsTotal = &t
		}
	}

	l.Address, _ = r.StringField("address")
	l.Building, _ = r.StringField("bulk_name", "bulkName")
	l.Section, _ = r.StringField("section", "sections")

	if fin, ok := pickNested(r, "finishes"); ok {
		if first, ok := firstScalar(fin).(map[string]any); ok {
			l.Finishing, _ = asString(first["type"])
		}
	}
	if l.Finishing == "" {
		l.Finishing, _ = r.StringField("finishing", "decoration", "finishType")
	}

	if date, ok := r.StringField("settlement_date", "settlementDate"); ok {
		l.CompletionDate = date
	} else if v, ok := pickNested(r, "bulk.date_till", "bulk.settlementDate"); ok {
		l.CompletionDate, _ = asString(v)
	}

	if u, ok := r.StringField("url"); ok && u != "" {
		l.URL = u
	} else if d.SiteURL != "" {
		l.URL = fmt.Sprintf("%s/flat/%d", strings.TrimRight(d.SiteURL, "/"), id)
	}

	if v, ok := pick(r, "is_studio", "isStudio"); ok {
		l.IsStudio, _ = asBool(v)
	} else {
		l.IsStudio = l.Rooms != nil && *l.Rooms == 0
	}

	return l, true
}
