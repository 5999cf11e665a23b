package pik

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecord(t *testing.T, raw string) RawRecord {
	t.Helper()
	var r RawRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

func TestNormalizeRejectsMissingID(t *testing.T) {
	_, ok := Normalize(RawRecord{"price": 15000000.0}, Defaults{ProjectID: 42})
	assert.False(t, ok)
}

func TestNormalizeSnakeCaseVariant(t *testing.T) {
	r := decodeRecord(t, `{
		"id": 100,
		"price": 15000000,
		"area": 54.3,
		"rooms": 2,
		"floor": 7,
		"floors_total": 25,
		"bulk_name": "Корпус 2",
		"settlement_date": "2027-03-31",
		"section": "3"
	}`)

	l, ok := Normalize(r, Defaults{ProjectID: 42, SiteURL: "https://www.pik.ru"})
	require.True(t, ok)
	assert.Equal(t, int64(100), l.ExternalID)
	assert.Equal(t, int64(42), l.ProjectID)
	assert.Equal(t, int64(15_000_000), l.Price)
	assert.Equal(t, 54.3, l.Area)
	require.NotNil(t, l.Rooms)
	assert.Equal(t, 2, *l.Rooms)
	require.NotNil(t, l.Floor)
	assert.Equal(t, 7, *l.Floor)
	require.NotNil(t, l.FloorsTotal)
	assert.Equal(t, 25, *l.FloorsTotal)
	assert.Equal(t, "Корпус 2", l.Building)
	assert.Equal(t, "2027-03-31", l.CompletionDate)
	assert.Equal(t, "3", l.Section)
	assert.Equal(t, "https://www.pik.ru/flat/100", l.URL)
}

func TestNormalizeCamelCaseVariant(t *testing.T) {
	r := decodeRecord(t, `{
		"id": 100,
		"currentPrice": 15000000,
		"square": 54.3,
		"rooms": 2,
		"floor": 7,
		"floorsTotal": 25,
		"bulkName": "Корпус 2",
		"settlementDate": "2027-03-31"
	}`)

	l, ok := Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.Equal(t, int64(15_000_000), l.Price)
	assert.Equal(t, 54.3, l.Area)
	require.NotNil(t, l.FloorsTotal)
	assert.Equal(t, 25, *l.FloorsTotal)
	assert.Equal(t, "Корпус 2", l.Building)
	assert.Equal(t, "2027-03-31", l.CompletionDate)
}

func TestNormalizeNestedBulkFields(t *testing.T) {
	r := decodeRecord(t, `{
		"id": 100,
		"price": 15000000,
		"area": 54.3,
		"bulk": {"floors": 33, "date_till": "2028-06-30"}
	}`)

	l, ok := Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	require.NotNil(t, l.FloorsTotal)
	assert.Equal(t, 33, *l.FloorsTotal)
	assert.Equal(t, "2028-06-30", l.CompletionDate)
}

func TestNormalizeDerivesPricePerMeter(t *testing.T) {
	r := decodeRecord(t, `{"id": 100, "price": 15000000, "area": 54.3}`)
	l, ok := Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	require.NotNil(t, l.PricePerMeter)
	assert.Equal(t, int64(276243), *l.PricePerMeter) // round(15000000/54.3)

	// Zero area: no derived value, upstream hint accepted.
	r = decodeRecord(t, `{"id": 100, "price": 15000000, "meterPrice": 280000}`)
	l, ok = Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	require.NotNil(t, l.PricePerMeter)
	assert.Equal(t, int64(280000), *l.PricePerMeter)

	// Zero area, no hint: nil.
	r = decodeRecord(t, `{"id": 100, "price": 15000000}`)
	l, ok = Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.Nil(t, l.PricePerMeter)
}

func TestNormalizeStudioDetection(t *testing.T) {
	r := decodeRecord(t, `{"id": 100, "rooms": 0, "price": 8000000, "area": 22}`)
	l, ok := Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.True(t, l.IsStudio)

	// An explicit flag wins over the derived value.
	r = decodeRecord(t, `{"id": 100, "rooms": 1, "is_studio": true, "price": 8000000, "area": 22}`)
	l, ok = Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.True(t, l.IsStudio)

	// No room count at all: unknown, not a studio.
	r = decodeRecord(t, `{"id": 100, "price": 8000000, "area": 22}`)
	l, ok = Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.False(t, l.IsStudio)
	assert.Nil(t, l.Rooms)
}

func TestNormalizeSectionArrayOrScalar(t *testing.T) {
	r := decodeRecord(t, `{"id": 100, "sections": ["5"]}`)
	l, ok := Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.Equal(t, "5", l.Section)

	r = decodeRecord(t, `{"id": 100, "section": 5}`)
	l, ok = Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.Equal(t, "5", l.Section)
}

func TestNormalizeFinishingAliases(t *testing.T) {
	r := decodeRecord(t, `{"id": 100, "finishes": [{"type": "white box"}]}`)
	l, ok := Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.Equal(t, "white box", l.Finishing)

	r = decodeRecord(t, `{"id": 100, "decoration": "с отделкой"}`)
	l, ok = Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.Equal(t, "с отделкой", l.Finishing)
}

func TestNormalizeBlockIDOverridesDefault(t *testing.T) {
	r := decodeRecord(t, `{"id": 100, "block_id": 77}`)
	l, ok := Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.Equal(t, int64(77), l.ProjectID)
}

func TestNormalizeNumericStrings(t *testing.T) {
	r := decodeRecord(t, `{"id": "100", "price": "15000000", "area": "54,3"}`)
	l, ok := Normalize(r, Defaults{ProjectID: 42})
	require.True(t, ok)
	assert.Equal(t, int64(100), l.ExternalID)
	assert.Equal(t, int64(15_000_000), l.Price)
	assert.Equal(t, 54.3, l.Area)
}
