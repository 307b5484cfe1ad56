package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse("2024-06-15")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.June, Day: 15}, d)
	assert.Equal(t, "2024-06-15", d.String())

	for _, bad := range []string{"", "2024-6-15", "2024-02-30", "2023-02-29", "2024/06/15", "2024-06-15T10:00:00Z", "abcd-ef-gh"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidDate, bad)
	}

	_, err = Parse("2024-02-29")
	assert.NoError(t, err)
}

func TestWeekday(t *testing.T) {
	cases := map[string]time.Weekday{
		"2024-06-15": time.Saturday,
		"2024-07-16": time.Tuesday,
		"2024-06-16": time.Sunday,
		"2024-06-17": time.Monday,
		"2000-01-01": time.Saturday,
		"2024-02-29": time.Thursday,
		"2025-12-31": time.Wednesday,
	}
	for s, want := range cases {
		d, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, want, d.Weekday(), s)

		ref := time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
		assert.Equal(t, ref, d.Weekday(), s)
	}
}

func TestWeekdayIgnoresZone(t *testing.T) {
	// Midnight UTC on the 15th is still the 14th west of Greenwich; the Date
	// must not care.
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	utcMidnight := time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Friday, utcMidnight.In(ny).Weekday())

	d := FromTime(utcMidnight)
	assert.Equal(t, time.Saturday, d.Weekday())
}

func TestAddDays(t *testing.T) {
	d := MustNew(2024, time.February, 28)
	assert.Equal(t, MustNew(2024, time.February, 29), d.AddDays(1))
	assert.Equal(t, MustNew(2024, time.March, 1), d.AddDays(2))
	assert.Equal(t, MustNew(2023, time.December, 31), MustNew(2024, time.January, 1).AddDays(-1))
}

func TestCompare(t *testing.T) {
	a := MustNew(2024, time.June, 15)
	b := MustNew(2024, time.July, 1)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.After(a))
}

func TestScan(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2024-06-15"))
	assert.Equal(t, MustNew(2024, time.June, 15), d)

	require.NoError(t, d.Scan([]byte("2024-07-16")))
	assert.Equal(t, MustNew(2024, time.July, 16), d)

	require.NoError(t, d.Scan("2024-06-15 00:00:00+00:00"))
	assert.Equal(t, MustNew(2024, time.June, 15), d)

	loc := time.FixedZone("UTC-5", -5*3600)
	require.NoError(t, d.Scan(time.Date(2024, time.June, 15, 0, 0, 0, 0, loc)))
	assert.Equal(t, MustNew(2024, time.June, 15), d)

	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	assert.Error(t, d.Scan(42))
}

func TestValue(t *testing.T) {
	v, err := MustNew(2024, time.June, 15).Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-06-15", v)

	v, err = Date{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestJSON(t *testing.T) {
	type payload struct {
		Date Date `json:"date"`
	}
	b, err := json.Marshal(payload{Date: MustNew(2024, time.June, 15)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-06-15"}`, string(b))

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2024-07-16"}`), &p))
	assert.Equal(t, MustNew(2024, time.July, 16), p.Date)

	assert.Error(t, json.Unmarshal([]byte(`{"date":"07/16/2024"}`), &p))
}
