package schedule

import (
	"testing"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYorkRecipient(t *testing.T, deliveryTime string, weekdays string) *model.Recipient {
	t.Helper()
	cfg := &model.RecipientConfig{
		ID:           1,
		TenantID:     7,
		Enabled:      true,
		DeliveryTime: deliveryTime,
		Weekdays:     weekdays,
		Timezone:     "America/New_York",
		Destination:  "owner@clinic.test",
	}
	r, err := cfg.Parse()
	require.NoError(t, err)
	return r
}

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestEvaluate_Scenarios(t *testing.T) {
	// 2024-03-04 is a Monday, New York is on EST (UTC-5)
	monday := func(hour, minute int) time.Time { return utc(2024, 3, 4, hour, minute) }

	t.Run("due at delivery time", func(t *testing.T) {
		r := newYorkRecipient(t, "09:00", "1,2,3,4,5")
		d := Evaluate(monday(14, 0), r)
		assert.True(t, d.Due)
		assert.Equal(t, ReasonDue, d.Reason)
		assert.Equal(t, "2024-03-04", d.LocalDate)
		assert.Equal(t, 9, d.LocalTime.Hour())
	})

	t.Run("too early", func(t *testing.T) {
		r := newYorkRecipient(t, "09:00", "1,2,3,4,5")
		d := Evaluate(monday(13, 0), r)
		assert.False(t, d.Due)
		assert.Equal(t, ReasonTooEarly, d.Reason)
	})

	t.Run("one minute before", func(t *testing.T) {
		r := newYorkRecipient(t, "09:00", "1,2,3,4,5")
		assert.Equal(t, ReasonTooEarly, Evaluate(monday(13, 59), r).Reason)
	})

	t.Run("already sent today", func(t *testing.T) {
		r := newYorkRecipient(t, "09:00", "1,2,3,4,5")
		r.MarkDispatched("2024-03-04")
		d := Evaluate(monday(15, 0), r)
		assert.False(t, d.Due)
		assert.Equal(t, ReasonAlreadySent, d.Reason)
	})

	t.Run("sent yesterday is not today", func(t *testing.T) {
		r := newYorkRecipient(t, "09:00", "1,2,3,4,5")
		r.MarkDispatched("2024-03-01")
		assert.True(t, Evaluate(monday(14, 0), r).Due)
	})

	t.Run("excluded weekday", func(t *testing.T) {
		r := newYorkRecipient(t, "09:00", "1,2,3,4,5")
		saturday := utc(2024, 3, 9, 14, 0)
		d := Evaluate(saturday, r)
		assert.False(t, d.Due)
		assert.Equal(t, ReasonWeekdayExcluded, d.Reason)
	})

	t.Run("late tick still fires", func(t *testing.T) {
		r := newYorkRecipient(t, "09:00", "1,2,3,4,5")
		d := Evaluate(monday(22, 17), r)
		assert.True(t, d.Due)
	})

	t.Run("weekday uses the local date", func(t *testing.T) {
		// 2024-03-05 03:00 UTC is still Monday evening in New York
		r := newYorkRecipient(t, "21:00", "1")
		d := Evaluate(utc(2024, 3, 5, 3, 0), r)
		assert.True(t, d.Due)
		assert.Equal(t, "2024-03-04", d.LocalDate)
	})
}

// runDay ticks every minute between from and to, marking the ledger on each
// due verdict, and returns the instants that fired.
func runDay(r *model.Recipient, from, to time.Time) []time.Time {
	var fired []time.Time
	for now := from; now.Before(to); now = now.Add(time.Minute) {
		d := Evaluate(now, r)
		if d.Due {
			fired = append(fired, now)
			r.MarkDispatched(d.LocalDate)
		}
	}
	return fired
}

func TestEvaluate_SpringForward(t *testing.T) {
	// 2024-03-10 02:00 EST jumps to 03:00 EDT, 02:30 never happens
	r := newYorkRecipient(t, "02:30", "0,1,2,3,4,5,6")

	fired := runDay(r, utc(2024, 3, 10, 5, 0), utc(2024, 3, 11, 5, 0))
	require.Len(t, fired, 1)
	assert.Equal(t, utc(2024, 3, 10, 7, 0), fired[0])
	assert.Equal(t, 3, fired[0].In(r.Location).Hour())
}

func TestEvaluate_FallBack(t *testing.T) {
	// 2024-11-03 01:00-02:00 happens twice in New York
	r := newYorkRecipient(t, "01:30", "0,1,2,3,4,5,6")

	fired := runDay(r, utc(2024, 11, 3, 4, 0), utc(2024, 11, 4, 5, 0))
	require.Len(t, fired, 1)
	assert.Equal(t, utc(2024, 11, 3, 5, 30), fired[0])

	second := Evaluate(utc(2024, 11, 3, 6, 30), r)
	assert.Equal(t, 1, second.LocalTime.Hour())
	assert.Equal(t, 30, second.LocalTime.Minute())
	assert.Equal(t, ReasonAlreadySent, second.Reason)
}

func TestEvaluate_AtMostOncePerLocalDate(t *testing.T) {
	r := newYorkRecipient(t, "09:00", "1,2,3,4,5")

	// a full week of one-minute ticks
	fired := runDay(r, utc(2024, 3, 3, 0, 0), utc(2024, 3, 10, 0, 0))
	require.Len(t, fired, 5)

	seen := map[string]bool{}
	for _, f := range fired {
		local := f.In(r.Location)
		date := local.Format(model.LocalDateLayout)
		assert.False(t, seen[date], "duplicate dispatch on %s", date)
		seen[date] = true
		assert.Equal(t, 9, local.Hour())
		assert.Equal(t, 0, local.Minute())
	}
}

func TestEvaluate_CoarseInterval(t *testing.T) {
	r := newYorkRecipient(t, "09:07", "1")
	var fired []time.Time
	// ticks every 5 minutes never hit 09:07 exactly
	for now := utc(2024, 3, 4, 13, 0); now.Before(utc(2024, 3, 4, 16, 0)); now = now.Add(5 * time.Minute) {
		if d := Evaluate(now, r); d.Due {
			fired = append(fired, now)
			r.MarkDispatched(d.LocalDate)
		}
	}
	require.Len(t, fired, 1)
	assert.Equal(t, utc(2024, 3, 4, 14, 10), fired[0])
}
