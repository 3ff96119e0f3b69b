package schedule

import (
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
)

type Reason string

const (
	ReasonDue             Reason = "due"
	ReasonWeekdayExcluded Reason = "weekday_excluded"
	ReasonAlreadySent     Reason = "already_sent"
	ReasonTooEarly        Reason = "too_early"
)

// Decision is the outcome of one due check. LocalDate is the recipient's
// calendar date at the evaluated instant and is the ledger key on success.
type Decision struct {
	Due       bool      `json:"due"`
	Reason    Reason    `json:"reason"`
	LocalDate string    `json:"local_date"`
	LocalTime time.Time `json:"local_time"`
}

// Evaluate decides whether r should receive its digest at now.
//
// The order of the checks matters: weekday first, then the ledger, then the
// delivery time with "at or after" semantics. A tick that lands late (or on
// the far side of a spring-forward gap) still fires, and every later tick
// the same local day is stopped by the ledger, including the repeated hour
// of a fall-back.
func Evaluate(now time.Time, r *model.Recipient) Decision {
	local := now.In(r.Location)
	d := Decision{
		LocalDate: local.Format(model.LocalDateLayout),
		LocalTime: local,
	}

	if !r.Weekdays.Contains(local.Weekday()) {
		d.Reason = ReasonWeekdayExcluded
		return d
	}

	if r.DispatchedOn(d.LocalDate) {
		d.Reason = ReasonAlreadySent
		return d
	}

	if local.Hour()*60+local.Minute() < r.DeliveryTime.MinuteOfDay() {
		d.Reason = ReasonTooEarly
		return d
	}

	d.Due = true
	d.Reason = ReasonDue
	return d
}
