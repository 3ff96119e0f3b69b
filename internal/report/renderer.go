package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
)

const (
	NoDataText = "No data for this period."

	timeLayout = "Jan 2, 3:04 PM"
	dateLayout = "Mon, Jan 2 2006"
)

//go:embed digest.html.tmpl
var digestTemplate string

var digestTmpl = template.Must(template.New("digest").Funcs(template.FuncMap{
	"nodata": func() string { return NoDataText },
}).Parse(digestTemplate))

type callRow struct {
	PatientName string
	PhoneNumber string
	Outcome     string
	When        string
}

type appointmentRow struct {
	PatientName string
	Status      string
	When        string
	ChangedAt   string
}

type section struct {
	Title        string
	Appointments []appointmentRow
	Calls        []callRow
	Count        int
}

type view struct {
	Title       string
	Greeting    string
	TenantName  string
	Period      string
	SuccessRate string
	Calls       model.CallCounts
	Transitions model.TransitionCounts
	Failures    model.FailureCounts
	Sections    []section
	Upcoming    []appointmentRow
}

// Render turns aggregated stats into a self-contained HTML document. It has
// no side effects; every timestamp is shown in the reader's location.
func Render(stats *model.ActivityStats, rc model.ReportContext) (*model.ReportDocument, error) {
	if stats == nil {
		return nil, fmt.Errorf("render digest: no stats")
	}
	loc := rc.Location
	if loc == nil {
		loc = time.UTC
	}

	tenantName := stats.TenantName
	if tenantName == "" {
		tenantName = fmt.Sprintf("Tenant #%d", stats.TenantID)
	}
	day := stats.WindowEnd.In(loc).Format(dateLayout)

	v := view{
		Title:       fmt.Sprintf("Daily digest for %s", tenantName),
		Greeting:    greeting(rc.DisplayName),
		TenantName:  tenantName,
		Period:      fmt.Sprintf("%s to %s (%s)", stats.WindowStart.In(loc).Format(timeLayout), stats.WindowEnd.In(loc).Format(timeLayout), loc.String()),
		SuccessRate: FormatSuccessRate(stats.Calls.Succeeded, stats.Calls.Total),
		Calls:       stats.Calls,
		Transitions: stats.Transitions,
		Failures:    stats.Failures,
		Sections: []section{
			{Title: "Confirmations", Count: stats.Transitions.Confirmed, Appointments: appointmentRows(stats.Confirmations, loc)},
			{Title: "Cancellations", Count: stats.Transitions.Cancelled, Appointments: appointmentRows(stats.Cancellations, loc)},
			{Title: "Reschedules", Count: stats.Transitions.Rescheduled, Appointments: appointmentRows(stats.Reschedules, loc)},
			{Title: "No answer", Count: stats.Failures.NoAnswer, Calls: callRows(stats.NoAnswers, loc)},
			{Title: "Voicemail", Count: stats.Failures.Voicemail, Calls: callRows(stats.Voicemails, loc)},
			{Title: "Other failures", Count: stats.Failures.OtherFailure, Calls: callRows(stats.OtherFailures, loc)},
		},
		Upcoming: upcomingRows(stats.Upcoming, loc),
	}

	var buf bytes.Buffer
	if err := digestTmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("render digest: %w", err)
	}

	return &model.ReportDocument{
		Subject:     fmt.Sprintf("%s - %s", v.Title, day),
		HTML:        buf.String(),
		GeneratedAt: stats.WindowEnd,
	}, nil
}

// FormatSuccessRate renders succeeded/total as a whole percentage.
func FormatSuccessRate(succeeded, total int) string {
	return fmt.Sprintf("%.0f%%", model.SuccessRate(succeeded, total))
}

func greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

func appointmentRows(list []model.AppointmentExample, loc *time.Location) []appointmentRow {
	rows := make([]appointmentRow, 0, len(list))
	for _, a := range list {
		rows = append(rows, appointmentRow{
			PatientName: a.PatientName,
			Status:      humanize(string(a.Status)),
			When:        a.AppointmentAt.In(loc).Format(timeLayout),
			ChangedAt:   a.ChangedAt.In(loc).Format(timeLayout),
		})
	}
	return rows
}

func upcomingRows(list []model.UpcomingAppointment, loc *time.Location) []appointmentRow {
	rows := make([]appointmentRow, 0, len(list))
	for _, a := range list {
		rows = append(rows, appointmentRow{
			PatientName: a.PatientName,
			Status:      humanize(string(a.Status)),
			When:        a.ScheduledAt.In(loc).Format(timeLayout),
		})
	}
	return rows
}

func callRows(list []model.CallExample, loc *time.Location) []callRow {
	rows := make([]callRow, 0, len(list))
	for _, c := range list {
		outcome := humanize(string(c.Outcome))
		if outcome == "" {
			outcome = "Unknown"
		}
		rows = append(rows, callRow{
			PatientName: c.PatientName,
			PhoneNumber: c.PhoneNumber,
			Outcome:     outcome,
			When:        c.AttemptedAt.In(loc).Format(timeLayout),
		})
	}
	return rows
}

func humanize(code string) string {
	s := strings.ReplaceAll(code, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
