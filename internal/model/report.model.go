package model

import "time"

// ReportDocument is built per dispatch and never persisted.
type ReportDocument struct {
	Subject     string
	HTML        string
	GeneratedAt time.Time
}

// ReportContext carries the presentation details of the person the report is for.
type ReportContext struct {
	DisplayName string
	Location    *time.Location
}
