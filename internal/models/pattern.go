package models

import "time"

// FailurePattern represents a recurring cascade hotspot mined from a run.
type FailurePattern struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Root               string    `json:"root"`
	Description        string    `json:"description"`
	Occurrences        int       `json:"occurrences"`
	Prevalence         float64   `json:"prevalence"`
	AffectedComponents []string  `json:"affectedComponents"`
	AvgBlastRadius     float64   `json:"avgBlastRadius"`
	FailureRate        float64   `json:"failureRate"`
	LastSeen           time.Time `json:"lastSeen"`
}
