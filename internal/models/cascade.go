package models

import "time"

// FailureCascade records which components were affected when Root failed.
// Root never appears in Effects or ResilientComponents, and the two lists are disjoint.
type FailureCascade struct {
	ID                  string    `json:"id"`
	Root                string    `json:"root"`
	Effects             []string  `json:"effects"`
	ResilientComponents []string  `json:"resilientComponents"`
	Timestamp           time.Time `json:"timestamp"`
	DurationMs          float64   `json:"durationMs"`
}

// CascadeRelations answers which components trigger and which are affected by a component.
type CascadeRelations struct {
	Triggers []string `json:"triggers"`
	Affects  []string `json:"affects"`
}
