package models

// MaxUXSeverity is the upper bound of the UX severity scale.
const MaxUXSeverity = 5

// UXImpact records one user-facing degradation observed during a test.
type UXImpact struct {
	Component      string  `json:"component"`
	FailureType    string  `json:"failureType,omitempty"`
	Severity       int     `json:"severity"`
	RecoveryTimeMs float64 `json:"recoveryTimeMs"`
}

// UXReport aggregates impacts for a run.
type UXReport struct {
	Impacts        []UXImpact  `json:"impacts"`
	AvgSeverity    float64     `json:"avgSeverity"`
	WorstComponent string      `json:"worstComponent,omitempty"`
	Histogram      map[int]int `json:"histogram"`
}
