package models

// RecoveryPath is a catalog entry describing how a component recovers from a failure.
type RecoveryPath struct {
	Component      string  `json:"component" yaml:"component"`
	FailureType    string  `json:"failureType,omitempty" yaml:"failureType,omitempty"`
	Primary        string  `json:"primary" yaml:"primary"`
	Secondary      string  `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	Fallback       string  `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	RecoveryTimeMs float64 `json:"recoveryTimeMs" yaml:"recoveryTimeMs"`
}

// Strategies returns the configured strategies in order (primary, secondary, fallback).
func (p RecoveryPath) Strategies() []string {
	out := make([]string, 0, 3)
	for _, s := range []string{p.Primary, p.Secondary, p.Fallback} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasFallback reports whether a last-resort strategy is configured.
func (p RecoveryPath) HasFallback() bool {
	return p.Fallback != ""
}
