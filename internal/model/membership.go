package model

import "time"

// ProgramMembership is a membership programme entitlement referenced
// by membership-only ticket types. The access code is stored as a
// bcrypt hash; the plain code supplied with an accepted offer is
// compared against it at validation time. An empty AccessCodeHash
// means no code is required.
type ProgramMembership struct {
	ID             string
	HolderName     string
	ValidFrom      time.Time
	ValidThrough   time.Time
	AccessCodeHash string
}

// ValidAt reports whether the membership's validity window covers t.
func (m ProgramMembership) ValidAt(t time.Time) bool {
	return !t.Before(m.ValidFrom) && !t.After(m.ValidThrough)
}
