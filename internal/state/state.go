// Package state holds the oracle's accepted trend value. The state is an
// explicit value: functions take the current state and return the next one.
package state

import (
	"trend-oracle/internal/domain"
	"trend-oracle/internal/validator"
)

// Initialize returns the state of a freshly activated oracle.
func Initialize() domain.OracleState {
	return domain.OracleState{CurrentValue: 0, LastUpdate: 0}
}

// Update applies an accepted verdict at now, replacing both fields together.
// A rejected verdict returns s unchanged.
func Update(s domain.OracleState, verdict validator.Verdict, now int64) domain.OracleState {
	if !verdict.Accepted() {
		return s
	}
	return domain.OracleState{
		CurrentValue: verdict.Candidate(),
		LastUpdate:   now,
	}
}

// Get returns the accepted value.
func Get(s domain.OracleState) uint64 {
	return s.CurrentValue
}
