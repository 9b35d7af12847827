// Package statemachine implements the table-driven transition rules shared
// by Mailbox and Domain, plus the Lead lifecycle. No
// other transition is permitted; attempting one is a hard error.
package statemachine

import (
	"errors"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// ErrInvalidTransition is returned when the requested (from, to) pair is not
// in the allowed table. Callers must not mutate any state on this error.
var ErrInvalidTransition = errors.New("statemachine: invalid transition")

// healthTransitions is the shared Mailbox/Domain table. The
// "recovering" row is the legacy path retained only as a transition target.
var healthTransitions = map[domain.HealthState]map[domain.HealthState]bool{
	domain.StateHealthy: {
		domain.StateWarning: true,
		domain.StatePaused:  true,
	},
	domain.StateWarning: {
		domain.StateHealthy: true,
		domain.StatePaused:  true,
	},
	domain.StatePaused: {
		domain.StateQuarantine: true,
		domain.StateRecovering: true,
	},
	domain.StateQuarantine: {
		domain.StateRestricted: true,
		domain.StatePaused:     true,
	},
	domain.StateRestricted: {
		domain.StateWarming:    true,
		domain.StatePaused:     true,
		domain.StateQuarantine: true,
	},
	domain.StateWarming: {
		domain.StateHealthy:    true,
		domain.StatePaused:     true,
		domain.StateQuarantine: true,
	},
	domain.StateRecovering: {
		domain.StateHealthy:    true,
		domain.StateWarning:    true,
		domain.StateQuarantine: true,
	},
}

// leadTransitions is the Lead lifecycle table.
var leadTransitions = map[domain.LeadState]map[domain.LeadState]bool{
	domain.LeadHeld: {
		domain.LeadActive: true,
		domain.LeadPaused: true,
	},
	domain.LeadActive: {
		domain.LeadPaused:    true,
		domain.LeadCompleted: true,
	},
	domain.LeadPaused: {
		domain.LeadActive:    true,
		domain.LeadCompleted: true,
	},
	domain.LeadCompleted: {},
}

// CanTransitionHealth reports whether from -> to is a permitted Mailbox/
// Domain transition.
func CanTransitionHealth(from, to domain.HealthState) bool {
	return healthTransitions[from][to]
}

// CanTransitionLead reports whether from -> to is a permitted Lead
// transition.
func CanTransitionLead(from, to domain.LeadState) bool {
	return leadTransitions[from][to]
}

// Cooldown parameters.
const (
	CooldownMin        = time.Hour
	CooldownMultiplier = 2
	CooldownMax        = 16 * time.Hour
)

// CooldownFor returns the cooldown duration for a pause given the entity's
// consecutive-pauses count *before* this pause is applied:
// `min(COOLDOWN_MAX, COOLDOWN_MIN × MULTIPLIER^min(consecutivePauses,5))`.
func CooldownFor(consecutivePauses int) time.Duration {
	exp := consecutivePauses
	if exp > 5 {
		exp = 5
	}
	d := CooldownMin
	for i := 0; i < exp; i++ {
		d *= CooldownMultiplier
	}
	if d > CooldownMax {
		return CooldownMax
	}
	return d
}

// HealthTransitionEffect is the set of field mutations a health transition
// produces. The caller applies it and writes the StateTransition/AuditLog
// rows as separate calls; no transaction spans these writes.
type HealthTransitionEffect struct {
	NewStatus            domain.HealthState
	CooldownUntil        *time.Time
	ConsecutivePauses    int
	ResilienceScoreDelta int
	CleanSendsSincePhase int
	LastPauseAt          *time.Time
	PhaseEnteredAt        *time.Time
}

// ApplyHealthTransition validates from->to and computes the resulting
// mutation. now is the instant the transition is applied. consecutivePauses
// is the entity's current value (pre-increment).
func ApplyHealthTransition(from, to domain.HealthState, now time.Time, consecutivePauses, resilienceScore int) (HealthTransitionEffect, error) {
	if !CanTransitionHealth(from, to) {
		return HealthTransitionEffect{}, ErrInvalidTransition
	}

	eff := HealthTransitionEffect{NewStatus: to}

	switch to {
	case domain.StatePaused:
		cd := CooldownFor(consecutivePauses)
		until := now.Add(cd)
		eff.CooldownUntil = &until
		eff.ConsecutivePauses = consecutivePauses + 1
		eff.ResilienceScoreDelta = clampDelta(resilienceScore, -15)
		eff.CleanSendsSincePhase = 0
		eff.LastPauseAt = &now
		eff.PhaseEnteredAt = &now
	case domain.StateHealthy:
		eff.CooldownUntil = nil
		eff.ConsecutivePauses = 0
	default:
		eff.ConsecutivePauses = consecutivePauses
	}

	return eff, nil
}

// clampDelta returns the delta needed to move score by delta without going
// below 0 (the resilience score floor).
func clampDelta(score, delta int) int {
	if score+delta < 0 {
		return -score
	}
	return delta
}
