// Package healing implements the Healing Service:
// post-pause phase graduation, the resilience score, healing-speed
// multiplier, per-phase volume limits, aggregate throttles, and relapse
// handling.
package healing

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/repository"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

// Resilience score adjustments.
const (
	ResilienceStartDefault = 50
	ResilienceStartRehab   = 40

	ResiliencePauseDelta      = -15
	ResilienceGraduationDelta = 10
	ResilienceRelapseDelta    = -25
	ResilienceStableWeekDelta = 5
)

// Graduation requirements.
const (
	RestrictedCleanSendsFirstOffense = 15
	RestrictedCleanSendsRepeat       = 25
	WarmRecoveryMinSends             = 50
	WarmRecoveryMinDays              = 3
)

const WarmRecoveryMaxBounceRate = 0.02

// Aggregate daily throttles while any entity in scope is recovering.
const (
	DomainRecoveryDailyCap = 30
	OrgRecoveryDailyCap    = 100
)

// Phase volume limits per mailbox-day, before the healing-speed multiplier
// is applied. HEALTHY has no limit (-1 as a stand-in
// for "unbounded").
var PhaseVolumeLimits = map[domain.RecoveryPhase]int{
	domain.PhasePaused:     0,
	domain.PhaseQuarantine: 5,
	domain.PhaseRestricted: 15,
	domain.PhaseWarming:    30,
	domain.PhaseHealthy:    -1, // unbounded
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// StartingResilience returns the initial resilience score for a newly
// paused entity given its pause origin.
func StartingResilience(origin domain.PauseOrigin) int {
	if origin == domain.OriginRehab {
		return ResilienceStartRehab
	}
	return ResilienceStartDefault
}

// HealingSpeedMultiplier returns the multiplier applied to the number of
// days required per phase.
func HealingSpeedMultiplier(resilienceScore int) float64 {
	switch {
	case resilienceScore <= 30:
		return 2.0
	case resilienceScore >= 71:
		return 0.75
	default:
		return 1.0
	}
}

// RequiredCleanSends returns the clean-sends-since-phase threshold needed to
// graduate from restricted_send to warm_recovery.
func RequiredCleanSends(isRepeatOffense bool, origin domain.PauseOrigin) int {
	n := RestrictedCleanSendsFirstOffense
	if isRepeatOffense {
		n = RestrictedCleanSendsRepeat
	}
	if origin == domain.OriginRehab {
		n *= 2
	}
	return n
}

// PhaseVolumeLimit returns the mailbox-day send cap for the current phase,
// scaled by the healing speed multiplier. Returns -1 for unbounded (healthy).
func PhaseVolumeLimit(phase domain.RecoveryPhase, resilienceScore int) int {
	base, ok := PhaseVolumeLimits[phase]
	if !ok || base < 0 {
		return -1
	}
	mult := HealingSpeedMultiplier(resilienceScore)
	return int(float64(base) * mult)
}

// Service owns the graduation sweep and relapse handling. All I/O goes
// through the typed repository interfaces.
type Service struct {
	Mailboxes   repository.MailboxRepository
	Domains     repository.DomainEntityRepository
	Transitions repository.TransitionRepository
	AuditLogs   repository.AuditLogRepository

	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// GraduationCandidate reports whether mb is eligible to advance to the next
// recovery phase right now, per the recovery-phase table. DNS/root-cause
// checks for quarantine->restricted_send are represented by the caller-
// supplied dnsOK/rootCauseResolved flags since they depend on an external
// adapter call outside this package's scope.
func (s *Service) GraduationCandidate(mb *domain.Mailbox, dnsOK, rootCauseResolved bool, isRepeatOffense bool) (domain.RecoveryPhase, bool) {
	now := s.now()
	switch mb.RecoveryPhase {
	case domain.PhasePaused:
		if mb.CooldownUntil != nil && !mb.CooldownUntil.After(now) {
			return domain.PhaseQuarantine, true
		}
	case domain.PhaseQuarantine:
		if dnsOK && rootCauseResolved {
			return domain.PhaseRestricted, true
		}
	case domain.PhaseRestricted:
		required := RequiredCleanSends(isRepeatOffense, mb.PauseOrigin)
		if mb.CleanSendsSincePhase >= required {
			return domain.PhaseWarming, true
		}
	case domain.PhaseWarming:
		if mb.PhaseEnteredAt != nil && now.Sub(*mb.PhaseEnteredAt) >= WarmRecoveryMinDays*24*time.Hour &&
			mb.WindowSentCount >= WarmRecoveryMinSends && mb.BounceRate() < WarmRecoveryMaxBounceRate {
			return domain.PhaseHealthy, true
		}
	}
	return mb.RecoveryPhase, false
}

// phaseToHealthState maps a RecoveryPhase to the corresponding HealthState
// for the state machine.
func phaseToHealthState(p domain.RecoveryPhase) domain.HealthState {
	switch p {
	case domain.PhasePaused:
		return domain.StatePaused
	case domain.PhaseQuarantine:
		return domain.StateQuarantine
	case domain.PhaseRestricted:
		return domain.StateRestricted
	case domain.PhaseWarming:
		return domain.StateWarming
	default:
		return domain.StateHealthy
	}
}

// Graduate advances mb to nextPhase, applying the resilience bump and
// writing the transition/audit trail.
func (s *Service) Graduate(ctx context.Context, org *domain.Organization, mb *domain.Mailbox, nextPhase domain.RecoveryPhase) error {
	now := s.now()
	from := mb.Status
	to := phaseToHealthState(nextPhase)

	if !statemachine.CanTransitionHealth(from, to) {
		return fmt.Errorf("healing: graduate %s -> %s: %w", from, to, statemachine.ErrInvalidTransition)
	}

	mb.RecoveryPhase = nextPhase
	mb.Status = to
	mb.PhaseEnteredAt = &now
	mb.CleanSendsSincePhase = 0
	mb.ResilienceScore = clamp(mb.ResilienceScore+ResilienceGraduationDelta, 0, 100)
	if nextPhase == domain.PhaseHealthy {
		mb.CooldownUntil = nil
		mb.ConsecutivePauses = 0
	}

	if err := s.Mailboxes.Update(ctx, mb); err != nil {
		return fmt.Errorf("healing: save graduated mailbox: %w", err)
	}
	if err := s.Transitions.Record(ctx, &domain.StateTransition{
		OrganizationID: org.ID,
		EntityType:     domain.EntityMailbox,
		EntityID:       mb.ID,
		FromState:      string(from),
		ToState:        string(to),
		Reason:         fmt.Sprintf("graduated to %s", nextPhase),
		TriggeredBy:    "healing",
	}); err != nil {
		return fmt.Errorf("healing: record transition: %w", err)
	}
	return nil
}

// Relapse handles a relapse: demote one phase (or return to
// paused from quarantine), reset clean sends, apply -25 resilience, and
// recompute cooldown with the raised pause counter. It is wired as
// monitor.Monitor.OnRelapse by the caller.
func (s *Service) Relapse(ctx context.Context, org *domain.Organization, mb *domain.Mailbox) error {
	now := s.now()
	from := mb.Status
	demoted := demotePhase(mb.RecoveryPhase)
	to := phaseToHealthState(demoted)

	if !statemachine.CanTransitionHealth(from, to) {
		// Demotion landed on an unreachable pair (e.g. quarantine->paused
		// is allowed, but guard anyway since the table is authoritative).
		return fmt.Errorf("healing: relapse %s -> %s: %w", from, to, statemachine.ErrInvalidTransition)
	}

	mb.ConsecutivePauses++
	cd := statemachine.CooldownFor(mb.ConsecutivePauses)
	until := now.Add(cd)

	mb.RecoveryPhase = demoted
	mb.Status = to
	mb.CooldownUntil = &until
	mb.LastPauseAt = &now
	mb.PhaseEnteredAt = &now
	mb.CleanSendsSincePhase = 0
	mb.ResilienceScore = clamp(mb.ResilienceScore+ResilienceRelapseDelta, 0, 100)

	if err := s.Mailboxes.Update(ctx, mb); err != nil {
		return fmt.Errorf("healing: save relapsed mailbox: %w", err)
	}
	if err := s.Transitions.Record(ctx, &domain.StateTransition{
		OrganizationID: org.ID,
		EntityType:     domain.EntityMailbox,
		EntityID:       mb.ID,
		FromState:      string(from),
		ToState:        string(to),
		Reason:         "relapse: health-degrading bounce during recovery",
		TriggeredBy:    "healing",
	}); err != nil {
		return fmt.Errorf("healing: record relapse transition: %w", err)
	}
	return nil
}

// demotePhase drops a recovery phase by one step; quarantine demotes to
// paused.
func demotePhase(p domain.RecoveryPhase) domain.RecoveryPhase {
	switch p {
	case domain.PhaseQuarantine:
		return domain.PhasePaused
	case domain.PhaseRestricted:
		return domain.PhaseQuarantine
	case domain.PhaseWarming:
		return domain.PhaseRestricted
	default:
		return domain.PhasePaused
	}
}

// AggregateCapReached reports whether the domain/org daily recovery throttle
// has been hit. sentToday is the caller-
// supplied count of sends already made today for the given scope.
func AggregateCapReached(scope string, sentToday int) bool {
	switch scope {
	case "domain":
		return sentToday >= DomainRecoveryDailyCap
	case "org":
		return sentToday >= OrgRecoveryDailyCap
	default:
		return false
	}
}
