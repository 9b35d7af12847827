// Package metrics implements the rolling-window risk engine: window
// rotation, risk scoring, and the hard/soft score split consulted by the
// monitor and execution gate.
package metrics

import (
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// RotateAll rotates every window in m that has aged past its duration,
// relative to now.
func RotateAll(m *domain.MailboxMetrics, now time.Time) {
	m.Window1h.Rotate(domain.Window1h, now)
	m.Window24h.Rotate(domain.Window24h, now)
	m.Window7d.Rotate(domain.Window7d, now)
}

// RecordSent increments the sent counters across all three windows. Callers
// are expected to persist via an atomic `UPDATE... SET x = x + 1` rather
// than a read-modify-write; this function
// operates on an in-memory snapshot already read under that discipline.
func RecordSent(m *domain.MailboxMetrics, now time.Time) {
	RotateAll(m, now)
	m.Window1h.Sent++
	m.Window24h.Sent++
	m.Window7d.Sent++
}

// RecordBounce increments the bounce counters. isFailure additionally
// increments the failure counters (distinct from a soft/transient bounce
// that still counts against the bounce ratio but not the failure ratio).
func RecordBounce(m *domain.MailboxMetrics, now time.Time, isFailure bool) {
	RotateAll(m, now)
	m.Window1h.Bounces++
	m.Window24h.Bounces++
	m.Window7d.Bounces++
	if isFailure {
		m.Window1h.Failures++
		m.Window24h.Failures++
		m.Window7d.Failures++
	}
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RiskScore recomputes m.RiskScore and m.Velocity from the current window
// state using a four-term formula (bounce ratio, failure ratio, velocity,
// escalation). It also rolls PrevBounceRate/PrevFailureRate forward for the
// next velocity delta.
func RiskScore(m *domain.MailboxMetrics, consecutivePauses int) float64 {
	// Rates enter the formula as percentages (0-100).
	rate1h := m.Window1h.BounceRate() * 100
	rate24h := m.Window24h.BounceRate() * 100
	fail1h := m.Window1h.FailureRate() * 100
	fail24h := m.Window24h.FailureRate() * 100

	bounceRatio := clamp((rate1h*2+rate24h)*10, 0, 40)
	failureRatio := clamp((fail1h*2+fail24h)*10, 0, 30)

	bounceDelta := rate24h - m.PrevBounceRate
	failureDelta := fail24h - m.PrevFailureRate
	velocity := clamp(bounceDelta*50+failureDelta*30, -100, 100)
	velocityContribution := clamp(velocity*0.2, 0, 20)

	escalation := clamp(float64(3*consecutivePauses), 0, 10)

	score := bounceRatio + failureRatio + velocityContribution + escalation

	m.Velocity = velocity
	m.PrevBounceRate = rate24h
	m.PrevFailureRate = fail24h
	m.RiskScore = clamp(score, 0, 100)
	return m.RiskScore
}

// HardSoft computes the separated hard/soft view consulted by the gate and
// monitor: only the hard score may block execution.
func HardSoft(m *domain.MailboxMetrics, warningCount int) domain.HardSoftScore {
	hard := clamp((0.7*m.Window24h.BounceRate()*100+0.3*m.Window24h.FailureRate()*100)*10, 0, 100)
	soft := m.Velocity*20 + float64(warningCount)*10
	return domain.HardSoftScore{Hard: hard, Soft: soft}
}

// IsHardRiskCritical reports whether the hard score alone should block
// execution: only the hard score may gate sends.
func IsHardRiskCritical(s domain.HardSoftScore) bool {
	return s.Hard >= domain.HardRiskCritical
}
