package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/deliverability-engine/internal/domain"
)

func TestRotateAll_ResetsAgedWindows(t *testing.T) {
	now := time.Now()
	m := &domain.MailboxMetrics{
		Window1h:  domain.Window{Sent: 10, Bounces: 2, Start: now.Add(-2 * time.Hour)},
		Window24h: domain.Window{Sent: 10, Bounces: 2, Start: now.Add(-1 * time.Hour)},
		Window7d:  domain.Window{Sent: 10, Bounces: 2, Start: now.Add(-1 * time.Hour)},
	}

	RotateAll(m, now)

	assert.Equal(t, 0, m.Window1h.Sent)
	assert.Equal(t, 10, m.Window24h.Sent, "24h window should not rotate yet")
	assert.Equal(t, 10, m.Window7d.Sent)
}

func TestRecordSent_IncrementsAllWindows(t *testing.T) {
	now := time.Now()
	m := &domain.MailboxMetrics{
		Window1h:  domain.Window{Start: now},
		Window24h: domain.Window{Start: now},
		Window7d:  domain.Window{Start: now},
	}

	RecordSent(m, now)

	assert.Equal(t, 1, m.Window1h.Sent)
	assert.Equal(t, 1, m.Window24h.Sent)
	assert.Equal(t, 1, m.Window7d.Sent)
}

func TestRiskScore_HighBounceRateProducesElevatedScore(t *testing.T) {
	now := time.Now()
	m := &domain.MailboxMetrics{
		Window1h:  domain.Window{Sent: 10, Bounces: 8, Start: now},
		Window24h: domain.Window{Sent: 10, Bounces: 8, Start: now},
		Window7d:  domain.Window{Sent: 10, Bounces: 8, Start: now},
	}

	score := RiskScore(m, 2)

	assert.GreaterOrEqual(t, score, 40.0)
	assert.Equal(t, domain.RiskLevelFor(score), domain.RiskLevelFor(m.RiskScore))
}

func TestHardSoft_CriticalThresholdBlocks(t *testing.T) {
	m := &domain.MailboxMetrics{
		Window24h: domain.Window{Sent: 10, Bounces: 9, Failures: 9},
	}
	s := HardSoft(m, 0)
	assert.True(t, IsHardRiskCritical(s))
}

func TestHardSoft_LowBounceRateDoesNotBlock(t *testing.T) {
	m := &domain.MailboxMetrics{
		Window24h: domain.Window{Sent: 100, Bounces: 1, Failures: 0},
	}
	s := HardSoft(m, 0)
	assert.False(t, IsHardRiskCritical(s))
}
