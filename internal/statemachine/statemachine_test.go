package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/deliverability-engine/internal/domain"
)

func TestCanTransitionHealth_TableBoundaries(t *testing.T) {
	assert.True(t, CanTransitionHealth(domain.StateHealthy, domain.StateWarning))
	assert.True(t, CanTransitionHealth(domain.StateHealthy, domain.StatePaused))
	assert.False(t, CanTransitionHealth(domain.StateHealthy, domain.StateQuarantine))
	assert.False(t, CanTransitionHealth(domain.StatePaused, domain.StateHealthy))
	assert.True(t, CanTransitionHealth(domain.StatePaused, domain.StateQuarantine))
	assert.True(t, CanTransitionHealth(domain.StateWarming, domain.StateHealthy))
}

func TestCanTransitionLead_CompletedIsTerminal(t *testing.T) {
	assert.True(t, CanTransitionLead(domain.LeadHeld, domain.LeadActive))
	assert.True(t, CanTransitionLead(domain.LeadActive, domain.LeadCompleted))
	assert.False(t, CanTransitionLead(domain.LeadCompleted, domain.LeadActive))
}

func TestCooldownFor_MonotonicAndCapped(t *testing.T) {
	assert.Equal(t, time.Hour, CooldownFor(0))
	assert.Equal(t, 2*time.Hour, CooldownFor(1))
	assert.Equal(t, 4*time.Hour, CooldownFor(2))
	assert.Equal(t, 16*time.Hour, CooldownFor(4)) // 1h*2^4=16h hits the cap exactly
	assert.Equal(t, 16*time.Hour, CooldownFor(10))
}

func TestApplyHealthTransition_PauseSetsCooldownAndDecrementsResilience(t *testing.T) {
	now := time.Now()
	eff, err := ApplyHealthTransition(domain.StateHealthy, domain.StatePaused, now, 0, 50)
	require.NoError(t, err)
	require.NotNil(t, eff.CooldownUntil)
	assert.WithinDuration(t, now.Add(time.Hour), *eff.CooldownUntil, time.Second)
	assert.Equal(t, 1, eff.ConsecutivePauses)
	assert.Equal(t, -15, eff.ResilienceScoreDelta)
	assert.Equal(t, 0, eff.CleanSendsSincePhase)
}

func TestApplyHealthTransition_ResilienceFloorsAtZero(t *testing.T) {
	eff, err := ApplyHealthTransition(domain.StateHealthy, domain.StatePaused, time.Now(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, -5, eff.ResilienceScoreDelta)
}

func TestApplyHealthTransition_HealthyClearsCooldownAndResetsPauses(t *testing.T) {
	eff, err := ApplyHealthTransition(domain.StateWarming, domain.StateHealthy, time.Now(), 3, 60)
	require.NoError(t, err)
	assert.Nil(t, eff.CooldownUntil)
	assert.Equal(t, 0, eff.ConsecutivePauses)
}

func TestApplyHealthTransition_InvalidPairRejected(t *testing.T) {
	_, err := ApplyHealthTransition(domain.StateHealthy, domain.StateQuarantine, time.Now(), 0, 50)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
