package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/deliverability-engine/internal/domain"
)

func TestEvaluate_DomainFailureEscalates(t *testing.T) {
	siblings := []SiblingState{
		{Status: domain.StatePaused},
		{Status: domain.StateHealthy, BounceRate: 0.01},
		{Status: domain.StateWarning},
	}
	r := Evaluate(nil, siblings)
	assert.Equal(t, ActionPauseDomain, r.Action)
	assert.Contains(t, r.Reason, "correlation")
}

func TestEvaluate_CampaignConcentrationRedirects(t *testing.T) {
	bounces := make([]BounceRecord, 0, 10)
	for i := 0; i < 9; i++ {
		bounces = append(bounces, BounceRecord{CampaignID: "camp-a"})
	}
	bounces = append(bounces, BounceRecord{CampaignID: "camp-b"})

	r := Evaluate(bounces, nil)
	assert.Equal(t, ActionPauseCampaign, r.Action)
}

func TestEvaluate_ProviderConcentrationRestricts(t *testing.T) {
	bounces := make([]BounceRecord, 0, 10)
	for i := 0; i < 9; i++ {
		bounces = append(bounces, BounceRecord{Provider: domain.ProviderGmail})
	}
	bounces = append(bounces, BounceRecord{Provider: domain.ProviderYahoo})

	r := Evaluate(bounces, nil)
	assert.Equal(t, ActionRestrictProvider, r.Action)
	assert.Equal(t, domain.ProviderGmail, r.Provider)
}

func TestEvaluate_DefaultsToPauseMailbox(t *testing.T) {
	r := Evaluate(nil, nil)
	assert.Equal(t, ActionPauseMailbox, r.Action)
}

func TestEvaluate_OtherProviderNeverRestricted(t *testing.T) {
	bounces := make([]BounceRecord, 0, 10)
	for i := 0; i < 10; i++ {
		bounces = append(bounces, BounceRecord{Provider: domain.ProviderOther})
	}
	r := Evaluate(bounces, nil)
	assert.Equal(t, ActionPauseMailbox, r.Action)
}
