// Package correlation implements the pre-pause correlation check: before a
// mailbox is paused, look for a broader pattern
// (domain-wide failure, campaign concentration, provider concentration)
// that should redirect the action instead of pausing just the one mailbox.
package correlation

import (
	"fmt"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// Action is the correlation service's disposition.
type Action string

const (
	ActionPauseDomain      Action = "pause_domain"
	ActionPauseCampaign    Action = "pause_campaign"
	ActionRestrictProvider Action = "restrict_provider"
	ActionPauseMailbox     Action = "pause_mailbox"
)

// BounceRecord is one bounce event within the trailing 24h window for a
// mailbox, as fetched by the caller from the event store.
type BounceRecord struct {
	CampaignID string
	Provider   domain.EmailProvider
}

// SiblingState is the minimal view of a sibling mailbox on the same domain
// the correlation check needs.
type SiblingState struct {
	Status     domain.HealthState
	BounceRate float64
}

// Result carries the disposition plus the human-readable reason recorded in
// the state transition trail.
type Result struct {
	Action Action
	Reason string

	// Provider is set only when Action == ActionRestrictProvider.
	Provider domain.EmailProvider
}

// Evaluate implements the four-branch correlation decision. recentBounces
// is the mailbox's own trailing-24h bounce records; siblings is every other
// mailbox on the same domain.
func Evaluate(recentBounces []BounceRecord, siblings []SiblingState) Result {
	if r, ok := checkDomainFailure(siblings); ok {
		return r
	}
	if r, ok := checkCampaignConcentration(recentBounces); ok {
		return r
	}
	if r, ok := checkProviderConcentration(recentBounces); ok {
		return r
	}
	return Result{Action: ActionPauseMailbox, Reason: "no correlation found; pausing mailbox directly"}
}

func checkDomainFailure(siblings []SiblingState) (Result, bool) {
	if len(siblings) < 2 {
		return Result{}, false
	}
	failing := 0
	for _, s := range siblings {
		if s.Status == domain.StatePaused || s.Status == domain.StateWarning || s.BounceRate > 0.05 {
			failing++
		}
	}
	ratio := float64(failing) / float64(len(siblings))
	if ratio >= 0.5 {
		return Result{
			Action: ActionPauseDomain,
			Reason: fmt.Sprintf("correlation: %d/%d sibling mailboxes failing (%.0f%%), escalating to domain pause",
				failing, len(siblings), ratio*100),
		}, true
	}
	return Result{}, false
}

func checkCampaignConcentration(recentBounces []BounceRecord) (Result, bool) {
	if len(recentBounces) == 0 {
		return Result{}, false
	}
	counts := map[string]int{}
	for _, b := range recentBounces {
		if b.CampaignID != "" {
			counts[b.CampaignID]++
		}
	}
	if len(counts) < 2 {
		return Result{}, false
	}
	var topCampaign string
	topCount := 0
	for c, n := range counts {
		if n > topCount {
			topCampaign, topCount = c, n
		}
	}
	ratio := float64(topCount) / float64(len(recentBounces))
	if ratio >= 0.8 {
		return Result{
			Action: ActionPauseCampaign,
			Reason: fmt.Sprintf("correlation: %.0f%% of recent bounces concentrated on campaign %s across %d campaigns",
				ratio*100, topCampaign, len(counts)),
		}, true
	}
	return Result{}, false
}

func checkProviderConcentration(recentBounces []BounceRecord) (Result, bool) {
	if len(recentBounces) == 0 {
		return Result{}, false
	}
	counts := map[domain.EmailProvider]int{}
	for _, b := range recentBounces {
		if b.Provider != "" && b.Provider != domain.ProviderOther {
			counts[b.Provider]++
		}
	}
	var topProvider domain.EmailProvider
	topCount := 0
	for p, n := range counts {
		if n > topCount {
			topProvider, topCount = p, n
		}
	}
	if topCount == 0 {
		return Result{}, false
	}
	ratio := float64(topCount) / float64(len(recentBounces))
	if ratio >= 0.8 {
		return Result{
			Action:   ActionRestrictProvider,
			Provider: topProvider,
			Reason: fmt.Sprintf("correlation: %.0f%% of recent bounces concentrated on provider %s, restricting instead of pausing",
				ratio*100, topProvider),
		}, true
	}
	return Result{}, false
}
