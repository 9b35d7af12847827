package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/repository"
)

type fakeOrgs struct{ byID map[string]*domain.Organization }

func (f *fakeOrgs) Get(ctx context.Context, id string) (*domain.Organization, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}
func (f *fakeOrgs) GetByWebhookSecret(ctx context.Context, secret string) (*domain.Organization, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeOrgs) Update(ctx context.Context, o *domain.Organization) error { return nil }
func (f *fakeOrgs) ListAll(ctx context.Context) ([]domain.Organization, error) { return nil, nil }

type fakeCampaigns struct{ byID map[string]*domain.Campaign }

func (f *fakeCampaigns) Get(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}
func (f *fakeCampaigns) Create(ctx context.Context, c *domain.Campaign) error { return nil }
func (f *fakeCampaigns) Update(ctx context.Context, c *domain.Campaign) error { return nil }
func (f *fakeCampaigns) ListActiveByOrg(ctx context.Context, orgID string) ([]domain.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaigns) ListByMailbox(ctx context.Context, orgID, mailboxID string) ([]domain.Campaign, error) {
	return nil, nil
}

type fakeMailboxes struct{ byID map[string]*domain.Mailbox }

func (f *fakeMailboxes) Get(ctx context.Context, orgID, id string) (*domain.Mailbox, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}
func (f *fakeMailboxes) GetByEmail(ctx context.Context, orgID, email string) (*domain.Mailbox, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeMailboxes) Create(ctx context.Context, m *domain.Mailbox) error { return nil }
func (f *fakeMailboxes) Update(ctx context.Context, m *domain.Mailbox) error { return nil }
func (f *fakeMailboxes) ListByDomain(ctx context.Context, orgID, domainID string) ([]domain.Mailbox, error) {
	return nil, nil
}
func (f *fakeMailboxes) ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]domain.Mailbox, error) {
	var out []domain.Mailbox
	for _, m := range f.byID {
		out = append(out, *m)
	}
	return out, nil
}
func (f *fakeMailboxes) ListPausedBefore(ctx context.Context, orgID string, cutoff int64) ([]domain.Mailbox, error) {
	return nil, nil
}
func (f *fakeMailboxes) ListForMetricsRefresh(ctx context.Context, orgID string, batchSize int) ([]domain.Mailbox, error) {
	return nil, nil
}

type fakeMailboxMetrics struct{ byMailbox map[string]*domain.MailboxMetrics }

func (f *fakeMailboxMetrics) Get(ctx context.Context, orgID, mailboxID string) (*domain.MailboxMetrics, error) {
	m, ok := f.byMailbox[mailboxID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}
func (f *fakeMailboxMetrics) Upsert(ctx context.Context, orgID, mailboxID string, m *domain.MailboxMetrics) error {
	return nil
}

type fakeDomains struct{ byID map[string]*domain.DomainEntity }

func (f *fakeDomains) Get(ctx context.Context, orgID, id string) (*domain.DomainEntity, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}
func (f *fakeDomains) GetByName(ctx context.Context, orgID, name string) (*domain.DomainEntity, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeDomains) Create(ctx context.Context, d *domain.DomainEntity) error { return nil }
func (f *fakeDomains) Update(ctx context.Context, d *domain.DomainEntity) error { return nil }
func (f *fakeDomains) ListByOrg(ctx context.Context, orgID string) ([]domain.DomainEntity, error) {
	return nil, nil
}

type fakeAuditLogs struct{ rows []domain.AuditLog }

func (f *fakeAuditLogs) Record(ctx context.Context, a *domain.AuditLog) error {
	f.rows = append(f.rows, *a)
	return nil
}
func (f *fakeAuditLogs) ListByEntity(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, limit int) ([]domain.AuditLog, error) {
	return f.rows, nil
}

type fakeNotifications struct{ rows []domain.Notification }

func (f *fakeNotifications) Create(ctx context.Context, n *domain.Notification) (bool, error) {
	f.rows = append(f.rows, *n)
	return true, nil
}
func (f *fakeNotifications) ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]domain.Notification, error) {
	return f.rows, nil
}

type fakeLeads struct{ byID map[string]*domain.Lead }

func (f *fakeLeads) Get(ctx context.Context, orgID, id string) (*domain.Lead, error) {
	l, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}
func (f *fakeLeads) Create(ctx context.Context, l *domain.Lead) error { return nil }
func (f *fakeLeads) Update(ctx context.Context, l *domain.Lead) error { return nil }
func (f *fakeLeads) ListActiveByMailbox(ctx context.Context, orgID, mailboxID string) ([]domain.Lead, error) {
	return nil, nil
}
func (f *fakeLeads) ListByCampaign(ctx context.Context, orgID, campaignID string, limit, offset int) ([]domain.Lead, error) {
	return nil, nil
}
func (f *fakeLeads) CountByState(ctx context.Context, orgID, campaignID string, state domain.LeadState) (int, error) {
	return 0, nil
}

func newTestGate() (*Gate, *fakeOrgs, *fakeCampaigns, *fakeMailboxes, *fakeMailboxMetrics, *fakeDomains) {
	orgs := &fakeOrgs{byID: map[string]*domain.Organization{}}
	campaigns := &fakeCampaigns{byID: map[string]*domain.Campaign{}}
	mailboxes := &fakeMailboxes{byID: map[string]*domain.Mailbox{}}
	mm := &fakeMailboxMetrics{byMailbox: map[string]*domain.MailboxMetrics{}}
	domains := &fakeDomains{byID: map[string]*domain.DomainEntity{}}

	g := &Gate{
		Organizations:  orgs,
		Campaigns:      campaigns,
		Mailboxes:      mailboxes,
		MailboxMetrics: mm,
		Domains:        domains,
		AuditLogs:      &fakeAuditLogs{},
		Notifications:  &fakeNotifications{},
	}
	return g, orgs, campaigns, mailboxes, mm, domains
}

func seedHealthy(g *Gate, orgs *fakeOrgs, campaigns *fakeCampaigns, mailboxes *fakeMailboxes, mm *fakeMailboxMetrics, domains *fakeDomains) {
	orgs.byID["org-1"] = &domain.Organization{ID: "org-1", SystemMode: domain.ModeEnforce, AssessmentCompleted: true}
	campaigns.byID["camp-1"] = &domain.Campaign{ID: "camp-1", OrganizationID: "org-1", Status: domain.CampaignActive, MailboxIDs: []string{"mb-1"}}
	mailboxes.byID["mb-1"] = &domain.Mailbox{ID: "mb-1", OrganizationID: "org-1", DomainID: "dom-1", Status: domain.StateHealthy}
	domains.byID["dom-1"] = &domain.DomainEntity{ID: "dom-1", OrganizationID: "org-1", Status: domain.StateHealthy}
	mm.byMailbox["mb-1"] = &domain.MailboxMetrics{MailboxID: "mb-1"}
}

func TestCanExecuteLead_AllChecksPassInEnforceMode(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Checks.HealthyMailboxFound)
	assert.True(t, res.Checks.RiskAcceptable)
}

func TestCanExecuteLead_NoHealthyMailboxBlocks(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	mb := mailboxes.byID["mb-1"]
	mb.Status = domain.StatePaused
	until := time.Now().Add(time.Hour)
	mb.CooldownUntil = &until

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, FailureHealthIssue, res.FailureType)
	assert.False(t, res.Checks.HealthyMailboxFound)
}

func TestCanExecuteLead_InactiveCampaignBlocks(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	campaigns.byID["camp-1"].Status = domain.CampaignPaused

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, FailureSyncIssue, res.FailureType)
}

func TestCanExecuteLead_ObserveModeAlwaysAllows(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	orgs.byID["org-1"].SystemMode = domain.ModeObserve
	campaigns.byID["camp-1"].Status = domain.CampaignPaused

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "observe mode must always allow")
}

func TestCanExecuteLead_SuggestModeAllowsWithRecommendation(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	orgs.byID["org-1"].SystemMode = domain.ModeSuggest
	campaigns.byID["camp-1"].Status = domain.CampaignPaused

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.NotEmpty(t, res.Recommendations)
}

func TestCanExecuteLead_CriticalHardRiskBlocks(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	mm.byMailbox["mb-1"].Window24h = domain.Window{Sent: 100, Bounces: 90, Failures: 90}

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, FailureHealthIssue, res.FailureType)
	assert.False(t, res.Checks.RiskAcceptable)
}

func TestCanExecuteLead_InfraResilienceHardBlock(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	g.OverallInfraResilience = func(ctx context.Context, orgID string) (int, error) { return 10, nil }

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, FailureInfraIssue, res.FailureType)
	assert.True(t, res.Retryable)
}

func TestCanExecuteLead_AssessmentNotCompletedBlocksAllModes(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	orgs.byID["org-1"].AssessmentCompleted = false

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.False(t, res.Checks.AssessmentCompleted)
	assert.False(t, res.Allowed)
}

func TestCanExecuteLead_CompletedLeadBlocks(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	leads := &fakeLeads{byID: map[string]*domain.Lead{
		"lead-1": {ID: "lead-1", OrganizationID: "org-1", Status: domain.LeadCompleted},
	}}
	g.Leads = leads

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.False(t, res.Checks.LeadEligible)
	assert.Equal(t, FailureSyncIssue, res.FailureType)
}

func TestCanExecuteLead_UnknownLeadBlocks(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	g.Leads = &fakeLeads{byID: map[string]*domain.Lead{}}

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "missing-lead")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "lead not found", res.Reason)
}

func TestCanExecuteLead_ActiveLeadPasses(t *testing.T) {
	g, orgs, campaigns, mailboxes, mm, domains := newTestGate()
	seedHealthy(g, orgs, campaigns, mailboxes, mm, domains)
	g.Leads = &fakeLeads{byID: map[string]*domain.Lead{
		"lead-1": {ID: "lead-1", OrganizationID: "org-1", Status: domain.LeadActive},
	}}

	res, err := g.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Checks.LeadEligible)
}
