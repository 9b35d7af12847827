package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// --- in-memory fakes ---

type fakeEventStore struct {
	mu     sync.Mutex
	rows   map[string]*domain.RawEvent
	byIdem map[string]string
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{rows: map[string]*domain.RawEvent{}, byIdem: map[string]string{}}
}

func (f *fakeEventStore) Store(ctx context.Context, e *domain.RawEvent) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.IdempotencyKey != nil {
		if id, ok := f.byIdem[*e.IdempotencyKey]; ok {
			return id, false, nil
		}
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	cp := *e
	f.rows[e.ID] = &cp
	if e.IdempotencyKey != nil {
		f.byIdem[*e.IdempotencyKey] = e.ID
	}
	return e.ID, true, nil
}
func (f *fakeEventStore) MarkProcessed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.Processed = true
	}
	return nil
}
func (f *fakeEventStore) MarkFailed(ctx context.Context, id string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.RetryCount++
		msg := cause.Error()
		r.ErrorMessage = &msg
	}
	return nil
}
func (f *fakeEventStore) Unprocessed(ctx context.Context, orgID string, limit int) ([]domain.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RawEvent
	for _, r := range f.rows {
		if r.OrganizationID == orgID && r.Retryable() {
			out = append(out, *r)
		}
	}
	return out, nil
}
func (f *fakeEventStore) ForReplay(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, from *time.Time) ([]domain.RawEvent, error) {
	return nil, nil
}
func (f *fakeEventStore) Get(ctx context.Context, id string) (*domain.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}
func (f *fakeEventStore) DeadLettered(ctx context.Context, orgID string, limit int) ([]domain.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RawEvent
	for _, r := range f.rows {
		if r.OrganizationID == orgID && !r.Processed && r.RetryCount >= domain.MaxEventRetries {
			out = append(out, *r)
		}
	}
	return out, nil
}
func (f *fakeEventStore) ResetRetry(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.RetryCount = 0
		r.ErrorMessage = nil
	}
	return nil
}

type fakeOrgRepo struct{ byID map[string]*domain.Organization }

func (f *fakeOrgRepo) Get(ctx context.Context, id string) (*domain.Organization, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}
func (f *fakeOrgRepo) GetByWebhookSecret(ctx context.Context, secret string) (*domain.Organization, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeOrgRepo) Update(ctx context.Context, org *domain.Organization) error { return nil }
func (f *fakeOrgRepo) ListAll(ctx context.Context) ([]domain.Organization, error) {
	var out []domain.Organization
	for _, o := range f.byID {
		out = append(out, *o)
	}
	return out, nil
}

type fakeAuditLogs struct{ rows []domain.AuditLog }

func (f *fakeAuditLogs) Record(ctx context.Context, a *domain.AuditLog) error {
	f.rows = append(f.rows, *a)
	return nil
}
func (f *fakeAuditLogs) ListByEntity(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, limit int) ([]domain.AuditLog, error) {
	return f.rows, nil
}

func TestHandler_UnknownEventTypeIsSkippedNotErrored(t *testing.T) {
	orgs := &fakeOrgRepo{byID: map[string]*domain.Organization{"org-1": {ID: "org-1", SystemMode: domain.ModeObserve}}}
	h := &Handler{Monitor: &monitor.Monitor{}, Organizations: orgs}

	err := h.Handle(context.Background(), &domain.RawEvent{OrganizationID: "org-1", EventType: "SOMETHING_NEW"})
	require.NoError(t, err)
}

func TestHandler_SpamComplaintAudited(t *testing.T) {
	orgs := &fakeOrgRepo{byID: map[string]*domain.Organization{"org-1": {ID: "org-1", SystemMode: domain.ModeObserve}}}
	audits := &fakeAuditLogs{}
	h := &Handler{Monitor: &monitor.Monitor{}, Organizations: orgs, AuditLogs: audits}

	err := h.Handle(context.Background(), &domain.RawEvent{
		OrganizationID: "org-1", EventType: domain.EventSpamComplaint,
		EntityType: domain.EntityMailbox, EntityID: "mb-1",
	})
	require.NoError(t, err)
	require.Len(t, audits.rows, 1)
	assert.Equal(t, "spam_complaint_recorded", audits.rows[0].Action)
}

func TestQueue_EnqueueSync_IdempotentDuplicateIsNoOp(t *testing.T) {
	orgs := &fakeOrgRepo{byID: map[string]*domain.Organization{"org-1": {ID: "org-1", SystemMode: domain.ModeObserve}}}
	store := newFakeEventStore()
	q := &Queue{Store: store, Handler: &Handler{Monitor: &monitor.Monitor{}, Organizations: orgs}}

	key := "eb-dup-1"
	ev1 := &domain.RawEvent{OrganizationID: "org-1", EventType: "UNROUTED", IdempotencyKey: &key}
	ev2 := &domain.RawEvent{OrganizationID: "org-1", EventType: "UNROUTED", IdempotencyKey: &key}

	require.NoError(t, q.EnqueueSync(context.Background(), ev1))
	require.NoError(t, q.EnqueueSync(context.Background(), ev2))

	assert.Equal(t, ev1.ID, ev2.ID)
	assert.Len(t, store.rows, 1)
}

func TestDLQ_RetryResetsAndReprocesses(t *testing.T) {
	orgs := &fakeOrgRepo{byID: map[string]*domain.Organization{"org-1": {ID: "org-1", SystemMode: domain.ModeObserve}}}
	store := newFakeEventStore()
	audits := &fakeAuditLogs{}
	h := &Handler{Monitor: &monitor.Monitor{}, Organizations: orgs, AuditLogs: audits}
	q := &Queue{Store: store, Handler: h}
	dlq := &DLQ{Queue: q}

	id, _, err := store.Store(context.Background(), &domain.RawEvent{
		OrganizationID: "org-1", EventType: domain.EventSpamComplaint,
		EntityType: domain.EntityMailbox, EntityID: "mb-1", RetryCount: domain.MaxEventRetries,
	})
	require.NoError(t, err)

	dead, err := dlq.List(context.Background(), "org-1", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	require.NoError(t, dlq.Retry(context.Background(), id))

	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Equal(t, 0, got.RetryCount)
}

func TestIngestor_ParseEventsEnvelope(t *testing.T) {
	body := []byte(`{"events":[{"id":"123","event_type":"HARD_BOUNCE","email_account_id":"mb-1","smtp_response":"550 5.1.1"}]}`)
	events, err := Ingestor{}.Parse("org-1", body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventHardBounce, events[0].EventType)
	assert.Equal(t, "mb-1", events[0].EntityID)
	assert.Equal(t, "eb-123", *events[0].IdempotencyKey)
}

func TestIngestor_ParseBareArray(t *testing.T) {
	body := []byte(`[{"event_type":"EMAIL_SENT","email_account_id":"mb-2","campaign_id":"camp-1"}]`)
	events, err := Ingestor{}.Parse("org-1", body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventEmailSent, events[0].EventType)
	assert.Equal(t, "camp-1", events[0].Payload["campaign_id"])
}

func TestIngestor_ParseSingleObject(t *testing.T) {
	body := []byte(`{"event_type":"BOUNCE","email_account_id":"mb-3"}`)
	events, err := Ingestor{}.Parse("org-1", body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "mb-3", events[0].EntityID)
}

func TestIngestor_MissingRequiredFieldsSkipped(t *testing.T) {
	body := []byte(`{"events":[{"event_type":"BOUNCE"}]}`)
	events, err := Ingestor{}.Parse("org-1", body)
	require.NoError(t, err)
	assert.Len(t, events, 0)
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	assert.Equal(t, RetryBaseDelay, BackoffDelay(1))
	assert.Equal(t, RetryMaxDelay, BackoffDelay(10))
}
