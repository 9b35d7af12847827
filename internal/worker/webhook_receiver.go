package worker

import (
	"encoding/json"
	"fmt"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// Ingestor parses inbound sending-platform webhook bodies into RawEvents.
// It accepts any of the envelope shapes named below: {events:[...]},
// a bare JSON array, or a single JSON object.
type Ingestor struct{}

// rawWebhookEvent is the generic field set extracted from a webhook
// payload, named after the keys common to sending-platform webhooks
// regardless of which platform sent them.
type rawWebhookEvent struct {
	ID             string                 `json:"id"`
	EventType      string                 `json:"event_type"`
	EmailAccountID string                 `json:"email_account_id"`
	CampaignID     string                 `json:"campaign_id"`
	RecipientEmail string                 `json:"recipient_email"`
	SMTPResponse   string                 `json:"smtp_response"`
	BounceReason   string                 `json:"bounce_reason"`
	raw            map[string]interface{}
}

// Parse extracts zero or more RawEvents from a webhook body for the given
// organization. Malformed individual events are skipped rather than
// failing the whole batch — webhooks must always respond 200 OK, so
// partial parse failures must not become errors here.
func (Ingestor) Parse(orgID string, body []byte) ([]domain.RawEvent, error) {
	var envelope struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Events) > 0 {
		return parseAll(orgID, envelope.Events)
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(body, &asArray); err == nil {
		return parseAll(orgID, asArray)
	}

	var single json.RawMessage = body
	events, err := parseAll(orgID, []json.RawMessage{single})
	if err != nil {
		return nil, fmt.Errorf("ingestor: unrecognized webhook envelope: %w", err)
	}
	return events, nil
}

func parseAll(orgID string, items []json.RawMessage) ([]domain.RawEvent, error) {
	var out []domain.RawEvent
	for _, item := range items {
		ev, ok := parseOne(orgID, item)
		if ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func parseOne(orgID string, item json.RawMessage) (domain.RawEvent, bool) {
	var raw rawWebhookEvent
	if err := json.Unmarshal(item, &raw); err != nil {
		return domain.RawEvent{}, false
	}
	_ = json.Unmarshal(item, &raw.raw)

	if raw.EventType == "" || raw.EmailAccountID == "" {
		return domain.RawEvent{}, false
	}

	externalID := raw.ID
	if externalID == "" {
		externalID = fmt.Sprintf("eb-%s-%s", raw.EmailAccountID, raw.EventType)
	} else {
		externalID = "eb-" + externalID
	}

	payload := map[string]interface{}{
		"campaign_id":     raw.CampaignID,
		"recipient_email": raw.RecipientEmail,
		"smtp_response":   raw.SMTPResponse,
		"bounce_reason":   raw.BounceReason,
	}
	for k, v := range raw.raw {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}

	return domain.RawEvent{
		OrganizationID: orgID,
		EventType:      domain.EventType(raw.EventType),
		EntityType:     domain.EntityMailbox,
		EntityID:       raw.EmailAccountID,
		Payload:        payload,
		IdempotencyKey: &externalID,
	}, true
}
