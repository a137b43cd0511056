package mozellosync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mmdatafocus/ebooks_backend/config"
	"github.com/mmdatafocus/ebooks_backend/models"
	"github.com/mmdatafocus/ebooks_backend/mozello"
	"github.com/mmdatafocus/ebooks_backend/utils"
)

var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrPayloadInvalid   = errors.New("webhook payload invalid")
)

const eventPaymentChanged = "PAYMENT_CHANGED"

// webhookEvent is the platform's notification envelope. Fields beyond the
// event kind and the embedded order are ignored.
type webhookEvent struct {
	Event string        `json:"event"`
	Order mozello.Order `json:"order"`
}

// WebhookResult reports what one delivery did to the store.
type WebhookResult struct {
	Event    string `json:"event"`
	Ignored  bool   `json:"ignored"`
	Upserted int    `json:"upserted"`
	Created  int    `json:"created"`
}

// VerifySignature checks the platform's delivery hash: base64 of the
// HMAC-SHA256 of the raw body under the API key. Constant-time compare.
func VerifySignature(rawBody []byte, providedHash string, apiKey string) bool {
	if apiKey == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(providedHash)))
}

// HandleWebhook processes one delivery. The signature is checked against the
// raw body before any parsing; a failed check leaves the store untouched.
// Event kinds other than PAYMENT_CHANGED are acknowledged without mutation so
// the platform does not retry them.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, providedHash string) (*WebhookResult, error) {
	if !VerifySignature(rawBody, providedHash, s.apiKey) {
		return nil, ErrSignatureInvalid
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		config.LogError(s.logger, "mozellosync", "HandleWebhook", "parse payload", nil, err)
		return nil, ErrPayloadInvalid
	}

	s.recordDelivery(event.Event, rawBody)

	if event.Event != eventPaymentChanged {
		return &WebhookResult{Event: event.Event, Ignored: true}, nil
	}
	if utils.NormalizeEmail(event.Order.Email) == "" || len(event.Order.Cart) == 0 {
		config.LogError(s.logger, "mozellosync", "HandleWebhook", "validate payload", map[string]interface{}{
			"event":      event.Event,
			"email_hash": utils.HashEmailForLog(event.Order.Email),
			"cart_lines": len(event.Order.Cart),
		}, ErrPayloadInvalid)
		return nil, ErrPayloadInvalid
	}

	upserted, created, err := s.ingestOrder(ctx, event.Order)
	if err != nil {
		return nil, err
	}
	return &WebhookResult{Event: event.Event, Upserted: upserted, Created: created}, nil
}

// ingestOrder feeds one remote order through the idempotent upsert path and
// reconciles the affected records. Both webhook and import land here so the
// two paths cannot drift.
func (s *Service) ingestOrder(ctx context.Context, order mozello.Order) (upserted int, created int, err error) {
	status := models.NormalizePaymentStatus(order.PaymentStatus)

	seen := make(map[string]struct{}, len(order.Cart))
	affected := make([]int, 0, len(order.Cart))
	for _, line := range order.Cart {
		handle := strings.TrimSpace(line.ProductHandle)
		if handle == "" {
			continue
		}
		key := strings.ToLower(handle)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		record, wasCreated, upsertErr := models.UpsertOrderPayment(s.db, order.Email, handle, status)
		if upsertErr != nil {
			return upserted, created, upsertErr
		}
		upserted++
		if wasCreated {
			created++
		}
		affected = append(affected, record.ID)
		models.InvalidateEntitlementCache(record.CalibreUserId)
	}

	if len(affected) > 0 {
		if recErr := s.reconcileIds(ctx, affected); recErr != nil {
			// Links can be repaired by the next sweep; the records are in.
			config.LogError(s.logger, "mozellosync", "ingestOrder", "reconcile affected records", affected, recErr)
		}
	}
	return upserted, created, nil
}

// recordDelivery appends an authenticated, parseable delivery to the rolling
// diagnostics log when the admin has switched it on. Best effort; diagnostics
// never block ingestion.
func (s *Service) recordDelivery(event string, rawBody []byte) {
	settings, err := models.GetMozelloSettings(s.db)
	if err != nil || !settings.LogPayloads {
		return
	}
	if err := models.AddNotificationLog(s.db, event, rawBody); err != nil {
		config.LogError(s.logger, "mozellosync", "recordDelivery", "append notification log", event, err)
	}
}
