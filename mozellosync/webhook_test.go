package mozellosync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/mmdatafocus/ebooks_backend/models"
	"github.com/mmdatafocus/ebooks_backend/utils"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func sign(body []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func orderCount(t *testing.T, svc *Service) int64 {
	t.Helper()
	var count int64
	if err := svc.db.Model(&models.MozelloOrder{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc := newTestService(t, newTestDB(t), nil, nil, nil)
	body := []byte(`{"event":"PAYMENT_CHANGED","order":{"email":"b@example.com","payment_status":"paid","cart":[{"product_handle":"book-1"}]}}`)

	_, err := svc.HandleWebhook(context.Background(), body, sign(body, "wrong-key"))
	require.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = svc.HandleWebhook(context.Background(), body, "")
	require.ErrorIs(t, err, ErrSignatureInvalid)

	require.EqualValues(t, 0, orderCount(t, svc), "rejected delivery must not touch the store")
}

func TestHandleWebhookRejectsMalformedPayload(t *testing.T) {
	svc := newTestService(t, newTestDB(t), nil, nil, nil)

	cases := map[string]string{
		"not json":     `{"event":`,
		"no email":     `{"event":"PAYMENT_CHANGED","order":{"payment_status":"paid","cart":[{"product_handle":"book-1"}]}}`,
		"empty cart":   `{"event":"PAYMENT_CHANGED","order":{"email":"b@example.com","payment_status":"paid","cart":[]}}`,
		"missing cart": `{"event":"PAYMENT_CHANGED","order":{"email":"b@example.com","payment_status":"paid"}}`,
	}
	for name, payload := range cases {
		body := []byte(payload)
		_, err := svc.HandleWebhook(context.Background(), body, sign(body, "test-api-key"))
		require.ErrorIs(t, err, ErrPayloadInvalid, name)
	}
	require.EqualValues(t, 0, orderCount(t, svc))
}

func TestHandleWebhookIgnoresOtherEvents(t *testing.T) {
	svc := newTestService(t, newTestDB(t), nil, nil, nil)
	body := []byte(`{"event":"STOCK_CHANGED","order":{"email":"b@example.com","cart":[{"product_handle":"book-1"}]}}`)

	result, err := svc.HandleWebhook(context.Background(), body, sign(body, "test-api-key"))
	require.NoError(t, err)
	require.True(t, result.Ignored)
	require.EqualValues(t, 0, orderCount(t, svc))
}

func TestHandleWebhookPaymentChangedUpserts(t *testing.T) {
	db := newTestDB(t)
	books := &fakeBooks{byHandle: map[string]BookRef{"book-1": {BookId: 7, Title: "First"}}}
	users := &fakeUsers{byEmail: map[string]UserRef{"b@example.com": {UserId: 42, Email: "b@example.com"}}}
	svc := newTestService(t, db, books, users, nil)

	// book-1 appears twice; only one record per distinct handle.
	body := []byte(`{"event":"PAYMENT_CHANGED","order":{"email":"B@Example.com","payment_status":"payment_received","cart":[` +
		`{"product_handle":"book-1"},{"product_handle":"book-1"},{"product_handle":"book-2"}]}}`)

	result, err := svc.HandleWebhook(context.Background(), body, sign(body, "test-api-key"))
	require.NoError(t, err)
	require.Equal(t, 2, result.Upserted)
	require.Equal(t, 2, result.Created)

	orders, err := models.ListOrders(db)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		require.Equal(t, "b@example.com", o.Email)
		require.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
		require.NotNil(t, o.CalibreUserId)
		require.Equal(t, 42, *o.CalibreUserId)
	}

	// Only book-1 resolves; book-2 stays unlinked.
	first, err := models.ListOrders(db)
	require.NoError(t, err)
	var linked, unlinked int
	for _, o := range first {
		if o.CalibreBookId != nil {
			require.Equal(t, 7, *o.CalibreBookId)
			linked++
		} else {
			unlinked++
		}
	}
	require.Equal(t, 1, linked)
	require.Equal(t, 1, unlinked)
}

func TestHandleWebhookRedeliveryIsIdempotent(t *testing.T) {
	svc := newTestService(t, newTestDB(t), nil, nil, nil)
	body := []byte(`{"event":"PAYMENT_CHANGED","order":{"email":"b@example.com","payment_status":"paid","cart":[{"product_handle":"book-1"}]}}`)
	hash := sign(body, "test-api-key")

	first, err := svc.HandleWebhook(context.Background(), body, hash)
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	second, err := svc.HandleWebhook(context.Background(), body, hash)
	require.NoError(t, err)
	require.Equal(t, 0, second.Created)
	require.Equal(t, 1, second.Upserted)
	require.EqualValues(t, 1, orderCount(t, svc))
}

func TestVerifySignatureRequiresKey(t *testing.T) {
	body := []byte(`{}`)
	if VerifySignature(body, sign(body, ""), "") {
		t.Fatal("empty key must never verify")
	}
	if !VerifySignature(body, sign(body, "k"), "k") {
		t.Fatal("valid hash must verify")
	}
}

func TestHandleWebhookLogsValidationFailures(t *testing.T) {
	svc := newTestService(t, newTestDB(t), nil, nil, nil)
	logger, hook := test.NewNullLogger()
	svc.logger = logger

	body := []byte(`{"event":"PAYMENT_CHANGED","order":{"email":"b@example.com","payment_status":"paid","cart":[]}}`)
	_, err := svc.HandleWebhook(context.Background(), body, sign(body, "test-api-key"))
	require.ErrorIs(t, err, ErrPayloadInvalid)

	require.NotEmpty(t, hook.Entries, "rejected payload must leave a log line")
	entry := hook.LastEntry()
	data, ok := entry.Data["data"].(map[string]interface{})
	require.True(t, ok, "log line must carry structured context")
	require.Equal(t, "PAYMENT_CHANGED", data["event"])
	require.Equal(t, utils.HashEmailForLog("b@example.com"), data["email_hash"])
	// The address itself stays out of the logs.
	require.NotContains(t, fmt.Sprint(entry.Data), "b@example.com")

	hook.Reset()
	bad := []byte(`{"event":`)
	_, err = svc.HandleWebhook(context.Background(), bad, sign(bad, "test-api-key"))
	require.ErrorIs(t, err, ErrPayloadInvalid)
	require.NotEmpty(t, hook.Entries, "unparseable payload must leave a log line")
}

func TestHandleWebhookRecordsDeliveriesWhenEnabled(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil, nil, nil)
	body := []byte(`{"event":"PAYMENT_CHANGED","order":{"email":"b@example.com","payment_status":"paid","cart":[{"product_handle":"book-1"}]}}`)

	// Off by default.
	_, err := svc.HandleWebhook(context.Background(), body, sign(body, "test-api-key"))
	require.NoError(t, err)
	entries, err := models.ListNotificationLogs(db, 10)
	require.NoError(t, err)
	require.Empty(t, entries)

	on := true
	_, err = models.UpdateMozelloSettings(db, nil, nil, &on)
	require.NoError(t, err)

	// Accepted-but-ignored events are diagnostics too.
	ignored := []byte(`{"event":"STOCK_CHANGED","order":{}}`)
	_, err = svc.HandleWebhook(context.Background(), ignored, sign(ignored, "test-api-key"))
	require.NoError(t, err)

	entries, err = models.ListNotificationLogs(db, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "STOCK_CHANGED", entries[0].Event)
}
