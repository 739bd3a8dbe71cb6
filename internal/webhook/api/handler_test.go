package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoveryops/internal/common/money"
	"recoveryops/internal/invoice"
	"recoveryops/internal/notify"
	"recoveryops/internal/organization"
	"recoveryops/internal/reconcile"
	tu "recoveryops/internal/testutil"
	"recoveryops/internal/webhook"
)

const secret = "whsec_handler_test"

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func setup(t *testing.T, signingSecret string) (*tu.MemStore, *recorder, http.Handler) {
	t.Helper()

	store := tu.NewMemStore()
	acct := "acct_serenity"
	store.AddOrganization(organization.Organization{
		ID:                 "org_serenity",
		Name:               "Serenity House",
		ContactEmail:       "director@serenity.example",
		ProcessorAccountID: &acct,
	})
	inv, err := invoice.New("inv_march", "org_serenity", "res_1", money.New(45000, money.USD))
	require.NoError(t, err)
	store.AddInvoice(*inv)

	rec := &recorder{}
	engine := reconcile.NewEngine(store, nil, tu.Logger())
	h := NewHandler(webhook.NewAuthenticator(signingSecret, 0), engine, rec, time.Second, tu.Logger())
	return store, rec, h
}

func paymentBody(t *testing.T, eventID string) []byte {
	t.Helper()
	return tu.EventJSON(t, eventID, reconcile.KindPaymentSucceeded, "acct_serenity", tu.PaymentIntent("pi_1", 45000, map[string]string{
		reconcile.MetaOrganizationID: "org_serenity",
		reconcile.MetaInvoiceID:      "inv_march",
	}, "resident@example.com"))
}

func post(h http.Handler, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(webhook.SignatureHeader, sig)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestHandler_SignedPayment(t *testing.T) {
	store, rec, h := setup(t, secret)
	body := paymentBody(t, "evt_1")

	rr := post(h, body, tu.Sign(secret, body))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	assert.Equal(t, "evt_1", resp.EventID)
	assert.Equal(t, reconcile.StatusProcessed, resp.Outcome)

	inv, ok := store.Invoice("inv_march")
	require.True(t, ok)
	assert.Zero(t, inv.AmountDue)
	assert.Equal(t, invoice.StatusPaid, inv.Status)

	require.Len(t, rec.sent, 1)
	assert.Equal(t, notify.KindReceipt, rec.sent[0].Kind)
	assert.Equal(t, "resident@example.com", rec.sent[0].To)

	t.Run("redelivery is acknowledged without reapplying", func(t *testing.T) {
		rr := post(h, body, tu.Sign(secret, body))
		require.Equal(t, http.StatusOK, rr.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, reconcile.StatusDuplicate, resp.Outcome)
		assert.Len(t, store.Payments(), 1)
		assert.Len(t, rec.sent, 1)
	})
}

func TestHandler_RejectsUnverifiedRequests(t *testing.T) {
	tests := []struct {
		name string
		sig  func(body []byte) string
		code string
	}{
		{"unsigned", func([]byte) string { return "" }, "MISSING_SIGNATURE"},
		{"wrong secret", func(b []byte) string { return tu.Sign("whsec_attacker", b) }, "INVALID_SIGNATURE"},
		{"garbage header", func([]byte) string { return "t=1,v1=deadbeef" }, "INVALID_SIGNATURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, rec, h := setup(t, secret)
			body := paymentBody(t, "evt_forged")

			rr := post(h, body, tt.sig(body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.code, errorCode(t, rr))
			assert.Zero(t, store.Accesses())
			assert.Empty(t, rec.sent)

			inv, _ := store.Invoice("inv_march")
			assert.Equal(t, int64(45000), inv.AmountDue)
		})
	}
}

func TestHandler_BodyModifiedAfterSigning(t *testing.T) {
	store, _, h := setup(t, secret)
	body := paymentBody(t, "evt_1")
	sig := tu.Sign(secret, body)

	tampered := bytes.Replace(body, []byte("45000"), []byte("1"), 1)
	rr := post(h, tampered, sig)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, store.Accesses())
}

func TestHandler_OversizedBody(t *testing.T) {
	store, _, h := setup(t, secret)
	body := []byte(`{"pad":"` + strings.Repeat("x", MaxBodyBytes) + `"}`)

	rr := post(h, body, tu.Sign(secret, body))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, store.Accesses())
}

func TestHandler_NoSecretConfigured(t *testing.T) {
	store, _, h := setup(t, "")
	body := paymentBody(t, "evt_1")

	rr := post(h, body, tu.Sign(secret, body))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Zero(t, store.Accesses())
}

func TestHandler_TransientFailure(t *testing.T) {
	store, rec, h := setup(t, secret)
	store.FailNext(errors.New("connection reset"))
	body := paymentBody(t, "evt_1")

	rr := post(h, body, tu.Sign(secret, body))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "PROCESSING_FAILED", errorCode(t, rr))
	assert.Empty(t, rec.sent)

	_, ok := store.Event("evt_1")
	assert.False(t, ok)

	rr = post(h, body, tu.Sign(secret, body))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, store.Payments(), 1)
}
