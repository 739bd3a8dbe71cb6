package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoveryops/internal/common/metrics"
	"recoveryops/internal/common/money"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func receipt() Notification {
	amount := money.New(45000, money.USD)
	return Notification{
		Kind:           KindReceipt,
		EventID:        "evt_1",
		OrganizationID: "org_1",
		To:             "resident@example.com",
		PaymentID:      "pi_1",
		Amount:         &amount,
	}
}

func TestFire_DeliversAll(t *testing.T) {
	sender := &recordingSender{}
	notifier := NewEmailNotifier(sender, "payments@example.com", "ops@example.com", discardLogger())

	alert := Notification{Kind: KindIntegrityAlert, EventID: "evt_2", Reason: "invalid_amount"}
	Fire(context.Background(), notifier, discardLogger(), time.Second, []Notification{receipt(), alert})

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "resident@example.com", sender.sent[0].To)
	assert.Equal(t, "Payment receipt", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].HTML, "$450.00")
	assert.Equal(t, "ops@example.com", sender.sent[1].To)
	assert.Contains(t, sender.sent[1].Subject, "invalid_amount")
}

func TestFire_SurvivesPanicsAndErrors(t *testing.T) {
	failedBefore := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(string(KindDisputeAlert), "failed"))

	calls := 0
	notifier := NotifierFunc(func(context.Context, Notification) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return errors.New("smtp down")
	})

	assert.NotPanics(t, func() {
		Fire(context.Background(), notifier, discardLogger(), time.Second, []Notification{
			{Kind: KindDisputeAlert, EventID: "evt_1"},
			{Kind: KindDisputeAlert, EventID: "evt_2"},
		})
	})
	assert.Equal(t, 2, calls)

	failedAfter := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(string(KindDisputeAlert), "failed"))
	assert.Equal(t, failedBefore+2, failedAfter)
}

func TestFire_DetachedFromCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr error
	notifier := NotifierFunc(func(ctx context.Context, _ Notification) error {
		sawErr = ctx.Err()
		return nil
	})

	Fire(ctx, notifier, discardLogger(), time.Second, []Notification{receipt()})
	assert.NoError(t, sawErr)
}

func TestFire_NilNotifier(t *testing.T) {
	before := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(string(KindReceipt), "skipped"))
	Fire(context.Background(), nil, discardLogger(), 0, []Notification{receipt()})
	after := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(string(KindReceipt), "skipped"))
	assert.Equal(t, before+1, after)
}

func TestEmailNotifier_NoRecipient(t *testing.T) {
	notifier := NewEmailNotifier(&recordingSender{}, "payments@example.com", "", discardLogger())

	err := notifier.Notify(context.Background(), Notification{Kind: KindDisputeAlert, EventID: "evt_1"})
	assert.ErrorIs(t, err, ErrNoRecipient)

	err = notifier.Notify(context.Background(), Notification{Kind: KindIntegrityAlert, EventID: "evt_1"})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestEmailNotifier_SenderError(t *testing.T) {
	notifier := NewEmailNotifier(&recordingSender{err: errors.New("rejected")}, "payments@example.com", "", discardLogger())
	err := notifier.Notify(context.Background(), receipt())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestRender(t *testing.T) {
	t.Run("dispute alert escapes html", func(t *testing.T) {
		subject, html, text, err := Render(Notification{
			Kind:      KindDisputeAlert,
			PaymentID: "pi_1",
			Reason:    "<script>fraudulent</script>",
		})
		require.NoError(t, err)
		assert.Equal(t, "Payment disputed", subject)
		assert.NotContains(t, html, "<script>")
		assert.Contains(t, text, "pi_1")
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, _, _, err := Render(Notification{Kind: "carrier_pigeon"})
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Mode: ModeLog}.Validate())
	assert.NoError(t, Config{Mode: ModeNATS}.Validate())
	assert.Error(t, Config{Mode: "sms"}.Validate())
	assert.Error(t, Config{Mode: ModeEmail}.Validate())
	assert.NoError(t, Config{Mode: ModeEmail, PostmarkToken: "tok"}.Validate())
}
