package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/money"
	"recoveryops/internal/invoice"
	"recoveryops/internal/ledger"
	"recoveryops/internal/notify"
	"recoveryops/internal/organization"
	"recoveryops/internal/payment"
	"recoveryops/internal/processor"
	"recoveryops/internal/webhook"
)

type result struct {
	status        Status
	detail        string
	notifications []notify.Notification
}

func processed(format string, args ...any) result {
	return result{status: StatusProcessed, detail: fmt.Sprintf(format, args...)}
}

// Handlers return ErrOrphanEvent and ErrUnknownAccount only before their first
// write, since both outcomes commit the claim.
func (e *Engine) dispatch(ctx context.Context, s Stores, evt webhook.Event, cmd Command) (result, error) {
	switch c := cmd.(type) {
	case AccountUpdated:
		return e.applyAccountUpdated(ctx, s, c)
	case PaymentSucceeded:
		return e.applyPaymentSucceeded(ctx, s, evt, c)
	case PaymentFailed:
		return e.applyPaymentFailed(ctx, s, c)
	case ChargeRefunded:
		return e.applyChargeRefunded(ctx, s, c)
	case DisputeCreated:
		return e.applyDisputeCreated(ctx, s, evt, c)
	case Ignored:
		return result{status: StatusIgnored, detail: "unhandled kind " + c.Kind}, nil
	default:
		return result{}, fmt.Errorf("unhandled command %T", cmd)
	}
}

func (e *Engine) applyAccountUpdated(ctx context.Context, s Stores, c AccountUpdated) (result, error) {
	org, err := organization.NewSynchronizer(s.Organizations, e.logger).
		SyncCapabilities(ctx, c.AccountID, c.ChargesEnabled, c.PayoutsEnabled)
	if err != nil {
		return result{}, err
	}
	return processed("organization %s onboarding_complete=%t", org.ID, org.OnboardingComplete()), nil
}

// lockPayment loads a payment for update, returning nil when none is recorded
func lockPayment(ctx context.Context, s Stores, processorPaymentID string) (*payment.Payment, error) {
	p, err := s.Payments.GetByProcessorIDForUpdate(ctx, processorPaymentID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading payment %s: %w", processorPaymentID, err)
	}
	return p, nil
}

// resolveOrganization finds the event's organization and rejects metadata that
// names an organization other than the one owning the connected account.
func resolveOrganization(ctx context.Context, s Stores, organizationID, account string) (*organization.Organization, error) {
	org, err := organization.Resolve(ctx, s.Organizations, organizationID, account)
	if err != nil {
		return nil, err
	}
	if account != "" && org.ProcessorAccountID != nil && *org.ProcessorAccountID != account {
		return nil, fmt.Errorf("%w: organization %s does not own account %s", ErrInvalidMetadata, org.ID, account)
	}
	return org, nil
}

func (e *Engine) applyPaymentSucceeded(ctx context.Context, s Stores, evt webhook.Event, c PaymentSucceeded) (result, error) {
	existing, err := lockPayment(ctx, s, c.ProcessorPaymentID)
	if err != nil {
		return result{}, err
	}
	if existing != nil {
		if existing.Status == payment.StatusFailed {
			return result{}, fmt.Errorf("%w: %s succeeded after failing", ErrOrphanEvent, c.ProcessorPaymentID)
		}
		return processed("payment %s already recorded as %s", existing.ID, existing.Status), nil
	}

	org, err := resolveOrganization(ctx, s, c.OrganizationID, c.Account)
	if err != nil {
		return result{}, err
	}

	amount := c.Amount()
	p, err := payment.New(ulid.Make().String(), org.ID, c.ProcessorPaymentID, amount, payment.StatusSucceeded)
	if err != nil {
		return result{}, err
	}
	if c.InvoiceID != "" {
		p.InvoiceID = &c.InvoiceID
	}
	p.ResidentID = c.ResidentID
	p.ReceiptEmail = c.ReceiptEmail

	// The invoice is locked and settled before the payment row references it.
	if p.InvoiceID != nil {
		if _, err := invoice.NewReconciler(s.Invoices, e.logger).ApplyPayment(ctx, org.ID, *p.InvoiceID, amount); err != nil {
			return result{}, err
		}
	}

	if err := createPayment(ctx, s, p); err != nil {
		return result{}, err
	}

	if _, err := ledger.NewWriter(s.Ledger, e.logger).PostPaymentCaptured(ctx, org.ID, p.ID, amount); err != nil {
		return result{}, err
	}

	res := processed("payment %s recorded for %s", p.ID, amount)
	if p.ReceiptEmail != "" {
		res.notifications = append(res.notifications, notify.Notification{
			Kind:           notify.KindReceipt,
			EventID:        evt.ID,
			OrganizationID: org.ID,
			To:             p.ReceiptEmail,
			PaymentID:      p.ProcessorPaymentID,
			Amount:         &amount,
		})
	}
	return res, nil
}

func (e *Engine) applyPaymentFailed(ctx context.Context, s Stores, c PaymentFailed) (result, error) {
	existing, err := lockPayment(ctx, s, c.ProcessorPaymentID)
	if err != nil {
		return result{}, err
	}
	if existing != nil {
		if existing.Status == payment.StatusFailed {
			return processed("payment %s already recorded as failed", existing.ID), nil
		}
		return result{}, fmt.Errorf("%w: %s failed after reaching %s", ErrOrphanEvent, c.ProcessorPaymentID, existing.Status)
	}

	org, err := resolveOrganization(ctx, s, c.OrganizationID, c.Account)
	if err != nil {
		return result{}, err
	}

	p, err := payment.New(ulid.Make().String(), org.ID, c.ProcessorPaymentID, c.Amount(), payment.StatusFailed)
	if err != nil {
		return result{}, err
	}
	if c.InvoiceID != "" {
		p.InvoiceID = &c.InvoiceID
	}
	p.ResidentID = c.ResidentID
	p.FailureCode = c.FailureCode
	p.FailureMessage = c.FailureMessage

	if p.InvoiceID != nil {
		if err := checkInvoice(ctx, s, org.ID, *p.InvoiceID); err != nil {
			return result{}, err
		}
	}

	if err := createPayment(ctx, s, p); err != nil {
		return result{}, err
	}

	e.logger.Info("payment failed",
		"payment_id", p.ID,
		"organization_id", org.ID,
		"processor_payment_id", p.ProcessorPaymentID,
		"failure_code", p.FailureCode,
	)
	return processed("failed payment %s recorded", p.ID), nil
}

// checkInvoice confirms a payment's invoice exists and belongs to the
// organization without changing its balance.
func checkInvoice(ctx context.Context, s Stores, organizationID, invoiceID string) error {
	inv, err := s.Invoices.Get(ctx, invoiceID)
	if err != nil {
		if database.IsNotFound(err) {
			return fmt.Errorf("%w: invoice %s not found", invoice.ErrReconciliationInconsistency, invoiceID)
		}
		return fmt.Errorf("loading invoice %s: %w", invoiceID, err)
	}
	if inv.OrganizationID != organizationID {
		return fmt.Errorf("%w: invoice %s belongs to another organization", invoice.ErrReconciliationInconsistency, invoiceID)
	}
	return nil
}

// createPayment inserts p. A dangling invoice reference is a data problem,
// not a transient one, so it is reported as an inconsistency.
func createPayment(ctx context.Context, s Stores, p *payment.Payment) error {
	if err := s.Payments.Create(ctx, p); err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: payment %s references a missing record: %v",
				invoice.ErrReconciliationInconsistency, p.ProcessorPaymentID, err)
		}
		return fmt.Errorf("creating payment: %w", err)
	}
	return nil
}

// refundsToApply returns the charge's refunds, or a single refund for the
// amount not yet covered when the processor listed none. The synthesized id
// is derived from the charge's refunded total so redeliveries agree on it.
func refundsToApply(c ChargeRefunded, p *payment.Payment) []processor.Refund {
	if len(c.Refunds) > 0 {
		return c.Refunds
	}
	delta := c.AmountRefunded - p.AmountRefunded
	if delta <= 0 {
		return nil
	}
	return []processor.Refund{{
		ID:     fmt.Sprintf("%s:%d", c.ChargeID, c.AmountRefunded),
		Amount: money.New(delta, c.Currency),
	}}
}

func (e *Engine) applyChargeRefunded(ctx context.Context, s Stores, c ChargeRefunded) (result, error) {
	p, err := lockPayment(ctx, s, c.ProcessorPaymentID)
	if err != nil {
		return result{}, err
	}
	if p == nil {
		return result{}, fmt.Errorf("%w: refund for unknown payment %s", ErrOrphanEvent, c.ProcessorPaymentID)
	}
	if !p.CanRefund() {
		return result{}, fmt.Errorf("%w: refund for payment %s in status %s", ErrOrphanEvent, p.ID, p.Status)
	}

	writer := ledger.NewWriter(s.Ledger, e.logger)
	reconciler := invoice.NewReconciler(s.Invoices, e.logger)

	// Refunds synthesized from an earlier unlisted total carry ids the processor
	// never reports, so a later list can name the same money again. Nothing
	// beyond the charge's own refunded total is applied in one event.
	budget := c.AmountRefunded - p.AmountRefunded
	applied := 0
	for _, r := range refundsToApply(c, p) {
		exists, err := s.Payments.RefundExists(ctx, r.ID)
		if err != nil {
			return result{}, fmt.Errorf("checking refund %s: %w", r.ID, err)
		}
		if exists {
			continue
		}
		if r.Amount.AmountMinor > budget {
			e.logger.Warn("refund already covered by charge total",
				"payment_id", p.ID,
				"processor_refund_id", r.ID,
				"amount", r.Amount.AmountMinor,
				"uncovered", budget,
			)
			continue
		}
		budget -= r.Amount.AmountMinor

		refund := payment.NewRefund(ulid.Make().String(), p.ID, r.ID, r.Amount)
		if _, err := writer.PostRefundIssued(ctx, p.OrganizationID, refund.ID, r.Amount); err != nil {
			return result{}, err
		}
		if err := p.ApplyRefund(r.Amount); err != nil {
			if errors.Is(err, payment.ErrInvalidTransition) {
				return result{}, fmt.Errorf("%w: %v", payment.ErrInconsistentRefund, err)
			}
			return result{}, err
		}
		if err := s.Payments.CreateRefund(ctx, refund); err != nil {
			return result{}, fmt.Errorf("creating refund: %w", err)
		}
		if p.InvoiceID != nil {
			if _, err := reconciler.ApplyRefund(ctx, p.OrganizationID, *p.InvoiceID, r.Amount); err != nil {
				return result{}, err
			}
		}
		applied++
	}

	if applied == 0 {
		return processed("no new refunds for payment %s", p.ID), nil
	}
	if err := s.Payments.Update(ctx, p); err != nil {
		return result{}, fmt.Errorf("updating payment %s: %w", p.ID, err)
	}
	return processed("%d refund(s) applied to payment %s, %d refunded", applied, p.ID, p.AmountRefunded), nil
}

func (e *Engine) applyDisputeCreated(ctx context.Context, s Stores, evt webhook.Event, c DisputeCreated) (result, error) {
	p, err := lockPayment(ctx, s, c.ProcessorPaymentID)
	if err != nil {
		return result{}, err
	}
	if p == nil {
		return result{}, fmt.Errorf("%w: dispute %s for unknown payment %s", ErrOrphanEvent, c.DisputeID, c.ProcessorPaymentID)
	}
	if err := p.Transition(payment.StatusDisputed); err != nil {
		return result{}, fmt.Errorf("%w: dispute %s: %v", ErrOrphanEvent, c.DisputeID, err)
	}

	org, err := s.Organizations.Get(ctx, p.OrganizationID)
	if err != nil {
		return result{}, fmt.Errorf("loading organization %s: %w", p.OrganizationID, err)
	}

	if err := s.Payments.Update(ctx, p); err != nil {
		return result{}, fmt.Errorf("updating payment %s: %w", p.ID, err)
	}

	amount := money.New(c.AmountMinor, c.Currency)
	if c.Currency == "" {
		amount = p.Money()
	}
	res := processed("payment %s disputed (%s)", p.ID, c.DisputeID)
	res.notifications = []notify.Notification{{
		Kind:           notify.KindDisputeAlert,
		EventID:        evt.ID,
		OrganizationID: org.ID,
		To:             org.ContactEmail,
		PaymentID:      p.ProcessorPaymentID,
		Amount:         &amount,
		Reason:         c.Reason,
	}}
	return res, nil
}
