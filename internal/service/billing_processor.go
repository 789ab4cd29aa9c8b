package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/titlescout/titlescout/internal/billing"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/metrics"
	"github.com/titlescout/titlescout/internal/repository"
	"github.com/titlescout/titlescout/internal/worker"
)

// BillingEventProcessor consumes verified provider events and applies their
// subscription mutations exactly once.
//
// Ordering of deliveries is not guaranteed by the provider, so every handler
// writes a full snapshot of the subscription fields rather than a diff;
// whichever delivery lands last wins, and a re-delivered stale event is
// already blocked by the ledger.
type BillingEventProcessor interface {
	// HandleBillingEvent records the event in the ledger and applies its
	// mutation in one transaction.
	//
	// Returns OutcomeDuplicate when the ledger already holds the event ID,
	// OutcomeUnhandled for unrecognized event types (the ledger row still
	// commits), and OutcomeProcessed otherwise. A non-nil error means
	// nothing was committed and the provider should redeliver.
	HandleBillingEvent(ctx context.Context, event domain.BillingEvent) (domain.EventOutcome, error)
}

type billingEventProcessor struct {
	db      *sql.DB
	queries *repository.Queries
	plans   billing.Service
	audit   AuditService
	logger  *slog.Logger
	now     func() time.Time
}

// NewBillingEventProcessor creates a new BillingEventProcessor.
func NewBillingEventProcessor(db *sql.DB, queries *repository.Queries, plans billing.Service, audit AuditService, logger *slog.Logger) BillingEventProcessor {
	return &billingEventProcessor{
		db:      db,
		queries: queries,
		plans:   plans,
		audit:   audit,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *billingEventProcessor) HandleBillingEvent(ctx context.Context, event domain.BillingEvent) (outcome domain.EventOutcome, err error) {
	const op = "billing.handle_event"

	if event.EventID == "" {
		return "", domain.Invalid(op, "Event ID is required")
	}

	defer func() {
		if err == nil {
			metrics.BillingEventsTotal.WithLabelValues(string(event.Type), string(outcome)).Inc()
		}
	}()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()
	qtx := p.queries.WithTx(tx)

	// Insert first, ask questions later: the unique constraint on event_id
	// is the entire de-duplication mechanism. A duplicate delivery fails
	// right here and never reaches a mutation.
	err = qtx.InsertBillingEvent(ctx, repository.InsertBillingEventParams{
		EventID:   event.EventID,
		EventType: string(event.Type),
		Payload:   event.Payload,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			p.logger.Info("duplicate billing event", "event_id", event.EventID, "type", event.Type)
			return domain.OutcomeDuplicate, nil
		}
		return "", domain.Internal(err, op, "Failed to record billing event")
	}

	if !event.Type.Recognized() {
		// Commit the ledger row so the provider stops redelivering a type
		// we will never act on.
		if err := tx.Commit(); err != nil {
			return "", domain.Internal(err, op, "Failed to commit billing event")
		}
		p.logger.Warn("unhandled billing event type", "event_id", event.EventID, "type", event.Type)
		return domain.OutcomeUnhandled, nil
	}

	switch event.Type {
	case domain.EventCheckoutCompleted:
		err = p.applyCheckoutCompleted(ctx, qtx, event)
	case domain.EventSubscriptionUpdated:
		err = p.applySubscriptionUpdated(ctx, qtx, event)
	case domain.EventSubscriptionDeleted:
		err = p.applySubscriptionDeleted(ctx, qtx, event)
	case domain.EventInvoicePaymentFailed:
		err = p.applyPaymentFailed(ctx, qtx, event)
	case domain.EventInvoicePaymentSucceeded:
		err = p.applyPaymentSucceeded(ctx, qtx, event)
	}
	if err != nil {
		// Rollback discards the ledger row too, so the provider's retry
		// gets a clean attempt instead of a false duplicate.
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", domain.Internal(err, op, "Failed to commit billing event")
	}
	return domain.OutcomeProcessed, nil
}

// account resolves a provider customer ID to whichever side owns it.
// Users are checked before departments; a customer ID belongs to exactly one.
type account struct {
	user *repository.User
	dept *repository.Department
}

func (p *billingEventProcessor) lookupCustomer(ctx context.Context, qtx *repository.Queries, customerID string) (account, error) {
	user, err := qtx.GetUserByStripeCustomerID(ctx, customerID)
	if err == nil {
		return account{user: &user}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return account{}, err
	}

	dept, err := qtx.GetDepartmentByStripeCustomerID(ctx, customerID)
	if err == nil {
		return account{dept: &dept}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return account{}, err
	}
	return account{}, nil
}

func (p *billingEventProcessor) applyCheckoutCompleted(ctx context.Context, qtx *repository.Queries, event domain.BillingEvent) error {
	const op = "billing.checkout_completed"

	var payload domain.CheckoutPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return domain.Internal(err, op, "Malformed checkout payload")
	}
	if payload.Customer == "" {
		return domain.Internal(errors.New("missing customer"), op, "Malformed checkout payload")
	}

	plan, ok := p.plans.PlanForPriceID(payload.PriceID())
	if !ok {
		// The checkout was created by us with the price stamped in metadata;
		// not finding it means a config drift, not a provider problem.
		p.logger.Error("checkout completed for unknown price",
			"event_id", event.EventID, "price_id", payload.PriceID())
		return nil
	}

	acct, err := p.lookupCustomer(ctx, qtx, payload.Customer)
	if err != nil {
		return domain.Internal(err, op, "Failed to look up customer")
	}

	switch {
	case acct.user != nil:
		// A department tier written onto a user row would resolve as free.
		// The checkout endpoint refuses this pairing, so seeing it here is
		// config drift; redelivery cannot fix it and the ledger row commits.
		if plan.Scope != billing.ScopeUser {
			p.logger.Error("checkout completed with department price on personal customer",
				"event_id", event.EventID, "price_id", payload.PriceID(), "user_id", acct.user.ID)
			return nil
		}
		oldTier := acct.user.Tier
		err = qtx.UpdateUserSubscription(ctx, repository.UpdateUserSubscriptionParams{
			ID:                   acct.user.ID,
			Tier:                 plan.Tier,
			SubscriptionStatus:   string(domain.SubscriptionStatusActive),
			StripeSubscriptionID: domain.ToNullString(payload.Subscription),
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to activate subscription")
		}
		err = p.audit.Record(ctx, qtx, domain.AuditEntry{
			ActorID:    SystemActorID,
			Action:     domain.AuditUserTierChanged,
			TargetType: domain.AuditTargetUser,
			TargetID:   acct.user.ID.String(),
			Details:    domain.ChangeDetails(oldTier, plan.Tier),
		})
		if err != nil {
			return err
		}
		if _, err := worker.EnqueueSendWelcome(ctx, qtx, acct.user.ID, plan.Tier); err != nil {
			return domain.Internal(err, op, "Failed to enqueue welcome email")
		}
		p.logger.Info("checkout completed",
			"event_id", event.EventID, "user_id", acct.user.ID, "tier", plan.Tier)

	case acct.dept != nil:
		if plan.Scope != billing.ScopeDepartment {
			p.logger.Error("checkout completed with personal price on department customer",
				"event_id", event.EventID, "price_id", payload.PriceID(), "department_id", acct.dept.ID)
			return nil
		}
		oldTier := acct.dept.SubscriptionTier
		err = qtx.UpdateDepartmentSubscription(ctx, repository.UpdateDepartmentSubscriptionParams{
			ID:                   acct.dept.ID,
			SubscriptionTier:     plan.Tier,
			SubscriptionStatus:   string(domain.SubscriptionStatusActive),
			StripeSubscriptionID: domain.ToNullString(payload.Subscription),
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to activate subscription")
		}
		err = p.audit.Record(ctx, qtx, domain.AuditEntry{
			ActorID:    SystemActorID,
			Action:     domain.AuditDepartmentTierChanged,
			TargetType: domain.AuditTargetDepartment,
			TargetID:   acct.dept.ID.String(),
			Details:    domain.ChangeDetails(oldTier, plan.Tier),
		})
		if err != nil {
			return err
		}
		p.logger.Info("checkout completed",
			"event_id", event.EventID, "department_id", acct.dept.ID, "tier", plan.Tier)

	default:
		// The ledger row still commits: redelivering won't make the
		// customer appear.
		p.logger.Warn("billing event for unknown customer",
			"event_id", event.EventID, "customer", payload.Customer)
	}
	return nil
}

func (p *billingEventProcessor) applySubscriptionUpdated(ctx context.Context, qtx *repository.Queries, event domain.BillingEvent) error {
	const op = "billing.subscription_updated"

	var payload domain.SubscriptionPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return domain.Internal(err, op, "Malformed subscription payload")
	}
	if payload.Customer == "" {
		return domain.Internal(errors.New("missing customer"), op, "Malformed subscription payload")
	}

	acct, err := p.lookupCustomer(ctx, qtx, payload.Customer)
	if err != nil {
		return domain.Internal(err, op, "Failed to look up customer")
	}

	status := mapProviderStatus(payload.Status)
	endDate := domain.ToNullTime(payload.PeriodEnd())

	switch {
	case acct.user != nil:
		tier := acct.user.Tier
		if plan, ok := p.plans.PlanForPriceID(payload.PriceID()); ok && plan.Scope == billing.ScopeUser {
			tier = plan.Tier
		}
		err = qtx.UpdateUserSubscription(ctx, repository.UpdateUserSubscriptionParams{
			ID:                   acct.user.ID,
			Tier:                 tier,
			SubscriptionStatus:   string(status),
			SubscriptionEndDate:  endDate,
			PastDueSince:         p.pastDueSince(status, acct.user.PastDueSince),
			StripeSubscriptionID: domain.ToNullString(payload.ID),
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to update subscription")
		}
		if err := p.auditStatusChange(ctx, qtx, domain.AuditTargetUser, acct.user.ID.String(), acct.user.SubscriptionStatus, string(status)); err != nil {
			return err
		}
		if tier != acct.user.Tier {
			err = p.audit.Record(ctx, qtx, domain.AuditEntry{
				ActorID:    SystemActorID,
				Action:     domain.AuditUserTierChanged,
				TargetType: domain.AuditTargetUser,
				TargetID:   acct.user.ID.String(),
				Details:    domain.ChangeDetails(acct.user.Tier, tier),
			})
			if err != nil {
				return err
			}
		}

	case acct.dept != nil:
		tier := acct.dept.SubscriptionTier
		if plan, ok := p.plans.PlanForPriceID(payload.PriceID()); ok && plan.Scope == billing.ScopeDepartment {
			tier = plan.Tier
		}
		err = qtx.UpdateDepartmentSubscription(ctx, repository.UpdateDepartmentSubscriptionParams{
			ID:                   acct.dept.ID,
			SubscriptionTier:     tier,
			SubscriptionStatus:   string(status),
			SubscriptionEndDate:  endDate,
			PastDueSince:         p.pastDueSince(status, acct.dept.PastDueSince),
			StripeSubscriptionID: domain.ToNullString(payload.ID),
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to update subscription")
		}
		if err := p.auditStatusChange(ctx, qtx, domain.AuditTargetDepartment, acct.dept.ID.String(), acct.dept.SubscriptionStatus, string(status)); err != nil {
			return err
		}
		if tier != acct.dept.SubscriptionTier {
			err = p.audit.Record(ctx, qtx, domain.AuditEntry{
				ActorID:    SystemActorID,
				Action:     domain.AuditDepartmentTierChanged,
				TargetType: domain.AuditTargetDepartment,
				TargetID:   acct.dept.ID.String(),
				Details:    domain.ChangeDetails(acct.dept.SubscriptionTier, tier),
			})
			if err != nil {
				return err
			}
		}

	default:
		p.logger.Warn("billing event for unknown customer",
			"event_id", event.EventID, "customer", payload.Customer)
	}
	return nil
}

func (p *billingEventProcessor) applySubscriptionDeleted(ctx context.Context, qtx *repository.Queries, event domain.BillingEvent) error {
	const op = "billing.subscription_deleted"

	var payload domain.SubscriptionPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return domain.Internal(err, op, "Malformed subscription payload")
	}
	if payload.Customer == "" {
		return domain.Internal(errors.New("missing customer"), op, "Malformed subscription payload")
	}

	acct, err := p.lookupCustomer(ctx, qtx, payload.Customer)
	if err != nil {
		return domain.Internal(err, op, "Failed to look up customer")
	}

	// The tier is retained and the end date stamped; the resolver stops
	// honoring a canceled subscription once the end date passes, so access
	// winds down at period end instead of vanishing mid-cycle.
	endDate := payload.PeriodEnd()
	if endDate == nil {
		t := p.now()
		endDate = &t
	}
	status := domain.SubscriptionStatusCanceled

	switch {
	case acct.user != nil:
		err = qtx.UpdateUserSubscription(ctx, repository.UpdateUserSubscriptionParams{
			ID:                  acct.user.ID,
			Tier:                acct.user.Tier,
			SubscriptionStatus:  string(status),
			SubscriptionEndDate: domain.ToNullTime(endDate),
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to cancel subscription")
		}
		if err := p.auditStatusChange(ctx, qtx, domain.AuditTargetUser, acct.user.ID.String(), acct.user.SubscriptionStatus, string(status)); err != nil {
			return err
		}
		p.logger.Info("subscription deleted",
			"event_id", event.EventID, "user_id", acct.user.ID, "end_date", endDate)

	case acct.dept != nil:
		err = qtx.UpdateDepartmentSubscription(ctx, repository.UpdateDepartmentSubscriptionParams{
			ID:                  acct.dept.ID,
			SubscriptionTier:    acct.dept.SubscriptionTier,
			SubscriptionStatus:  string(status),
			SubscriptionEndDate: domain.ToNullTime(endDate),
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to cancel subscription")
		}
		if err := p.auditStatusChange(ctx, qtx, domain.AuditTargetDepartment, acct.dept.ID.String(), acct.dept.SubscriptionStatus, string(status)); err != nil {
			return err
		}
		p.logger.Info("subscription deleted",
			"event_id", event.EventID, "department_id", acct.dept.ID, "end_date", endDate)

	default:
		p.logger.Warn("billing event for unknown customer",
			"event_id", event.EventID, "customer", payload.Customer)
	}
	return nil
}

func (p *billingEventProcessor) applyPaymentFailed(ctx context.Context, qtx *repository.Queries, event domain.BillingEvent) error {
	const op = "billing.payment_failed"

	var payload domain.InvoicePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return domain.Internal(err, op, "Malformed invoice payload")
	}
	if payload.Customer == "" {
		return domain.Internal(errors.New("missing customer"), op, "Malformed invoice payload")
	}

	acct, err := p.lookupCustomer(ctx, qtx, payload.Customer)
	if err != nil {
		return domain.Internal(err, op, "Failed to look up customer")
	}

	status := domain.SubscriptionStatusPastDue

	switch {
	case acct.user != nil:
		err = qtx.UpdateUserSubscription(ctx, repository.UpdateUserSubscriptionParams{
			ID:                   acct.user.ID,
			Tier:                 acct.user.Tier,
			SubscriptionStatus:   string(status),
			SubscriptionEndDate:  acct.user.SubscriptionEndDate,
			PastDueSince:         p.pastDueSince(status, acct.user.PastDueSince),
			StripeSubscriptionID: acct.user.StripeSubscriptionID,
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to mark past due")
		}
		if err := p.auditStatusChange(ctx, qtx, domain.AuditTargetUser, acct.user.ID.String(), acct.user.SubscriptionStatus, string(status)); err != nil {
			return err
		}
		p.logger.Info("payment failed", "event_id", event.EventID, "user_id", acct.user.ID)

	case acct.dept != nil:
		err = qtx.UpdateDepartmentSubscription(ctx, repository.UpdateDepartmentSubscriptionParams{
			ID:                   acct.dept.ID,
			SubscriptionTier:     acct.dept.SubscriptionTier,
			SubscriptionStatus:   string(status),
			SubscriptionEndDate:  acct.dept.SubscriptionEndDate,
			PastDueSince:         p.pastDueSince(status, acct.dept.PastDueSince),
			StripeSubscriptionID: acct.dept.StripeSubscriptionID,
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to mark past due")
		}
		if err := p.auditStatusChange(ctx, qtx, domain.AuditTargetDepartment, acct.dept.ID.String(), acct.dept.SubscriptionStatus, string(status)); err != nil {
			return err
		}
		p.logger.Info("payment failed", "event_id", event.EventID, "department_id", acct.dept.ID)

	default:
		p.logger.Warn("billing event for unknown customer",
			"event_id", event.EventID, "customer", payload.Customer)
	}
	return nil
}

func (p *billingEventProcessor) applyPaymentSucceeded(ctx context.Context, qtx *repository.Queries, event domain.BillingEvent) error {
	const op = "billing.payment_succeeded"

	var payload domain.InvoicePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return domain.Internal(err, op, "Malformed invoice payload")
	}
	if payload.Customer == "" {
		return domain.Internal(errors.New("missing customer"), op, "Malformed invoice payload")
	}

	acct, err := p.lookupCustomer(ctx, qtx, payload.Customer)
	if err != nil {
		return domain.Internal(err, op, "Failed to look up customer")
	}

	switch {
	case acct.user != nil:
		// Only a recovery is interesting; a routine renewal invoice for an
		// active subscription changes nothing.
		if acct.user.SubscriptionStatus != string(domain.SubscriptionStatusPastDue) {
			return nil
		}
		err = qtx.UpdateUserSubscription(ctx, repository.UpdateUserSubscriptionParams{
			ID:                   acct.user.ID,
			Tier:                 acct.user.Tier,
			SubscriptionStatus:   string(domain.SubscriptionStatusActive),
			SubscriptionEndDate:  acct.user.SubscriptionEndDate,
			StripeSubscriptionID: acct.user.StripeSubscriptionID,
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to restore subscription")
		}
		if err := p.auditStatusChange(ctx, qtx, domain.AuditTargetUser, acct.user.ID.String(), acct.user.SubscriptionStatus, string(domain.SubscriptionStatusActive)); err != nil {
			return err
		}
		p.logger.Info("subscription recovered", "event_id", event.EventID, "user_id", acct.user.ID)

	case acct.dept != nil:
		if acct.dept.SubscriptionStatus != string(domain.SubscriptionStatusPastDue) {
			return nil
		}
		err = qtx.UpdateDepartmentSubscription(ctx, repository.UpdateDepartmentSubscriptionParams{
			ID:                   acct.dept.ID,
			SubscriptionTier:     acct.dept.SubscriptionTier,
			SubscriptionStatus:   string(domain.SubscriptionStatusActive),
			SubscriptionEndDate:  acct.dept.SubscriptionEndDate,
			StripeSubscriptionID: acct.dept.StripeSubscriptionID,
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to restore subscription")
		}
		if err := p.auditStatusChange(ctx, qtx, domain.AuditTargetDepartment, acct.dept.ID.String(), acct.dept.SubscriptionStatus, string(domain.SubscriptionStatusActive)); err != nil {
			return err
		}
		p.logger.Info("subscription recovered", "event_id", event.EventID, "department_id", acct.dept.ID)

	default:
		p.logger.Warn("billing event for unknown customer",
			"event_id", event.EventID, "customer", payload.Customer)
	}
	return nil
}

func (p *billingEventProcessor) auditStatusChange(ctx context.Context, qtx *repository.Queries, targetType, targetID, oldStatus, newStatus string) error {
	if oldStatus == newStatus {
		return nil
	}
	return p.audit.Record(ctx, qtx, domain.AuditEntry{
		ActorID:    SystemActorID,
		Action:     domain.AuditSubscriptionStatusChanged,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    domain.ChangeDetails(oldStatus, newStatus),
	})
}

// pastDueSince preserves the original delinquency timestamp across repeated
// past_due deliveries, so the grace window runs from the first failure.
func (p *billingEventProcessor) pastDueSince(status domain.SubscriptionStatus, existing sql.NullTime) sql.NullTime {
	if status != domain.SubscriptionStatusPastDue {
		return sql.NullTime{}
	}
	if existing.Valid {
		return existing
	}
	return sql.NullTime{Time: p.now(), Valid: true}
}

// mapProviderStatus folds Stripe subscription statuses into the domain's
// status set. Statuses with no entitlement meaning collapse to inactive.
func mapProviderStatus(status string) domain.SubscriptionStatus {
	switch status {
	case "active":
		return domain.SubscriptionStatusActive
	case "trialing":
		return domain.SubscriptionStatusTrialing
	case "past_due":
		return domain.SubscriptionStatusPastDue
	case "canceled":
		return domain.SubscriptionStatusCanceled
	case "unpaid":
		return domain.SubscriptionStatusUnpaid
	default:
		return domain.SubscriptionStatusInactive
	}
}
