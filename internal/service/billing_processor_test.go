package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titlescout/titlescout/internal/billing"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/repository"
)

var processorNow = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

// recordingAudit captures audit entries without touching the database, so
// tests can assert on what would have been written.
type recordingAudit struct {
	entries []domain.AuditEntry
}

func (a *recordingAudit) Record(_ context.Context, _ *repository.Queries, entry domain.AuditEntry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) RecordProtocolEdit(_ context.Context, actorID uuid.UUID, protocolID string, details map[string]any) error {
	a.entries = append(a.entries, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.AuditProtocolEdited,
		TargetType: domain.AuditTargetProtocol,
		TargetID:   protocolID,
		Details:    details,
	})
	return nil
}

func (a *recordingAudit) ListByTarget(context.Context, string, string, int32) ([]domain.AuditLogEntry, error) {
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlans() billing.Service {
	return billing.NewStripeService("sk_test_x", "whsec_x", billing.PriceConfig{
		ProMonthlyPriceID:        "price_pro_month",
		ProYearlyPriceID:         "price_pro_year",
		EnterpriseMonthlyPriceID: "price_ent_month",
		EnterpriseYearlyPriceID:  "price_ent_year",
		DeptStarterPriceID:       "price_dept_starter",
		DeptProfessionalPriceID:  "price_dept_pro",
		DeptEnterprisePriceID:    "price_dept_ent",
	})
}

func newTestProcessor(t *testing.T) (*billingEventProcessor, sqlmock.Sqlmock, *recordingAudit) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	audit := &recordingAudit{}
	p := &billingEventProcessor{
		db:      db,
		queries: repository.New(db),
		plans:   testPlans(),
		audit:   audit,
		logger:  discardLogger(),
		now:     func() time.Time { return processorNow },
	}
	return p, mock, audit
}

var userRowColumns = []string{
	"id", "email", "password_hash", "name", "role", "status", "tier",
	"subscription_status", "subscription_end_date", "past_due_since",
	"stripe_customer_id", "stripe_subscription_id",
	"query_count_today", "last_query_date", "created_at", "updated_at",
}

type userRowSpec struct {
	id           uuid.UUID
	tier         string
	subStatus    string
	endDate      sql.NullTime
	pastDueSince sql.NullTime
	customerID   string
	subID        sql.NullString
}

func userRow(spec userRowSpec) *sqlmock.Rows {
	return sqlmock.NewRows(userRowColumns).AddRow(
		spec.id, "jo@example.com", "x", "Jo", "user", "active", spec.tier,
		spec.subStatus, spec.endDate, spec.pastDueSince,
		spec.customerID, spec.subID,
		int32(0), sql.NullTime{}, processorNow, processorNow,
	)
}

func checkoutPayload(customer, subscription, priceID string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"customer":     customer,
		"subscription": subscription,
		"metadata":     map[string]string{"price_id": priceID},
	})
	return raw
}

func TestHandleBillingEvent_EmptyEventID(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	_, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		Type: domain.EventCheckoutCompleted,
	})

	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestHandleBillingEvent_DuplicateEventID(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WithArgs("evt_1", string(domain.EventCheckoutCompleted), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_1",
		Type:    domain.EventCheckoutCompleted,
		Payload: checkoutPayload("cus_1", "sub_1", "price_pro_month"),
	})

	require.NoError(t, err, "a duplicate delivery is acknowledged, not retried")
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Empty(t, audit.entries, "duplicate must not reach a mutation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_UnrecognizedTypeCommitsLedgerRow(t *testing.T) {
	p, mock, _ := newTestProcessor(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WithArgs("evt_2", "customer.created", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_2",
		Type:    "customer.created",
		Payload: json.RawMessage(`{}`),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnhandled, outcome)
	assert.NoError(t, mock.ExpectationsWereMet(), "the ledger row must commit so the provider stops redelivering")
}

func TestHandleBillingEvent_CheckoutCompleted_User(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(userRow(userRowSpec{id: userID, tier: "free", subStatus: "inactive", customerID: "cus_1"}))
	mock.ExpectExec("UPDATE users SET").
		WithArgs(userID, "pro", "active", sql.NullTime{}, sql.NullTime{}, sql.NullString{String: "sub_1", Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(jobRow("send_welcome_email"))
	mock.ExpectCommit()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_3",
		Type:    domain.EventCheckoutCompleted,
		Payload: checkoutPayload("cus_1", "sub_1", "price_pro_month"),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditUserTierChanged, audit.entries[0].Action)
	assert.Equal(t, SystemActorID, audit.entries[0].ActorID)
	assert.Equal(t, map[string]any{"old": "free", "new": "pro"}, audit.entries[0].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_CheckoutCompleted_DepartmentPriceOnPersonalCustomer(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	userID := uuid.New()

	// No UPDATE expectation: a seat-based tier must never land on a user
	// row, where the resolver would treat it as free. The ledger row still
	// commits because redelivery cannot fix a price/customer mismatch.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(userRow(userRowSpec{id: userID, tier: "free", subStatus: "inactive", customerID: "cus_1"}))
	mock.ExpectCommit()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_3b",
		Type:    domain.EventCheckoutCompleted,
		Payload: checkoutPayload("cus_1", "sub_1", "price_dept_starter"),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	assert.Empty(t, audit.entries, "a refused checkout must not record a tier change")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_CheckoutCompleted_Department(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	deptID := uuid.New()

	deptColumns := []string{
		"id", "name", "subscription_tier", "subscription_status",
		"subscription_end_date", "past_due_since", "max_seats", "used_seats",
		"stripe_customer_id", "stripe_subscription_id", "created_at", "updated_at",
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_dept").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM departments WHERE stripe_customer_id").
		WithArgs("cus_dept").
		WillReturnRows(sqlmock.NewRows(deptColumns).AddRow(
			deptID, "Recorder's Office", "free", "inactive",
			sql.NullTime{}, sql.NullTime{}, int32(10), int32(1),
			"cus_dept", sql.NullString{}, processorNow, processorNow,
		))
	mock.ExpectExec("UPDATE departments SET").
		WithArgs(deptID, "starter", "active", sql.NullTime{}, sql.NullTime{}, sql.NullString{String: "sub_d", Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_3c",
		Type:    domain.EventCheckoutCompleted,
		Payload: checkoutPayload("cus_dept", "sub_d", "price_dept_starter"),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditDepartmentTierChanged, audit.entries[0].Action)
	assert.Equal(t, map[string]any{"old": "free", "new": "starter"}, audit.entries[0].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_MalformedPayloadRollsBack(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	// Missing customer makes the payload unusable; the ledger row must not
	// survive, so the provider's retry gets a clean attempt.
	_, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_4",
		Type:    domain.EventCheckoutCompleted,
		Payload: json.RawMessage(`{"metadata":{"price_id":"price_pro_month"}}`),
	})

	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.Empty(t, audit.entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_UnknownCustomerStillCommits(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM departments WHERE stripe_customer_id").
		WithArgs("cus_ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_5",
		Type:    domain.EventCheckoutCompleted,
		Payload: checkoutPayload("cus_ghost", "sub_1", "price_pro_month"),
	})

	require.NoError(t, err, "redelivering will not make the customer appear")
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	assert.Empty(t, audit.entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_PaymentFailed_StampsPastDueSince(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	userID := uuid.New()
	subID := sql.NullString{String: "sub_1", Valid: true}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(userRow(userRowSpec{id: userID, tier: "pro", subStatus: "active", customerID: "cus_1", subID: subID}))
	mock.ExpectExec("UPDATE users SET").
		WithArgs(userID, "pro", "past_due", sql.NullTime{}, sql.NullTime{Time: processorNow, Valid: true}, subID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_6",
		Type:    domain.EventInvoicePaymentFailed,
		Payload: json.RawMessage(`{"customer":"cus_1","subscription":"sub_1"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditSubscriptionStatusChanged, audit.entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_PaymentFailed_PreservesFirstFailureTime(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	userID := uuid.New()
	firstFailure := sql.NullTime{Time: processorNow.Add(-48 * time.Hour), Valid: true}
	subID := sql.NullString{String: "sub_1", Valid: true}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(userRow(userRowSpec{
			id: userID, tier: "pro", subStatus: "past_due",
			pastDueSince: firstFailure, customerID: "cus_1", subID: subID,
		}))
	// The grace window runs from the first failure: a repeated failure must
	// not advance the timestamp.
	mock.ExpectExec("UPDATE users SET").
		WithArgs(userID, "pro", "past_due", sql.NullTime{}, firstFailure, subID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_7",
		Type:    domain.EventInvoicePaymentFailed,
		Payload: json.RawMessage(`{"customer":"cus_1","subscription":"sub_1"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	assert.Empty(t, audit.entries, "past_due to past_due is not a status change")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_PaymentSucceeded_RoutineRenewalIsNoOp(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(userRow(userRowSpec{id: uuid.New(), tier: "pro", subStatus: "active", customerID: "cus_1"}))
	mock.ExpectCommit()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_8",
		Type:    domain.EventInvoicePaymentSucceeded,
		Payload: json.RawMessage(`{"customer":"cus_1"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	assert.Empty(t, audit.entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_PaymentSucceeded_RecoversPastDue(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	userID := uuid.New()
	subID := sql.NullString{String: "sub_1", Valid: true}
	firstFailure := sql.NullTime{Time: processorNow.Add(-24 * time.Hour), Valid: true}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(userRow(userRowSpec{
			id: userID, tier: "pro", subStatus: "past_due",
			pastDueSince: firstFailure, customerID: "cus_1", subID: subID,
		}))
	// Recovery clears past_due_since along with the status.
	mock.ExpectExec("UPDATE users SET").
		WithArgs(userID, "pro", "active", sql.NullTime{}, sql.NullTime{}, subID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_9",
		Type:    domain.EventInvoicePaymentSucceeded,
		Payload: json.RawMessage(`{"customer":"cus_1"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditSubscriptionStatusChanged, audit.entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_SubscriptionDeleted_RetainsTierUntilPeriodEnd(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	userID := uuid.New()
	periodEnd := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(userRow(userRowSpec{id: userID, tier: "pro", subStatus: "active", customerID: "cus_1"}))
	// Tier stays pro; the resolver reverts access once the end date passes.
	mock.ExpectExec("UPDATE users SET").
		WithArgs(userID, "pro", "canceled", sql.NullTime{Time: periodEnd, Valid: true}, sql.NullTime{}, sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payload, _ := json.Marshal(map[string]any{
		"id":                 "sub_1",
		"customer":           "cus_1",
		"status":             "canceled",
		"current_period_end": periodEnd.Unix(),
	})

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_10",
		Type:    domain.EventSubscriptionDeleted,
		Payload: payload,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, map[string]any{"old": "active", "new": "canceled"}, audit.entries[0].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBillingEvent_SubscriptionUpdated_Department(t *testing.T) {
	p, mock, audit := newTestProcessor(t)

	deptID := uuid.New()
	periodEnd := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	deptColumns := []string{
		"id", "name", "subscription_tier", "subscription_status",
		"subscription_end_date", "past_due_since", "max_seats", "used_seats",
		"stripe_customer_id", "stripe_subscription_id", "created_at", "updated_at",
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_dept").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM departments WHERE stripe_customer_id").
		WithArgs("cus_dept").
		WillReturnRows(sqlmock.NewRows(deptColumns).AddRow(
			deptID, "Recorder's Office", "starter", "active",
			sql.NullTime{}, sql.NullTime{}, int32(10), int32(4),
			"cus_dept", sql.NullString{String: "sub_d", Valid: true}, processorNow, processorNow,
		))
	mock.ExpectExec("UPDATE departments SET").
		WithArgs(deptID, "professional", "active", sql.NullTime{Time: periodEnd, Valid: true}, sql.NullTime{}, sql.NullString{String: "sub_d", Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payload, _ := json.Marshal(map[string]any{
		"id":                 "sub_d",
		"customer":           "cus_dept",
		"status":             "active",
		"current_period_end": periodEnd.Unix(),
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]string{"id": "price_dept_pro"}, "quantity": 10},
			},
		},
	})

	outcome, err := p.HandleBillingEvent(context.Background(), domain.BillingEvent{
		EventID: "evt_11",
		Type:    domain.EventSubscriptionUpdated,
		Payload: payload,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, outcome)
	// Status unchanged, tier changed: exactly one audit entry.
	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditDepartmentTierChanged, audit.entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// jobRow builds a minimal jobs row for enqueue expectations.
func jobRow(jobType string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "job_type", "payload", "status", "priority", "attempts", "max_attempts",
		"scheduled_at", "started_at", "completed_at", "error_message", "created_at", "updated_at",
	}).AddRow(
		uuid.New(), jobType, []byte(`{}`), "pending", int32(10), int32(0), int32(3),
		processorNow, sql.NullTime{}, sql.NullTime{}, sql.NullString{}, processorNow, processorNow,
	)
}
