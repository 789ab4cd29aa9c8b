package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/repository"
)

func newTestEntitlementService(t *testing.T) (*entitlementService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := &entitlementService{
		queries:  repository.New(db),
		resolver: domain.EntitlementResolver{GraceWindow: 72 * time.Hour},
		logger:   discardLogger(),
		now:      func() time.Time { return processorNow },
	}
	return svc, mock
}

func TestEntitlementResolve_NoDepartment(t *testing.T) {
	svc, mock := newTestEntitlementService(t)

	userID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(userID).
		WillReturnRows(userRow(userRowSpec{id: userID, tier: "pro", subStatus: "active"}))
	mock.ExpectQuery("SELECT (.+) FROM department_members WHERE user_id").
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)

	ent, user, err := svc.Resolve(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, 100, ent.MaxBookmarks)
	assert.Equal(t, domain.Unlimited, ent.DailyQueryLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntitlementResolve_DepartmentMergedIn(t *testing.T) {
	svc, mock := newTestEntitlementService(t)

	userID := uuid.New()
	deptID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(userID).
		WillReturnRows(userRow(userRowSpec{id: userID, tier: "free", subStatus: "active"}))
	mock.ExpectQuery("SELECT (.+) FROM department_members WHERE user_id").
		WithArgs(userID).
		WillReturnRows(memberRow(deptID, userID, "member"))
	mock.ExpectQuery("SELECT (.+) FROM departments WHERE id").
		WithArgs(deptID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "subscription_tier", "subscription_status",
			"subscription_end_date", "past_due_since", "max_seats", "used_seats",
			"stripe_customer_id", "stripe_subscription_id", "created_at", "updated_at",
		}).AddRow(
			deptID, "Abstract Desk", "professional", "active",
			sql.NullTime{}, sql.NullTime{}, int32(10), int32(3),
			sql.NullString{}, sql.NullString{}, processorNow, processorNow,
		))

	ent, _, err := svc.Resolve(context.Background(), userID)

	require.NoError(t, err)
	// Free tier alone allows 3 bookmarks; the professional department lifts it.
	assert.Equal(t, 250, ent.MaxBookmarks)
	assert.Equal(t, 25, ent.MaxCounties)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntitlementResolve_DanglingMembershipFallsBackToPersonal(t *testing.T) {
	svc, mock := newTestEntitlementService(t)

	userID := uuid.New()
	deptID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(userID).
		WillReturnRows(userRow(userRowSpec{id: userID, tier: "free", subStatus: "active"}))
	mock.ExpectQuery("SELECT (.+) FROM department_members WHERE user_id").
		WithArgs(userID).
		WillReturnRows(memberRow(deptID, userID, "member"))
	mock.ExpectQuery("SELECT (.+) FROM departments WHERE id").
		WithArgs(deptID).
		WillReturnError(sql.ErrNoRows)

	ent, _, err := svc.Resolve(context.Background(), userID)

	require.NoError(t, err, "a dangling membership must not fail the request")
	assert.Equal(t, 3, ent.MaxBookmarks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntitlementResolve_UnknownUser(t *testing.T) {
	svc, mock := newTestEntitlementService(t)

	userID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)

	_, _, err := svc.Resolve(context.Background(), userID)

	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
