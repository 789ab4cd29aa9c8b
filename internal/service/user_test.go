package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/repository"
)

func newTestUserService(t *testing.T) (UserService, sqlmock.Sqlmock, *recordingAudit) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	audit := &recordingAudit{}
	svc := NewUserService(db, repository.New(db), audit, discardLogger())
	return svc, mock, audit
}

// accountRow builds a full users row with credential and role fields under
// test control. MinCost keeps the bcrypt comparisons fast.
func accountRow(id uuid.UUID, email, password, role, status string) *sqlmock.Rows {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	now := time.Now().UTC()
	return sqlmock.NewRows(userRowColumns).AddRow(
		id, email, string(hash), "Jo Abstractor", role, status, "free",
		"active", sql.NullTime{}, sql.NullTime{},
		"", sql.NullString{},
		int32(0), sql.NullTime{}, now, now,
	)
}

func TestRegister_CreatesFreeTierAccount(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	userID := uuid.New()

	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(accountRow(userID, "clerk@example.com", "irrelevant", "user", "active"))

	user, err := svc.Register(context.Background(), domain.RegisterParams{
		Email:    "  Clerk@Example.COM ",
		Password: "correct horse battery",
		Name:     "County Clerk",
	})

	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Empty(t, user.PasswordHash, "hash must not leave the service layer")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestUserService(t)

	tests := []struct {
		name   string
		params domain.RegisterParams
	}{
		{"missing email", domain.RegisterParams{Email: "", Password: "long enough!", Name: "Jo"}},
		{"malformed email", domain.RegisterParams{Email: "not-an-email", Password: "long enough!", Name: "Jo"}},
		{"blank name", domain.RegisterParams{Email: "jo@example.com", Password: "long enough!", Name: "   "}},
		{"short password", domain.RegisterParams{Email: "jo@example.com", Password: "short", Name: "Jo"}},
		{"oversized password", domain.RegisterParams{Email: "jo@example.com", Password: strings.Repeat("x", 73), Name: "Jo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.params)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
}

func TestRegister_EmailConflict(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := svc.Register(context.Background(), domain.RegisterParams{
		Email:    "taken@example.com",
		Password: "correct horse battery",
		Name:     "Jo",
	})

	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_Success(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	userID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("jo@example.com").
		WillReturnRows(accountRow(userID, "jo@example.com", "correct horse battery", "user", "active"))
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.Login(context.Background(), " Jo@Example.com ", "correct horse battery")

	require.NoError(t, err)
	assert.Equal(t, userID, result.User.ID)
	assert.Empty(t, result.User.PasswordHash)
	assert.Len(t, result.Token, SessionTokenBytes*2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("jo@example.com").
		WillReturnRows(accountRow(uuid.New(), "jo@example.com", "correct horse battery", "user", "active"))

	_, err := svc.Login(context.Background(), "jo@example.com", "wrong password")

	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_UnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("jo@example.com").
		WillReturnRows(accountRow(uuid.New(), "jo@example.com", "correct horse battery", "user", "active"))

	_, errUnknown := svc.Login(context.Background(), "nobody@example.com", "whatever pass")
	_, errWrong := svc.Login(context.Background(), "jo@example.com", "wrong password")

	require.Error(t, errUnknown)
	require.Error(t, errWrong)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_DisabledAccount(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("gone@example.com").
		WillReturnRows(accountRow(uuid.New(), "gone@example.com", "correct horse battery", "user", "disabled"))

	// Correct credentials on a disabled account get the same answer as bad
	// credentials.
	_, err := svc.Login(context.Background(), "gone@example.com", "correct horse battery")

	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
	assert.Contains(t, err.Error(), "Invalid email or password")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogout_DeletesSession(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	token := strings.Repeat("ab", SessionTokenBytes)

	mock.ExpectExec("DELETE FROM sessions WHERE token_hash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Logout(context.Background(), token))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogout_MalformedTokenIsNoOp(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	require.NoError(t, svc.Logout(context.Background(), "not-a-token"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBySessionToken_WrongLengthSkipsLookup(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	_, err := svc.GetBySessionToken(context.Background(), "short")

	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBySessionToken_ExpiredOrUnknown(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	mock.ExpectQuery("SELECT (.+) FROM users").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.GetBySessionToken(context.Background(), strings.Repeat("ab", SessionTokenBytes))

	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBySessionToken_DisabledAccount(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	// A live session row for a disabled account is still rejected.
	mock.ExpectQuery("SELECT (.+) FROM users").
		WillReturnRows(accountRow(uuid.New(), "gone@example.com", "x", "user", "disabled"))

	_, err := svc.GetBySessionToken(context.Background(), strings.Repeat("ab", SessionTokenBytes))

	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRole_CommitsWithAuditEntry(t *testing.T) {
	svc, mock, audit := newTestUserService(t)

	actorID := uuid.New()
	targetID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(actorID).
		WillReturnRows(accountRow(actorID, "admin@example.com", "x", "admin", "active"))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(targetID).
		WillReturnRows(accountRow(targetID, "jo@example.com", "x", "user", "active"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET role").
		WithArgs(targetID, "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.ChangeRole(context.Background(), domain.RoleChangeParams{
		ActorID:  actorID,
		TargetID: targetID,
		NewRole:  domain.UserRoleAdmin,
	})

	require.NoError(t, err)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditUserRoleChanged, audit.entries[0].Action)
	assert.Equal(t, actorID, audit.entries[0].ActorID)
	assert.Equal(t, map[string]any{"old": "user", "new": "admin"}, audit.entries[0].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRole_SelfChangeRejected(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	id := uuid.New()
	err := svc.ChangeRole(context.Background(), domain.RoleChangeParams{
		ActorID: id, TargetID: id, NewRole: domain.UserRoleUser,
	})

	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRole_NonAdminForbidden(t *testing.T) {
	svc, mock, audit := newTestUserService(t)

	actorID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(actorID).
		WillReturnRows(accountRow(actorID, "jo@example.com", "x", "user", "active"))

	err := svc.ChangeRole(context.Background(), domain.RoleChangeParams{
		ActorID:  actorID,
		TargetID: uuid.New(),
		NewRole:  domain.UserRoleAdmin,
	})

	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
	assert.Empty(t, audit.entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRole_NoOpWhenRoleUnchanged(t *testing.T) {
	svc, mock, audit := newTestUserService(t)

	actorID := uuid.New()
	targetID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(actorID).
		WillReturnRows(accountRow(actorID, "admin@example.com", "x", "admin", "active"))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(targetID).
		WillReturnRows(accountRow(targetID, "jo@example.com", "x", "user", "active"))

	err := svc.ChangeRole(context.Background(), domain.RoleChangeParams{
		ActorID:  actorID,
		TargetID: targetID,
		NewRole:  domain.UserRoleUser,
	})

	require.NoError(t, err)
	assert.Empty(t, audit.entries, "no change, no audit entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_DisablesAndAudits(t *testing.T) {
	svc, mock, audit := newTestUserService(t)

	actorID := uuid.New()
	targetID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(actorID).
		WillReturnRows(accountRow(actorID, "admin@example.com", "x", "admin", "active"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET status = 'disabled'").
		WithArgs(targetID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.DeleteUser(context.Background(), targetID, actorID)

	require.NoError(t, err)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditUserDeleted, audit.entries[0].Action)
	assert.Equal(t, targetID.String(), audit.entries[0].TargetID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_SelfDeleteNeedsNoAdmin(t *testing.T) {
	svc, mock, audit := newTestUserService(t)

	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET status = 'disabled'").
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.DeleteUser(context.Background(), userID, userID))
	assert.Len(t, audit.entries, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_AlreadyDisabledIsIdempotent(t *testing.T) {
	svc, mock, audit := newTestUserService(t)

	userID := uuid.New()

	mock.ExpectBegin()
	// Guarded on status <> 'disabled': a second delete affects zero rows.
	mock.ExpectExec("UPDATE users SET status = 'disabled'").
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.NoError(t, svc.DeleteUser(context.Background(), userID, userID))
	assert.Empty(t, audit.entries, "repeat delete must not double-audit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_NonAdminCannotDeleteOthers(t *testing.T) {
	svc, mock, _ := newTestUserService(t)

	actorID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(actorID).
		WillReturnRows(accountRow(actorID, "jo@example.com", "x", "user", "active"))

	err := svc.DeleteUser(context.Background(), uuid.New(), actorID)

	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
