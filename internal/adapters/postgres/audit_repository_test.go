package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/veltrix/sessiongate/internal/ports"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newTestRepository(t *testing.T) (ports.AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return NewAuditRepository(db), mock
}

func TestAuditRepositoryInsert(t *testing.T) {
	t.Parallel()
	repo, mock := newTestRepository(t)

	rec := ports.AuditRecord{
		AuditID:    uuid.New(),
		UserID:     "u-100",
		Kind:       "SUSPICIOUS_ACTIVITY",
		Indicators: []string{"refresh_attempts_exceeded", "session_age_exceeded"},
		OccurredAt: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "session_audit"`).
		WithArgs(rec.AuditID, "u-100", "SUSPICIOUS_ACTIVITY", "", `["refresh_attempts_exceeded","session_age_exceeded"]`, rec.OccurredAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditRepositoryInsertReportsFailure(t *testing.T) {
	t.Parallel()
	repo, mock := newTestRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "session_audit"`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	rec := ports.AuditRecord{
		AuditID:    uuid.New(),
		UserID:     "u-100",
		Kind:       "SESSION_ESTABLISHED",
		OccurredAt: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	if err := repo.Insert(context.Background(), rec); err == nil {
		t.Fatal("expected insert error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditRepositoryListByUser(t *testing.T) {
	t.Parallel()
	repo, mock := newTestRepository(t)

	newer := time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC)
	older := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	first := uuid.New()
	second := uuid.New()

	rows := sqlmock.NewRows([]string{"audit_id", "user_id", "kind", "reason", "indicators", "occurred_at"}).
		AddRow(first.String(), "u-100", "SESSION_INVALIDATED", "idle_timeout", "[]", newer).
		AddRow(second.String(), "u-100", "SUSPICIOUS_ACTIVITY", "", `["concurrent_sessions_exceeded"]`, older)
	mock.ExpectQuery(`SELECT \* FROM "session_audit" WHERE user_id = \$1 ORDER BY occurred_at DESC LIMIT \$2`).
		WithArgs("u-100", 50).
		WillReturnRows(rows)

	records, err := repo.ListByUser(context.Background(), "u-100", 50, 0, nil)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].AuditID != first || records[0].Kind != "SESSION_INVALIDATED" || records[0].Reason != "idle_timeout" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[0].Indicators != nil {
		t.Fatalf("expected no indicators, got %v", records[0].Indicators)
	}
	if !records[0].OccurredAt.Equal(newer) {
		t.Fatalf("unexpected occurred at: %v", records[0].OccurredAt)
	}
	if len(records[1].Indicators) != 1 || records[1].Indicators[0] != "concurrent_sessions_exceeded" {
		t.Fatalf("unexpected indicators: %v", records[1].Indicators)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditRepositoryListByUserSinceAndPaging(t *testing.T) {
	t.Parallel()
	repo, mock := newTestRepository(t)

	since := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "session_audit" WHERE user_id = \$1 AND occurred_at >= \$2 ORDER BY occurred_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("u-100", since, 25, 5).
		WillReturnRows(sqlmock.NewRows([]string{"audit_id", "user_id", "kind", "reason", "indicators", "occurred_at"}))

	records, err := repo.ListByUser(context.Background(), "u-100", 25, 5, &since)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditRepositoryListByUserReportsFailure(t *testing.T) {
	t.Parallel()
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT \* FROM "session_audit"`).
		WillReturnError(errors.New("connection reset"))

	if _, err := repo.ListByUser(context.Background(), "u-100", 50, 0, nil); err == nil {
		t.Fatal("expected query error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
