package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"docgen-backend/internal/compose"
)

func newMockRepo(t *testing.T, ttl time.Duration) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db, TTL: ttl}, mock
}

func TestPGRepoCreateSetsExpiry(t *testing.T) {
	repo, mock := newMockRepo(t, 24*time.Hour)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	task := Task{
		ID:        "task-1",
		RequestID: "req-1",
		Params:    Params{SubjectID: "subject-1", JobID: "job-1", Tone: "professional", DocType: compose.CoverLetter},
		Stage:     StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO generation_tasks").
		WithArgs(
			task.ID,
			task.RequestID,
			"subject-1",
			"cover_letter",
			sqlmock.AnyArg(), // params
			"queued",
			0,
			0,
			now,
			now,
			sqlmock.AnyArg(), // expires_at
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetDecodesJSONColumns(t *testing.T) {
	repo, mock := newMockRepo(t, 0)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "request_id", "params", "stage", "attempt", "result", "failure", "created_at", "updated_at"}).
		AddRow("task-1", nil, []byte(`{"subjectId":"s1","docType":"resume","tone":"warm"}`), "succeeded", 2,
			`{"content":"Improved resume","pdfUrl":"","textUrl":"https://cdn/x.txt"}`, nil, now, now)
	mock.ExpectQuery("SELECT id, request_id, params").WithArgs("task-1").WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Params.DocType != compose.Resume || got.Params.Tone != "warm" {
		t.Fatalf("unexpected params: %+v", got.Params)
	}
	if got.Result == nil || got.Result.Content != "Improved resume" || got.Result.TextURL != "https://cdn/x.txt" {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
	if got.Failure != nil {
		t.Fatalf("expected no failure, got %+v", got.Failure)
	}
	if got.Attempt != 2 || got.Stage != StageSucceeded {
		t.Fatalf("unexpected stage/attempt: %s/%d", got.Stage, got.Attempt)
	}
}

func TestPGRepoGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t, 0)
	mock.ExpectQuery("SELECT id, request_id, params").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoRecordStageExplainsMiss(t *testing.T) {
	tests := []struct {
		name     string
		finished any
		noRow    bool
		want     error
	}{
		{name: "regression", finished: false, want: ErrStageRegression},
		{name: "finished", finished: true, want: ErrAlreadyFinished},
		{name: "missing", noRow: true, want: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t, 0)
			ts := time.Now().UTC()
			mock.ExpectExec("UPDATE generation_tasks").
				WithArgs("validating_input", 1, 1, ts, "task-1").
				WillReturnResult(sqlmock.NewResult(0, 0))
			rows := sqlmock.NewRows([]string{"finished"})
			if !tt.noRow {
				rows.AddRow(tt.finished)
			}
			mock.ExpectQuery("SELECT finished_at IS NOT NULL").WithArgs("task-1").WillReturnRows(rows)

			err := repo.RecordStage(context.Background(), StageEvent{TaskID: "task-1", Stage: StageValidatingInput, Attempt: 1, Timestamp: ts})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("ExpectationsWereMet: %v", err)
			}
		})
	}
}

func TestPGRepoFinish(t *testing.T) {
	repo, mock := newMockRepo(t, 0)
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE generation_tasks").
		WithArgs("succeeded", StageSucceeded.Index(), sqlmock.AnyArg(), sqlmock.AnyArg(), at, "task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Finish(context.Background(), "task-1", StageSucceeded, &Result{Content: "Dear hiring team"}, nil, at); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := repo.Finish(context.Background(), "task-1", StageSucceeded, &Result{}, nil, at); !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult before touching the db, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
