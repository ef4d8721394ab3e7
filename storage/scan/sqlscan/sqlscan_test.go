package sqlscan

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
)

func newTestScanner(t *testing.T, dollar bool) (*Scanner, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.SQLScanStrategy{
		Driver: "postgres",
		DSN:    "ignored",
		Sources: map[string]config.ScanSource{
			"article":    {Table: "articles", Column: "body"},
			"newsletter": {Table: "newsletters", Column: "html"},
		},
	}

	s, err := newScannerWithDB(cfg, db, dollar)
	if err != nil {
		t.Fatalf("scanner setup: %v", err)
	}

	return s, mock
}

func TestCountMentions(t *testing.T) {
	s, mock := newTestScanner(t, true)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM articles WHERE body LIKE $1 ESCAPE '!'")).
		WithArgs("%uploads/2026/01/a!_b.jpg%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM newsletters WHERE html LIKE $1 ESCAPE '!'")).
		WithArgs("%uploads/2026/01/a!_b.jpg%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	counts, err := s.CountMentions(context.Background(), "uploads/2026/01/a_b.jpg")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[media.ContentArticle] != 2 || len(counts) != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCountMentions_QueryError(t *testing.T) {
	s, mock := newTestScanner(t, false)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM articles WHERE body LIKE ? ESCAPE '!'")).
		WillReturnError(errors.New("table missing"))

	if _, err := s.CountMentions(context.Background(), "x"); err == nil {
		t.Fatalf("expected query error to surface")
	}
}
