package sqlscan

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/storage/records/sqlstore"
	"github.com/indieinfra/mediavault/storage/scan"
)

// Scanner counts LIKE matches in the tables holding content bodies.
type Scanner struct {
	db      *sql.DB
	sources map[media.ContentType]config.ScanSource
	dollar  bool
}

func NewScanner(cfg *config.SQLScanStrategy) (*Scanner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sql scan config is nil")
	}

	driverName, err := sqlstore.ResolveDriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("content database unreachable: %w", err)
	}

	s, err := newScannerWithDB(cfg, db, driverName == "pgx")
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func newScannerWithDB(cfg *config.SQLScanStrategy, db *sql.DB, dollar bool) (*Scanner, error) {
	sources, err := scan.ParseSources(cfg.Sources)
	if err != nil {
		return nil, err
	}

	return &Scanner{db: db, sources: sources, dollar: dollar}, nil
}

func (s *Scanner) CountMentions(ctx context.Context, needle string) (map[media.ContentType]int, error) {
	pattern := "%" + scan.EscapeLike(needle) + "%"
	counts := map[media.ContentType]int{}

	for _, ct := range media.ContentTypes {
		src, ok := s.sources[ct]
		if !ok {
			continue
		}

		var n int
		if err := s.db.QueryRowContext(ctx, s.countQuery(src), pattern).Scan(&n); err != nil {
			return nil, fmt.Errorf("scan %s bodies: %w", ct, err)
		}
		if n > 0 {
			counts[ct] = n
		}
	}

	return counts, nil
}

func (s *Scanner) countQuery(src config.ScanSource) string {
	placeholder := "?"
	if s.dollar {
		placeholder = "$1"
	}

	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s LIKE %s ESCAPE '!'", src.Table, src.Column, placeholder)
}

func (s *Scanner) Close() error {
	return s.db.Close()
}
