package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/storage/records"
	storageutil "github.com/indieinfra/mediavault/storage/util"
)

type placeholderStyle int

const (
	placeholderQuestion placeholderStyle = iota
	placeholderDollar
)

// sqlite extended result codes for constraint violations.
const (
	sqliteConstraintForeignKey = 787
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

const assetColumns = "id, object_id, url, filename, original_filename, byte_size, width, height, format, folder, uploaded_by, uploaded_at, metadata"

const cleanupColumns = "id, operation_type, status, dry_run, files_processed, files_deleted, files_failed, space_freed, started_at, completed_at, error_message"

// Store is a records.Store backed by postgres (pgx), mysql or sqlite.
type Store struct {
	db            *sql.DB
	assetsTable   string
	refsTable     string
	cleanupsTable string
	placeholder   placeholderStyle
}

func NewStore(cfg *config.Records) (*Store, error) {
	store, err := newStoreWithDB(cfg, nil)
	if err != nil {
		return nil, err
	}

	driverName, err := ResolveDriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if driverName == "sqlite" {
		dsn = withSQLiteForeignKeys(dsn)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	store.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// withSQLiteForeignKeys turns on foreign key enforcement for every pooled
// connection; sqlite leaves it off by default.
func withSQLiteForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

func newStoreWithDB(cfg *config.Records, db *sql.DB) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("records sql config is nil")
	}

	placeholder, err := detectPlaceholderStyle(cfg.Driver)
	if err != nil {
		return nil, err
	}

	prefix := cfg.Prefix()

	return &Store{
		db:            db,
		assetsTable:   storageutil.DeriveTableName(prefix, "assets"),
		refsTable:     storageutil.DeriveTableName(prefix, "asset_references"),
		cleanupsTable: storageutil.DeriveTableName(prefix, "cleanup_operations"),
		placeholder:   placeholder,
	}, nil
}

func detectPlaceholderStyle(driver string) (placeholderStyle, error) {
	driverName, err := ResolveDriverName(driver)
	if err != nil {
		return placeholderQuestion, err
	}

	if driverName == "pgx" {
		return placeholderDollar, nil
	}

	return placeholderQuestion, nil
}

// ResolveDriverName maps a configured driver to its database/sql name.
func ResolveDriverName(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "postgres", "pgx":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", driver)
	}
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, q := range s.schemaQueries() {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) schemaQueries() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
id VARCHAR(64) PRIMARY KEY,
object_id VARCHAR(255) NOT NULL UNIQUE,
url TEXT NOT NULL,
filename VARCHAR(255) NOT NULL,
original_filename VARCHAR(255) NOT NULL,
byte_size BIGINT NOT NULL,
width INTEGER NOT NULL,
height INTEGER NOT NULL,
format VARCHAR(32) NOT NULL,
folder VARCHAR(255) NOT NULL,
uploaded_by VARCHAR(255) NOT NULL,
uploaded_at BIGINT NOT NULL,
metadata TEXT NOT NULL
)`, s.assetsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
asset_id VARCHAR(64) NOT NULL,
content_type VARCHAR(32) NOT NULL,
content_id VARCHAR(191) NOT NULL,
context VARCHAR(64) NOT NULL,
created_at BIGINT NOT NULL,
PRIMARY KEY (asset_id, content_type, content_id, context),
FOREIGN KEY (asset_id) REFERENCES %s (id)
)`, s.refsTable, s.assetsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
id VARCHAR(64) PRIMARY KEY,
operation_type VARCHAR(16) NOT NULL,
status VARCHAR(16) NOT NULL,
dry_run BOOLEAN NOT NULL,
files_processed INTEGER NOT NULL,
files_deleted INTEGER NOT NULL,
files_failed INTEGER NOT NULL,
space_freed BIGINT NOT NULL,
started_at BIGINT NOT NULL,
completed_at BIGINT NULL,
error_message TEXT NOT NULL
)`, s.cleanupsTable),
	}
}

func (s *Store) CreateAsset(ctx context.Context, asset *media.Asset) error {
	if asset != nil && asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if err := asset.Validate(); err != nil {
		return err
	}

	meta, err := encodeMetadata(asset.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.insertAssetQuery(),
		asset.ID, asset.ObjectID, asset.URL, asset.Filename, asset.OriginalFilename,
		asset.ByteSize, asset.Width, asset.Height, asset.Format, asset.Folder,
		asset.UploadedBy, asset.UploadedAt.UnixMilli(), meta)
	if err != nil {
		return fmt.Errorf("insert asset %s: %w", asset.ID, classify(err))
	}

	return nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (*media.Asset, error) {
	return s.getAsset(ctx, s.selectAssetQuery("id"), id)
}

func (s *Store) GetAssetByObjectID(ctx context.Context, objectID string) (*media.Asset, error) {
	return s.getAsset(ctx, s.selectAssetQuery("object_id"), objectID)
}

func (s *Store) getAsset(ctx context.Context, query string, arg string) (*media.Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", arg, records.ErrNotFound)
		}
		return nil, err
	}

	return a, nil
}

func (s *Store) ListAssets(ctx context.Context, filter records.AssetFilter) ([]*media.Asset, error) {
	query, args := s.listAssetsQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*media.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

func (s *Store) AnnotateAsset(ctx context.Context, id string, metadata map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, s.selectMetadataQuery(), id).Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("asset %s: %w", id, records.ErrNotFound)
			}
			return err
		}

		current, err := decodeMetadata(raw)
		if err != nil {
			return err
		}
		if current == nil {
			current = map[string]string{}
		}
		maps.Copy(current, metadata)

		encoded, err := encodeMetadata(current)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, s.updateMetadataQuery(), encoded, id)
		return err
	})
}

// DeleteAssetIfUnreferenced deletes with a NOT EXISTS guard. A reference
// inserted concurrently is caught either by the guard or by the foreign key.
func (s *Store) DeleteAssetIfUnreferenced(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.deleteAssetQuery(), id, id)
		if err != nil {
			return fmt.Errorf("delete asset %s: %w", id, classifyForeignKey(err, records.ErrReferenced))
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		var exists int
		if err := tx.QueryRowContext(ctx, s.countAssetQuery(), id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("asset %s: %w", id, records.ErrNotFound)
		}
		return fmt.Errorf("asset %s: %w", id, records.ErrReferenced)
	})
}

func (s *Store) CountReferences(ctx context.Context, assetID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.countReferencesQuery(), assetID).Scan(&n); err != nil {
		return 0, err
	}

	return n, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx records.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqlTx{store: s, tx: tx})
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// Rollback is safe to call after Commit; it will return sql.ErrTxDone
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("unexpected error during transaction rollback: %v", rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) CreateCleanup(ctx context.Context, op *media.CleanupOperation) error {
	if op == nil {
		return fmt.Errorf("cleanup operation is nil")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, s.insertCleanupQuery(),
		op.ID, string(op.OperationType), string(op.Status), op.DryRun,
		op.FilesProcessed, op.FilesDeleted, op.FilesFailed, op.SpaceFreed,
		op.StartedAt.UnixMilli(), nullableMillis(op.CompletedAt), op.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert cleanup %s: %w", op.ID, classify(err))
	}

	return nil
}

func (s *Store) UpdateCleanup(ctx context.Context, op *media.CleanupOperation) error {
	res, err := s.db.ExecContext(ctx, s.updateCleanupQuery(),
		string(op.Status), op.FilesProcessed, op.FilesDeleted, op.FilesFailed,
		op.SpaceFreed, nullableMillis(op.CompletedAt), op.ErrorMessage, op.ID)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("cleanup %s: %w", op.ID, records.ErrNotFound)
	}

	return nil
}

func (s *Store) ListCleanups(ctx context.Context, limit int) ([]*media.CleanupOperation, error) {
	rows, err := s.db.QueryContext(ctx, s.listCleanupsQuery(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*media.CleanupOperation
	for rows.Next() {
		var (
			op          media.CleanupOperation
			opType      string
			status      string
			startedAt   int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &opType, &status, &op.DryRun, &op.FilesProcessed, &op.FilesDeleted,
			&op.FilesFailed, &op.SpaceFreed, &startedAt, &completedAt, &op.ErrorMessage); err != nil {
			return nil, err
		}

		op.OperationType = media.OperationType(opType)
		op.Status = media.OperationStatus(status)
		op.StartedAt = time.UnixMilli(startedAt).UTC()
		if completedAt.Valid {
			t := time.UnixMilli(completedAt.Int64).UTC()
			op.CompletedAt = &t
		}
		out = append(out, &op)
	}

	return out, rows.Err()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqlTx struct {
	store *Store
	tx    *sql.Tx
}

func (t *sqlTx) ListReferences(ctx context.Context, key media.ContentKey) ([]media.Reference, error) {
	rows, err := t.tx.QueryContext(ctx, t.store.listReferencesQuery(), string(key.Type), key.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []media.Reference
	for rows.Next() {
		var (
			ref       media.Reference
			ct        string
			createdAt int64
		)
		if err := rows.Scan(&ref.AssetID, &ct, &ref.ContentID, &ref.Context, &createdAt); err != nil {
			return nil, err
		}
		ref.ContentType = media.ContentType(ct)
		ref.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, ref)
	}

	return out, rows.Err()
}

func (t *sqlTx) InsertReference(ctx context.Context, ref media.Reference) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	var exists int
	if err := t.tx.QueryRowContext(ctx, t.store.countAssetQuery(), ref.AssetID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("asset %s: %w", ref.AssetID, records.ErrNotFound)
	}

	_, err := t.tx.ExecContext(ctx, t.store.insertReferenceQuery(),
		ref.AssetID, string(ref.ContentType), ref.ContentID, ref.Context, ref.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert reference: %w", classify(classifyForeignKey(err, records.ErrNotFound)))
	}

	return nil
}

func (t *sqlTx) DeleteReference(ctx context.Context, ref media.Reference) error {
	res, err := t.tx.ExecContext(ctx, t.store.deleteReferenceQuery(),
		ref.AssetID, string(ref.ContentType), ref.ContentID, ref.Context)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reference: %w", records.ErrNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*media.Asset, error) {
	var (
		a          media.Asset
		uploadedAt int64
		meta       string
	)

	if err := row.Scan(&a.ID, &a.ObjectID, &a.URL, &a.Filename, &a.OriginalFilename, &a.ByteSize,
		&a.Width, &a.Height, &a.Format, &a.Folder, &a.UploadedBy, &uploadedAt, &meta); err != nil {
		return nil, err
	}

	a.UploadedAt = time.UnixMilli(uploadedAt).UTC()

	m, err := decodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	a.Metadata = m

	return &a, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	return string(b), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	return m, nil
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// classifyForeignKey maps a driver-specific foreign key violation onto
// sentinel. Deleting a referenced asset and referencing a missing asset both
// raise one.
func classifyForeignKey(err error, sentinel error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %v", sentinel, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == 1451 || myErr.Number == 1452) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && (liteErr.Code() == sqliteConstraintForeignKey || strings.Contains(liteErr.Error(), "FOREIGN KEY constraint failed")) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}

	return err
}

// classify maps driver-specific unique violations onto records.ErrDuplicate.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", records.ErrDuplicate, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return fmt.Errorf("%w: %v", records.ErrDuplicate, err)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey || strings.Contains(liteErr.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %v", records.ErrDuplicate, err)
		}
	}

	return err
}
