package sqlstore

import (
	"fmt"
	"strings"

	"github.com/indieinfra/mediavault/storage/records"
)

func (s *Store) placeholderFor(index int) string {
	if s.placeholder == placeholderDollar {
		return fmt.Sprintf("$%d", index)
	}

	return "?"
}

func (s *Store) placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.placeholderFor(from + i)
	}
	return strings.Join(parts, ", ")
}

func (s *Store) insertAssetQuery() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.assetsTable, assetColumns, s.placeholders(1, 13))
}

func (s *Store) selectAssetQuery(column string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", assetColumns, s.assetsTable, column, s.placeholderFor(1))
}

func (s *Store) selectMetadataQuery() string {
	return fmt.Sprintf("SELECT metadata FROM %s WHERE id = %s", s.assetsTable, s.placeholderFor(1))
}

func (s *Store) updateMetadataQuery() string {
	return fmt.Sprintf("UPDATE %s SET metadata = %s WHERE id = %s", s.assetsTable, s.placeholderFor(1), s.placeholderFor(2))
}

func (s *Store) deleteAssetQuery() string {
	return fmt.Sprintf("DELETE FROM %s WHERE id = %s AND NOT EXISTS (SELECT 1 FROM %s r WHERE r.asset_id = %s)",
		s.assetsTable, s.placeholderFor(1), s.refsTable, s.placeholderFor(2))
}

func (s *Store) countAssetQuery() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = %s", s.assetsTable, s.placeholderFor(1))
}

func (s *Store) listAssetsQuery(filter records.AssetFilter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)

	fmt.Fprintf(&b, "SELECT %s FROM %s a WHERE 1 = 1", qualified("a", assetColumns), s.assetsTable)

	if !filter.UploadedBefore.IsZero() {
		args = append(args, filter.UploadedBefore.UnixMilli())
		fmt.Fprintf(&b, " AND a.uploaded_at < %s", s.placeholderFor(len(args)))
	}

	if filter.Unreferenced {
		fmt.Fprintf(&b, " AND NOT EXISTS (SELECT 1 FROM %s r WHERE r.asset_id = a.id)", s.refsTable)
	}

	b.WriteString(" ORDER BY a.uploaded_at, a.id")

	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
	}

	return b.String(), args
}

func (s *Store) countReferencesQuery() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE asset_id = %s", s.refsTable, s.placeholderFor(1))
}

func (s *Store) listReferencesQuery() string {
	return fmt.Sprintf(
		"SELECT asset_id, content_type, content_id, context, created_at FROM %s WHERE content_type = %s AND content_id = %s ORDER BY asset_id, context",
		s.refsTable, s.placeholderFor(1), s.placeholderFor(2))
}

func (s *Store) insertReferenceQuery() string {
	return fmt.Sprintf("INSERT INTO %s (asset_id, content_type, content_id, context, created_at) VALUES (%s)",
		s.refsTable, s.placeholders(1, 5))
}

func (s *Store) deleteReferenceQuery() string {
	return fmt.Sprintf("DELETE FROM %s WHERE asset_id = %s AND content_type = %s AND content_id = %s AND context = %s",
		s.refsTable, s.placeholderFor(1), s.placeholderFor(2), s.placeholderFor(3), s.placeholderFor(4))
}

func (s *Store) insertCleanupQuery() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.cleanupsTable, cleanupColumns, s.placeholders(1, 11))
}

func (s *Store) updateCleanupQuery() string {
	return fmt.Sprintf(
		"UPDATE %s SET status = %s, files_processed = %s, files_deleted = %s, files_failed = %s, space_freed = %s, completed_at = %s, error_message = %s WHERE id = %s",
		s.cleanupsTable,
		s.placeholderFor(1), s.placeholderFor(2), s.placeholderFor(3), s.placeholderFor(4),
		s.placeholderFor(5), s.placeholderFor(6), s.placeholderFor(7), s.placeholderFor(8))
}

func (s *Store) listCleanupsQuery(limit int) string {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY started_at DESC, id DESC", cleanupColumns, s.cleanupsTable)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q
}

func qualified(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
