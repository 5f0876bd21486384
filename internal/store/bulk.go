package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"fabingest/internal/logging"
	"fabingest/internal/services"
)

var _ services.Database = (*Store)(nil)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func validateTable(table services.Table, tableName string) error {
	if !identifierPattern.MatchString(tableName) {
		return services.Wrap(services.ErrValidation, "store", "bulk insert",
			fmt.Sprintf("invalid table name %q", tableName), nil)
	}
	if len(table.Columns) == 0 {
		return services.Wrap(services.ErrValidation, "store", "bulk insert",
			fmt.Sprintf("table %s has no columns", tableName), nil)
	}
	seen := make(map[string]bool, len(table.Columns))
	for _, col := range table.Columns {
		if !identifierPattern.MatchString(col) {
			return services.Wrap(services.ErrValidation, "store", "bulk insert",
				fmt.Sprintf("invalid column name %q in %s", col, tableName), nil)
		}
		folded := strings.ToLower(col)
		if seen[folded] {
			return services.Wrap(services.ErrValidation, "store", "bulk insert",
				fmt.Sprintf("duplicate column %q in %s", col, tableName), nil)
		}
		seen[folded] = true
	}
	for _, key := range table.Key {
		if !seen[strings.ToLower(key)] {
			return services.Wrap(services.ErrValidation, "store", "bulk insert",
				fmt.Sprintf("key column %q is not a column of %s", key, tableName), nil)
		}
	}
	for i, row := range table.Rows {
		if len(row) != len(table.Columns) {
			return services.Wrap(services.ErrValidation, "store", "bulk insert",
				fmt.Sprintf("row %d of %s has %d values, want %d", i, tableName, len(row), len(table.Columns)), nil)
		}
	}
	return nil
}

// BulkInsert writes every row of table into tableName inside one
// transaction. The table is created on first use and missing columns are
// added. Rows whose key already exists are skipped; the returned count only
// includes rows actually written.
func (s *Store) BulkInsert(ctx context.Context, table services.Table, tableName string) (int, error) {
	ctx = ensureContext(ctx)
	if err := validateTable(table, tableName); err != nil {
		return 0, err
	}
	if table.Len() == 0 {
		s.logger.Debug("bulk insert skipped, table is empty", logging.String("table", tableName))
		return 0, nil
	}

	if err := s.ensureTable(ctx, table, tableName); err != nil {
		return 0, err
	}

	cols := make([]string, len(table.Columns))
	marks := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = quoteIdent(col)
		marks[i] = "?"
	}
	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName), strings.Join(cols, ", "), strings.Join(marks, ", "))

	var inserted int
	err := retryOnBusy(ctx, func() error {
		inserted = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin bulk insert: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare bulk insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range table.Rows {
			res, err := stmt.ExecContext(ctx, row...)
			if err != nil {
				return fmt.Errorf("insert into %s: %w", tableName, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "store", "bulk insert", tableName, err)
	}

	if skipped := table.Len() - inserted; skipped > 0 {
		s.logger.Debug("duplicate rows skipped",
			logging.String("table", tableName),
			logging.Int("skipped", skipped),
		)
	}
	s.logger.Info("rows inserted",
		logging.String(logging.FieldEventType, "bulk_insert"),
		logging.String("table", tableName),
		logging.Int("rows", inserted),
	)
	return inserted, nil
}

func (s *Store) ensureTable(ctx context.Context, table services.Table, tableName string) error {
	defs := make([]string, 0, len(table.Columns)+1)
	for _, col := range table.Columns {
		defs = append(defs, quoteIdent(col))
	}
	if len(table.Key) > 0 {
		keys := make([]string, len(table.Key))
		for i, key := range table.Key {
			keys[i] = quoteIdent(key)
		}
		defs = append(defs, "UNIQUE ("+strings.Join(keys, ", ")+")")
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(tableName), strings.Join(defs, ", "))
	if _, err := s.execWithRetry(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}

	existing, err := s.tableColumns(ctx, tableName)
	if err != nil {
		return err
	}
	for _, col := range table.Columns {
		if existing[strings.ToLower(col)] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(tableName), quoteIdent(col))
		if _, err := s.execWithRetry(ctx, alter); err != nil {
			return fmt.Errorf("add column %s.%s: %w", tableName, col, err)
		}
	}
	return nil
}

func (s *Store) tableColumns(ctx context.Context, tableName string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(tableName)))
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", tableName, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// CountRows returns the number of rows in tableName, or zero when the table
// does not exist.
func (s *Store) CountRows(ctx context.Context, tableName string) (int, error) {
	if !identifierPattern.MatchString(tableName) {
		return 0, services.Wrap(services.ErrValidation, "store", "count", fmt.Sprintf("invalid table name %q", tableName), nil)
	}
	var exists int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name = ?", tableName,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check table %s: %w", tableName, err)
	}
	if exists == 0 {
		return 0, nil
	}
	var n int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		fmt.Sprintf("SELECT COUNT(1) FROM %s", quoteIdent(tableName)),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", tableName, err)
	}
	return n, nil
}
