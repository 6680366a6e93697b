package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/exactly/exa-indexer/pkg/changeset"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	cursorTable = "cursors"
	cursorId    = "exa-indexer"

	// historySuffix names the insert-only table keeping every version of an upserted row
	historySuffix = "_history"
)

// PostgresSink writes changesets into one table per row table, creating tables on first use.
// Create rows are inserted once. Upsert rows overwrite their non-key columns, and every version is
// also kept in a history table so that Undo can put back the newest version that survives.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu      sync.Mutex
	created map[string]struct{}
}

func NewPostgresSink(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	_, err = pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			block BIGINT NOT NULL,
			hash TEXT NOT NULL
		)`, pgx.Identifier{cursorTable}.Sanitize()))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create cursor table: %w", err)
	}
	return &PostgresSink{
		pool:    pool,
		logger:  logger,
		created: make(map[string]struct{}),
	}, nil
}

func (s *PostgresSink) Apply(ctx context.Context, cs *changeset.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	written := make([]string, 0, len(cs.Rows))
	for _, row := range cs.Rows {
		rows := []changeset.Row{row}
		if row.Operation == changeset.OperationUpsert {
			rows = append(rows, historyRow(row))
		}
		for _, r := range rows {
			if _, ok := s.created[r.Table]; !ok {
				if _, err := tx.Exec(ctx, createTableStatement(r)); err != nil {
					return fmt.Errorf("create table %s: %w", r.Table, err)
				}
			}
			query, args := insertStatement(r)
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("write %s row of block %d: %w", r.Table, cs.Clock.Number, err)
			}
			written = append(written, r.Table)
		}
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, block, hash) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET block = EXCLUDED.block, hash = EXCLUDED.hash`,
		pgx.Identifier{cursorTable}.Sanitize()),
		cursorId, int64(cs.Clock.Number), cs.Clock.Hash.Hex(),
	); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	for _, table := range written {
		s.created[table] = struct{}{}
	}
	s.logger.Sugar().Debugw("Wrote changeset",
		zap.Uint64("block", cs.Clock.Number),
		zap.Int("rows", len(cs.Rows)),
	)
	return nil
}

// Undo deletes the rows of every block above toBlock. Upserted rows last written above toBlock are
// put back to their newest version at or below toBlock, or stay deleted when there is none.
func (s *PostgresSink) Undo(ctx context.Context, toBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT table_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND column_name = 'block' AND table_name <> $1
		ORDER BY table_name`, cursorTable)
	if err != nil {
		return err
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}

	for _, table := range tables {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE block > $1`, pgx.Identifier{table}.Sanitize()), int64(toBlock)); err != nil {
			return fmt.Errorf("undo %s: %w", table, err)
		}
	}
	for _, table := range tables {
		if !strings.HasSuffix(table, historySuffix) {
			continue
		}
		if err := restoreUpserts(ctx, tx, strings.TrimSuffix(table, historySuffix)); err != nil {
			return fmt.Errorf("restore %s: %w", strings.TrimSuffix(table, historySuffix), err)
		}
	}
	var hasBlocks bool
	if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, changeset.TableBlocks).Scan(&hasBlocks); err != nil {
		return err
	}
	if hasBlocks {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE number > $1`, pgx.Identifier{changeset.TableBlocks}.Sanitize()), int64(toBlock)); err != nil {
			return fmt.Errorf("undo %s: %w", changeset.TableBlocks, err)
		}
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET block = $1 WHERE id = $2 AND block > $1`, pgx.Identifier{cursorTable}.Sanitize()), int64(toBlock), cursorId); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func restoreUpserts(ctx context.Context, tx pgx.Tx, table string) error {
	rows, err := tx.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return err
	}
	columns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}
	rows, err = tx.Query(ctx, `
		SELECT a.attname FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = to_regclass($1) AND i.indisprimary
		ORDER BY a.attnum`, pgx.Identifier{table}.Sanitize())
	if err != nil {
		return err
	}
	key, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, restoreStatement(table, columns, key))
	return err
}

// Cursor returns the last block written, if any.
func (s *PostgresSink) Cursor(ctx context.Context) (uint64, bool, error) {
	var block int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT block FROM %s WHERE id = $1`, pgx.Identifier{cursorTable}.Sanitize()), cursorId).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(block), true, nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

func columnType(t changeset.FieldType) string {
	switch t {
	case changeset.FieldTypeInt:
		return "BIGINT"
	case changeset.FieldTypeBigInt:
		return "NUMERIC"
	case changeset.FieldTypeBool:
		return "BOOLEAN"
	}
	return "TEXT"
}

func columns(row changeset.Row) []changeset.Field {
	all := make([]changeset.Field, 0, len(row.PrimaryKey)+len(row.Fields))
	all = append(all, row.PrimaryKey...)
	return append(all, row.Fields...)
}

func identifierList(fields []changeset.Field) string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, pgx.Identifier{f.Name}.Sanitize())
	}
	return strings.Join(names, ", ")
}

func createTableStatement(row changeset.Row) string {
	defs := make([]string, 0, len(row.PrimaryKey)+len(row.Fields)+1)
	for _, f := range columns(row) {
		defs = append(defs, fmt.Sprintf("%s %s NOT NULL", pgx.Identifier{f.Name}.Sanitize(), columnType(f.Type)))
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", identifierList(row.PrimaryKey)))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgx.Identifier{row.Table}.Sanitize(), strings.Join(defs, ", "))
}

// historyRow is the insert-only version of an upsert row, keyed by its upsert key plus block and ordinal.
func historyRow(row changeset.Row) changeset.Row {
	h := changeset.Row{
		Table:      row.Table + historySuffix,
		Operation:  changeset.OperationCreate,
		PrimaryKey: append([]changeset.Field{}, row.PrimaryKey...),
	}
	for _, f := range row.Fields {
		if f.Name == "block" || f.Name == "ordinal" {
			h.PrimaryKey = append(h.PrimaryKey, f)
			continue
		}
		h.Fields = append(h.Fields, f)
	}
	return h
}

// restoreStatement copies the newest history version of every key missing from the live table.
func restoreStatement(table string, columns []string, key []string) string {
	cols := make([]changeset.Field, 0, len(columns))
	hasOrdinal := false
	for _, c := range columns {
		cols = append(cols, changeset.Field{Name: c})
		if c == "ordinal" {
			hasOrdinal = true
		}
	}
	keys := make([]changeset.Field, 0, len(key))
	for _, k := range key {
		keys = append(keys, changeset.Field{Name: k})
	}
	order := identifierList(keys) + `, "block" DESC`
	if hasOrdinal {
		order += `, "ordinal" DESC`
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT DISTINCT ON (%s) %s FROM %s ORDER BY %s ON CONFLICT (%s) DO NOTHING",
		pgx.Identifier{table}.Sanitize(), identifierList(cols), identifierList(keys), identifierList(cols),
		pgx.Identifier{table + historySuffix}.Sanitize(), order, identifierList(keys))
}

// insertStatement binds every value as text and casts it to the column type.
func insertStatement(row changeset.Row) (string, []interface{}) {
	all := columns(row)
	placeholders := make([]string, 0, len(all))
	args := make([]interface{}, 0, len(all))
	for i, f := range all {
		placeholders = append(placeholders, fmt.Sprintf("CAST($%d::text AS %s)", i+1, columnType(f.Type)))
		args = append(args, f.Value)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		pgx.Identifier{row.Table}.Sanitize(), identifierList(all), strings.Join(placeholders, ", "), identifierList(row.PrimaryKey))

	if row.Operation != changeset.OperationUpsert || len(row.Fields) == 0 {
		return query + "DO NOTHING", args
	}
	updates := make([]string, 0, len(row.Fields))
	for _, f := range row.Fields {
		name := pgx.Identifier{f.Name}.Sanitize()
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", name, name))
	}
	return query + "DO UPDATE SET " + strings.Join(updates, ", "), args
}
