package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/iconidentify/tubeconv/internal/domain"
)

// SQL dialects supported by SQLLedger.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

func newRecordID() domain.RecordID {
	return domain.RecordID("rec_" + uuid.NewString())
}

// SQLLedger implements Ledger on a SQL database.
// The downloads table carries either a url column or a filename column,
// depending on the schema variant it was created for.
type SQLLedger struct {
	db      *sql.DB
	dialect string
	schema  domain.Schema
	logger  *slog.Logger
	now     func() time.Time
}

// NewSQLLedger opens the database and creates the downloads table if needed.
func NewSQLLedger(ctx context.Context, dialect, dsn string, schema domain.Schema, logger *slog.Logger) (*SQLLedger, error) {
	if schema != domain.SchemaURL && schema != domain.SchemaFile {
		return nil, fmt.Errorf("unknown ledger schema %q", schema)
	}

	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unknown ledger dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer.
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	l := &SQLLedger{
		db:      db,
		dialect: dialect,
		schema:  schema,
		logger:  logger,
		now:     time.Now,
	}

	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger opened", "dialect", dialect, "schema", schema)
	return l, nil
}

// column is the variant-specific column name.
func (l *SQLLedger) column() string {
	if l.schema == domain.SchemaFile {
		return "filename"
	}
	return "url"
}

func (l *SQLLedger) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS downloads (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			%s TEXT NOT NULL,
			format TEXT NOT NULL DEFAULT '',
			quality TEXT NOT NULL DEFAULT ''
		)`, l.column()),
		`CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// A table created for the other variant is missing our column.
	probe := fmt.Sprintf("SELECT %s FROM downloads LIMIT 0", l.column())
	rows, err := l.db.QueryContext(ctx, probe)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaMismatch, err)
	}
	return rows.Close()
}

// rebind rewrites ? placeholders as $n for postgres.
func (l *SQLLedger) rebind(query string) string {
	if l.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Insert assigns the record ID and creation time and writes the row.
func (l *SQLLedger) Insert(ctx context.Context, rec *domain.ConversionRecord) error {
	if !l.schema.Accepts(rec.Kind) {
		return domain.ErrSchemaMismatch
	}

	rec.ID = newRecordID()
	rec.CreatedAt = l.now().UTC()

	value := rec.SourceURL
	if l.schema == domain.SchemaFile {
		value = rec.Filename
	}

	query := l.rebind(fmt.Sprintf(
		"INSERT INTO downloads (id, created_at, %s, format, quality) VALUES (?, ?, ?, ?, ?)", l.column()))
	if _, err := l.db.ExecContext(ctx, query, string(rec.ID), rec.CreatedAt, value, string(rec.Format), rec.Quality); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// PurgeExpired selects, reports and deletes expired rows in one transaction.
func (l *SQLLedger) PurgeExpired(ctx context.Context, cutoff time.Time, fn func(*domain.ConversionRecord)) (int, error) {
	cutoff = cutoff.UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	query := l.rebind(fmt.Sprintf(
		"SELECT id, created_at, %s, format, quality FROM downloads WHERE created_at < ? ORDER BY created_at", l.column()))
	rows, err := tx.QueryContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select expired: %w", err)
	}

	var expired []*domain.ConversionRecord
	for rows.Next() {
		rec, err := l.scan(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate expired: %w", err)
	}
	rows.Close()

	if fn != nil {
		for _, rec := range expired {
			fn(rec)
		}
	}

	result, err := tx.ExecContext(ctx, l.rebind("DELETE FROM downloads WHERE created_at < ?"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		l.logger.Info("purged expired records", "deleted", deleted, "cutoff", cutoff)
	}
	return int(deleted), nil
}

func (l *SQLLedger) scan(rows *sql.Rows) (*domain.ConversionRecord, error) {
	var (
		id, value, format, quality string
		createdAt                  time.Time
	)
	if err := rows.Scan(&id, &createdAt, &value, &format, &quality); err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	rec := &domain.ConversionRecord{
		ID:        domain.RecordID(id),
		CreatedAt: createdAt.UTC(),
		Format:    domain.MediaType(format),
		Quality:   quality,
	}
	if l.schema == domain.SchemaFile {
		rec.Kind = domain.KindArtifact
		rec.Filename = value
	} else {
		rec.Kind = domain.KindPreview
		rec.SourceURL = value
	}
	return rec, nil
}

// Count returns the number of stored rows.
func (l *SQLLedger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloads").Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Schema returns the record shape this ledger accepts.
func (l *SQLLedger) Schema() domain.Schema {
	return l.schema
}

// Ping checks the database connection.
func (l *SQLLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database.
func (l *SQLLedger) Close() error {
	return l.db.Close()
}
