// Package spanstore persists GenAI client spans in a local SQLite database.
// Store is an OpenTelemetry SpanExporter with a query side for the CLI.
package spanstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/andrewh/genaitrace/pkg/genai"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("spanstore: store closed")

// Store writes spans that carry gen_ai.operation.name and reads them back.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	insert *sql.Stmt
}

var _ sdktrace.SpanExporter = (*Store)(nil)

// Open opens or creates the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("spanstore: database path cannot be empty")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening span database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening span database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	insert, err := db.PrepareContext(ctx, `
		INSERT OR REPLACE INTO spans (
			trace_id, span_id, parent_span_id, name, start_unix_nano, end_unix_nano,
			status_code, status_message, outcome, operation, provider,
			request_model, response_model, error_type, input_tokens, output_tokens, attributes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	return &Store{db: db, insert: insert}, nil
}

// uriPath escapes the characters that end or encode the path of an SQLite URI filename.
var uriPath = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func dsn(path string) string {
	return "file:" + uriPath.Replace(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// ExportSpans stores the GenAI spans of a batch in one transaction.
func (s *Store) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning span batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.StmtContext(ctx, s.insert)
	for _, span := range spans {
		rec, ok := recordFromSpan(span)
		if !ok {
			continue
		}
		attrs, err := json.Marshal(rec.Attributes)
		if err != nil {
			return fmt.Errorf("encoding attributes of span %s: %w", rec.SpanID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.TraceID, rec.SpanID, rec.ParentSpanID, rec.Name,
			rec.Start.UnixNano(), rec.Start.Add(rec.Duration).UnixNano(),
			rec.StatusCode, rec.StatusMessage, rec.Outcome, rec.Operation, rec.Provider,
			rec.RequestModel, rec.ResponseModel, rec.ErrorType,
			nullInt(rec.InputTokens), nullInt(rec.OutputTokens), string(attrs),
		); err != nil {
			return fmt.Errorf("storing span %s: %w", rec.SpanID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing span batch: %w", err)
	}
	return nil
}

// Shutdown closes the database.
func (s *Store) Shutdown(context.Context) error {
	return s.Close()
}

// Close closes the database. Further calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	_ = s.insert.Close()
	return db.Close()
}

func recordFromSpan(span sdktrace.ReadOnlySpan) (Record, bool) {
	attrs := span.Attributes()
	byKey := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		byKey[kv.Key] = kv.Value
	}
	op, ok := byKey[genai.OperationNameKey]
	if !ok {
		return Record{}, false
	}

	str := func(k attribute.Key) string {
		if v, ok := byKey[k]; ok && v.Type() == attribute.STRING {
			return v.AsString()
		}
		return ""
	}
	num := func(k attribute.Key) *int64 {
		if v, ok := byKey[k]; ok && v.Type() == attribute.INT64 {
			n := v.AsInt64()
			return &n
		}
		return nil
	}

	all := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		all[string(kv.Key)] = kv.Value.AsInterface()
	}

	rec := Record{
		TraceID:       span.SpanContext().TraceID().String(),
		SpanID:        span.SpanContext().SpanID().String(),
		Name:          span.Name(),
		Start:         span.StartTime(),
		Duration:      span.EndTime().Sub(span.StartTime()),
		StatusCode:    strings.ToLower(span.Status().Code.String()),
		StatusMessage: span.Status().Description,
		Outcome:       str(genai.OutcomeKey),
		Operation:     op.Emit(),
		Provider:      str(genai.ProviderNameKey),
		RequestModel:  str(genai.RequestModelKey),
		ResponseModel: str(genai.ResponseModelKey),
		ErrorType:     str(genai.ErrorTypeKey),
		InputTokens:   num(genai.UsageInputTokensKey),
		OutputTokens:  num(genai.UsageOutputTokensKey),
		Attributes:    all,
	}
	if p := span.Parent(); p.IsValid() {
		rec.ParentSpanID = p.SpanID().String()
	}
	return rec, true
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

// Record is one stored span.
type Record struct {
	TraceID       string
	SpanID        string
	ParentSpanID  string
	Name          string
	Start         time.Time
	Duration      time.Duration
	StatusCode    string
	StatusMessage string
	Outcome       string
	Operation     string
	Provider      string
	RequestModel  string
	ResponseModel string
	ErrorType     string
	InputTokens   *int64
	OutputTokens  *int64
	Attributes    map[string]any
}
