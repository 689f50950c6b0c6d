package otel

import (
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// pragmas applied to the single pooled connection at open time. WAL keeps
// readers off the writer's lock; busy_timeout guards against an external
// process (sqlite3 shell, backup job) holding the file.
var openPragmas = []string{
	"journal_mode=WAL",
	"foreign_keys=ON",
	"busy_timeout=5000",
}

// OpenDB opens the payment database with OpenTelemetry instrumentation:
// every SQL operation is traced and the connection pool reports metrics.
//
// The pool is capped at one connection for the same reason sqlite.New caps
// it: the session state machine's conditioned updates and River's job
// queue share this database, and a second writer connection turns the
// claim CAS into SQLITE_BUSY failures. One connection also guarantees the
// pragmas below apply to every statement that will ever run.
func OpenDB(dataSourceName string) (*sql.DB, error) {
	db, err := otelsql.Open("sqlite", dataSourceName,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
	)
	if err != nil {
		return nil, fmt.Errorf("opening instrumented database: %w", err)
	}

	db.SetMaxOpenConns(1)

	for _, pragma := range openPragmas {
		if _, err := db.Exec("PRAGMA " + pragma); err != nil {
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := otelsql.RegisterDBStatsMetrics(db,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
	); err != nil {
		return nil, fmt.Errorf("registering db stats metrics: %w", err)
	}

	return db, nil
}
