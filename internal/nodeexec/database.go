package nodeexec

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite" // pure-Go driver, registered under "sqlite"

	"execengine/internal/tree"
)

// ConnectionPool resolves a step's connection id to an open *sql.DB,
// sourced from GlobalCache.origin_database_mapping (spec §3).
type ConnectionPool func(connectionID string) (*sql.DB, error)

// DatabaseExecutor runs a `database` step's query against its configured
// connection (spec §4.8).
type DatabaseExecutor struct {
	Pool ConnectionPool
}

func (e DatabaseExecutor) Run(ctx context.Context, node *tree.DynamicNode, inCase *tree.DynamicNode) (*CoreExecReturn, error) {
	step := node.Step
	db, err := e.Pool(step.ConnectionID)
	if err != nil {
		return nil, &FailedStepError{Type: EventDatabaseException, Message: err.Error()}
	}

	rows, err := db.QueryContext(ctx, step.Query)
	if err != nil {
		return nil, &FailedStepError{Type: EventDatabaseException, Message: err.Error()}
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, &FailedStepError{Type: EventDatabaseException, Message: err.Error()}
	}

	return &CoreExecReturn{Events: []ProcessObject{{Type: EventStepRunning, SPI: node.SPI.String()}}}, nil
}

// OpenSQLite is the concrete ConnectionPool backing for the database node
// executor's pluggable SQL backend (grounded on nevindra-oasis's direct
// modernc.org/sqlite dependency — pure Go, no cgo, fits the same
// deployment simplicity the rest of this stack aims for).
func OpenSQLite(dsn string) (*sql.DB, error) {
	return sql.Open("sqlite", dsn)
}
