package db

import (
	"context"
)

// RecordsTable is the only table the service owns.
const RecordsTable = "service_a_data"

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS service_a_data (
	id SERIAL PRIMARY KEY,
	message VARCHAR(255),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

// EnsureSchema creates the records table if it does not exist yet.
// It is safe to run on every startup.
func EnsureSchema(ctx context.Context, p *Pool) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return &SchemaInitError{Table: RecordsTable, Err: err}
	}
	defer lease.Release()

	if _, err := lease.Exec(ctx, createRecordsTable); err != nil {
		return &SchemaInitError{Table: RecordsTable, Err: &QueryError{Op: "create table", Err: err}}
	}
	return nil
}
