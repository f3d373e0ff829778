package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/model"
)

// Session is what record statements need from a leased connection.
// *Lease satisfies it.
type Session interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const (
	insertRecord = `INSERT INTO service_a_data (message) VALUES ($1)`
	// id breaks ties between rows written in the same timestamp tick.
	selectRecords = `
	SELECT id, COALESCE(message, ''), created_at
	FROM service_a_data
	ORDER BY created_at DESC, id DESC`
)

// InsertRecord appends one record; id and created_at are assigned by Postgres.
func InsertRecord(ctx context.Context, s Session, message string) error {
	if _, err := s.Exec(ctx, insertRecord, message); err != nil {
		return &QueryError{Op: "insert record", Err: err}
	}
	return nil
}

// ListRecords returns every record, newest first.
// The result is never nil so it encodes as an empty JSON array.
func ListRecords(ctx context.Context, s Session) ([]model.Record, error) {
	rows, err := s.Query(ctx, selectRecords)
	if err != nil {
		return nil, &QueryError{Op: "select records", Err: err}
	}
	defer rows.Close()

	res := []model.Record{}
	for rows.Next() {
		var r model.Record
		if err := rows.Scan(&r.ID, &r.Message, &r.CreatedAt); err != nil {
			return nil, &QueryError{Op: "scan record", Err: err}
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Op: "select records", Err: err}
	}
	return res, nil
}

// InsertRecords appends messages using one batch round-trip.
func InsertRecords(ctx context.Context, s Session, messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range messages {
		batch.Queue(insertRecord, m)
	}
	br := s.SendBatch(ctx, batch)
	for range messages {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return &QueryError{Op: "batch insert", Err: err}
		}
	}
	if err := br.Close(); err != nil {
		return &QueryError{Op: "batch close", Err: err}
	}
	return nil
}
