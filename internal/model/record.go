// Package model contains domain models shared by the DB and API layers.
package model

import "time"

// Record is one row of the service_a_data table.
// Field types align with the Postgres schema: SERIAL -> int64, TIMESTAMP -> time.Time.
type Record struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
