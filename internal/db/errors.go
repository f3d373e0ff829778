package db

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned by Acquire when every slot stayed leased
	// for the whole acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrPoolClosed is returned by Acquire once Close has started.
	ErrPoolClosed = errors.New("connection pool closed")
	// ErrDrainTimeout is returned by Close when outstanding leases had to be
	// forcibly terminated.
	ErrDrainTimeout = errors.New("connection pool drain timed out")
)

// ConnectionError reports that a database session could not be obtained,
// e.g. the server is unreachable or rejected the credentials.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports a statement that failed on a leased session.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// SchemaInitError reports that the schema could not be ensured at startup.
type SchemaInitError struct {
	Table string
	Err   error
}

func (e *SchemaInitError) Error() string {
	return fmt.Sprintf("ensure table %s: %v", e.Table, e.Err)
}

func (e *SchemaInitError) Unwrap() error { return e.Err }
