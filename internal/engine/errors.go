package engine

import "github.com/pkg/errors"

// Validation errors. These are reported synchronously and never leave the
// store mutated.
var (
	ErrNoSuchTable      = errors.New("astraldb: table does not exist")
	ErrAlreadyExists    = errors.New("astraldb: table already exists")
	ErrNotNullViolation = errors.New("astraldb: not-null column missing")
	ErrUniqueViolation  = errors.New("astraldb: unique constraint violated")
	ErrBadColumn        = errors.New("astraldb: unknown column")
)

// Snapshot I/O errors.
var (
	ErrSnapshotCorrupt = errors.New("astraldb: snapshot is structurally invalid")
)
