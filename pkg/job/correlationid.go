package job

import "github.com/google/uuid"

// CorrelationIDGenerator produces a correlation ID for a job when
// WithCorrelationID(true) is set. A caller substitutes their own scheme
// (e.g. a hardware-salt derived ID) by implementing this interface
// instead of using the default.
type CorrelationIDGenerator interface {
	Generate() string
}

// UUIDCorrelationID is the default generator: a random UUIDv4 per call.
type UUIDCorrelationID struct{}

func (UUIDCorrelationID) Generate() string { return uuid.New().String() }
