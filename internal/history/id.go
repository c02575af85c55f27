package history

import (
	"time"

	"github.com/google/uuid"
)

// RunIDGenerator produces run IDs.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7 generates time-ordered run IDs, so ListRuns order and ID order
// agree.
type UUIDv7 struct{}

func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock supplies run timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
