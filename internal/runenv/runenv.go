// Package runenv reads the environment knobs that shape event content:
// the determinism switch, the synthetic time step, the run seed and the
// correlation id. The knobs only affect what gets recorded, never control
// flow.
package runenv

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	deterministicEnvVar = "E2E_DETERMINISTIC"
	timeStepEnvVar      = "E2E_TIME_STEP_MS"
	seedEnvVar          = "E2E_SEED"
	correlationEnvVar   = "E2E_CORRELATION_ID"
)

// DefaultTimeStepMS is the synthetic clock step used when E2E_TIME_STEP_MS is
// unset or unparseable.
const DefaultTimeStepMS = 100

// Env is the resolved knob set for one run.
type Env struct {
	Deterministic bool
	TimeStepMS    int
	Seed          int
	// CorrelationID overrides the recorder's derived "<run_id>:<scenario>"
	// correlation id when non-empty.
	CorrelationID string
}

// FromOS resolves the knobs from the process environment. Determinism
// defaults to on: CI runs want replayable logs unless told otherwise.
func FromOS() Env {
	return Env{
		Deterministic: envDefault(deterministicEnvVar, "1") == "1",
		TimeStepMS:    envInt(timeStepEnvVar, DefaultTimeStepMS),
		Seed:          envInt(seedEnvVar, 0),
		CorrelationID: os.Getenv(correlationEnvVar),
	}
}

// RunID derives the run identifier. Deterministic runs get a seed-derived id
// so two runs with the same inputs produce identical logs; wall-clock runs
// get a millisecond-epoch id.
func (e Env) RunID() string {
	if e.Deterministic {
		return fmt.Sprintf("remote-%08x", e.Seed)
	}
	return fmt.Sprintf("remote-%x", time.Now().UnixMilli())
}

func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
