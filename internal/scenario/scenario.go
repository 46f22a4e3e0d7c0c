// Package scenario loads and validates the declarative scripts driving one
// test session. Scenario files are YAML (and therefore also plain JSON, which
// is what the fixture generators emit).
package scenario

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step types. An unrecognized type is a fatal scenario error at execution
// time.
const (
	StepSend   = "send"
	StepResize = "resize"
	StepWait   = "wait"
	StepDrain  = "drain"
)

const (
	// DefaultWaitMS is the wait-step delay when ms is absent.
	DefaultWaitMS = 100

	defaultInitialCols = 120
	defaultInitialRows = 40
	defaultTimeoutS    = 30
)

// Scenario represents one scenario file. Immutable once loaded; step order is
// the replay order.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	InitialCols int    `yaml:"initial_cols"`
	InitialRows int    `yaml:"initial_rows"`
	TimeoutS    int    `yaml:"timeout_s"`
	Steps       []Step `yaml:"steps"`
	// Assertions stays loosely typed on purpose: malformed entries (or a
	// non-array value) must surface as failed assertions at verification
	// time, not as load errors.
	Assertions        any      `yaml:"assertions"`
	FixtureCategories []string `yaml:"fixture_categories"`
}

// Step is one scripted action. Which fields apply depends on Type.
type Step struct {
	Type string `yaml:"type"`

	// Payload source fields for send steps; mutually exclusive.
	DataHex *string `yaml:"data_hex"`
	DataB64 *string `yaml:"data_b64"`
	Data    *string `yaml:"data"`

	Cols    int  `yaml:"cols"`
	Rows    int  `yaml:"rows"`
	DelayMS int  `yaml:"delay_ms"`
	MS      *int `yaml:"ms"`

	InputType string `yaml:"input_type"`
	Comment   string `yaml:"comment"`
}

// Payload decodes the step's input bytes from whichever source field is set,
// preferring hex over base64 over literal text. No source field means an
// empty payload.
func (s Step) Payload() ([]byte, error) {
	switch {
	case s.DataHex != nil:
		data, err := hex.DecodeString(*s.DataHex)
		if err != nil {
			return nil, fmt.Errorf("decode data_hex: %w", err)
		}
		return data, nil
	case s.DataB64 != nil:
		data, err := base64.StdEncoding.DecodeString(*s.DataB64)
		if err != nil {
			return nil, fmt.Errorf("decode data_b64: %w", err)
		}
		return data, nil
	case s.Data != nil:
		return []byte(*s.Data), nil
	}
	return nil, nil
}

// WaitMS returns the wait-step delay, applying the default.
func (s Step) WaitMS() int {
	if s.MS != nil {
		return *s.MS
	}
	return DefaultWaitMS
}

// AssertionCount returns the declared assertion count, 0 when the assertions
// value is absent or not an array.
func (s *Scenario) AssertionCount() int {
	if list, ok := s.Assertions.([]any); ok {
		return len(list)
	}
	return 0
}

// Load reads a scenario file and applies defaults.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.InitialCols == 0 {
		sc.InitialCols = defaultInitialCols
	}
	if sc.InitialRows == 0 {
		sc.InitialRows = defaultInitialRows
	}
	if sc.TimeoutS == 0 {
		sc.TimeoutS = defaultTimeoutS
	}
	return &sc, nil
}

// Validate checks required fields and step well-formedness.
func Validate(sc *Scenario) error {
	if sc.Name == "" {
		return errors.New("scenario name is required")
	}
	if sc.InitialCols <= 0 || sc.InitialRows <= 0 {
		return fmt.Errorf("initial geometry must be positive, got %dx%d", sc.InitialCols, sc.InitialRows)
	}
	if sc.TimeoutS <= 0 {
		return fmt.Errorf("timeout_s must be positive, got %d", sc.TimeoutS)
	}
	for i, step := range sc.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Type {
	case StepSend:
		sources := 0
		for _, set := range []bool{step.DataHex != nil, step.DataB64 != nil, step.Data != nil} {
			if set {
				sources++
			}
		}
		if sources > 1 {
			return errors.New("data_hex, data_b64 and data are mutually exclusive")
		}
		if _, err := step.Payload(); err != nil {
			return err
		}
	case StepResize:
		if step.Cols <= 0 || step.Rows <= 0 {
			return fmt.Errorf("resize requires positive cols and rows, got %dx%d", step.Cols, step.Rows)
		}
	case StepWait:
		if step.MS != nil && *step.MS < 0 {
			return fmt.Errorf("wait ms cannot be negative, got %d", *step.MS)
		}
	case StepDrain:
	case "":
		return errors.New("step type is required")
	default:
		return fmt.Errorf("unknown step type: %s", step.Type)
	}
	if step.DelayMS < 0 {
		return fmt.Errorf("delay_ms cannot be negative, got %d", step.DelayMS)
	}
	return nil
}
