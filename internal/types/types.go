// Package types holds the JSON contracts shared between the session executor
// and the CLI: the golden baseline and the aggregated run result.
package types

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Dicklesworthstone/frankenterm-e2e/internal/recorder"
)

// Golden is a previously captured reference summary used for regression
// comparison. ChecksumChain is the authoritative field; Frames is carried for
// diagnostics only and reads -1 when the file omits it.
type Golden struct {
	ChecksumChain string `json:"checksum_chain"`
	Frames        int    `json:"frames"`
}

// LoadGolden reads a golden baseline file.
func LoadGolden(path string) (*Golden, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g := Golden{Frames: -1}
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse golden file: %w", err)
	}
	return &g, nil
}

// Result is the aggregated outcome of one session run. The process exit
// status derives from Outcome; everything else is context for humans and log
// analyzers.
type Result struct {
	Outcome string   `json:"outcome"`
	Errors  []string `json:"errors"`
	recorder.Summary
	AssertionsFailed int `json:"assertions_failed"`
	AssertionsTotal  int `json:"assertions_total"`
}

// Passed reports whether the run verdict is pass.
func (r *Result) Passed() bool {
	return r.Outcome == "pass"
}
