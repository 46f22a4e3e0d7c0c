package assertion_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/frankenterm-e2e/internal/assertion"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/recorder"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/runenv"
)

func newRecorder(t *testing.T) *recorder.Recorder {
	t.Helper()
	rec, err := recorder.New(recorder.Config{
		RunID:        "run-1",
		ScenarioName: "scenario",
		InitialCols:  80,
		InitialRows:  24,
		Env:          runenv.Env{Deterministic: true},
	})
	require.NoError(t, err)
	return rec
}

func assertStatuses(t *testing.T, rec *recorder.Recorder) map[string]string {
	t.Helper()
	statuses := map[string]string{}
	for _, ev := range rec.Events() {
		if ev.Type() != "assert" {
			continue
		}
		id, _ := ev.Get("assertion")
		status, _ := ev.Get("status")
		statuses[id.(string)] = status.(string)
	}
	return statuses
}

func TestEvaluate_NilAssertions(t *testing.T) {
	rec := newRecorder(t)
	require.Empty(t, assertion.Evaluate(nil, []byte("x"), rec))
	require.Empty(t, rec.Events())
}

func TestEvaluate_NonArraySchemaFailure(t *testing.T) {
	rec := newRecorder(t)
	errs := assertion.Evaluate("not a list", []byte("x"), rec)
	require.Equal(t, []string{"scenario assertions must be an array"}, errs)

	statuses := assertStatuses(t, rec)
	require.Equal(t, "failed", statuses["scenario_assertions_schema"])
}

func TestEvaluate_ContainsAndMinCount(t *testing.T) {
	rec := newRecorder(t)
	assertions := []any{
		map[string]any{"id": "once", "kind": "contains", "pattern": "hello"},
		map[string]any{"id": "twice", "kind": "contains", "pattern": "hello", "min_count": 2},
		map[string]any{"id": "thrice", "kind": "contains", "pattern": "hello", "min_count": 3},
	}
	errs := assertion.Evaluate(assertions, []byte("hello world hello\n"), rec)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "thrice")

	statuses := assertStatuses(t, rec)
	require.Equal(t, "passed", statuses["once"])
	require.Equal(t, "passed", statuses["twice"])
	require.Equal(t, "failed", statuses["thrice"])
}

func TestEvaluate_NotContains(t *testing.T) {
	rec := newRecorder(t)
	assertions := []any{
		map[string]any{"id": "clean", "kind": "not_contains", "pattern": "panic"},
		map[string]any{"id": "dirty", "kind": "not_contains", "pattern": "hello"},
	}
	errs := assertion.Evaluate(assertions, []byte("hello world\n"), rec)
	require.Len(t, errs, 1)

	statuses := assertStatuses(t, rec)
	require.Equal(t, "passed", statuses["clean"])
	require.Equal(t, "failed", statuses["dirty"])
}

func TestEvaluate_NFCNormalizationMatchesPrecomposed(t *testing.T) {
	rec := newRecorder(t)
	assertions := []any{
		map[string]any{
			"id":            "norm_nfc",
			"kind":          "contains",
			"pattern":       "é", // precomposed U+00E9
			"normalization": "nfc",
			"category":      "normalization",
		},
	}
	// Output carries the decomposed form: 'e' + combining acute accent.
	output := []byte("combining: é\n")
	errs := assertion.Evaluate(assertions, output, rec)
	require.Empty(t, errs)
	require.Equal(t, "passed", assertStatuses(t, rec)["norm_nfc"])
}

func TestEvaluate_Regex(t *testing.T) {
	rec := newRecorder(t)
	assertions := []any{
		map[string]any{"id": "multiline", "kind": "regex", "pattern": "^line2$"},
		map[string]any{"id": "cased", "kind": "regex", "pattern": "LINE2", "case_insensitive": true},
		map[string]any{"id": "cased_strict", "kind": "regex", "pattern": "LINE2"},
		map[string]any{"id": "bad", "kind": "regex", "pattern": "("},
	}
	errs := assertion.Evaluate(assertions, []byte("line1\nline2\nline3\n"), rec)
	require.Len(t, errs, 2)

	statuses := assertStatuses(t, rec)
	require.Equal(t, "passed", statuses["multiline"])
	require.Equal(t, "passed", statuses["cased"])
	require.Equal(t, "failed", statuses["cased_strict"])
	require.Equal(t, "failed", statuses["bad"])
}

func TestEvaluate_MalformedEntries(t *testing.T) {
	rec := newRecorder(t)
	assertions := []any{
		"not an object",
		map[string]any{"kind": "contains"},
		map[string]any{"id": "bad_norm", "kind": "contains", "pattern": "x", "normalization": "nfx"},
		map[string]any{"id": "bad_kind", "kind": "levenshtein", "pattern": "x"},
	}
	errs := assertion.Evaluate(assertions, []byte("x"), rec)
	require.Len(t, errs, 4)
	require.Contains(t, errs[0], "scenario_assert_000: assertion entry must be an object")
	require.Contains(t, errs[1], "scenario_assert_001: pattern must be a non-empty string")
	require.Contains(t, errs[2], "unsupported normalization mode: nfx")
	require.Contains(t, errs[3], "unsupported assertion kind: levenshtein")

	statuses := assertStatuses(t, rec)
	require.Equal(t, "failed", statuses["scenario_assert_000"])
	require.Equal(t, "failed", statuses["scenario_assert_001"])
	require.Equal(t, "failed", statuses["bad_norm"])
	require.Equal(t, "failed", statuses["bad_kind"])
}

func TestEvaluate_FailureEmitsErrorEventWithDetails(t *testing.T) {
	rec := newRecorder(t)
	assertions := []any{
		map[string]any{
			"id":       "expected_missing_marker",
			"kind":     "contains",
			"pattern":  "THIS_MARKER_DOES_NOT_EXIST",
			"category": "failure_injection",
		},
	}
	errs := assertion.Evaluate(assertions, []byte("hello world\n"), rec)
	require.Len(t, errs, 1)

	var sawError bool
	for _, ev := range rec.Events() {
		if ev.Type() != "error" {
			continue
		}
		sawError = true
		msg, _ := ev.Get("message")
		require.Contains(t, msg.(string), "expected_missing_marker")
		details, _ := ev.Get("details")
		require.Contains(t, details.(string), "category=failure_injection")
		require.Contains(t, details.(string), "count=0")
	}
	require.True(t, sawError)
}

func TestEvaluate_DetailEscapesNewlines(t *testing.T) {
	rec := newRecorder(t)
	assertions := []any{
		map[string]any{"id": "near_newline", "kind": "contains", "pattern": "world"},
	}
	errs := assertion.Evaluate(assertions, []byte("hello\r\nworld\n"), rec)
	require.Empty(t, errs)

	for _, ev := range rec.Events() {
		if ev.Type() != "assert" {
			continue
		}
		details, _ := ev.Get("details")
		require.NotContains(t, details.(string), "\n", "details must stay single-line")
		require.Contains(t, details.(string), `\n`)
		require.Contains(t, details.(string), `\r`)
	}
}
