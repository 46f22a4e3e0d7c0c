package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/frankenterm-e2e/internal/recorder"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/runenv"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/scenario"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/session"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/types"
)

func TestRunSession_WritesTranscriptAndJSONL(t *testing.T) {
	dir := t.TempDir()
	jsonlPath := filepath.Join(dir, "events.jsonl")
	transcriptPath := filepath.Join(dir, "transcript.bin")

	origRunner := sessionRunner
	t.Cleanup(func() { sessionRunner = origRunner })
	sessionRunner = func(ctx context.Context, opts session.Options, sc *scenario.Scenario, rec *recorder.Recorder) *types.Result {
		rec.RecordOutput([]byte("captured output"), nil)
		return &types.Result{Outcome: "pass", Summary: rec.Summary()}
	}

	sc := &scenario.Scenario{Name: "demo", InitialCols: 120, InitialRows: 40, TimeoutS: 30}
	env := runenv.Env{Deterministic: true, TimeStepMS: 100}

	result, err := runSession(context.Background(), sc, env, "ws://127.0.0.1:9231", "", jsonlPath, transcriptPath)
	require.NoError(t, err)
	require.True(t, result.Passed())

	transcript, err := os.ReadFile(transcriptPath)
	require.NoError(t, err)
	require.Equal(t, []byte("captured output"), transcript)

	log, err := os.ReadFile(jsonlPath)
	require.NoError(t, err)
	require.Contains(t, string(log), `"type":"frame"`)
}

func TestRunSession_FailedOutcomeIsNotAnError(t *testing.T) {
	origRunner := sessionRunner
	t.Cleanup(func() { sessionRunner = origRunner })
	sessionRunner = func(ctx context.Context, opts session.Options, sc *scenario.Scenario, rec *recorder.Recorder) *types.Result {
		return &types.Result{Outcome: "fail", Errors: []string{"boom"}, Summary: rec.Summary()}
	}

	sc := &scenario.Scenario{Name: "demo", InitialCols: 120, InitialRows: 40, TimeoutS: 30}
	result, err := runSession(context.Background(), sc, runenv.Env{Deterministic: true}, "ws://127.0.0.1:9231", "", "", "")
	require.NoError(t, err, "a failed verdict is a result, not a runSession error")
	require.False(t, result.Passed())
}

func TestShouldShowUsage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unknown command", err: errors.New(`unknown command "frobnicate"`), want: true},
		{name: "unknown flag", err: errors.New("unknown flag: --bogus"), want: true},
		{name: "arg count", err: errors.New("accepts 1 arg(s), received 0"), want: true},
		{name: "runtime failure", err: errors.New("scenario demo failed: 2 error(s)"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, shouldShowUsage(tc.err))
		})
	}
}
