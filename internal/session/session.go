// Package session executes one scripted run against the bridge: it opens the
// transport, replays the scenario steps while a background loop records
// inbound frames, then verifies the capture against the golden baseline and
// the scenario assertions.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/frankenterm-e2e/internal/assertion"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/envinfo"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/frame"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/hashutil"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/recorder"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/runenv"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/scenario"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/types"
)

const (
	maxMessageSize   = 256 * 1024
	handshakeTimeout = 10 * time.Second
	closeTimeout     = 5 * time.Second

	// Settle delays letting in-flight output arrive before the next step
	// and before teardown.
	drainDelay      = 500 * time.Millisecond
	finalDrainDelay = 300 * time.Millisecond
)

// Options configures one session run.
type Options struct {
	URL        string
	GoldenPath string
	// Command, LogDir and ResultsDir annotate the run_start event.
	Command    string
	LogDir     string
	ResultsDir string
	Env        runenv.Env
}

// Run executes the scripted session and returns the aggregated result. The
// recorder is fed throughout and left open; the caller owns its lifecycle.
// Errors during execution are recorded and turn the outcome to fail, but
// verification still runs against whatever output was captured.
func Run(ctx context.Context, opts Options, sc *scenario.Scenario, rec *recorder.Recorder) *types.Result {
	runStart := rec.Elapsed()
	result := &types.Result{Outcome: "pass", Errors: []string{}}

	emitEnvironment(opts, sc, rec)

	if err := execute(ctx, opts, sc, rec); err != nil {
		result.Outcome = "fail"
		result.Errors = append(result.Errors, err.Error())
		rec.Emit("error", recorder.F("message", err.Error()))
	}

	summary := rec.Summary()
	result.Summary = summary

	if err := compareGolden(opts.GoldenPath, summary, rec); err != nil {
		result.Outcome = "fail"
		result.Errors = append(result.Errors, err.Error())
	}

	assertionErrs := assertion.Evaluate(sc.Assertions, rec.FullOutput(), rec)
	if len(assertionErrs) > 0 {
		result.Outcome = "fail"
		result.Errors = append(result.Errors, assertionErrs...)
	}
	result.AssertionsFailed = len(assertionErrs)
	result.AssertionsTotal = sc.AssertionCount()

	rec.Emit("ws_metrics",
		recorder.F("label", sc.Name),
		recorder.F("ws_url", opts.URL),
		recorder.F("bytes_tx", summary.WSInBytes),
		recorder.F("bytes_rx", summary.WSOutBytes),
		recorder.F("messages_tx", summary.MessagesTx),
		recorder.F("messages_rx", summary.MessagesRx),
		recorder.F("latency_histogram_ms", summary.FrameGapHistogramMS))

	status := "passed"
	if !result.Passed() {
		status = "failed"
	}
	rec.Emit("run_end",
		recorder.F("status", status),
		recorder.F("duration_ms", int((rec.Elapsed()-runStart)/time.Millisecond)),
		recorder.F("failed_count", len(result.Errors)),
		recorder.F("outcome", result.Outcome),
		recorder.F("ws_in_bytes", summary.WSInBytes),
		recorder.F("ws_out_bytes", summary.WSOutBytes),
		recorder.F("frames", summary.Frames),
		recorder.F("output_sha256", summary.OutputSHA256),
		recorder.F("checksum_chain", summary.ChecksumChain))

	return result
}

// execute runs the transport phase: connect, background reader, step loop,
// final drain and reader shutdown. Any returned error is a run failure.
func execute(ctx context.Context, opts Options, sc *scenario.Scenario, rec *recorder.Recorder) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", opts.URL, err)
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	// The scenario timeout is a hard deadline on step execution; hitting it
	// is a recorded failure, not a hang.
	stepCtx := ctx
	if sc.TimeoutS > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(sc.TimeoutS)*time.Second)
		defer cancel()
	}

	readerDone := make(chan error, 1)
	go readLoop(conn, rec, readerDone)

	stepErr := runSteps(stepCtx, conn, sc, rec)

	if stepErr == nil {
		stepErr = sleep(stepCtx, finalDrainDelay)
	}

	// Shut the reader down explicitly: a close handshake with a bounded
	// deadline, then the hard close. The reader treats this as its normal
	// termination path.
	deadline := time.Now().Add(closeTimeout)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
	readErr := <-readerDone

	if stepErr != nil {
		return stepErr
	}
	return readErr
}

// readLoop receives inbound messages for the lifetime of the connection.
// Text messages are routed through the frame-metadata extractor; non-frame
// text and binary messages record as raw output. A peer close or the local
// shutdown ends the loop without error.
func readLoop(conn *websocket.Conn, rec *recorder.Recorder, done chan<- error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			done <- normalizeReadError(err)
			return
		}
		rec.RecordReceive()
		switch msgType {
		case websocket.BinaryMessage:
			rec.RecordOutput(data, nil)
		case websocket.TextMessage:
			if payload, meta, ok := frame.Decode(data); ok {
				rec.RecordOutput(payload, meta)
			} else {
				rec.RecordOutput(data, nil)
			}
		}
	}
}

// normalizeReadError maps expected termination into a nil error: the peer
// closing the connection, or our own teardown closing the socket under the
// reader.
func normalizeReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return fmt.Errorf("receive: %w", err)
}

// runSteps replays the scenario steps strictly in order.
func runSteps(ctx context.Context, conn *websocket.Conn, sc *scenario.Scenario, rec *recorder.Recorder) error {
	seed := rec.Seed()
	for i, step := range sc.Steps {
		stepName := fmt.Sprintf("%03d:%s", i, step.Type)
		cols, rows := rec.Geometry()
		rec.Emit("step_start",
			recorder.F("step", stepName),
			recorder.F("mode", recorder.DefaultMode),
			recorder.F("hash_key", hashutil.FrameHashKey(recorder.DefaultMode, cols, rows, seed)),
			recorder.F("cols", cols),
			recorder.F("rows", rows))
		stepStarted := rec.Elapsed()

		if step.DelayMS > 0 {
			if err := sleep(ctx, time.Duration(step.DelayMS)*time.Millisecond); err != nil {
				return err
			}
		}

		var err error
		switch step.Type {
		case scenario.StepSend:
			err = sendStep(step, conn, rec)
		case scenario.StepResize:
			err = resizeStep(step, conn, rec)
		case scenario.StepWait:
			err = sleep(ctx, time.Duration(step.WaitMS())*time.Millisecond)
		case scenario.StepDrain:
			err = sleep(ctx, drainDelay)
		default:
			return fmt.Errorf("unknown step type: %s", step.Type)
		}
		if err != nil {
			return err
		}

		cols, rows = rec.Geometry()
		rec.Emit("step_end",
			recorder.F("step", stepName),
			recorder.F("status", "passed"),
			recorder.F("duration_ms", int((rec.Elapsed()-stepStarted)/time.Millisecond)),
			recorder.F("mode", recorder.DefaultMode),
			recorder.F("hash_key", hashutil.FrameHashKey(recorder.DefaultMode, cols, rows, seed)),
			recorder.F("cols", cols),
			recorder.F("rows", rows))
	}
	return nil
}

func sendStep(step scenario.Step, conn *websocket.Conn, rec *recorder.Recorder) error {
	data, err := step.Payload()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("send input: %w", err)
	}
	rec.RecordSend(data)

	inputType := step.InputType
	if inputType == "" {
		inputType = "keys"
	}
	cols, rows := rec.Geometry()
	rec.Emit("input",
		recorder.F("input_type", inputType),
		recorder.F("encoding", "base64"),
		recorder.F("bytes_b64", base64.StdEncoding.EncodeToString(data)),
		recorder.F("input_hash", hashutil.Tagged(hashutil.SHA256Hex(data))),
		recorder.F("details", step.Comment),
		recorder.F("mode", recorder.DefaultMode),
		recorder.F("hash_key", hashutil.FrameHashKey(recorder.DefaultMode, cols, rows, rec.Seed())),
		recorder.F("cols", cols),
		recorder.F("rows", rows))
	return nil
}

func resizeStep(step scenario.Step, conn *websocket.Conn, rec *recorder.Recorder) error {
	msg, err := json.Marshal(struct {
		Type string `json:"type"`
		Cols int    `json:"cols"`
		Rows int    `json:"rows"`
	}{Type: "resize", Cols: step.Cols, Rows: step.Rows})
	if err != nil {
		return fmt.Errorf("encode resize: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("send resize: %w", err)
	}
	rec.RecordSend(msg)
	rec.SetGeometry(step.Cols, step.Rows)

	rec.Emit("input",
		recorder.F("input_type", "resize"),
		recorder.F("encoding", "json"),
		recorder.F("input_hash", hashutil.Tagged(hashutil.SHA256Hex(msg))),
		recorder.F("details", step.Comment),
		recorder.F("mode", recorder.DefaultMode),
		recorder.F("hash_key", hashutil.FrameHashKey(recorder.DefaultMode, step.Cols, step.Rows, rec.Seed())),
		recorder.F("cols", step.Cols),
		recorder.F("rows", step.Rows))
	return nil
}

// compareGolden checks the run's checksum chain against the golden baseline,
// emitting a passing or failing assert event. A missing path skips the check;
// an empty baseline chain records a pass without comparing.
func compareGolden(path string, summary recorder.Summary, rec *recorder.Recorder) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	golden, err := types.LoadGolden(path)
	if err != nil {
		rec.Emit("error", recorder.F("message", err.Error()))
		return err
	}
	if golden.ChecksumChain != "" && golden.ChecksumChain != summary.ChecksumChain {
		rec.Emit("assert",
			recorder.F("assertion", "golden_checksum_chain"),
			recorder.F("status", "failed"),
			recorder.F("details", fmt.Sprintf(
				"expected=%s actual=%s frames_expected=%d frames_actual=%d",
				golden.ChecksumChain, summary.ChecksumChain, golden.Frames, summary.Frames)))
		return fmt.Errorf("golden checksum mismatch: expected %s, got %s",
			golden.ChecksumChain, summary.ChecksumChain)
	}
	rec.Emit("assert",
		recorder.F("assertion", "golden_checksum_chain"),
		recorder.F("status", "passed"),
		recorder.F("details", fmt.Sprintf("checksum=%s frames=%d", summary.ChecksumChain, summary.Frames)))
	return nil
}

// emitEnvironment records the informational env, browser_env and run_start
// events plus the declared fixture categories. None of it affects the
// verdict.
func emitEnvironment(opts Options, sc *scenario.Scenario, rec *recorder.Recorder) {
	rec.Emit("env",
		recorder.F("host", envinfo.Host()),
		recorder.F("rustc", envinfo.CommandVersion("rustc")),
		recorder.F("cargo", envinfo.CommandVersion("cargo")),
		recorder.F("git_commit", envinfo.GitSHA()),
		recorder.F("git_dirty", envinfo.GitDirty()),
		recorder.F("deterministic", opts.Env.Deterministic),
		recorder.F("term", os.Getenv("TERM")),
		recorder.F("colorterm", os.Getenv("COLORTERM")),
		recorder.F("no_color", os.Getenv("NO_COLOR")),
		recorder.F("scenario", sc.Name),
		recorder.F("initial_cols", sc.InitialCols),
		recorder.F("initial_rows", sc.InitialRows))

	rec.Emit("browser_env",
		recorder.F("browser", envDefault("E2E_BROWSER", "gorilla-websocket")),
		recorder.F("browser_version", os.Getenv("E2E_BROWSER_VERSION")),
		recorder.F("user_agent", envDefault("E2E_BROWSER_USER_AGENT", "gorilla-websocket")),
		recorder.F("dpr", envFloat("E2E_BROWSER_DPR", 1.0)),
		recorder.F("platform", envinfo.Platform()),
		recorder.F("locale", os.Getenv("LANG")),
		recorder.F("timezone", os.Getenv("TZ")),
		recorder.F("headless", envDefault("E2E_HEADLESS", "true") == "true"))

	command := opts.Command
	if command == "" {
		command = fmt.Sprintf("frankenterm-e2e run %s --url %s", sc.Name, opts.URL)
	}
	logDir := opts.LogDir
	if logDir == "" {
		logDir = os.Getenv("E2E_LOG_DIR")
	}
	resultsDir := opts.ResultsDir
	if resultsDir == "" {
		resultsDir = envDefault("E2E_RESULTS_DIR", logDir)
	}
	rec.Emit("run_start",
		recorder.F("command", command),
		recorder.F("log_dir", logDir),
		recorder.F("results_dir", resultsDir),
		recorder.F("scenario", sc.Name),
		recorder.F("step_count", len(sc.Steps)),
		recorder.F("timeout_s", sc.TimeoutS),
		recorder.F("assertion_count", sc.AssertionCount()))

	var categories []string
	for _, c := range sc.FixtureCategories {
		if c != "" {
			categories = append(categories, c)
		}
	}
	if len(categories) > 0 {
		details := fmt.Sprintf("count=%d categories=%s", len(categories), strings.Join(categories, ","))
		rec.Emit("assert",
			recorder.F("assertion", "fixture_categories_declared"),
			recorder.F("status", "passed"),
			recorder.F("details", details))
	}
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("run deadline exceeded: %w", ctx.Err())
	}
}

func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
