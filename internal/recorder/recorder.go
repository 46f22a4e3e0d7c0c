// Package recorder is the session's event ledger: it assigns event ordering,
// timestamps and the rolling checksum chain, merges server-declared frame
// metadata over computed defaults, and accumulates the counters behind the
// final summary.
package recorder

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/Dicklesworthstone/frankenterm-e2e/internal/frame"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/hashutil"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/histogram"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/runenv"
)

// SchemaVersion tags every emitted event. Bump only with the downstream JSONL
// validators.
const SchemaVersion = "e2e-jsonl-v1"

// DefaultMode is the client-computed mode for frames the server does not
// annotate.
const DefaultMode = "remote"

// Config describes one recorder instance. One run = one recorder.
type Config struct {
	RunID        string
	ScenarioName string
	// JSONLPath, when non-empty, is truncated on open and receives one
	// compact JSON line per event, flushed immediately.
	JSONLPath   string
	InitialCols int
	InitialRows int
	Env         runenv.Env
}

// Summary is the derived, read-only snapshot of recorder state. It can be
// computed at any time, not just at close.
type Summary struct {
	Scenario            string            `json:"scenario"`
	WSInBytes           int               `json:"ws_in_bytes"`
	WSOutBytes          int               `json:"ws_out_bytes"`
	MessagesTx          int               `json:"messages_tx"`
	MessagesRx          int               `json:"messages_rx"`
	Frames              int               `json:"frames"`
	OutputSHA256        string            `json:"output_sha256"`
	ChecksumChain       string            `json:"checksum_chain"`
	FrameGapHistogramMS histogram.Summary `json:"frame_gap_histogram_ms"`
}

// Recorder records session events and computes rolling checksums. It is the
// one resource shared between the step sequencer and the receive loop; the
// mutex makes each call atomic with respect to the other goroutine.
type Recorder struct {
	mu sync.Mutex

	cfg           Config
	correlationID string

	sink    *os.File
	sinkErr error
	events  []*Event

	output       []byte
	totalWSIn    int
	totalWSOut   int
	messagesTx   int
	messagesRx   int
	frameIdx     int
	chain        string
	currentCols  int
	currentRows  int
	eventIdx     int
	startMono    time.Time
	lastFrameAt  time.Duration
	frameGapMS   []float64
}

// New creates a recorder. The JSONL sink, if configured, is truncated so a
// rerun never interleaves with stale events.
func New(cfg Config) (*Recorder, error) {
	correlationID := cfg.Env.CorrelationID
	if correlationID == "" {
		correlationID = cfg.RunID + ":" + cfg.ScenarioName
	}
	r := &Recorder{
		cfg:           cfg,
		correlationID: correlationID,
		chain:         hashutil.ChainSeed,
		currentCols:   cfg.InitialCols,
		currentRows:   cfg.InitialRows,
		startMono:     time.Now(),
	}
	if cfg.JSONLPath != "" {
		f, err := os.Create(cfg.JSONLPath)
		if err != nil {
			return nil, fmt.Errorf("open jsonl sink: %w", err)
		}
		r.sink = f
	}
	return r, nil
}

// Emit appends an event of the given type with the given fields, injecting
// the schema version, timestamp, run id, seed and correlation id.
func (r *Recorder) Emit(eventType string, fields ...Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(eventType, fields)
}

func (r *Recorder) emitLocked(eventType string, fields []Field) {
	ev := &Event{}
	ev.Set("schema_version", SchemaVersion)
	ev.Set("type", eventType)
	ev.Set("timestamp", r.timestampLocked())
	ev.Set("run_id", r.cfg.RunID)
	ev.Set("seed", r.cfg.Env.Seed)
	ev.Set("correlation_id", r.correlationID)
	for _, f := range fields {
		ev.Set(f.Key, f.Value)
	}
	r.events = append(r.events, ev)
	if r.sink != nil {
		// One line per event, written before Emit returns: completed
		// events survive a later crash. The first write failure is kept
		// and surfaced from Close.
		if line, err := ev.MarshalJSON(); err == nil {
			if _, werr := r.sink.Write(append(line, '\n')); werr != nil && r.sinkErr == nil {
				r.sinkErr = fmt.Errorf("write jsonl sink: %w", werr)
			}
		}
	}
	r.eventIdx++
}

// RecordOutput records one received output chunk, advancing the frame index
// and the checksum chain and emitting a frame event. Server-declared meta
// fields override the computed defaults; geometry overrides also update the
// tracked geometry for subsequent frames.
//
// Frame index and chain evolution are strictly a function of call order,
// which must match the order output was received.
func (r *Recorder) RecordOutput(data []byte, meta *frame.Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.monotonicLocked()
	gapMS := float64(now-r.lastFrameAt) / float64(time.Millisecond)
	r.lastFrameAt = now
	if r.frameIdx > 0 {
		r.frameGapMS = append(r.frameGapMS, gapMS)
	}

	r.output = append(r.output, data...)
	r.totalWSOut += len(data)
	chunkHash := hashutil.SHA256Hex(data)
	r.chain = hashutil.ChainNext(r.chain, chunkHash)
	r.frameIdx++

	effectiveMode := DefaultMode
	effectiveCols := r.currentCols
	effectiveRows := r.currentRows
	if meta != nil {
		if meta.Mode != nil {
			effectiveMode = *meta.Mode
		}
		if meta.Cols != nil {
			effectiveCols = *meta.Cols
		}
		if meta.Rows != nil {
			effectiveRows = *meta.Rows
		}
	}
	// Derived from the effective (possibly overridden) mode and geometry,
	// never from stale defaults.
	derivedKey := hashutil.FrameHashKey(effectiveMode, effectiveCols, effectiveRows, r.cfg.Env.Seed)

	ev := []Field{
		F("frame_idx", r.frameIdx),
		F("hash_algo", "sha256"),
		F("frame_hash", hashutil.Tagged(chunkHash)),
		F("ts_ms", int(now/time.Millisecond)),
		F("mode", effectiveMode),
		F("hash_key", derivedKey),
		F("cols", effectiveCols),
		F("rows", effectiveRows),
		F("patch_hash", hashutil.Tagged(chunkHash)),
		F("patch_bytes", len(data)),
		// Binary stream proxies: exact cell/run counts are unavailable at
		// this layer.
		F("patch_cells", len(data)),
		F("patch_runs", 1),
		F("present_ms", round3(gapMS)),
		F("present_bytes", len(data)),
		F("checksum_chain", hashutil.Tagged(r.chain)),
	}
	event := &Event{}
	for _, f := range ev {
		event.Set(f.Key, f.Value)
	}
	if meta != nil {
		applyMeta(event, meta)
	}
	r.currentCols = effectiveCols
	r.currentRows = effectiveRows
	r.emitLocked("frame", event.fields)
}

// applyMeta merges the overlay over the computed defaults. Existing keys are
// replaced in place; server-only keys are appended in a fixed order so
// deterministic runs serialize identically.
func applyMeta(ev *Event, m *frame.Meta) {
	setString := func(key string, v *string) {
		if v != nil {
			ev.Set(key, *v)
		}
	}
	setInt := func(key string, v *int) {
		if v != nil {
			ev.Set(key, *v)
		}
	}
	setNum := func(key string, v *float64) {
		if v != nil {
			ev.Set(key, *v)
		}
	}
	setString("hash_algo", m.HashAlgo)
	setString("frame_hash", m.FrameHash)
	setString("patch_hash", m.PatchHash)
	setString("mode", m.Mode)
	setString("hash_key", m.HashKey)
	setString("interaction_hash", m.InteractionHash)
	if m.SelectionActive != nil {
		ev.Set("selection_active", *m.SelectionActive)
	}
	setInt("frame_idx", m.FrameIdx)
	setInt("ts_ms", m.TsMS)
	setInt("cols", m.Cols)
	setInt("rows", m.Rows)
	setInt("patch_bytes", m.PatchBytes)
	setInt("patch_cells", m.PatchCells)
	setInt("patch_runs", m.PatchRuns)
	setInt("present_bytes", m.PresentBytes)
	setInt("hovered_link_id", m.HoveredLinkID)
	setInt("cursor_offset", m.CursorOffset)
	setInt("cursor_style", m.CursorStyle)
	setInt("selection_start", m.SelectionStart)
	setInt("selection_end", m.SelectionEnd)
	setNum("render_ms", m.RenderMS)
	setNum("present_ms", m.PresentMS)
}

// RecordSend counts bytes and messages sent to the bridge. No hashing.
func (r *Recorder) RecordSend(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalWSIn += len(data)
	r.messagesTx++
}

// RecordReceive counts one message received from the bridge.
func (r *Recorder) RecordReceive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messagesRx++
}

// SetGeometry tracks the current terminal geometry for frame/input metadata.
func (r *Recorder) SetGeometry(cols, rows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentCols = cols
	r.currentRows = rows
}

// Geometry returns the tracked terminal geometry.
func (r *Recorder) Geometry() (cols, rows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentCols, r.currentRows
}

// Seed returns the run seed.
func (r *Recorder) Seed() int {
	return r.cfg.Env.Seed
}

// Elapsed returns the monotonic reading used for durations. In deterministic
// mode it advances with the event index instead of wall time so logs stay
// replayable.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monotonicLocked()
}

// FullOutput returns the concatenation of all recorded output chunks.
func (r *Recorder) FullOutput() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.output...)
}

// FinalChecksum returns the current rolling checksum chain value.
func (r *Recorder) FinalChecksum() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chain
}

// Events returns the in-memory ledger. The returned slice is a snapshot; the
// events themselves are shared and must not be mutated.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// Summary computes the session summary from current state.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		Scenario:            r.cfg.ScenarioName,
		WSInBytes:           r.totalWSIn,
		WSOutBytes:          r.totalWSOut,
		MessagesTx:          r.messagesTx,
		MessagesRx:          r.messagesRx,
		Frames:              r.frameIdx,
		OutputSHA256:        hashutil.Tagged(hashutil.SHA256Hex(r.output)),
		ChecksumChain:       hashutil.Tagged(r.chain),
		FrameGapHistogramMS: histogram.Summarize(r.frameGapMS),
	}
}

// Close flushes and releases the JSONL sink, reporting any write failure
// that occurred while emitting. Idempotent; the recorder stays queryable
// afterward.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sink == nil {
		return nil
	}
	err := r.sink.Close()
	r.sink = nil
	if r.sinkErr != nil {
		err = r.sinkErr
		r.sinkErr = nil
	}
	return err
}

func (r *Recorder) monotonicLocked() time.Duration {
	if r.cfg.Env.Deterministic {
		return time.Duration(r.eventIdx*r.stepMS()) * time.Millisecond
	}
	return time.Since(r.startMono)
}

func (r *Recorder) timestampLocked() string {
	if r.cfg.Env.Deterministic {
		return fmt.Sprintf("T%06d", r.eventIdx*r.stepMS())
	}
	return time.Now().Format("2006-01-02T15:04:05-0700")
}

func (r *Recorder) stepMS() int {
	if r.cfg.Env.TimeStepMS > 0 {
		return r.cfg.Env.TimeStepMS
	}
	return runenv.DefaultTimeStepMS
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
