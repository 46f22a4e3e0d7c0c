// Package frame decodes structured frame messages from the bridge into a
// validated metadata overlay.
//
// Inbound messages are untrusted and loosely typed: every metadata field is
// validated independently, and a malformed field is dropped rather than
// failing the whole frame. Only an unresolvable payload or a non-frame type
// rejects the message.
package frame

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
)

// Meta is the server-declared metadata overlay for one frame. Every field is
// optional; nil means the server did not declare (or declared garbage for)
// that field.
type Meta struct {
	HashAlgo        *string
	FrameHash       *string
	PatchHash       *string
	Mode            *string
	HashKey         *string
	InteractionHash *string
	SelectionActive *bool

	FrameIdx       *int
	TsMS           *int
	Cols           *int
	Rows           *int
	PatchBytes     *int
	PatchCells     *int
	PatchRuns      *int
	PresentBytes   *int
	HoveredLinkID  *int
	CursorOffset   *int
	CursorStyle    *int
	SelectionStart *int
	SelectionEnd   *int

	RenderMS  *float64
	PresentMS *float64
}

// Decode parses a text message from the bridge. It accepts either a top-level
// frame object or an {type:"event", payload:{type:"frame", ...}} envelope;
// payload fields take precedence over envelope fields. The returned bool is
// false when the message is not a structured frame (callers then treat the
// raw text as output bytes).
func Decode(message []byte) ([]byte, *Meta, bool) {
	dec := json.NewDecoder(bytes.NewReader(message))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, nil, false
	}

	merged := make(map[string]any, len(obj))
	for k, v := range obj {
		merged[k] = v
	}
	if payload, ok := obj["payload"].(map[string]any); ok {
		for k, v := range payload {
			merged[k] = v
		}
	}
	if t, _ := merged["type"].(string); t != "frame" {
		return nil, nil, false
	}

	data, ok := resolvePayload(merged)
	if !ok {
		return nil, nil, false
	}
	return data, extractMeta(merged), true
}

// resolvePayload resolves the frame's output bytes from exactly one source
// field. A present-but-invalid base64 field rejects the whole message.
func resolvePayload(m map[string]any) ([]byte, bool) {
	if s, ok := m["data_b64"].(string); ok {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	if s, ok := m["bytes_b64"].(string); ok {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	if s, ok := m["data"].(string); ok {
		return []byte(s), true
	}
	return nil, false
}

func extractMeta(m map[string]any) *Meta {
	out := &Meta{}
	out.HashAlgo = asString(m["hash_algo"])
	out.FrameHash = asString(m["frame_hash"])
	out.PatchHash = asString(m["patch_hash"])
	out.Mode = asString(m["mode"])
	out.HashKey = asString(m["hash_key"])
	out.InteractionHash = asString(m["interaction_hash"])
	out.SelectionActive = asBool(m["selection_active"])

	out.FrameIdx = asNonNegativeInt(m["frame_idx"])
	out.TsMS = asNonNegativeInt(m["ts_ms"])
	out.Cols = asPositiveInt(m["cols"])
	out.Rows = asPositiveInt(m["rows"])
	out.PatchBytes = asNonNegativeInt(m["patch_bytes"])
	out.PatchCells = asNonNegativeInt(m["patch_cells"])
	out.PatchRuns = asNonNegativeInt(m["patch_runs"])
	out.PresentBytes = asNonNegativeInt(m["present_bytes"])
	out.HoveredLinkID = asNonNegativeInt(m["hovered_link_id"])
	out.CursorOffset = asNonNegativeInt(m["cursor_offset"])
	out.CursorStyle = asNonNegativeInt(m["cursor_style"])
	out.SelectionStart = asNonNegativeInt(m["selection_start"])
	out.SelectionEnd = asNonNegativeInt(m["selection_end"])

	out.RenderMS = asNumber(m["render_ms"])
	out.PresentMS = asNumber(m["present_ms"])
	return out
}

func asString(v any) *string {
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}

func asBool(v any) *bool {
	if b, ok := v.(bool); ok {
		return &b
	}
	return nil
}

// asNonNegativeInt accepts only whole JSON numbers >= 0. Floats with a
// fractional part, negatives, booleans and strings are all dropped.
func asNonNegativeInt(v any) *int {
	n, ok := v.(json.Number)
	if !ok {
		return nil
	}
	i, err := n.Int64()
	if err != nil || i < 0 {
		return nil
	}
	out := int(i)
	return &out
}

func asPositiveInt(v any) *int {
	out := asNonNegativeInt(v)
	if out == nil || *out == 0 {
		return nil
	}
	return out
}

// asNumber accepts any JSON number, integer or float.
func asNumber(v any) *float64 {
	n, ok := v.(json.Number)
	if !ok {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}
