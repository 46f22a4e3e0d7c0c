package frame_test

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/frankenterm-e2e/internal/frame"
)

func b64(data string) string {
	return base64.StdEncoding.EncodeToString([]byte(data))
}

func TestDecode_TopLevelFrame(t *testing.T) {
	msg := fmt.Sprintf(`{
		"type": "frame",
		"data_b64": %q,
		"frame_hash": "fnv1a64:deadbeef",
		"interaction_hash": "fnv1a64:cafebabe",
		"selection_active": true,
		"selection_start": 1,
		"selection_end": 3
	}`, b64("abc"))

	data, meta, ok := frame.Decode([]byte(msg))
	require.True(t, ok)
	require.Equal(t, []byte("abc"), data)
	require.NotNil(t, meta.FrameHash)
	require.Equal(t, "fnv1a64:deadbeef", *meta.FrameHash)
	require.Equal(t, "fnv1a64:cafebabe", *meta.InteractionHash)
	require.True(t, *meta.SelectionActive)
	require.Equal(t, 1, *meta.SelectionStart)
	require.Equal(t, 3, *meta.SelectionEnd)
}

func TestDecode_NestedPayloadWins(t *testing.T) {
	msg := fmt.Sprintf(`{
		"type": "event",
		"mode": "outer",
		"payload": {
			"type": "frame",
			"mode": "inline",
			"bytes_b64": %q,
			"hovered_link_id": 9,
			"cursor_offset": 4,
			"cursor_style": 2
		}
	}`, b64("xyz"))

	data, meta, ok := frame.Decode([]byte(msg))
	require.True(t, ok)
	require.Equal(t, []byte("xyz"), data)
	require.Equal(t, "inline", *meta.Mode)
	require.Equal(t, 9, *meta.HoveredLinkID)
	require.Equal(t, 4, *meta.CursorOffset)
	require.Equal(t, 2, *meta.CursorStyle)
}

func TestDecode_PlainTextDataField(t *testing.T) {
	data, meta, ok := frame.Decode([]byte(`{"type":"frame","data":"hello"}`))
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)
	require.Nil(t, meta.Cols)
}

func TestDecode_Rejections(t *testing.T) {
	cases := []struct {
		name string
		msg  string
	}{
		{name: "not json", msg: "plain terminal output"},
		{name: "json array", msg: `[1,2,3]`},
		{name: "wrong type", msg: `{"type":"pong","data":"x"}`},
		{name: "no payload source", msg: `{"type":"frame","cols":80}`},
		{name: "invalid base64", msg: `{"type":"frame","data_b64":"!!!"}`},
		{name: "invalid secondary base64", msg: `{"type":"frame","bytes_b64":"%%"}`},
		{name: "envelope without frame", msg: `{"type":"event","payload":{"type":"ping"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, ok := frame.Decode([]byte(tc.msg))
			require.False(t, ok)
		})
	}
}

func TestDecode_DropsMalformedFields(t *testing.T) {
	msg := fmt.Sprintf(`{
		"type": "frame",
		"data_b64": %q,
		"selection_active": "true",
		"hovered_link_id": -1,
		"frame_hash": 1,
		"present_ms": "1.2",
		"cols": 0,
		"rows": true,
		"patch_bytes": 2.5
	}`, b64("abc"))

	_, meta, ok := frame.Decode([]byte(msg))
	require.True(t, ok)
	require.Nil(t, meta.SelectionActive, "string is not a boolean")
	require.Nil(t, meta.HoveredLinkID, "negative counter dropped")
	require.Nil(t, meta.FrameHash, "number is not a hash string")
	require.Nil(t, meta.PresentMS, "string is not a number")
	require.Nil(t, meta.Cols, "cols must be positive")
	require.Nil(t, meta.Rows, "bool is not an integer")
	require.Nil(t, meta.PatchBytes, "fractional byte count dropped")
}

func TestDecode_NumericTimingAcceptsIntAndFloat(t *testing.T) {
	msg := fmt.Sprintf(`{"type":"frame","data_b64":%q,"render_ms":3,"present_ms":1.25}`, b64("a"))
	_, meta, ok := frame.Decode([]byte(msg))
	require.True(t, ok)
	require.Equal(t, 3.0, *meta.RenderMS)
	require.Equal(t, 1.25, *meta.PresentMS)
}
