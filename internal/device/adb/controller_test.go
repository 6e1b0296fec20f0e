package adb

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingRunner captures adb invocations and plays back canned output.
type recordingRunner struct {
	calls  [][]string
	output map[string][]byte
	err    error
}

func (r *recordingRunner) run(_ context.Context, args ...string) ([]byte, error) {
	r.calls = append(r.calls, args)
	if r.err != nil {
		return nil, r.err
	}
	return r.output[strings.Join(args, " ")], nil
}

func newTestController(t *testing.T) (*Controller, *recordingRunner) {
	t.Helper()
	c := New("emulator-5554", 0, zaptest.NewLogger(t))
	r := &recordingRunner{output: map[string][]byte{}}
	c.runner = r.run
	return c, r
}

func TestTapAndSwipeCommands(t *testing.T) {
	c, r := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.Tap(ctx, 540, 1200))
	require.NoError(t, c.Swipe(ctx, 100, 200, 300, 400))
	require.NoError(t, c.Back(ctx))

	require.Len(t, r.calls, 3)
	assert.Equal(t, []string{"shell", "input", "tap", "540", "1200"}, r.calls[0])
	assert.Equal(t, []string{"shell", "input", "swipe", "100", "200", "300", "400", "300"}, r.calls[1])
	assert.Equal(t, []string{"shell", "input", "keyevent", "KEYCODE_BACK"}, r.calls[2])
}

func TestLaunchApp_NotFound(t *testing.T) {
	c, r := newTestController(t)
	r.output["shell monkey -p com.missing -c android.intent.category.LAUNCHER 1"] =
		[]byte("** No activities found to run, monkey aborted.")

	found, err := c.LaunchApp(context.Background(), "com.missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTypeText_Base64Broadcast(t *testing.T) {
	c, r := newTestController(t)
	require.NoError(t, c.TypeText(context.Background(), "héllo\nworld"))

	require.Len(t, r.calls, 1)
	call := r.calls[0]
	require.Len(t, call, 7)
	assert.Equal(t, "ADB_INPUT_B64", call[4])
	decoded, err := base64.StdEncoding.DecodeString(call[6])
	require.NoError(t, err)
	assert.Equal(t, "héllo\nworld", string(decoded))
}

func TestDetectAndSetADBKeyboard_ReturnsPrevious(t *testing.T) {
	c, r := newTestController(t)
	r.output["shell settings get secure default_input_method"] = []byte("com.google.android.inputmethod.latin/.LatinIME\n")

	previous, err := c.DetectAndSetADBKeyboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.google.android.inputmethod.latin/.LatinIME", previous)
	require.Len(t, r.calls, 3, "detect, enable, set")

	// Restoring switches back to the recorded IME.
	require.NoError(t, c.RestoreKeyboard(context.Background(), previous))
	assert.Equal(t, []string{"shell", "ime", "set", previous}, r.calls[len(r.calls)-1])
}

func TestGetScreenshot_ParsesDimensions(t *testing.T) {
	c, r := newTestController(t)
	r.output["exec-out screencap -p"] = fakePNG(1080, 2400)

	shot, err := c.GetScreenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1080, shot.Width)
	assert.Equal(t, 2400, shot.Height)
	assert.NotEmpty(t, shot.Base64)
}

func TestGetScreenshot_RejectsGarbage(t *testing.T) {
	c, r := newTestController(t)
	r.output["exec-out screencap -p"] = []byte("not a png")

	_, err := c.GetScreenshot(context.Background())
	require.Error(t, err)
}

func TestGetCurrentApp(t *testing.T) {
	c, r := newTestController(t)
	r.output["shell dumpsys window windows"] = []byte(
		"  mGlobalConfiguration={...}\n" +
			"  mCurrentFocus=Window{ab34f u0 com.tencent.mm/com.tencent.mm.ui.LauncherUI}\n")

	app, err := c.GetCurrentApp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.tencent.mm", app)
}

func TestGetCurrentApp_Unparseable(t *testing.T) {
	c, r := newTestController(t)
	r.output["shell dumpsys window windows"] = []byte("nothing useful\n")

	app, err := c.GetCurrentApp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "unknown", app)
}

// fakePNG builds the minimal header prefix GetScreenshot needs.
func fakePNG(width, height int) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	buf.Write([]byte{0, 0, 0, 13})
	buf.WriteString("IHDR")
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(width))
	binary.BigEndian.PutUint32(dims[4:8], uint32(height))
	buf.Write(dims[:])
	buf.Write(make([]byte, 8))
	return buf.Bytes()
}
