package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zed-wong/modified-autoglm/internal/actions"
	"github.com/zed-wong/modified-autoglm/internal/config"
	"github.com/zed-wong/modified-autoglm/internal/device"
)

// mockController is a testify mock over the device capability surface.
type mockController struct {
	mock.Mock
}

func (m *mockController) LaunchApp(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}
func (m *mockController) Tap(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}
func (m *mockController) DoubleTap(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}
func (m *mockController) LongPress(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}
func (m *mockController) Swipe(ctx context.Context, x1, y1, x2, y2 int) error {
	return m.Called(ctx, x1, y1, x2, y2).Error(0)
}
func (m *mockController) Back(ctx context.Context) error  { return m.Called(ctx).Error(0) }
func (m *mockController) Home(ctx context.Context) error  { return m.Called(ctx).Error(0) }
func (m *mockController) TypeText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}
func (m *mockController) ClearText(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockController) DetectAndSetADBKeyboard(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *mockController) RestoreKeyboard(ctx context.Context, previous string) error {
	return m.Called(ctx, previous).Error(0)
}
func (m *mockController) GetScreenshot(ctx context.Context) (device.Screenshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(device.Screenshot), args.Error(1)
}
func (m *mockController) GetCurrentApp(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

type testDispatcher struct {
	*Dispatcher
	dev   *mockController
	slept []time.Duration
}

func newTestDispatcher(t *testing.T, confirm ConfirmFunc, takeover TakeoverFunc) *testDispatcher {
	t.Helper()
	dev := new(mockController)
	d := New(dev, config.NewDefaultConfig().Timing, zaptest.NewLogger(t), confirm, takeover)
	td := &testDispatcher{Dispatcher: d, dev: dev}
	d.sleep = func(dur time.Duration) { td.slept = append(td.slept, dur) }
	return td
}

func TestExecute_TapConvertsRelativeCoordinates(t *testing.T) {
	td := newTestDispatcher(t, nil, nil)
	// Relative [500,500] on a 1080x2400 screen lands at (540,1200), with
	// integer truncation rather than rounding.
	td.dev.On("Tap", mock.Anything, 540, 1200).Return(nil)

	act := actions.NewDo(actions.NameTap, map[string]any{"element": []any{500.0, 500.0}})
	res, err := td.Execute(context.Background(), act, 1080, 2400)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.ShouldFinish)
	td.dev.AssertExpectations(t)
}

func TestExecute_CoordinateTruncation(t *testing.T) {
	td := newTestDispatcher(t, nil, nil)
	// 999/1000 of 1080 is 1078.92; truncation gives 1078.
	td.dev.On("Tap", mock.Anything, 1078, 2397).Return(nil)

	act := actions.NewDo(actions.NameTap, map[string]any{"element": []any{999.0, 999.0}})
	_, err := td.Execute(context.Background(), act, 1080, 2400)
	require.NoError(t, err)
	td.dev.AssertExpectations(t)
}

func TestExecute_SensitiveTapCancelled(t *testing.T) {
	var asked string
	td := newTestDispatcher(t, func(msg string) bool {
		asked = msg
		return false
	}, nil)

	act := actions.NewDo(actions.NameTap, map[string]any{
		"element": []any{500.0, 500.0},
		"message": "pay 9.99",
	})
	res, err := td.Execute(context.Background(), act, 1080, 2400)
	require.NoError(t, err)

	assert.Equal(t, "pay 9.99", asked)
	assert.False(t, res.Success)
	assert.True(t, res.ShouldFinish, "refusal is terminal for the run")
	assert.Equal(t, "User cancelled sensitive operation", res.Message)
	td.dev.AssertNotCalled(t, "Tap", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_SensitiveTapConfirmed(t *testing.T) {
	td := newTestDispatcher(t, func(string) bool { return true }, nil)
	td.dev.On("Tap", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	act := actions.NewDo(actions.NameTap, map[string]any{
		"element": []any{100.0, 100.0},
		"message": "send it",
	})
	res, err := td.Execute(context.Background(), act, 1000, 1000)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecute_TypeProtocolOrder(t *testing.T) {
	td := newTestDispatcher(t, nil, nil)
	dev := td.dev

	var order []string
	dev.On("DetectAndSetADBKeyboard", mock.Anything).Run(func(mock.Arguments) {
		order = append(order, "switch")
	}).Return("previous.ime/.IME", nil)
	dev.On("ClearText", mock.Anything).Run(func(mock.Arguments) {
		order = append(order, "clear")
	}).Return(nil)
	dev.On("TypeText", mock.Anything, "hello").Run(func(mock.Arguments) {
		order = append(order, "type")
	}).Return(nil)
	dev.On("RestoreKeyboard", mock.Anything, "previous.ime/.IME").Run(func(mock.Arguments) {
		order = append(order, "restore")
	}).Return(nil)

	act := actions.NewDo(actions.NameType, map[string]any{"text": "hello"})
	res, err := td.Execute(context.Background(), act, 1080, 2400)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"switch", "clear", "type", "restore"}, order)
	assert.Len(t, td.slept, 4, "every protocol step settles")
}

func TestExecute_WaitDurations(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"2 seconds", 2 * time.Second},
		{"0.5 seconds", 500 * time.Millisecond},
		{"garbage", time.Second},
		{"", time.Second},
		{"-3 seconds", time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseWaitDuration(tc.raw), "input %q", tc.raw)
	}

	td := newTestDispatcher(t, nil, nil)
	act := actions.NewDo(actions.NameWait, map[string]any{"duration": "2 seconds"})
	res, err := td.Execute(context.Background(), act, 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, td.slept, 1)
	assert.Equal(t, 2*time.Second, td.slept[0])
}

func TestExecute_UnknownActionIsNonFatal(t *testing.T) {
	td := newTestDispatcher(t, nil, nil)
	act := actions.NewDo("Teleport", nil)
	res, err := td.Execute(context.Background(), act, 1080, 2400)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.ShouldFinish)
	assert.Contains(t, res.Message, "Unknown action")
}

func TestExecute_DeviceErrorBecomesFailedResult(t *testing.T) {
	td := newTestDispatcher(t, nil, nil)
	td.dev.On("Back", mock.Anything).Return(assert.AnError)

	res, err := td.Execute(context.Background(), actions.NewDo(actions.NameBack, nil), 1, 1)
	require.NoError(t, err, "collaborator errors must not escape the dispatcher")
	assert.False(t, res.Success)
	assert.False(t, res.ShouldFinish)
	assert.Contains(t, res.Message, "Action failed")
}

func TestExecute_FinishAction(t *testing.T) {
	td := newTestDispatcher(t, nil, nil)
	res, err := td.Execute(context.Background(), actions.NewFinish("all done"), 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.ShouldFinish)
	assert.Equal(t, "all done", res.Message)
}

func TestExecute_TakeoverDenied(t *testing.T) {
	td := newTestDispatcher(t, nil, nil) // default takeover refuses

	act := actions.NewDo(actions.NameTakeOver, map[string]any{"message": "login needed"})
	res, err := td.Execute(context.Background(), act, 1, 1)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "takeover_required: login needed")
}

func TestExecute_TakeoverGranted(t *testing.T) {
	td := newTestDispatcher(t, nil, func(string) error { return nil })

	act := actions.NewDo(actions.NameTakeOver, nil)
	res, err := td.Execute(context.Background(), act, 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecute_NoteAndCallAPIAreNoOps(t *testing.T) {
	td := newTestDispatcher(t, nil, nil)
	for _, name := range []string{actions.NameNote, actions.NameCallAPI} {
		res, err := td.Execute(context.Background(), actions.NewDo(name, nil), 1, 1)
		require.NoError(t, err)
		assert.True(t, res.Success)
		// No device calls, no messages: these stay reserved.
		assert.Empty(t, res.Message)
	}
	td.dev.AssertExpectations(t)
}

func TestExecute_InteractReportsInteractionRequired(t *testing.T) {
	td := newTestDispatcher(t, nil, nil)
	res, err := td.Execute(context.Background(), actions.NewDo(actions.NameInteract, nil), 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.ShouldFinish)
	assert.Equal(t, "User interaction required", res.Message)
}

func TestExecute_PanicIsConvertedToError(t *testing.T) {
	td := newTestDispatcher(t, func(string) bool { panic("confirmation hook exploded") }, nil)

	act := actions.NewDo(actions.NameTap, map[string]any{
		"element": []any{1.0, 1.0},
		"message": "sensitive",
	})
	_, err := td.Execute(context.Background(), act, 100, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestExecute_MissingCoordinates(t *testing.T) {
	td := newTestDispatcher(t, nil, nil)

	res, err := td.Execute(context.Background(), actions.NewDo(actions.NameTap, nil), 1080, 2400)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "No element coordinates", res.Message)

	res, err = td.Execute(context.Background(), actions.NewDo(actions.NameSwipe, map[string]any{
		"start": []any{1.0, 2.0},
	}), 1080, 2400)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Missing swipe coordinates", res.Message)
}
