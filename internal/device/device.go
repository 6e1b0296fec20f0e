// Package device defines the capability surface the core uses to drive a
// phone. The dispatcher and orchestrator only ever see this interface; the
// concrete bridge (ADB, an emulator, a test fake) lives behind it.
package device

import "context"

// Screenshot is one captured frame of the device screen.
type Screenshot struct {
	Width  int
	Height int
	PNG    []byte
	// Base64 is the PNG payload encoded for the model context.
	Base64 string
}

// Controller is the set of device-control primitives the core calls.
// Implementations must honor the context on every operation.
type Controller interface {
	// LaunchApp starts the named app. The boolean reports whether the app
	// was found; an error reports a bridge failure.
	LaunchApp(ctx context.Context, name string) (bool, error)

	Tap(ctx context.Context, x, y int) error
	DoubleTap(ctx context.Context, x, y int) error
	LongPress(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int) error
	Back(ctx context.Context) error
	Home(ctx context.Context) error

	// TypeText enters text through the automation keyboard. Callers are
	// responsible for the surrounding IME switch protocol.
	TypeText(ctx context.Context, text string) error
	ClearText(ctx context.Context) error
	// DetectAndSetADBKeyboard switches to the automation IME and returns
	// the identifier of the previously active one.
	DetectAndSetADBKeyboard(ctx context.Context) (string, error)
	RestoreKeyboard(ctx context.Context, previous string) error

	GetScreenshot(ctx context.Context) (Screenshot, error)
	// GetCurrentApp returns an identifier for the foreground app.
	GetCurrentApp(ctx context.Context) (string, error)
}
