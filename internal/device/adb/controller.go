// Package adb implements the device.Controller capability surface over the
// Android Debug Bridge command-line tool.
package adb

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zed-wong/modified-autoglm/internal/device"
)

// adbKeyboardIME is the automation input method used for reliable text entry.
// It accepts text over broadcast intents instead of synthesized key events.
const adbKeyboardIME = "com.android.adbkeyboard/.AdbIME"

var focusRe = regexp.MustCompile(`mCurrentFocus=.*\s([\w.]+)/[\w.$]+`)

// Controller drives one device (or the default device when serial is empty)
// through adb subprocess invocations.
type Controller struct {
	serial  string
	timeout time.Duration
	logger  *zap.Logger

	// runner is swapped in tests to avoid spawning adb.
	runner func(ctx context.Context, args ...string) ([]byte, error)
}

// New returns a controller for the given device serial. A zero timeout
// disables the per-command deadline.
func New(serial string, timeout time.Duration, logger *zap.Logger) *Controller {
	c := &Controller{
		serial:  serial,
		timeout: timeout,
		logger:  logger.Named("adb"),
	}
	c.runner = c.execADB
	return c
}

func (c *Controller) execADB(ctx context.Context, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	full := make([]string, 0, len(args)+2)
	if c.serial != "" {
		full = append(full, "-s", c.serial)
	}
	full = append(full, args...)

	out, err := exec.CommandContext(ctx, "adb", full...).Output()
	if err != nil {
		return out, fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

func (c *Controller) shell(ctx context.Context, args ...string) (string, error) {
	out, err := c.runner(ctx, append([]string{"shell"}, args...)...)
	return string(out), err
}

// LaunchApp starts an app by package name through the activity monkey.
func (c *Controller) LaunchApp(ctx context.Context, name string) (bool, error) {
	out, err := c.shell(ctx, "monkey", "-p", name, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return false, err
	}
	if strings.Contains(out, "No activities found") {
		return false, nil
	}
	return true, nil
}

func (c *Controller) Tap(ctx context.Context, x, y int) error {
	_, err := c.shell(ctx, "input", "tap", itoa(x), itoa(y))
	return err
}

func (c *Controller) DoubleTap(ctx context.Context, x, y int) error {
	if err := c.Tap(ctx, x, y); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return c.Tap(ctx, x, y)
}

func (c *Controller) LongPress(ctx context.Context, x, y int) error {
	// A zero-distance swipe with a long duration is the bridge's idiom for
	// a long press.
	_, err := c.shell(ctx, "input", "swipe", itoa(x), itoa(y), itoa(x), itoa(y), "1000")
	return err
}

func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2 int) error {
	_, err := c.shell(ctx, "input", "swipe", itoa(x1), itoa(y1), itoa(x2), itoa(y2), "300")
	return err
}

func (c *Controller) Back(ctx context.Context) error {
	_, err := c.shell(ctx, "input", "keyevent", "KEYCODE_BACK")
	return err
}

func (c *Controller) Home(ctx context.Context) error {
	_, err := c.shell(ctx, "input", "keyevent", "KEYCODE_HOME")
	return err
}

// TypeText delivers text to the automation keyboard as a base64 broadcast,
// which round-trips multi-byte and multi-line content intact.
func (c *Controller) TypeText(ctx context.Context, text string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	_, err := c.shell(ctx, "am", "broadcast", "-a", "ADB_INPUT_B64", "--es", "msg", encoded)
	return err
}

func (c *Controller) ClearText(ctx context.Context) error {
	_, err := c.shell(ctx, "am", "broadcast", "-a", "ADB_CLEAR_TEXT")
	return err
}

// DetectAndSetADBKeyboard records the active IME, then enables and selects
// the automation keyboard. The returned identifier feeds RestoreKeyboard.
func (c *Controller) DetectAndSetADBKeyboard(ctx context.Context) (string, error) {
	current, err := c.shell(ctx, "settings", "get", "secure", "default_input_method")
	if err != nil {
		return "", err
	}
	previous := strings.TrimSpace(current)

	if previous == adbKeyboardIME {
		return previous, nil
	}
	if _, err := c.shell(ctx, "ime", "enable", adbKeyboardIME); err != nil {
		return previous, err
	}
	if _, err := c.shell(ctx, "ime", "set", adbKeyboardIME); err != nil {
		return previous, err
	}
	return previous, nil
}

func (c *Controller) RestoreKeyboard(ctx context.Context, previous string) error {
	if previous == "" || previous == adbKeyboardIME {
		return nil
	}
	_, err := c.shell(ctx, "ime", "set", previous)
	return err
}

// GetScreenshot captures the screen as PNG via exec-out and reads the frame
// dimensions straight out of the PNG header.
func (c *Controller) GetScreenshot(ctx context.Context) (device.Screenshot, error) {
	png, err := c.runner(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return device.Screenshot{}, err
	}
	width, height, err := pngDimensions(png)
	if err != nil {
		return device.Screenshot{}, fmt.Errorf("screencap returned invalid PNG: %w", err)
	}
	return device.Screenshot{
		Width:  width,
		Height: height,
		PNG:    png,
		Base64: base64.StdEncoding.EncodeToString(png),
	}, nil
}

// GetCurrentApp reports the package owning the focused window, or "unknown"
// when the window dump has no parseable focus line.
func (c *Controller) GetCurrentApp(ctx context.Context) (string, error) {
	out, err := c.shell(ctx, "dumpsys", "window", "windows")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if m := focusRe.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	return "unknown", nil
}

// pngDimensions reads width and height from the IHDR chunk. The first IHDR
// fields sit at fixed offsets right after the 8-byte signature.
func pngDimensions(data []byte) (int, int, error) {
	if len(data) < 24 || string(data[1:4]) != "PNG" {
		return 0, 0, fmt.Errorf("short or non-PNG payload (%d bytes)", len(data))
	}
	width := int(binary.BigEndian.Uint32(data[16:20]))
	height := int(binary.BigEndian.Uint32(data[20:24]))
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("degenerate dimensions %dx%d", width, height)
	}
	return width, height, nil
}

func itoa(v int) string { return fmt.Sprintf("%d", v) }
