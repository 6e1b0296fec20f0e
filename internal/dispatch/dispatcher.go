// Package dispatch executes parsed actions against the device capability
// surface. It is the only layer that touches coordinates, settle delays and
// the sensitive-operation gate, and it never lets a collaborator failure
// escape as a panic or error: every outcome is a Result.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zed-wong/modified-autoglm/internal/actions"
	"github.com/zed-wong/modified-autoglm/internal/config"
	"github.com/zed-wong/modified-autoglm/internal/device"
)

// Result is the outcome of executing exactly one action. It is never
// persisted.
type Result struct {
	Success      bool
	ShouldFinish bool
	Message      string
}

// ConfirmFunc decides whether a sensitive operation may proceed.
type ConfirmFunc func(message string) bool

// TakeoverFunc hands control to a human. Returning an error aborts the
// current action (used by headless callers to refuse takeover requests).
type TakeoverFunc func(message string) error

// Dispatcher maps an action record to a device operation.
type Dispatcher struct {
	dev      device.Controller
	timing   config.TimingConfig
	logger   *zap.Logger
	confirm  ConfirmFunc
	takeover TakeoverFunc

	// sleep is swapped in tests so settle delays and waits don't stall the
	// suite.
	sleep func(time.Duration)
}

// New builds a dispatcher. Nil callbacks default to auto-deny confirmation
// and auto-fail takeover, the safe behavior for headless runs.
func New(dev device.Controller, timing config.TimingConfig, logger *zap.Logger, confirm ConfirmFunc, takeover TakeoverFunc) *Dispatcher {
	if confirm == nil {
		confirm = func(string) bool { return false }
	}
	if takeover == nil {
		takeover = func(message string) error {
			return fmt.Errorf("takeover_required: %s", message)
		}
	}
	return &Dispatcher{
		dev:      dev,
		timing:   timing,
		logger:   logger.Named("dispatch"),
		confirm:  confirm,
		takeover: takeover,
		sleep:    time.Sleep,
	}
}

// Execute runs one action against the device using the screen dimensions the
// caller captured alongside the action's source screenshot.
//
// The returned error is reserved for collaborator panics; ordinary failures
// (unknown names, missing fields, device errors) come back as a failed
// Result so the step loop can decide whether to continue.
func (d *Dispatcher) Execute(ctx context.Context, act actions.Action, screenWidth, screenHeight int) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", act.Name, r)
		}
	}()

	if act.Kind == actions.KindFinish {
		return Result{Success: true, ShouldFinish: true, Message: act.Message}, nil
	}

	var res Result
	var opErr error

	switch act.Name {
	case actions.NameLaunch:
		res, opErr = d.launch(ctx, act)
	case actions.NameTap:
		res, opErr = d.tap(ctx, act, screenWidth, screenHeight)
	case actions.NameType, actions.NameTypeAlias:
		res, opErr = d.typeText(ctx, act)
	case actions.NameSwipe:
		res, opErr = d.swipe(ctx, act, screenWidth, screenHeight)
	case actions.NameBack:
		opErr = d.dev.Back(ctx)
		res = Result{Success: true}
	case actions.NameHome:
		opErr = d.dev.Home(ctx)
		res = Result{Success: true}
	case actions.NameDoubleTap:
		res, opErr = d.pointAction(ctx, act, screenWidth, screenHeight, d.dev.DoubleTap)
	case actions.NameLongPress:
		res, opErr = d.pointAction(ctx, act, screenWidth, screenHeight, d.dev.LongPress)
	case actions.NameWait:
		res = d.wait(act)
	case actions.NameTakeOver:
		res, opErr = d.handleTakeover(act)
	case actions.NameNote, actions.NameCallAPI:
		// Reserved extension points for content recording / external
		// summarization. Deliberately no-ops.
		res = Result{Success: true}
	case actions.NameInteract:
		res = Result{Success: true, Message: "User interaction required"}
	default:
		return Result{Success: false, Message: fmt.Sprintf("Unknown action: %s", act.Name)}, nil
	}

	if opErr != nil {
		d.logger.Warn("action failed",
			zap.String("action", act.Name),
			zap.Error(opErr))
		return Result{Success: false, Message: fmt.Sprintf("Action failed: %v", opErr)}, nil
	}
	return res, nil
}

// convert maps a relative coordinate on the 0-1000 scale to an absolute
// pixel, truncating rather than rounding.
func convert(rel float64, dim int) int {
	return int(rel / 1000 * float64(dim))
}

func point(act actions.Action, key string, w, h int) (int, int, bool) {
	rx, ry, ok := act.Point(key)
	if !ok {
		return 0, 0, false
	}
	return convert(rx, w), convert(ry, h), true
}

func (d *Dispatcher) launch(ctx context.Context, act actions.Action) (Result, error) {
	app := act.Text("app")
	if app == "" {
		return Result{Success: false, Message: "No app name specified"}, nil
	}
	found, err := d.dev.LaunchApp(ctx, app)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Success: false, Message: fmt.Sprintf("App not found: %s", app)}, nil
	}
	return Result{Success: true}, nil
}

func (d *Dispatcher) tap(ctx context.Context, act actions.Action, w, h int) (Result, error) {
	x, y, ok := point(act, "element", w, h)
	if !ok {
		return Result{Success: false, Message: "No element coordinates"}, nil
	}

	// A Tap carrying a message is a sensitive operation: gate it on the
	// confirmation callback before touching the device. Refusal is a normal
	// terminal outcome, not a fault.
	if message, present := act.Fields["message"]; present {
		text, _ := message.(string)
		if !d.confirm(text) {
			return Result{
				Success:      false,
				ShouldFinish: true,
				Message:      "User cancelled sensitive operation",
			}, nil
		}
	}

	if err := d.dev.Tap(ctx, x, y); err != nil {
		return Result{}, err
	}
	return Result{Success: true}, nil
}

func (d *Dispatcher) pointAction(ctx context.Context, act actions.Action, w, h int, op func(context.Context, int, int) error) (Result, error) {
	x, y, ok := point(act, "element", w, h)
	if !ok {
		return Result{Success: false, Message: "No element coordinates"}, nil
	}
	if err := op(ctx, x, y); err != nil {
		return Result{}, err
	}
	return Result{Success: true}, nil
}

func (d *Dispatcher) swipe(ctx context.Context, act actions.Action, w, h int) (Result, error) {
	x1, y1, okStart := point(act, "start", w, h)
	x2, y2, okEnd := point(act, "end", w, h)
	if !okStart || !okEnd {
		return Result{Success: false, Message: "Missing swipe coordinates"}, nil
	}
	if err := d.dev.Swipe(ctx, x1, y1, x2, y2); err != nil {
		return Result{}, err
	}
	return Result{Success: true}, nil
}

// typeText runs the fixed text-entry protocol: switch to the automation
// keyboard, clear, type, restore, with a settle delay after every step.
// Keyboard switches and text commits are asynchronous on the device;
// dropping a delay risks lost keystrokes.
func (d *Dispatcher) typeText(ctx context.Context, act actions.Action) (Result, error) {
	text := act.Text("text")

	previous, err := d.dev.DetectAndSetADBKeyboard(ctx)
	if err != nil {
		return Result{}, err
	}
	d.sleep(d.timing.KeyboardSwitchDelay)

	if err := d.dev.ClearText(ctx); err != nil {
		return Result{}, err
	}
	d.sleep(d.timing.TextClearDelay)

	if err := d.dev.TypeText(ctx, text); err != nil {
		return Result{}, err
	}
	d.sleep(d.timing.TextInputDelay)

	if err := d.dev.RestoreKeyboard(ctx, previous); err != nil {
		return Result{}, err
	}
	d.sleep(d.timing.KeyboardRestoreDelay)

	return Result{Success: true}, nil
}

// wait parses a "<number> seconds" duration, defaulting to one second on any
// parse failure rather than failing the action.
func (d *Dispatcher) wait(act actions.Action) Result {
	d.sleep(ParseWaitDuration(act.Text("duration")))
	return Result{Success: true}
}

func (d *Dispatcher) handleTakeover(act actions.Action) (Result, error) {
	message := act.Text("message")
	if message == "" {
		message = "User intervention required"
	}
	if err := d.takeover(message); err != nil {
		return Result{}, err
	}
	return Result{Success: true}, nil
}

// ParseWaitDuration converts a "<number> seconds" string into a duration.
// Garbage input yields the one-second default; this never fails.
func ParseWaitDuration(raw string) time.Duration {
	trimmed := strings.TrimSpace(strings.ReplaceAll(raw, "seconds", ""))
	seconds, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || seconds < 0 {
		seconds = 1.0
	}
	return time.Duration(seconds * float64(time.Second))
}
