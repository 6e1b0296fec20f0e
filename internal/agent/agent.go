// Package agent drives one automation task: it alternates model turns with
// action execution and manages the conversational context until the task is
// declared complete.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/zed-wong/modified-autoglm/internal/actions"
	"github.com/zed-wong/modified-autoglm/internal/device"
	"github.com/zed-wong/modified-autoglm/internal/dispatch"
	"github.com/zed-wong/modified-autoglm/internal/model"
	"github.com/zed-wong/modified-autoglm/internal/prompts"
)

// maxStepsMessage is the sentinel returned when the step budget runs out
// without a finish. Reaching it is a normal outcome, not an error.
const maxStepsMessage = "Max steps reached"

// Config is the immutable per-run configuration. It is created once at run
// start and never mutated.
type Config struct {
	MaxSteps     int
	DeviceID     string
	Lang         string
	SystemPrompt string
	BatchActions bool
	BatchSize    int
}

// StepResult is the externally observable outcome of one loop iteration.
type StepResult struct {
	Success  bool
	Finished bool
	Action   *actions.Action
	Thinking string
	Message  string
}

// Executor runs one action against the device. Satisfied by
// *dispatch.Dispatcher; faked in tests.
type Executor interface {
	Execute(ctx context.Context, act actions.Action, screenWidth, screenHeight int) (dispatch.Result, error)
}

// Agent is the step orchestrator: a two-state machine (running, finished)
// owning one conversation context for the lifetime of one task.
type Agent struct {
	cfg    Config
	model  model.Client
	exec   Executor
	dev    device.Controller
	logger *zap.Logger
	labels prompts.Labels

	// progress receives the human-readable run trace the streaming relay
	// forwards. Nil means silent.
	progress io.Writer

	context   []model.Message
	stepCount int
}

// Option configures an Agent.
type Option func(*Agent)

// WithProgress directs the run trace to w.
func WithProgress(w io.Writer) Option {
	return func(a *Agent) { a.progress = w }
}

// New builds an agent for one task. A missing system prompt falls back to
// the embedded prompt for the configured language; a batch size below one is
// clamped to one.
func New(cfg Config, mc model.Client, exec Executor, dev device.Controller, logger *zap.Logger, opts ...Option) *Agent {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = prompts.System(cfg.Lang)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = 100
	}
	a := &Agent{
		cfg:    cfg,
		model:  mc,
		exec:   exec,
		dev:    dev,
		logger: logger.Named("agent"),
		labels: prompts.Messages(cfg.Lang),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run drives the agent until the task finishes or the step budget is
// exhausted, returning the final message. An error means the run itself
// failed (device capture or model transport); everything the loop can absorb
// is absorbed.
func (a *Agent) Run(ctx context.Context, task string) (string, error) {
	a.Reset()

	result, err := a.step(ctx, task, true)
	if err != nil {
		return "", err
	}
	if result.Finished {
		return finalMessage(result), nil
	}

	for a.stepCount < a.cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		result, err = a.step(ctx, "", false)
		if err != nil {
			return "", err
		}
		if result.Finished {
			return finalMessage(result), nil
		}
	}
	return maxStepsMessage, nil
}

// Step executes a single loop iteration; the task is required on the first
// step only. Useful for manual control or debugging.
func (a *Agent) Step(ctx context.Context, task string) (StepResult, error) {
	first := len(a.context) == 0
	if first && strings.TrimSpace(task) == "" {
		return StepResult{}, fmt.Errorf("task is required for the first step")
	}
	return a.step(ctx, task, first)
}

// Reset clears the conversation context and step counter for a new task.
func (a *Agent) Reset() {
	a.context = nil
	a.stepCount = 0
}

// Context returns a copy of the current conversation context.
func (a *Agent) Context() []model.Message {
	out := make([]model.Message, len(a.context))
	copy(out, a.context)
	return out
}

// StepCount returns the number of steps executed so far.
func (a *Agent) StepCount() int { return a.stepCount }

func (a *Agent) step(ctx context.Context, userPrompt string, first bool) (StepResult, error) {
	a.stepCount++

	// 1. Capture device state.
	shot, err := a.dev.GetScreenshot(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("screenshot capture failed: %w", err)
	}
	currentApp, err := a.dev.GetCurrentApp(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("foreground app query failed: %w", err)
	}

	// 2. Append the user message: the task on the first step, a screen-info
	// marker afterwards, with the fresh screenshot attached either way.
	screenInfo := model.ScreenInfo(currentApp)
	if first {
		a.context = append(a.context, model.SystemMessage(a.cfg.SystemPrompt))
		a.context = append(a.context,
			model.UserMessage(userPrompt+"\n\n"+screenInfo, shot.Base64))
	} else {
		a.context = append(a.context,
			model.UserMessage("** Screen Info **\n\n"+screenInfo, shot.Base64))
	}

	a.printf("\n%s\n", strings.Repeat("=", 50))
	a.printf("💭 %s:\n", a.labels.Thinking)
	a.printf("%s\n", strings.Repeat("-", 50))

	// 3. Request a model turn; an empty action text is retried exactly once.
	response, err := a.model.Request(ctx, a.context)
	if err == nil && strings.TrimSpace(response.Action) == "" {
		a.logger.Warn("model returned empty action, retrying once")
		response, err = a.model.Request(ctx, a.context)
	}
	if err != nil {
		a.logger.Error("model request failed", zap.Error(err))
		return StepResult{}, fmt.Errorf("model error: %w", err)
	}
	a.printf("%s\n", response.Thinking)

	// 4. Parse up to the batch cap; a malformed turn degrades to a one
	// second Wait instead of aborting the step.
	maxActions := 1
	if a.cfg.BatchActions {
		maxActions = a.cfg.BatchSize
	}
	parsed, err := actions.ParseActions(response.Action, maxActions)
	if err != nil {
		a.logger.Warn("action parse failed, substituting Wait",
			zap.String("action_text", response.Action), zap.Error(err))
		parsed = []actions.Action{actions.NewWait("1 seconds")}
	}

	a.printActions(parsed)

	// 5. Drop the screenshot from the just-appended user message before
	// executing anything, bounding context growth.
	a.context[len(a.context)-1] = model.StripImage(a.context[len(a.context)-1])

	// 6. Execute in order, stopping at the first finish or should-finish.
	// An executor fault becomes a synthetic finish carrying its description.
	var (
		act actions.Action
		res dispatch.Result
	)
	for _, item := range parsed {
		act = item
		res, err = a.exec.Execute(ctx, act, shot.Width, shot.Height)
		if err != nil {
			a.logger.Error("executor fault", zap.Error(err))
			act = actions.NewFinish(err.Error())
			res, _ = a.exec.Execute(ctx, act, shot.Width, shot.Height)
		}
		if act.Kind == actions.KindFinish || res.ShouldFinish {
			break
		}
	}

	// 7. Record the model's own reasoning trail for future steps.
	a.context = append(a.context, model.AssistantMessage(
		fmt.Sprintf("<think>%s</think><answer>%s</answer>", response.Thinking, response.Action)))

	finished := act.Kind == actions.KindFinish || res.ShouldFinish
	message := res.Message
	if message == "" {
		message = act.Message
	}

	if finished {
		done := message
		if done == "" {
			done = a.labels.Done
		}
		a.printf("\n🎉 %s\n", strings.Repeat("=", 48))
		a.printf("✅ %s: %s\n", a.labels.TaskCompleted, done)
		a.printf("%s\n", strings.Repeat("=", 50))
	}

	return StepResult{
		Success:  res.Success,
		Finished: finished,
		Action:   &act,
		Thinking: response.Thinking,
		Message:  message,
	}, nil
}

// printActions mirrors the parsed actions onto the progress stream in the
// announce-then-JSON shape the streaming relay recognizes and compacts.
func (a *Agent) printActions(parsed []actions.Action) {
	if a.progress == nil {
		return
	}
	a.printf("%s\n", strings.Repeat("-", 50))
	a.printf("🎯 %s:\n", a.labels.Action)

	var blob []byte
	if len(parsed) == 1 {
		blob, _ = json.MarshalIndent(parsed[0], "", "  ")
	} else {
		blob, _ = json.MarshalIndent(parsed, "", "  ")
	}
	a.printf("%s\n", blob)
	a.printf("%s\n\n", strings.Repeat("=", 50))
}

func (a *Agent) printf(format string, args ...any) {
	if a.progress == nil {
		return
	}
	fmt.Fprintf(a.progress, format, args...)
}

func finalMessage(result StepResult) string {
	if result.Message != "" {
		return result.Message
	}
	return "Task completed"
}
