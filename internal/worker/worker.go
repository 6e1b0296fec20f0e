// Package worker implements both halves of the run machinery: the factory
// that builds and drives one agent stack from a resolved payload, and the
// subprocess entry point speaking the stdin/stdout wire contract with the
// streaming relay.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/zed-wong/modified-autoglm/api/schemas"
	"github.com/zed-wong/modified-autoglm/internal/agent"
	"github.com/zed-wong/modified-autoglm/internal/config"
	"github.com/zed-wong/modified-autoglm/internal/device/adb"
	"github.com/zed-wong/modified-autoglm/internal/dispatch"
	"github.com/zed-wong/modified-autoglm/internal/model"
	"github.com/zed-wong/modified-autoglm/internal/prompts"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Runner builds agent stacks from resolved payloads. It satisfies the
// server's Runner interface, so the synchronous endpoint and the worker
// subprocess execute runs through the same code path.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger

	// Confirm and Takeover override the headless callbacks; the console
	// command installs interactive prompts here. When nil, sensitive actions
	// follow the payload's auto-confirm flag and takeover requests fail.
	Confirm  dispatch.ConfirmFunc
	Takeover dispatch.TakeoverFunc

	// newModel is swapped in tests to avoid real inference calls.
	newModel func(config.ModelConfig, *zap.Logger) model.Client
}

// NewRunner returns a runner bound to server-level configuration; payload
// fields override it per run.
func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger.Named("runner"),
		newModel: func(mc config.ModelConfig, l *zap.Logger) model.Client {
			return model.NewHTTPClient(mc, l)
		},
	}
}

// Run executes one task end to end, writing the progress trace to progress.
// Sensitive actions are confirmed per the payload; takeover requests cannot
// be served without a console and fail the action.
func (r *Runner) Run(ctx context.Context, payload schemas.WorkerPayload, progress io.Writer) (string, int, error) {
	modelCfg := r.cfg.Model
	modelCfg.BaseURL = payload.BaseURL
	modelCfg.Model = payload.Model
	modelCfg.APIKey = payload.APIKey

	dev := adb.New(payload.DeviceID, r.cfg.Timing.CommandTimeout, r.logger)
	mc := r.newModel(modelCfg, r.logger)

	confirm := r.Confirm
	if confirm == nil {
		confirm = func(string) bool { return payload.AutoConfirmSensitive }
	}
	takeover := r.Takeover
	if takeover == nil {
		takeover = func(message string) error {
			return fmt.Errorf("takeover_required: %s", message)
		}
	}
	disp := dispatch.New(dev, r.cfg.Timing, r.logger, confirm, takeover)

	a := agent.New(agent.Config{
		MaxSteps:     payload.MaxSteps,
		DeviceID:     payload.DeviceID,
		Lang:         payload.Lang,
		SystemPrompt: prompts.Build(payload.Lang, payload.MemoryFile, payload.BatchActions, payload.BatchSize),
		BatchActions: payload.BatchActions,
		BatchSize:    payload.BatchSize,
	}, mc, disp, dev, r.logger, agent.WithProgress(progress))

	result, err := a.Run(ctx, payload.Task)
	return result, a.StepCount(), err
}

// Main is the worker subprocess body: one JSON payload on stdin, progress on
// stdout, and exactly one marker line last. The return value is the process
// exit code.
func Main(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer, logger *zap.Logger) int {
	payload, err := readPayload(stdin)
	if err != nil {
		logger.Error("bad worker payload", zap.Error(err))
		writeMarker(stdout, schemas.WorkerResult{Error: "invalid_payload: " + err.Error()})
		return schemas.ExitRunError
	}
	if strings.TrimSpace(payload.Task) == "" {
		writeMarker(stdout, schemas.WorkerResult{Error: "missing_task"})
		return schemas.ExitMissingTask
	}

	started := time.Now()

	if payload.DryRun {
		dryRun(ctx, stdout, payload.DryRunSeconds)
		writeMarker(stdout, schemas.WorkerResult{
			OK:       true,
			Result:   "dry_run_ok",
			ElapsedS: time.Since(started).Seconds(),
		})
		return schemas.ExitOK
	}

	applyEnvFallbacks(&payload)

	runner := NewRunner(cfg, logger)
	result, steps, err := runner.Run(ctx, payload, stdout)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		writeMarker(stdout, schemas.WorkerResult{
			Error:     err.Error(),
			ElapsedS:  elapsed,
			Traceback: boundedDiagnostic(fmt.Sprintf("%+v", err), cfg.Server.LogTailBytes),
		})
		return schemas.ExitRunError
	}

	writeMarker(stdout, schemas.WorkerResult{
		OK:        true,
		Result:    result,
		ElapsedS:  elapsed,
		StepCount: steps,
	})
	return schemas.ExitOK
}

func readPayload(stdin io.Reader) (schemas.WorkerPayload, error) {
	var payload schemas.WorkerPayload
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return payload, fmt.Errorf("read stdin: %w", err)
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// dryRun prints filler progress for the requested duration so the relay can
// be exercised without a device or model.
func dryRun(ctx context.Context, stdout io.Writer, seconds *float64) {
	duration := 2 * time.Second
	if seconds != nil && *seconds >= 0 {
		duration = time.Duration(*seconds * float64(time.Second))
	}
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		fmt.Fprintln(stdout, "dry_run: working...")
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// applyEnvFallbacks fills payload fields the relay left empty from the
// environment, for workers launched by hand.
func applyEnvFallbacks(payload *schemas.WorkerPayload) {
	if payload.Lang == "" {
		payload.Lang = envOr("AUTOGLM_AGENT_LANG", "cn")
	}
	if payload.MaxSteps <= 0 {
		payload.MaxSteps = 100
	}
	if payload.DeviceID == "" {
		payload.DeviceID = os.Getenv("AUTOGLM_AGENT_DEVICE_ID")
	}
	if payload.BaseURL == "" {
		payload.BaseURL = envOr("AUTOGLM_MODEL_BASE_URL", "http://localhost:8000/v1")
	}
	if payload.Model == "" {
		payload.Model = envOr("AUTOGLM_MODEL_MODEL", "autoglm-phone-9b")
	}
	if payload.APIKey == "" {
		payload.APIKey = envOr("AUTOGLM_MODEL_API_KEY", "EMPTY")
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = 3
	}
	if payload.MemoryFile == "" {
		if candidate, err := os.Getwd(); err == nil {
			candidate = candidate + string(os.PathSeparator) + "memory.json"
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				payload.MemoryFile = candidate
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// writeMarker emits the single structured result line the relay scans for.
func writeMarker(stdout io.Writer, res schemas.WorkerResult) {
	body, err := json.Marshal(res)
	if err != nil {
		body = []byte(`{"ok":false,"error":"marshal_failure"}`)
	}
	fmt.Fprintf(stdout, "%s %s\n", schemas.ResultMarker, body)
}

func boundedDiagnostic(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}
