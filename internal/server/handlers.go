package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zed-wong/modified-autoglm/api/schemas"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("health check", zap.String("from", remoteHost(r.RemoteAddr)))
	writeJSON(w, http.StatusOK, schemas.HealthResponse{
		OK:         true,
		Status:     "ok",
		DeviceType: "adb",
		Time:       float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

// decodeRun reads and validates the request body shared by both POST
// endpoints. A nil payload means the error response has been written.
func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (*schemas.WorkerPayload, schemas.RunRequest) {
	var req schemas.RunRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, schemas.ErrorResponse{Error: "invalid_json"})
		return nil, req
	}
	if len(body) > 0 {
		if err := sseJSON.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, schemas.ErrorResponse{Error: "invalid_json"})
			return nil, req
		}
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		writeJSON(w, http.StatusBadRequest, schemas.ErrorResponse{Error: "missing_task"})
		return nil, req
	}

	payload := s.resolvePayload(req, task)
	return &payload, req
}

// resolvePayload merges request fields over server defaults into the fully
// resolved run configuration handed to the runner or the worker.
func (s *Server) resolvePayload(req schemas.RunRequest, task string) schemas.WorkerPayload {
	agentCfg := s.cfg.Agent
	modelCfg := s.cfg.Model

	p := schemas.WorkerPayload{
		Task:                 task,
		DeviceID:             firstNonEmpty(req.DeviceID, agentCfg.DeviceID),
		Lang:                 firstNonEmpty(req.Lang, agentCfg.Lang),
		MaxSteps:             agentCfg.MaxSteps,
		BaseURL:              firstNonEmpty(req.BaseURL, modelCfg.BaseURL),
		Model:                firstNonEmpty(req.Model, modelCfg.Model),
		APIKey:               firstNonEmpty(req.APIKey, modelCfg.APIKey),
		BatchActions:         agentCfg.BatchActions,
		BatchSize:            agentCfg.BatchSize,
		MemoryFile:           firstNonEmpty(req.MemoryFile, agentCfg.MemoryFile),
		AutoConfirmSensitive: agentCfg.AutoConfirmSensitive,
		DryRun:               req.DryRun,
		DryRunSeconds:        req.DryRunSeconds,
	}
	if req.MaxSteps > 0 {
		p.MaxSteps = req.MaxSteps
	}
	if req.BatchSize > 0 {
		p.BatchSize = req.BatchSize
	}
	if req.BatchActions != nil {
		p.BatchActions = *req.BatchActions
	}
	if req.AutoConfirmSensitive != nil {
		p.AutoConfirmSensitive = *req.AutoConfirmSensitive
	}
	return p
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	payload, req := s.decodeRun(w, r)
	if payload == nil {
		return
	}
	includeLogs := req.IncludeLogs
	tailLimit := s.cfg.Server.LogTailBytes

	runID := uuid.New().String()
	logger := s.logger.With(zap.String("run_id", runID))
	logger.Info("run request",
		zap.String("from", remoteHost(r.RemoteAddr)),
		zap.String("device_id", payload.DeviceID),
		zap.String("task", taskSummary(payload.Task)))

	lock := s.locks.Acquire(payload.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	var progress bytes.Buffer
	result, steps, err := s.runner.Run(r.Context(), *payload, &progress)
	elapsed := time.Since(started).Seconds()

	if err != nil {
		logger.Warn("run failed",
			zap.Float64("elapsed_s", elapsed), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, schemas.ErrorResponse{
			Error:     err.Error(),
			ElapsedS:  elapsed,
			Traceback: boundedTail(fmt.Sprintf("%+v", err), tailLimit),
			Logs:      boundedTail(progress.String(), tailLimit),
		})
		return
	}

	resp := schemas.RunResponse{
		OK:        true,
		Result:    result,
		ElapsedS:  elapsed,
		StepCount: steps,
	}
	if includeLogs {
		resp.Logs = boundedTail(progress.String(), tailLimit)
	}
	logger.Info("run done",
		zap.Float64("elapsed_s", elapsed), zap.Int("steps", steps))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	payload, _ := s.decodeRun(w, r)
	if payload == nil {
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, schemas.ErrorResponse{Error: "streaming_unsupported"})
		return
	}

	deviceLabel := payload.DeviceID
	if deviceLabel == "" {
		deviceLabel = "-"
	}
	runID := uuid.New().String()
	logger := s.logger.With(zap.String("run_id", runID))
	logger.Info("stream request",
		zap.String("from", remoteHost(r.RemoteAddr)),
		zap.String("device_id", deviceLabel),
		zap.String("task", taskSummary(payload.Task)))

	lock := s.locks.Acquire(payload.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	if sse.SendText(schemas.EventServer, fmt.Sprintf("CONNECT from=%s device_id=%s", remoteHost(r.RemoteAddr), deviceLabel)) != nil {
		return
	}
	if sse.SendText(schemas.EventServer, "REQUEST task="+taskSummary(payload.Task)) != nil {
		return
	}
	if sse.SendText(schemas.EventServer, "MODEL name="+payload.Model) != nil {
		return
	}

	cmd, workerOut, err := s.startWorker(r, *payload)
	if err != nil {
		logger.Error("worker start failed", zap.Error(err))
		_ = sse.SendJSON(schemas.EventError, schemas.WorkerResult{
			Error: "worker_start_failed: " + err.Error(),
		})
		return
	}
	defer workerOut.Close()

	pid := cmd.Process.Pid
	logger.Info("worker started", zap.Int("pid", pid), zap.String("device_id", deviceLabel))
	if sse.SendText(schemas.EventServer, fmt.Sprintf("START pid=%d", pid)) != nil {
		logger.Info("client disconnected", zap.Int("pid", pid))
		s.stopWorker(cmd)
		return
	}

	res, pumpErr := s.relay.pump(r.Context(), workerOut, sse)
	if pumpErr != nil {
		logger.Info("client disconnected", zap.Int("pid", pid), zap.Error(pumpErr))
		s.stopWorker(cmd)
		return
	}

	s.waitWithGrace(cmd)
	logger.Info("stream done",
		zap.Int("pid", pid),
		zap.Bool("ok", res.OK),
		zap.Float64("elapsed_s", res.ElapsedS))
}

// startWorker spawns the worker subprocess, feeds it the payload on stdin
// and returns the read side of its merged stdout/stderr.
func (s *Server) startWorker(r *http.Request, payload schemas.WorkerPayload) (*exec.Cmd, *os.File, error) {
	cmd, err := s.workerCommand(r.Context())
	if err != nil {
		return nil, nil, err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("worker pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	stdin, err := cmd.StdinPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, nil, fmt.Errorf("worker stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, nil, fmt.Errorf("worker start: %w", err)
	}
	// The parent's copy of the write end must be closed or the reader never
	// sees EOF after the worker exits.
	pw.Close()

	go func() {
		defer stdin.Close()
		body, err := sseJSON.Marshal(payload)
		if err != nil {
			return
		}
		stdin.Write(body)
	}()

	return cmd, pr, nil
}

// taskSummary flattens and truncates a task string for log lines and the
// REQUEST event.
func taskSummary(task string) string {
	short := strings.ReplaceAll(task, "\n", " ")
	if runes := []rune(short); len(runes) > 160 {
		short = string(runes[:160]) + "..."
	}
	return short
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
