// Package schemas holds the wire types shared by the HTTP surface, the
// streaming relay and the worker subprocess. Everything here is part of a
// compatibility surface: field names and the result marker must not change.
package schemas

// ResultMarker prefixes the single structured result line a worker writes to
// stdout as its last act. The relay scans for this exact prefix.
const ResultMarker = "__HTTP_WORKER_RESULT__"

// Worker process exit codes.
const (
	ExitOK          = 0
	ExitRunError    = 1
	ExitMissingTask = 2
)

// SSE event names emitted by the streaming relay.
const (
	EventServer = "server" // informational server-side lines
	EventOutput = "output" // relayed worker progress chunks
	EventResult = "result" // terminal success payload
	EventError  = "error"  // terminal failure payload
)

// RunRequest is the JSON body accepted by POST /run and POST /run/stream.
// Pointer fields distinguish "absent" from a zero value so server defaults
// can fill in.
type RunRequest struct {
	Task                 string   `json:"task"`
	DeviceID             string   `json:"device_id,omitempty"`
	Lang                 string   `json:"lang,omitempty"`
	MaxSteps             int      `json:"max_steps,omitempty"`
	BatchActions         *bool    `json:"batch_actions,omitempty"`
	BatchSize            int      `json:"batch_size,omitempty"`
	MemoryFile           string   `json:"memory_file,omitempty"`
	BaseURL              string   `json:"base_url,omitempty"`
	Model                string   `json:"model,omitempty"`
	APIKey               string   `json:"api_key,omitempty"`
	AutoConfirmSensitive *bool    `json:"auto_confirm_sensitive,omitempty"`
	IncludeLogs          bool     `json:"include_logs,omitempty"`
	DryRun               bool     `json:"dry_run,omitempty"`
	DryRunSeconds        *float64 `json:"dry_run_seconds,omitempty"`
}

// WorkerPayload is the single JSON document the relay writes to a worker's
// stdin before closing it. It is the fully resolved run configuration: the
// server has already merged request fields with its own defaults.
type WorkerPayload struct {
	Task                 string   `json:"task"`
	DeviceID             string   `json:"device_id,omitempty"`
	Lang                 string   `json:"lang,omitempty"`
	MaxSteps             int      `json:"max_steps,omitempty"`
	BaseURL              string   `json:"base_url,omitempty"`
	Model                string   `json:"model,omitempty"`
	APIKey               string   `json:"api_key,omitempty"`
	BatchActions         bool     `json:"batch_actions"`
	BatchSize            int      `json:"batch_size,omitempty"`
	MemoryFile           string   `json:"memory_file,omitempty"`
	AutoConfirmSensitive bool     `json:"auto_confirm_sensitive"`
	DryRun               bool     `json:"dry_run,omitempty"`
	DryRunSeconds        *float64 `json:"dry_run_seconds,omitempty"`
}

// WorkerResult is the JSON object following the result marker on the
// worker's final stdout line, and the payload of the terminal SSE event.
type WorkerResult struct {
	OK        bool    `json:"ok"`
	Result    string  `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
	ElapsedS  float64 `json:"elapsed_s,omitempty"`
	StepCount int     `json:"step_count,omitempty"`
	Traceback string  `json:"traceback,omitempty"`
	// Raw carries the unparseable tail when the marker line itself was
	// malformed, for diagnosis only.
	Raw string `json:"raw,omitempty"`
	// OutputTail carries the last captured worker output when the worker
	// exited without ever writing the marker.
	OutputTail string `json:"output_tail,omitempty"`
}

// RunResponse is the body of a successful synchronous POST /run.
type RunResponse struct {
	OK        bool    `json:"ok"`
	Result    string  `json:"result"`
	ElapsedS  float64 `json:"elapsed_s"`
	StepCount int     `json:"step_count"`
	Logs      string  `json:"logs,omitempty"`
}

// ErrorResponse is the body of any failed HTTP request.
type ErrorResponse struct {
	OK        bool    `json:"ok"`
	Error     string  `json:"error"`
	ElapsedS  float64 `json:"elapsed_s,omitempty"`
	Traceback string  `json:"traceback,omitempty"`
	Logs      string  `json:"logs,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK         bool    `json:"ok"`
	Status     string  `json:"status"`
	DeviceType string  `json:"device_type"`
	Time       float64 `json:"time"`
}
