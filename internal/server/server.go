// Package server exposes the automation core over HTTP: a synchronous run
// endpoint, a streaming endpoint backed by an isolated worker process, and a
// per-device lock registry serializing concurrent runs.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zed-wong/modified-autoglm/api/schemas"
	"github.com/zed-wong/modified-autoglm/internal/config"
)

// Runner executes one fully resolved run in-process, writing progress to
// progress and returning the final message and step count. The production
// implementation builds the agent stack; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, payload schemas.WorkerPayload, progress io.Writer) (result string, steps int, err error)
}

// Server is the HTTP surface. All cross-request state lives in the lock
// registry; everything else is per-request.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	locks  *LockRegistry
	runner Runner
	relay  *relay

	// workerCommand builds the subprocess for one streaming run. Replaced in
	// tests with shell stand-ins.
	workerCommand func(ctx context.Context) (*exec.Cmd, error)
}

// New assembles a server around cfg and the in-process runner.
func New(cfg *config.Config, runner Runner, logger *zap.Logger) *Server {
	log := logger.Named("server")
	return &Server{
		cfg:           cfg,
		logger:        log,
		locks:         NewLockRegistry(),
		runner:        runner,
		relay:         newRelay(cfg.Server, log),
		workerCommand: selfWorkerCommand,
	}
}

// selfWorkerCommand re-invokes the running binary with the worker
// subcommand, preserving the stdin/stdout wire contract.
func selfWorkerCommand(ctx context.Context) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return exec.Command(exe, "worker"), nil
}

// Handler returns the routed HTTP handler. Trailing slashes are ignored,
// matching clients that post to /run/.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.withAuth(s.handleHealth))
	mux.HandleFunc("POST /run", s.withAuth(s.handleRun))
	mux.HandleFunc("POST /run/stream", s.withAuth(s.handleRunStream))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := strings.TrimRight(r.URL.Path, "/"); p != "" {
			r.URL.Path = p
		}
		mux.ServeHTTP(w, r)
	})
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Server.AuthToken
		if token != "" {
			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(presented) != token {
				writeJSON(w, http.StatusUnauthorized, schemas.ErrorResponse{Error: "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := sseJSON.Marshal(payload)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	w.Write(body)
}

// stopWorker asks the worker to exit and force-kills it after the grace
// period.
func (s *Server) stopWorker(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	s.waitWithGrace(cmd)
}

func (s *Server) waitWithGrace(cmd *exec.Cmd) {
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.Server.ResultGrace):
		_ = cmd.Process.Kill()
		<-done
	}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
