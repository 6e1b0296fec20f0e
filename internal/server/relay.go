package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zed-wong/modified-autoglm/api/schemas"
	"github.com/zed-wong/modified-autoglm/internal/config"
)

// actionJSONLimit caps the bytes accumulated while waiting for an announced
// action object to finish; past it the raw lines are released as ordinary
// output instead.
const actionJSONLimit = 20000

// rawTailLimit bounds the raw excerpt attached to an unparseable marker line.
const rawTailLimit = 2000

// relay is the line-handling state machine between a worker's merged
// stdout/stderr and the client's event stream. It buffers progress lines into
// chunked output events, compacts separator banners, replaces streamed action
// JSON with one-line summaries, keeps the client connection warm while the
// worker is silent, and recognizes the terminal result marker.
type relay struct {
	flushBytes        int
	flushInterval     time.Duration
	keepaliveInterval time.Duration
	tailLimit         int
	logger            *zap.Logger
}

func newRelay(cfg config.ServerConfig, logger *zap.Logger) *relay {
	return &relay{
		flushBytes:        cfg.FlushBytes,
		flushInterval:     cfg.FlushInterval,
		keepaliveInterval: cfg.KeepaliveInterval,
		tailLimit:         cfg.LogTailBytes,
		logger:            logger.Named("relay"),
	}
}

// pump drains output into sink until the result marker, stream end, or a
// sink write failure. It always emits exactly one terminal event on the
// first two outcomes and returns the terminal result; a non-nil error means
// the client is gone and the caller must kill the worker.
func (r *relay) pump(ctx context.Context, output io.Reader, sink eventSink) (*schemas.WorkerResult, error) {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(output)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	var (
		pending      strings.Builder
		tail         []byte
		expectAction bool
		collecting   bool
		actionBuf    strings.Builder
	)

	keepalive := time.NewTimer(r.keepaliveInterval)
	defer keepalive.Stop()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() error {
		if pending.Len() == 0 {
			return nil
		}
		chunk := strings.TrimRight(pending.String(), "\n")
		pending.Reset()
		if err := sink.SendText(schemas.EventOutput, chunk); err != nil {
			return err
		}
		keepalive.Reset(r.keepaliveInterval)
		return nil
	}

	// append queues one already-terminated line and flushes on the size
	// threshold, a blank line, or a separator line.
	appendLine := func(line string) error {
		pending.WriteString(line)
		pending.WriteByte('\n')
		if pending.Len() >= r.flushBytes ||
			strings.TrimSpace(line) == "" ||
			strings.HasPrefix(line, "=") ||
			strings.HasPrefix(line, "-") {
			return flush()
		}
		return nil
	}

	finish := func(res *schemas.WorkerResult) (*schemas.WorkerResult, error) {
		event := schemas.EventError
		if res.OK {
			event = schemas.EventResult
		}
		if err := sink.SendJSON(event, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-keepalive.C:
			if err := sink.Comment("keepalive"); err != nil {
				return nil, err
			}
			keepalive.Reset(r.keepaliveInterval)

		case <-ticker.C:
			if err := flush(); err != nil {
				return nil, err
			}

		case line, ok := <-lines:
			if !ok {
				// Stream ended without a marker: the worker died or was
				// killed mid-run. Surface whatever it managed to say.
				if err := flush(); err != nil {
					return nil, err
				}
				r.logger.Warn("worker stream ended without result marker")
				return finish(&schemas.WorkerResult{
					Error:      "worker_exited_without_result",
					OutputTail: boundedTail(string(tail), r.tailLimit),
				})
			}

			tail = appendTail(tail, line, r.tailLimit)

			if strings.HasPrefix(line, schemas.ResultMarker) {
				if err := flush(); err != nil {
					return nil, err
				}
				return finish(r.parseMarker(line))
			}

			if collecting {
				actionBuf.WriteString(line)
				actionBuf.WriteByte('\n')
				joined := actionBuf.String()
				var obj map[string]any
				if err := sseJSON.UnmarshalFromString(joined, &obj); err == nil {
					if _, tagged := obj["_metadata"]; tagged {
						collecting = false
						actionBuf.Reset()
						pending.WriteString(summarizeAction(obj))
						pending.WriteByte('\n')
						if err := flush(); err != nil {
							return nil, err
						}
						continue
					}
				}
				if actionBuf.Len() > actionJSONLimit {
					collecting = false
					spill := actionBuf.String()
					actionBuf.Reset()
					if err := appendLine(strings.TrimRight(spill, "\n")); err != nil {
						return nil, err
					}
				}
				continue
			}

			if strings.Contains(line, "🎯") &&
				(strings.Contains(line, "执行动作") || strings.Contains(strings.ToLower(line), "action")) {
				expectAction = true
				continue
			}
			if expectAction && strings.HasPrefix(strings.TrimLeft(line, " \t"), "{") {
				expectAction = false
				collecting = true
				actionBuf.Reset()
				actionBuf.WriteString(line)
				actionBuf.WriteByte('\n')
				continue
			}

			if isSepLine(line) {
				line = compactSepLine(line)
			}
			if err := appendLine(line); err != nil {
				return nil, err
			}
		}
	}
}

// parseMarker decodes the JSON trailing the result marker, degrading to a
// synthetic failure carrying a bounded raw excerpt when it is malformed.
func (r *relay) parseMarker(line string) *schemas.WorkerResult {
	raw := strings.TrimSpace(line[len(schemas.ResultMarker):])
	var res schemas.WorkerResult
	if raw == "" || sseJSON.UnmarshalFromString(raw, &res) != nil {
		return &schemas.WorkerResult{
			Error: "invalid_worker_result",
			Raw:   boundedTail(raw, rawTailLimit),
		}
	}
	return &res
}

// isSepLine reports whether line is a visual banner of at least 16 repeated
// dashes or equals signs.
func isSepLine(line string) bool {
	s := strings.Trim(line, "\r\n")
	if len(s) < 16 {
		return false
	}
	return strings.Count(s, "-") == len(s) || strings.Count(s, "=") == len(s)
}

func compactSepLine(line string) string {
	s := strings.Trim(line, "\r\n")
	if strings.HasPrefix(s, "-") {
		return "----"
	}
	return "===="
}

// summarizeAction reduces one parsed action object to the single line shown
// in the stream in place of its JSON.
func summarizeAction(action map[string]any) string {
	name, _ := action["action"].(string)
	switch name {
	case "Tap":
		if el, ok := coordPair(action["element"]); ok {
			return "ACTION Tap element=" + el
		}
		return "ACTION Tap"
	case "Swipe":
		start, okStart := coordPair(action["start"])
		end, okEnd := coordPair(action["end"])
		if okStart && okEnd {
			return "ACTION Swipe start=" + start + " end=" + end
		}
		return "ACTION Swipe"
	case "Type":
		if text, ok := action["text"].(string); ok {
			runes := []rune(text)
			if len(runes) > 40 {
				text = string(runes[:37]) + "..."
			}
			return fmt.Sprintf("ACTION Type text=%q", text)
		}
		return "ACTION Type"
	}
	if name != "" {
		return "ACTION " + name
	}
	return "ACTION"
}

func coordPair(v any) (string, bool) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return "", false
	}
	return fmt.Sprintf("[%s, %s]", formatNum(list[0]), formatNum(list[1])), true
}

func formatNum(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// appendTail keeps a bounded suffix of everything the worker wrote.
func appendTail(tail []byte, line string, limit int) []byte {
	tail = append(tail, line...)
	tail = append(tail, '\n')
	if limit > 0 && len(tail) > limit {
		tail = tail[len(tail)-limit:]
	}
	return tail
}

func boundedTail(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}
