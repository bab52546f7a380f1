package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
)

// StdioServer is the C9 stdio transport: line-framed JSON-RPC 2.0 over a
// pair of streams (stdin/stdout in production; swappable for tests).
// Grounded on the teacher's StdioTransport (transport_stdio.go), inverted
// from "spawn a subprocess and read its stdout" to "read our own stdin and
// write our own stdout".
type StdioServer struct {
	handler *Handler
	in      io.Reader
	out     io.Writer
	sync    func() error // fsync hook; nil when out isn't a *os.File
	logger  *slog.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewStdioServer wires a server over os.Stdin/os.Stdout, fsyncing stdout
// after every write per spec.md §4.9's durability requirement for
// broadcasts.
func NewStdioServer(handler *Handler) *StdioServer {
	return NewStdioServerIO(handler, os.Stdin, os.Stdout)
}

// NewStdioServerIO wires a server over arbitrary streams, for tests.
func NewStdioServerIO(handler *Handler, in io.Reader, out io.Writer) *StdioServer {
	s := &StdioServer{handler: handler, in: in, out: out, logger: slog.Default().With("transport", "stdio")}
	if f, ok := out.(*os.File); ok {
		s.sync = f.Sync
	}
	return s
}

// Serve reads line-framed JSON-RPC messages from in until EOF or ctx is
// cancelled. Each request is dispatched onto its own goroutine so a slow
// handler never blocks reading of the next line (spec.md §5: responses
// complete out of arrival order); Serve itself returns once the input
// stream closes, after waiting for in-flight requests to finish writing.
func (s *StdioServer) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := append([]byte(nil), line...)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatch(ctx, msg)
		}()
	}

	s.wg.Wait()
	return scanner.Err()
}

// dispatch classifies one line as a request (has "id") or a notification
// (no "id") and routes it accordingly.
func (s *StdioServer) dispatch(ctx context.Context, raw []byte) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		s.writeResponse(errorResponse(nil, ErrCodeParseError, err.Error()))
		return
	}

	if probe.ID == nil || string(probe.ID) == "null" {
		var notif Notification
		if err := json.Unmarshal(raw, &notif); err != nil {
			return
		}
		s.handler.HandleNotification(ctx, notif.Method, notif.Params)
		return
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.writeResponse(errorResponse(nil, ErrCodeParseError, err.Error()))
		return
	}
	resp := s.handler.HandleRequest(ctx, &req)
	s.writeResponse(resp)
}

// writeResponse serializes resp as one newline-terminated line and fsyncs,
// so a broadcast interleaved with a response is never torn.
func (s *StdioServer) writeResponse(resp *Response) {
	resp.JSONRPC = "2.0"
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	s.writeLine(data)
}

func (s *StdioServer) writeLine(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error("write", "error", err)
		return
	}
	if s.sync != nil {
		_ = s.sync()
	}
}

// Broadcast implements watcher.Broadcaster: it writes a
// notifications/tools/listChanged message with no id, per spec.md §4.9.
func (s *StdioServer) Broadcast(notification string) {
	method := ToolsListChangedMethod
	if notification != "" && notification != "tools/list_changed" {
		method = notification
	}
	data, err := json.Marshal(Notification{JSONRPC: "2.0", Method: method})
	if err != nil {
		return
	}
	s.writeLine(data)
}
