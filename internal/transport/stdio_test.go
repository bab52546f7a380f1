package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/arcweave/skillkernel/internal/chunkflow"
	"github.com/arcweave/skillkernel/internal/kernel"
	pkgkernel "github.com/arcweave/skillkernel/pkg/kernel"
)

func TestStdioServerAnswersRequestOnOneLine(t *testing.T) {
	h := newTestHandler(t)
	defer h.Close()

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n")
	var out bytes.Buffer
	s := NewStdioServerIO(h, in, &out)

	if err := s.Serve(context.Background()); err != nil {
		t.Fatal(err)
	}

	scanner := bufio.NewScanner(&out)
	if !scanner.Scan() {
		t.Fatal("expected one response line")
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestStdioServerIgnoresBlankLines(t *testing.T) {
	h := newTestHandler(t)
	defer h.Close()

	in := strings.NewReader("\n\n" + `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer
	s := NewStdioServerIO(h, in, &out)
	if err := s.Serve(context.Background()); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one response line, got %d: %q", len(lines), out.String())
	}
}

func TestStdioServerNotificationGetsNoResponse(t *testing.T) {
	h := newTestHandler(t)
	defer h.Close()

	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	var out bytes.Buffer
	s := NewStdioServerIO(h, in, &out)
	if err := s.Serve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output for a notification, got %q", out.String())
	}
}

func TestStdioServerBroadcastWritesNoIDNotification(t *testing.T) {
	h := newTestHandler(t)
	defer h.Close()

	var out bytes.Buffer
	s := NewStdioServerIO(h, strings.NewReader(""), &out)
	s.Broadcast("tools/list_changed")

	var notif Notification
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &notif); err != nil {
		t.Fatal(err)
	}
	if notif.Method != ToolsListChangedMethod {
		t.Fatalf("expected %s, got %s", ToolsListChangedMethod, notif.Method)
	}
}

func TestStdioServerConcurrentRequestsAllGetResponses(t *testing.T) {
	reg := kernel.NewMapRegistry(nil)
	reg.Put(pkgkernel.Skill{Name: "git", Permissions: []string{"*"}}, []pkgkernel.Command{
		{SkillName: "git", FunctionName: "status"},
	})
	slow := funcExecutor(func(ctx context.Context, cmd pkgkernel.Command, args json.RawMessage, hb *kernel.Heartbeat) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	disp := kernel.NewDispatcher(reg, slow)
	h := NewHandler(reg, disp, fakeEmbedder{}, ServerInfo{Name: "k", Version: "v"}, 1, 4, chunkflow.New())
	defer h.Close()

	var lines bytes.Buffer
	for i := 0; i < 5; i++ {
		params, _ := json.Marshal(CallToolParams{Name: "git.status"})
		req, _ := json.Marshal(Request{JSONRPC: "2.0", ID: float64(i), Method: "tools/call", Params: params})
		lines.Write(req)
		lines.WriteByte('\n')
	}

	var out bytes.Buffer
	s := NewStdioServerIO(h, bytes.NewReader(lines.Bytes()), &out)
	if err := s.Serve(context.Background()); err != nil {
		t.Fatal(err)
	}

	scanner := bufio.NewScanner(&out)
	count := 0
	for scanner.Scan() {
		count++
	}
	if count != 5 {
		t.Fatalf("expected 5 responses, got %d", count)
	}
}
