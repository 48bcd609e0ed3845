package command

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"firestige.xyz/lightmesh/internal/credentials"
)

func startServer(t *testing.T, handler Handler) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	// Unix socket paths are length limited; keep them short.
	dir, err := os.MkdirTemp("", "lm")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "ctl.sock")

	server := NewUDSServer(socketPath, handler)
	if err := server.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()
	t.Cleanup(cancel)
	return socketPath, cancel, errCh
}

func TestUDSServerClient_Integration(t *testing.T) {
	store := credentials.NewMemoryStore()
	handler := NewCommandHandler(store, nil)
	handler.SetPatterns(newFakePatterns(t))
	handler.SetMeshInfo(MeshInfo{Name: "hub", Role: "controller"})

	socketPath, cancel, errCh := startServer(t, handler)

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permissions = %o, want 600", perm)
	}

	client := NewUDSClient(socketPath, 2*time.Second)
	ctx := context.Background()

	resp, err := client.PatternActivate(ctx, 0, true)
	if err != nil {
		t.Fatalf("PatternActivate: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("PatternActivate error: %v", resp.Error)
	}

	resp, err = client.PatternActivate(ctx, 9, true)
	if err != nil {
		t.Fatalf("PatternActivate: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("out of range activation: got %+v", resp.Error)
	}

	resp, err = client.PatternList(ctx)
	if err != nil {
		t.Fatalf("PatternList: %v", err)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type = %T", resp.Result)
	}
	// JSON numbers decode as float64.
	if result["count"] != float64(1) {
		t.Errorf("count = %v, want 1", result["count"])
	}

	if resp, err = client.CredentialsSet(ctx, "venue", "secret"); err != nil || resp.Error != nil {
		t.Fatalf("CredentialsSet: %v %v", err, resp)
	}
	resp, err = client.CredentialsGet(ctx)
	if err != nil {
		t.Fatalf("CredentialsGet: %v", err)
	}
	if pw := resp.Result.(map[string]interface{})["password"]; pw == "secret" {
		t.Error("password returned in clear")
	}

	resp, err = client.Call(ctx, "no_such_method", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("unknown method: got %+v", resp.Error)
	}

	if err := client.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server didn't stop in time")
	}

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file not removed after server stop")
	}
}

func TestUDSServer_MalformedRequest(t *testing.T) {
	socketPath, _, _ := startServer(t, NewCommandHandler(nil, nil))

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("{not json\n{\"jsonrpc\":\"2.0\",\"id\":7}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	for i, want := range []string{
		`"code":-32700`,
		`"code":-32600`,
	} {
		if !scanner.Scan() {
			t.Fatalf("response %d missing: %v", i, scanner.Err())
		}
		if line := scanner.Text(); !strings.Contains(line, want) {
			t.Errorf("response %d = %s, want %s", i, line, want)
		}
	}
}

func TestUDSClient_ConnectionError(t *testing.T) {
	client := NewUDSClient(filepath.Join(t.TempDir(), "missing.sock"), time.Second)

	if _, err := client.DaemonStatus(context.Background()); err == nil {
		t.Error("expected connection error")
	}
}

func TestUDSServer_MultipleConnections(t *testing.T) {
	handler := NewCommandHandler(nil, nil)
	socketPath, _, _ := startServer(t, handler)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := NewUDSClient(socketPath, 2*time.Second)
			if _, err := client.DaemonStatus(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call failed: %v", err)
	}
}

func TestUDSServer_StopIdempotent(t *testing.T) {
	dir, err := os.MkdirTemp("", "lm")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	server := NewUDSServer(filepath.Join(dir, "ctl.sock"), NewCommandHandler(nil, nil))
	if err := server.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Errorf("first stop: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestNewUDSClient_DefaultTimeout(t *testing.T) {
	client := NewUDSClient("/tmp/test.sock", 0)
	if client.timeout != 10*time.Second {
		t.Errorf("default timeout = %v, want 10s", client.timeout)
	}
}
