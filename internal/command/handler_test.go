package command

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"firestige.xyz/lightmesh/internal/catalog"
	"firestige.xyz/lightmesh/internal/credentials"
	"firestige.xyz/lightmesh/internal/device"
	"firestige.xyz/lightmesh/internal/engine"
)

// mockConfigReloader is a mock implementation of ConfigReloader.
type mockConfigReloader struct {
	reloadFunc func() error
}

func (m *mockConfigReloader) Reload() error {
	if m.reloadFunc != nil {
		return m.reloadFunc()
	}
	return nil
}

type activation struct {
	index   int
	running bool
}

// fakePatterns records activation requests.
type fakePatterns struct {
	cat       *catalog.Catalog
	requested []activation
	stopped   int
}

func (f *fakePatterns) RequestActivation(index int, running bool) error {
	if index < 0 || index >= f.cat.Len() {
		return engine.ErrPatternOutOfRange
	}
	f.requested = append(f.requested, activation{index, running})
	return nil
}

func (f *fakePatterns) Stop() error {
	f.stopped++
	return nil
}

func (f *fakePatterns) Status() engine.Status {
	return engine.Status{Active: -1, Patterns: f.cat.Len()}
}

func (f *fakePatterns) Catalog() *catalog.Catalog { return f.cat }

func (f *fakePatterns) Acks() []engine.AckRecord {
	return []engine.AckRecord{{Slot: 2, Count: 1}}
}

type fakeNode struct{}

func (fakeNode) Status() device.Status { return device.Status{Colour: "off", IdleTicks: 3} }

func newFakePatterns(t *testing.T) *fakePatterns {
	t.Helper()
	cat, err := catalog.Parse([]byte(`{
  "Wave": {"duration": 4, "phases": [{"phase": 0, "nodes": [{"node": 1, "color": "red", "secs": 1}, {"node": 2, "color": "blue", "secs": 1}]}]},
  "Broken": {"duration": 1, "phases": []}
}`))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return &fakePatterns{cat: cat}
}

func call(t *testing.T, h *CommandHandler, method, params string) Response {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	resp := h.Handle(context.Background(), Command{Method: method, Params: raw, ID: "req-" + method})
	if resp.ID != "req-"+method {
		t.Errorf("response ID = %s, want req-%s", resp.ID, method)
	}
	return resp
}

func TestCommandHandler_PatternActivate(t *testing.T) {
	p := newFakePatterns(t)
	h := NewCommandHandler(nil, nil)
	h.SetPatterns(p)

	if resp := call(t, h, MethodPatternActivate, `{"index": 0}`); resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	// Values given as strings are accepted.
	if resp := call(t, h, MethodPatternActivate, `{"index": "0", "running": "false"}`); resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	// Provisioning form: 1-based pattern number and state.
	resp := call(t, h, MethodPatternActivate, `{"pattern": 1, "state": true}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if got := resp.Result.(map[string]interface{})["index"]; got != 0 {
		t.Errorf("result index = %v, want 0", got)
	}

	want := []activation{{0, true}, {0, false}, {0, true}}
	if len(p.requested) != len(want) {
		t.Fatalf("requested = %v, want %v", p.requested, want)
	}
	for i := range want {
		if p.requested[i] != want[i] {
			t.Errorf("requested[%d] = %v, want %v", i, p.requested[i], want[i])
		}
	}
}

func TestCommandHandler_PatternActivateErrors(t *testing.T) {
	p := newFakePatterns(t)
	h := NewCommandHandler(nil, nil)
	h.SetPatterns(p)

	tests := []struct {
		name   string
		params string
	}{
		{"out of range", `{"index": 5}`},
		{"unknown field", `{"index": 0, "colour": "red"}`},
		{"not an object", `[1, 2]`},
		{"bad index type", `{"index": "first"}`},
		{"pattern out of range", `{"pattern": 2}`},
		{"pattern zero", `{"pattern": 0}`},
		{"index and pattern", `{"index": 0, "pattern": 1}`},
		{"running and state", `{"index": 0, "running": true, "state": false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, h, MethodPatternActivate, tt.params)
			if resp.Error == nil {
				t.Fatal("expected error")
			}
			if resp.Error.Code != ErrCodeInvalidParams {
				t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeInvalidParams)
			}
		})
	}
	if len(p.requested) != 0 {
		t.Errorf("no activation expected, got %v", p.requested)
	}
}

func TestCommandHandler_PatternStop(t *testing.T) {
	p := newFakePatterns(t)
	h := NewCommandHandler(nil, nil)
	h.SetPatterns(p)

	if resp := call(t, h, MethodPatternStop, ""); resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if p.stopped != 1 {
		t.Errorf("stopped = %d, want 1", p.stopped)
	}
}

func TestCommandHandler_PatternList(t *testing.T) {
	h := NewCommandHandler(nil, nil)
	h.SetPatterns(newFakePatterns(t))

	resp := call(t, h, MethodPatternList, "")
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type = %T", resp.Result)
	}
	if result["count"] != 1 {
		t.Errorf("count = %v, want 1", result["count"])
	}
	patterns := result["patterns"].([]PatternSummary)
	if patterns[0].Name != "Wave" || patterns[0].Nodes != 2 || patterns[0].Phases != 1 {
		t.Errorf("unexpected summary %+v", patterns[0])
	}
	rejected := result["rejected"].([]map[string]string)
	if len(rejected) != 1 || rejected[0]["name"] != "Broken" {
		t.Errorf("rejected = %v", rejected)
	}
}

func TestCommandHandler_PatternStatus(t *testing.T) {
	h := NewCommandHandler(nil, nil)
	h.SetPatterns(newFakePatterns(t))

	resp := call(t, h, MethodPatternStatus, "")
	status, ok := resp.Result.(engine.Status)
	if !ok {
		t.Fatalf("result type = %T", resp.Result)
	}
	if status.Active != -1 || status.Patterns != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestCommandHandler_PatternMethodsOnNode(t *testing.T) {
	h := NewCommandHandler(nil, nil)
	h.SetNodeState(fakeNode{})

	for _, method := range []string{MethodPatternActivate, MethodPatternStop, MethodPatternList, MethodPatternStatus} {
		resp := call(t, h, method, `{"index": 0}`)
		if resp.Error == nil {
			t.Errorf("%s: expected error on node", method)
			continue
		}
		if resp.Error.Code != ErrCodeInvalidRequest {
			t.Errorf("%s: error code = %d, want %d", method, resp.Error.Code, ErrCodeInvalidRequest)
		}
	}
}

func TestCommandHandler_MeshStatus(t *testing.T) {
	info := MeshInfo{Name: "lamp-02", Role: "node", Slot: 2, Address: "02:00:00:00:00:02"}

	node := NewCommandHandler(nil, nil)
	node.SetMeshInfo(info)
	node.SetNodeState(fakeNode{})
	result := call(t, node, MethodMeshStatus, "").Result.(map[string]interface{})
	if result["mesh"].(MeshInfo).Slot != 2 {
		t.Errorf("mesh = %v", result["mesh"])
	}
	if _, ok := result["device"]; !ok {
		t.Error("node status should include device state")
	}
	if _, ok := result["acks"]; ok {
		t.Error("node status should not include acks")
	}

	ctrl := NewCommandHandler(nil, nil)
	ctrl.SetPatterns(newFakePatterns(t))
	result = call(t, ctrl, MethodMeshStatus, "").Result.(map[string]interface{})
	if acks := result["acks"].([]engine.AckRecord); len(acks) != 1 || acks[0].Slot != 2 {
		t.Errorf("acks = %v", result["acks"])
	}
}

func TestCommandHandler_Credentials(t *testing.T) {
	store := credentials.NewMemoryStore()
	h := NewCommandHandler(store, nil)

	result := call(t, h, MethodCredentialsGet, "").Result.(map[string]interface{})
	if result["configured"] != false {
		t.Errorf("configured = %v, want false", result["configured"])
	}

	resp := call(t, h, MethodCredentialsSet, `{"ssid": "venue", "password": "hunter2"}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	stored, ok := store.Load()
	if !ok || stored.SSID != "venue" || stored.Password != "hunter2" {
		t.Errorf("stored = %+v, %v", stored, ok)
	}

	result = call(t, h, MethodCredentialsGet, "").Result.(map[string]interface{})
	if result["ssid"] != "venue" {
		t.Errorf("ssid = %v", result["ssid"])
	}
	if result["password"] == "hunter2" {
		t.Error("password must be redacted")
	}

	invalid := map[string]string{
		"empty ssid":     `{"password": "hunter2"}`,
		"short ssid":     `{"ssid": "abc", "password": "hunter2"}`,
		"long ssid":      `{"ssid": "` + strings.Repeat("s", 33) + `", "password": "hunter2"}`,
		"short password": `{"ssid": "venue", "password": "pw"}`,
		"long password":  `{"ssid": "venue", "password": "` + strings.Repeat("p", 33) + `"}`,
	}
	for name, params := range invalid {
		if resp := call(t, h, MethodCredentialsSet, params); resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
			t.Errorf("%s: got %+v", name, resp.Error)
		}
	}
	if stored, _ := store.Load(); stored.SSID != "venue" {
		t.Errorf("rejected update replaced stored credentials: %+v", stored)
	}

	if resp := call(t, h, MethodCredentialsReset, ""); resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if _, ok := store.Load(); ok {
		t.Error("credentials should be cleared")
	}
}

func TestCommandHandler_HandleConfigReload(t *testing.T) {
	tests := []struct {
		name     string
		reloader ConfigReloader
		wantErr  bool
	}{
		{name: "no reloader", reloader: nil, wantErr: true},
		{name: "reload succeeds", reloader: &mockConfigReloader{}, wantErr: false},
		{
			name:     "reload fails",
			reloader: &mockConfigReloader{reloadFunc: func() error { return errors.New("bad yaml") }},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCommandHandler(nil, tt.reloader)
			resp := call(t, h, MethodConfigReload, "")
			if (resp.Error != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestCommandHandler_DaemonShutdown(t *testing.T) {
	h := NewCommandHandler(nil, nil)
	if resp := call(t, h, MethodDaemonShutdown, ""); resp.Error == nil {
		t.Error("expected error without shutdown func")
	}

	done := make(chan struct{})
	h.SetShutdownFunc(func() { close(done) })
	if resp := call(t, h, MethodDaemonShutdown, ""); resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown func not called")
	}
}

func TestCommandHandler_DaemonStatus(t *testing.T) {
	h := NewCommandHandler(nil, nil)
	h.SetMeshInfo(MeshInfo{Name: "hub", Role: "controller", Slot: 0})
	h.SetLogLevelFunc(func() string { return "DEBUG" })

	result := call(t, h, MethodDaemonStatus, "").Result.(map[string]interface{})
	if result["role"] != "controller" || result["name"] != "hub" {
		t.Errorf("status = %v", result)
	}
	if result["log_level"] != "DEBUG" {
		t.Errorf("log_level = %v", result["log_level"])
	}
	if result["version"] != Version {
		t.Errorf("version = %v", result["version"])
	}
}

func TestCommandHandler_HandleUnknownMethod(t *testing.T) {
	h := NewCommandHandler(nil, nil)
	resp := call(t, h, "unknown_method", "")
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeMethodNotFound)
	}
}
