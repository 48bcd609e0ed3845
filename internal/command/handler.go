// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/lightmesh/internal/catalog"
	"firestige.xyz/lightmesh/internal/credentials"
	"firestige.xyz/lightmesh/internal/device"
	"firestige.xyz/lightmesh/internal/engine"
	"firestige.xyz/lightmesh/internal/metrics"
)

// Version is reported by daemon_status.
var Version = "0.1.0"

// Patterns is the controller's pattern engine as the control plane sees it.
type Patterns interface {
	RequestActivation(index int, running bool) error
	Stop() error
	Status() engine.Status
	Catalog() *catalog.Catalog
	Acks() []engine.AckRecord
}

// NodeState exposes the node state machine.
type NodeState interface {
	Status() device.Status
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// MeshInfo describes the device's place in the mesh.
type MeshInfo struct {
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Slot      int      `json:"slot"`
	Address   string   `json:"address"`
	Broadcast string   `json:"broadcast"`
	Nodes     []string `json:"nodes"`
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	creds          credentials.Store
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      int64  // Unix timestamp of daemon start for uptime calc

	mesh     MeshInfo
	patterns Patterns  // controller only
	node     NodeState // node only
	logLevel func() string
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(creds credentials.Store, reloader ConfigReloader) *CommandHandler {
	if creds == nil {
		creds = credentials.NewMemoryStore()
	}
	return &CommandHandler{
		creds:          creds,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetMeshInfo records the device identity reported by status methods.
func (h *CommandHandler) SetMeshInfo(info MeshInfo) {
	h.mesh = info
}

// SetPatterns enables the pattern methods. Only the controller calls it.
func (h *CommandHandler) SetPatterns(p Patterns) {
	h.patterns = p
}

// SetNodeState exposes the node state machine through mesh_status.
func (h *CommandHandler) SetNodeState(n NodeState) {
	h.node = n
}

// SetLogLevelFunc reports the live log level through daemon_status.
func (h *CommandHandler) SetLogLevelFunc(fn func() string) {
	h.logLevel = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "pattern_activate"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// Method names.
const (
	MethodPatternActivate  = "pattern_activate"
	MethodPatternStop      = "pattern_stop"
	MethodPatternList      = "pattern_list"
	MethodPatternStatus    = "pattern_status"
	MethodMeshStatus       = "mesh_status"
	MethodCredentialsGet   = "credentials_get"
	MethodCredentialsSet   = "credentials_set"
	MethodCredentialsReset = "credentials_reset"
	MethodConfigReload     = "config_reload"
	MethodDaemonStatus     = "daemon_status"
	MethodDaemonShutdown   = "daemon_shutdown"
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	var resp Response
	switch cmd.Method {
	case MethodPatternActivate:
		resp = h.handlePatternActivate(ctx, cmd)
	case MethodPatternStop:
		resp = h.handlePatternStop(ctx, cmd)
	case MethodPatternList:
		resp = h.handlePatternList(ctx, cmd)
	case MethodPatternStatus:
		resp = h.handlePatternStatus(ctx, cmd)
	case MethodMeshStatus:
		resp = h.handleMeshStatus(ctx, cmd)
	case MethodCredentialsGet:
		resp = h.handleCredentialsGet(ctx, cmd)
	case MethodCredentialsSet:
		resp = h.handleCredentialsSet(ctx, cmd)
	case MethodCredentialsReset:
		resp = h.handleCredentialsReset(ctx, cmd)
	case MethodConfigReload:
		resp = h.handleConfigReload(ctx, cmd)
	case MethodDaemonShutdown:
		resp = h.handleDaemonShutdown(ctx, cmd)
	case MethodDaemonStatus:
		resp = h.handleDaemonStatus(ctx, cmd)
	default:
		resp = errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}

	outcome := "ok"
	if resp.Error != nil {
		outcome = "error"
	}
	metrics.ControlRequestsTotal.WithLabelValues(cmd.Method, outcome).Inc()
	return resp
}

func errorResponse(id string, code int, msg string) Response {
	return Response{
		ID:    id,
		Error: &ErrorInfo{Code: code, Message: msg},
	}
}

// decodeParams decodes JSON params into out. Values are weakly typed so
// Kafka producers may send numbers and booleans as strings.
func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

func (h *CommandHandler) requirePatterns(cmd Command) (Patterns, *Response) {
	if h.patterns == nil {
		resp := errorResponse(cmd.ID, ErrCodeInvalidRequest,
			fmt.Sprintf("%s is only available on the controller", cmd.Method))
		return nil, &resp
	}
	return h.patterns, nil
}

// PatternActivateParams represents parameters for pattern_activate.
//
// Index is the 0-based catalog position. Provisioning apps send the
// 1-based Pattern number and State instead; give one form or the other.
type PatternActivateParams struct {
	Index   *int  `json:"index,omitempty"`   // default 0
	Running *bool `json:"running,omitempty"` // default true
	Pattern *int  `json:"pattern,omitempty"`
	State   *bool `json:"state,omitempty"`
}

// resolve returns the 0-based index and the running flag.
func (p PatternActivateParams) resolve() (int, bool, error) {
	if p.Index != nil && p.Pattern != nil {
		return 0, false, errors.New("index and pattern are mutually exclusive")
	}
	if p.Running != nil && p.State != nil {
		return 0, false, errors.New("running and state are mutually exclusive")
	}
	index := 0
	switch {
	case p.Index != nil:
		index = *p.Index
	case p.Pattern != nil:
		index = *p.Pattern - 1
	}
	running := true
	switch {
	case p.Running != nil:
		running = *p.Running
	case p.State != nil:
		running = *p.State
	}
	return index, running, nil
}

func (h *CommandHandler) handlePatternActivate(_ context.Context, cmd Command) Response {
	p, errResp := h.requirePatterns(cmd)
	if errResp != nil {
		return *errResp
	}

	var params PatternActivateParams
	if err := decodeParams(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	index, running, err := params.resolve()
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	if err := p.RequestActivation(index, running); err != nil {
		code := ErrCodeInternalError
		if errors.Is(err, engine.ErrPatternOutOfRange) || errors.Is(err, engine.ErrNoCatalog) {
			code = ErrCodeInvalidParams
		}
		return errorResponse(cmd.ID, code, fmt.Sprintf("activate pattern failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"index":   index,
			"running": running,
			"status":  "queued",
		},
	}
}

func (h *CommandHandler) handlePatternStop(_ context.Context, cmd Command) Response {
	p, errResp := h.requirePatterns(cmd)
	if errResp != nil {
		return *errResp
	}
	if err := p.Stop(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("stop pattern failed: %v", err))
	}
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "stopping"},
	}
}

// PatternSummary describes one catalog entry.
type PatternSummary struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Duration int    `json:"duration"`
	Phases   int    `json:"phases"`
	Nodes    int    `json:"nodes"`
}

func (h *CommandHandler) handlePatternList(_ context.Context, cmd Command) Response {
	p, errResp := h.requirePatterns(cmd)
	if errResp != nil {
		return *errResp
	}

	cat := p.Catalog()
	patterns := make([]PatternSummary, 0, cat.Len())
	for i := 0; i < cat.Len(); i++ {
		pat, _ := cat.Get(i)
		patterns = append(patterns, PatternSummary{
			Index:    i,
			Name:     pat.Name,
			Duration: pat.Duration,
			Phases:   len(pat.Phases),
			Nodes:    pat.NodeCount(),
		})
	}
	rejected := make([]map[string]string, 0)
	if cat != nil {
		for _, r := range cat.Rejected {
			rejected = append(rejected, map[string]string{"name": r.Name, "error": r.Err.Error()})
		}
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"patterns": patterns,
			"rejected": rejected,
			"count":    len(patterns),
		},
	}
}

func (h *CommandHandler) handlePatternStatus(_ context.Context, cmd Command) Response {
	p, errResp := h.requirePatterns(cmd)
	if errResp != nil {
		return *errResp
	}
	return Response{ID: cmd.ID, Result: p.Status()}
}

func (h *CommandHandler) handleMeshStatus(_ context.Context, cmd Command) Response {
	result := map[string]interface{}{
		"mesh": h.mesh,
	}
	if h.patterns != nil {
		result["acks"] = h.patterns.Acks()
	}
	if h.node != nil {
		result["device"] = h.node.Status()
	}
	return Response{ID: cmd.ID, Result: result}
}

func (h *CommandHandler) handleCredentialsGet(_ context.Context, cmd Command) Response {
	c, ok := h.creds.Load()
	c = c.Redacted()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"configured": ok,
			"ssid":       c.SSID,
			"password":   c.Password,
		},
	}
}

// CredentialsSetParams represents parameters for credentials_set.
type CredentialsSetParams struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

func (h *CommandHandler) handleCredentialsSet(_ context.Context, cmd Command) Response {
	var params CredentialsSetParams
	if err := decodeParams(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	err := h.creds.Save(credentials.Credentials{SSID: params.SSID, Password: params.Password})
	if errors.Is(err, credentials.ErrInvalidLength) {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("save credentials failed: %v", err))
	}
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "saved", "ssid": params.SSID},
	}
}

func (h *CommandHandler) handleCredentialsReset(_ context.Context, cmd Command) Response {
	if err := h.creds.Reset(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reset credentials failed: %v", err))
	}
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "reset"},
	}
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "reloaded"},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "shutting_down"},
	}
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	result := map[string]interface{}{
		"version":    Version,
		"uptime_sec": time.Now().Unix() - h.startTime,
		"name":       h.mesh.Name,
		"role":       h.mesh.Role,
		"slot":       h.mesh.Slot,
	}
	if h.logLevel != nil {
		result["log_level"] = h.logLevel()
	}
	return Response{ID: cmd.ID, Result: result}
}
