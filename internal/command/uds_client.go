package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := uuid.NewString()
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestLine)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	respIDStr := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respIDStr != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respIDStr)
	}

	return &Response{
		ID:     respIDStr,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}, nil
}

// PatternActivate queues pattern index on the controller.
func (c *UDSClient) PatternActivate(ctx context.Context, index int, running bool) (*Response, error) {
	return c.Call(ctx, MethodPatternActivate, PatternActivateParams{Index: &index, Running: &running})
}

// PatternStop stops the running pattern.
func (c *UDSClient) PatternStop(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodPatternStop, nil)
}

// PatternList lists the loaded catalog.
func (c *UDSClient) PatternList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodPatternList, nil)
}

// PatternStatus returns the engine status.
func (c *UDSClient) PatternStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodPatternStatus, nil)
}

// MeshStatus returns the device's mesh view.
func (c *UDSClient) MeshStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodMeshStatus, nil)
}

// CredentialsGet returns the stored credentials with the password redacted.
func (c *UDSClient) CredentialsGet(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodCredentialsGet, nil)
}

// CredentialsSet stores new credentials.
func (c *UDSClient) CredentialsSet(ctx context.Context, ssid, password string) (*Response, error) {
	return c.Call(ctx, MethodCredentialsSet, CredentialsSetParams{SSID: ssid, Password: password})
}

// CredentialsReset clears stored credentials.
func (c *UDSClient) CredentialsReset(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodCredentialsReset, nil)
}

// ConfigReload asks the daemon to reload its configuration.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodConfigReload, nil)
}

// DaemonStatus returns daemon status information.
func (c *UDSClient) DaemonStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDaemonStatus, nil)
}

// DaemonShutdown asks the daemon to stop.
func (c *UDSClient) DaemonShutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDaemonShutdown, nil)
}

// Ping checks that the daemon is alive.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.DaemonStatus(ctx)
	return err
}
