package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"firestige.xyz/lightmesh/internal/command"
)

// ControlClient is the daemon control channel the commands talk to.
type ControlClient interface {
	Call(ctx context.Context, method string, params interface{}) (*command.Response, error)
}

// newClient is replaced in tests.
var newClient = func() ControlClient {
	return command.NewUDSClient(socketPath, timeout)
}

// call runs method and returns its result, turning a JSON-RPC error into a
// Go error.
func call(ctx context.Context, client ControlClient, method string, params interface{}) (interface{}, error) {
	resp, err := client.Call(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("daemon is not running or socket is inaccessible: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s failed: %s", method, resp.Error.Message)
	}
	return resp.Result, nil
}

// callAndPrint runs method and writes its result as indented JSON.
func callAndPrint(ctx context.Context, client ControlClient, method string, params interface{}, out io.Writer) error {
	result, err := call(ctx, client, method, params)
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
