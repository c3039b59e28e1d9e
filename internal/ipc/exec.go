package ipc

import (
	"context"
	"encoding/json"
	"fmt"
)

// ExecuteCommandMethod carries every command invocation.
const ExecuteCommandMethod = "workspace/executeCommand"

type executeCommandParams struct {
	Command   string `json:"command"`
	Arguments []any  `json:"arguments"`
}

// Exec waits for readiness, then runs command on the backend with args and
// returns the raw result.
func Exec(ctx context.Context, c Caller, command string, args ...any) (json.RawMessage, error) {
	if err := c.WaitReady(ctx); err != nil {
		return nil, err
	}
	if args == nil {
		args = []any{}
	}
	var result json.RawMessage
	params := executeCommandParams{Command: command, Arguments: args}
	if err := c.Call(ctx, ExecuteCommandMethod, params, &result); err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	return result, nil
}

// LoadUserScript asks the backend to load the user's script. An error reply
// from the backend is returned as an error.
func LoadUserScript(ctx context.Context, c Caller, path string) error {
	if path == "" {
		return nil
	}
	raw, err := Exec(ctx, c, "load_user_script", path)
	if err != nil {
		return err
	}
	var reply struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &reply) != nil {
		return nil
	}
	if reply.Type == "error" {
		if reply.Message == "" {
			reply.Message = "error loading user script"
		}
		return fmt.Errorf("load user script %s: %s", path, reply.Message)
	}
	return nil
}
