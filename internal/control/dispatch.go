package control

import (
	"context"
	"encoding/json"
	"fmt"
)

// Method names shared by the JSON-RPC server and the native-messaging bridge.
const (
	MethodStart   = "hop.start"
	MethodStop    = "hop.stop"
	MethodPause   = "hop.pause"
	MethodResume  = "hop.resume"
	MethodNext    = "hop.next"
	MethodBack    = "hop.back"
	MethodForward = "hop.forward"
	MethodState   = "hop.state"
	MethodPresets = "hop.presets"
	MethodRuns    = "hop.runs"
)

// Dispatch runs method with JSON params. It serves transports that do not bind
// typed handlers themselves.
func (c *Controller) Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodStart:
		var req StartRequest
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return c.Start(ctx, req)
	case MethodStop:
		return c.Stop(ctx), nil
	case MethodPause:
		return c.Pause(ctx), nil
	case MethodResume:
		return c.Resume(ctx), nil
	case MethodNext:
		return c.Next(ctx), nil
	case MethodBack:
		return c.Back(ctx), nil
	case MethodForward:
		return c.Forward(ctx), nil
	case MethodState:
		return c.State(ctx), nil
	case MethodPresets:
		return c.Presets(), nil
	case MethodRuns:
		var req RunsRequest
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return c.Runs(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := decodeStrict(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	return nil
}
