package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"

	"tabhop/internal/control"
	"tabhop/internal/hop/scheduler"
	"tabhop/internal/storage"
)

// Client calls a running daemon.
type Client struct {
	c *jrpc2.Client
}

type authDoer struct {
	token string
	hc    *http.Client
}

func (d authDoer) Do(req *http.Request) (*http.Response, error) {
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	return d.hc.Do(req)
}

// Dial returns an HTTP client for the daemon at base (for example http://127.0.0.1:7345).
func Dial(base, token string) *Client {
	url := strings.TrimRight(base, "/") + PathHTTP
	ch := jhttp.NewChannel(url, &jhttp.ChannelOptions{
		Client: authDoer{token: token, hc: &http.Client{Timeout: 10 * time.Second}},
	})
	return &Client{c: jrpc2.NewClient(ch, nil)}
}

// DialWS opens a WebSocket session. onState receives pushed state notifications.
func DialWS(ctx context.Context, base, token string, onState func(scheduler.State)) (*Client, error) {
	url := "ws" + strings.TrimPrefix(strings.TrimRight(base, "/"), "http") + PathWS
	var hdr http.Header
	if token != "" {
		hdr = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := cws.Dial(ctx, url, &cws.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ch := &wsChannel{conn: conn, ctx: context.Background()}
	opts := &jrpc2.ClientOptions{
		OnNotify: func(req *jrpc2.Request) {
			if onState == nil || req.Method() != NotifyState {
				return
			}
			var st scheduler.State
			if err := req.UnmarshalParams(&st); err == nil {
				onState(st)
			}
		},
	}
	return &Client{c: jrpc2.NewClient(ch, opts)}, nil
}

func (c *Client) Close() error { return c.c.Close() }

func (c *Client) action(ctx context.Context, method string, params any) (control.ActionResult, error) {
	var out control.ActionResult
	err := c.c.CallResult(ctx, method, params, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, req control.StartRequest) (control.ActionResult, error) {
	return c.action(ctx, control.MethodStart, req)
}

func (c *Client) Stop(ctx context.Context) (control.ActionResult, error) {
	return c.action(ctx, control.MethodStop, nil)
}

func (c *Client) Pause(ctx context.Context) (control.ActionResult, error) {
	return c.action(ctx, control.MethodPause, nil)
}

func (c *Client) Resume(ctx context.Context) (control.ActionResult, error) {
	return c.action(ctx, control.MethodResume, nil)
}

func (c *Client) Next(ctx context.Context) (control.ActionResult, error) {
	return c.action(ctx, control.MethodNext, nil)
}

func (c *Client) Back(ctx context.Context) (control.ActionResult, error) {
	return c.action(ctx, control.MethodBack, nil)
}

func (c *Client) Forward(ctx context.Context) (control.ActionResult, error) {
	return c.action(ctx, control.MethodForward, nil)
}

// Call runs one of the action methods by name.
func (c *Client) Call(ctx context.Context, method string) (control.ActionResult, error) {
	return c.action(ctx, method, nil)
}

func (c *Client) State(ctx context.Context) (control.StateResult, error) {
	var out control.StateResult
	err := c.c.CallResult(ctx, control.MethodState, nil, &out)
	return out, err
}

func (c *Client) Presets(ctx context.Context) ([]control.Preset, error) {
	var out []control.Preset
	err := c.c.CallResult(ctx, control.MethodPresets, nil, &out)
	return out, err
}

func (c *Client) Runs(ctx context.Context, limit int) ([]storage.RunEvent, error) {
	var out []storage.RunEvent
	err := c.c.CallResult(ctx, control.MethodRuns, control.RunsRequest{Limit: limit}, &out)
	return out, err
}

// ErrorCode extracts the JSON-RPC error code, 0 when err is not an RPC error.
func ErrorCode(err error) int {
	var e *jrpc2.Error
	if errors.As(err, &e) {
		return int(e.Code)
	}
	return 0
}

// Pretty renders v as indented JSON for the CLI.
func Pretty(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
