// Package rpc exposes the hop controller as JSON-RPC 2.0 over HTTP and WebSocket
// and provides the matching client.
package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"tabhop/internal/control"
	"tabhop/internal/hop"
	"tabhop/internal/storage"
	logx "tabhop/pkg/logx"
)

// Application error codes.
const (
	codeInvalidParams = jrpc2.Code(-32602)
	codeUnavailable   = jrpc2.Code(-32001)
	codeInternal      = jrpc2.Code(-32603)
)

// NotifyState is the push notification sent to WebSocket clients on every transition.
const NotifyState = "hop.state"

const (
	PathHTTP = "/jsonrpc"
	PathWS   = "/jsonrpc/ws"
)

type Config struct {
	Addr      string
	Token     string
	WebSocket bool
}

type Server struct {
	cfg     Config
	ctl     *control.Controller
	log     logx.Logger
	methods handler.Map
	bridge  jhttp.Bridge
	notify  *Notifier
}

func NewServer(cfg Config, ctl *control.Controller, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, ctl: ctl, log: log}
	s.notify = NewNotifier(log)
	s.methods = handler.Map{
		control.MethodStart:   strict(s.start),
		control.MethodStop:    handler.New(s.stop),
		control.MethodPause:   handler.New(s.pause),
		control.MethodResume:  handler.New(s.resume),
		control.MethodNext:    handler.New(s.next),
		control.MethodBack:    handler.New(s.back),
		control.MethodForward: handler.New(s.forward),
		control.MethodState:   handler.New(s.state),
		control.MethodPresets: handler.New(s.presets),
		control.MethodRuns:    strict(s.runs),
	}
	s.bridge = jhttp.NewBridge(s.methods, nil)
	return s
}

// strict wraps fn so unknown parameter fields are rejected instead of ignored.
func strict(fn any) jrpc2.Handler {
	fi, err := handler.Check(fn)
	if err != nil {
		panic(err)
	}
	return fi.SetStrict(true).AllowArray(false).Wrap()
}

func (s *Server) Notifier() *Notifier { return s.notify }

func (s *Server) start(ctx context.Context, req *control.StartRequest) (control.ActionResult, error) {
	r := control.StartRequest{}
	if req != nil {
		r = *req
	}
	if r.Source == "" {
		r.Source = "rpc"
	}
	res, err := s.ctl.Start(ctx, r)
	return res, rpcError(err)
}

func (s *Server) stop(ctx context.Context) (control.ActionResult, error) {
	return s.ctl.Stop(ctx), nil
}

func (s *Server) pause(ctx context.Context) (control.ActionResult, error) {
	return s.ctl.Pause(ctx), nil
}

func (s *Server) resume(ctx context.Context) (control.ActionResult, error) {
	return s.ctl.Resume(ctx), nil
}

func (s *Server) next(ctx context.Context) (control.ActionResult, error) {
	return s.ctl.Next(ctx), nil
}

func (s *Server) back(ctx context.Context) (control.ActionResult, error) {
	return s.ctl.Back(ctx), nil
}

func (s *Server) forward(ctx context.Context) (control.ActionResult, error) {
	return s.ctl.Forward(ctx), nil
}

func (s *Server) state(ctx context.Context) (control.StateResult, error) {
	return s.ctl.State(ctx), nil
}

func (s *Server) presets(_ context.Context) ([]control.Preset, error) {
	return s.ctl.Presets(), nil
}

func (s *Server) runs(ctx context.Context, req *control.RunsRequest) ([]storage.RunEvent, error) {
	r := control.RunsRequest{}
	if req != nil {
		r = *req
	}
	out, err := s.ctl.Runs(ctx, r)
	if out == nil && err == nil {
		out = []storage.RunEvent{}
	}
	return out, rpcError(err)
}

// rpcError maps controller errors to JSON-RPC errors.
func rpcError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hop.ErrInvalidConfig), errors.Is(err, control.ErrUnknownPreset), errors.Is(err, control.ErrBadParams):
		return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, storage.ErrDisabled):
		return &jrpc2.Error{Code: codeUnavailable, Message: err.Error()}
	default:
		return &jrpc2.Error{Code: codeInternal, Message: err.Error()}
	}
}

// Handler returns the HTTP routes. Every route requires the bearer token when one is set.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathHTTP, requireToken(s.cfg.Token, s.bridge))
	if s.cfg.WebSocket {
		mux.Handle(PathWS, requireToken(s.cfg.Token, http.HandlerFunc(s.serveWS)))
	}
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()
	s.log.Info("rpc listening", logx.String("addr", ln.Addr().String()), logx.Bool("websocket", s.cfg.WebSocket))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
		return nil
	}
}

// Close releases the HTTP bridge.
func (s *Server) Close() {
	s.bridge.Close()
}
