package rpc

import (
	"context"
	"errors"
	"net/http"
	"sync"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"

	"tabhop/internal/eventbus"
	"tabhop/internal/hop/scheduler"
	logx "tabhop/pkg/logx"
)

// wsChannel adapts a WebSocket connection to a jrpc2 channel.
type wsChannel struct {
	conn *cws.Conn
	ctx  context.Context
}

func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}

// serveWS runs one jrpc2 server per connection and registers it for pushes.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, nil)
	if err != nil {
		s.log.Debug("websocket accept failed", logx.Err(err))
		return
	}
	ch := &wsChannel{conn: conn, ctx: r.Context()}
	srv := jrpc2.NewServer(s.methods, &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(ch)
	s.notify.Register(srv)
	defer s.notify.Unregister(srv)

	if err := srv.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("websocket session ended", logx.Err(err))
	}
}

// Notifier broadcasts push notifications to every connected WebSocket session.
type Notifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	log     logx.Logger
}

func NewNotifier(log logx.Logger) *Notifier {
	return &Notifier{servers: map[*jrpc2.Server]struct{}{}, log: log}
}

func (n *Notifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	n.servers[srv] = struct{}{}
	n.mu.Unlock()
}

func (n *Notifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	delete(n.servers, srv)
	n.mu.Unlock()
}

func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}

// Broadcast pushes method to all sessions, dropping the ones that fail.
func (n *Notifier) Broadcast(ctx context.Context, method string, params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	for _, srv := range servers {
		if err := srv.Notify(ctx, method, params); err != nil {
			n.log.Debug("rpc push failed", logx.String("method", method), logx.Err(err))
			n.Unregister(srv)
		}
	}
}

// Forwarder subscribes to state transitions now and returns the loop that pushes
// them to WebSocket clients until ctx is done.
func (s *Server) Forwarder(bus eventbus.Bus) func(context.Context) error {
	ch, unsub := eventbus.SubscribeTopics(bus, 64, scheduler.TopicState)
	return func(ctx context.Context) error {
		defer unsub()
		s.forwardState(ctx, ch)
		return nil
	}
}

func (s *Server) forwardState(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, ok := e.Data.(scheduler.EventData)
			if !ok || e.Type != scheduler.TopicState {
				continue
			}
			s.notify.Broadcast(ctx, NotifyState, data.State)
		}
	}
}
