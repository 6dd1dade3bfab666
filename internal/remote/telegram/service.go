// Package telegram is an owner-only Telegram remote for the hop scheduler.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"tabhop/internal/eventbus"
	"tabhop/internal/hop/scheduler"
	logx "tabhop/pkg/logx"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// Sender is the part of *tele.Bot used for outgoing messages.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Config struct {
	Token        string
	OwnerUserIDs []int64
	PollTimeout  time.Duration
	NotifyChatID int64
	// CommandsPerSec limits accepted commands across all owners. 0 means 2.
	CommandsPerSec int
}

const commandTimeout = 5 * time.Second

type Service struct {
	log logx.Logger
	d   Dispatcher

	mu      sync.RWMutex
	cfg     Config
	owners  map[int64]struct{}
	limiter *rate.Limiter

	bot  *tele.Bot
	send Sender

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

// New creates the bot. Network access happens only in Start.
func New(cfg Config, d Dispatcher, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	s := newService(d, log)
	s.bot, s.send = b, b
	s.Apply(cfg)
	return s, nil
}

func newService(d Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, d: d}
}

// Apply updates owners, notification chat and rate. Token and poll timeout need a restart.
func (s *Service) Apply(cfg Config) {
	owners := make(map[int64]struct{}, len(cfg.OwnerUserIDs))
	for _, id := range cfg.OwnerUserIDs {
		owners[id] = struct{}{}
	}
	rps := cfg.CommandsPerSec
	if rps <= 0 {
		rps = 2
	}
	s.mu.Lock()
	s.cfg = cfg
	s.owners = owners
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(rps), rps*2)
	} else {
		s.limiter.SetLimit(rate.Limit(rps))
		s.limiter.SetBurst(rps * 2)
	}
	s.mu.Unlock()
	s.log.Debug("telegram remote applied", logx.Int("owners", len(owners)), logx.Bool("notify", cfg.NotifyChatID != 0))
}

func (s *Service) isOwner(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.owners[id]
	return ok
}

// Reply handles one incoming text from sender. Non-owners and non-commands get "".
func (s *Service) Reply(ctx context.Context, sender int64, text string) string {
	if !s.isOwner(sender) {
		if strings.HasPrefix(strings.TrimSpace(text), "/") {
			s.log.Warn("telegram command from non-owner ignored", logx.Int64("user_id", sender))
		}
		return ""
	}
	if _, _, ok := parseCommand(text); !ok {
		return ""
	}
	s.mu.RLock()
	lim := s.limiter
	s.mu.RUnlock()
	if !lim.Allow() {
		return "slow down"
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return handle(ctx, s.d, text)
}

func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runCancel != nil {
		return nil
	}
	if s.bot == nil {
		return errors.New("telegram bot not configured")
	}
	rctx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		reply := s.Reply(rctx, m.Sender.ID, m.Text)
		if reply == "" {
			return nil
		}
		return c.Send(reply)
	})

	menu := make([]tele.Command, 0, len(commands))
	for _, c := range commands {
		menu = append(menu, tele.Command{Text: c.name, Description: c.desc})
	}
	if err := s.bot.SetCommands(menu); err != nil {
		s.log.Warn("telegram set commands failed", logx.Err(err))
	}

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		go func() {
			<-rctx.Done()
			s.bot.Stop()
		}()
		s.log.Info("telegram polling started")
		s.bot.Start() // blocks until Stop
	}()
	return nil
}

// Stop waits up to 2s for the long poll to return.
func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()
	grace := time.NewTimer(2 * time.Second)
	defer grace.Stop()
	select {
	case <-done:
		s.log.Info("telegram polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-grace.C:
		s.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// Notifier subscribes now and returns the loop that messages the notification
// chat whenever a run stops, until ctx is done.
func (s *Service) Notifier(bus eventbus.Bus) func(context.Context) {
	events, unsub := eventbus.SubscribeTopics(bus, 16, scheduler.TopicStopped)
	return func(ctx context.Context) {
		defer unsub()
		s.notify(ctx, events)
	}
}

func (s *Service) notify(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != scheduler.TopicStopped {
				continue
			}
			s.notifyStopped(e)
		}
	}
}

func (s *Service) notifyStopped(e eventbus.Event) {
	s.mu.RLock()
	chat := s.cfg.NotifyChatID
	s.mu.RUnlock()
	if chat == 0 || s.send == nil {
		return
	}
	data, ok := e.Data.(scheduler.EventData)
	if !ok {
		return
	}
	text := fmt.Sprintf("run %s stopped: %s\nhops: %d skipped: %d", shortID(data.RunID), data.Reason, data.State.Hops, data.State.Skipped)
	if data.Label != "" {
		text = data.Label + " " + text
	}
	if _, err := s.send.Send(&tele.Chat{ID: chat}, text); err != nil {
		s.log.Warn("telegram notify failed", logx.Err(err))
	}
}
