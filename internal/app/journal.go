package app

import (
	"context"
	"time"

	"tabhop/internal/eventbus"
	"tabhop/internal/hop/scheduler"
	"tabhop/internal/storage"
	logx "tabhop/pkg/logx"
)

const journalWriteTimeout = 2 * time.Second

// journalTopics are persisted; hop.state repeats what they already say.
var journalTopics = []string{
	scheduler.TopicStarted,
	scheduler.TopicStopped,
	scheduler.TopicPaused,
	scheduler.TopicResumed,
	scheduler.TopicSwitched,
	scheduler.TopicSkipped,
	scheduler.TopicNavigated,
}

func isJournalTopic(t string) bool {
	for _, j := range journalTopics {
		if j == t {
			return true
		}
	}
	return false
}

func runEvent(e eventbus.Event) (storage.RunEvent, bool) {
	if !isJournalTopic(e.Type) {
		return storage.RunEvent{}, false
	}
	data, ok := e.Data.(scheduler.EventData)
	if !ok {
		return storage.RunEvent{}, false
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	return storage.RunEvent{
		At:      at.UTC(),
		RunID:   data.RunID,
		Type:    e.Type,
		Label:   data.Label,
		Item:    string(data.Item),
		Reason:  data.Reason,
		Error:   data.Error,
		Hops:    data.State.Hops,
		Skipped: data.State.Skipped,
	}, true
}

// journal subscribes right away and returns the loop that appends scheduler
// events to store. The loop runs until ctx is done, then drains whatever is
// already queued so the final stop event is kept.
func journal(bus eventbus.Bus, store storage.Store, log logx.Logger) func(context.Context) {
	events, unsub := eventbus.SubscribeTopics(bus, 256, journalTopics...)
	return func(ctx context.Context) {
		defer unsub()
		runJournal(ctx, events, store, log)
	}
}

func runJournal(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	wctx := context.WithoutCancel(ctx)
	write := func(e eventbus.Event) {
		ev, ok := runEvent(e)
		if !ok {
			return
		}
		c, cancel := context.WithTimeout(wctx, journalWriteTimeout)
		defer cancel()
		if err := store.AppendRun(c, ev); err != nil {
			log.Warn("journal append failed", logx.String("type", ev.Type), logx.Err(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					write(e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			write(e)
		}
	}
}
