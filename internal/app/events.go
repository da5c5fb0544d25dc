package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hark/internal/history"
)

// subscriberBuffer is how many entries a slow subscriber may lag before
// entries are dropped for it.
const subscriberBuffer = 16

// broadcaster fans history entries out to event stream subscribers. Publish
// never blocks.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan history.Entry]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan history.Entry]struct{})}
}

// subscribe returns a channel of entries and a cancel function. The channel
// is closed by cancel or when the broadcaster closes.
func (b *broadcaster) subscribe() (<-chan history.Entry, func()) {
	ch := make(chan history.Entry, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

func (b *broadcaster) publish(e history.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			slog.Debug("event subscriber lagging, entry dropped", "epoch", e.Epoch)
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// handleEvents streams every finished epoch to a websocket client as JSON.
func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("events: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	entries, cancel := a.events.subscribe()
	defer cancel()

	// The client sends nothing; CloseRead handles its close frame.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, e)
			wcancel()
			if err != nil {
				slog.Debug("events: write failed", "err", err)
				return
			}
		}
	}
}
