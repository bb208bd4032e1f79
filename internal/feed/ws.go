package feed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
)

// ReconnectPolicy mirrors the teacher's pkg/market/binance StreamClient
// reconnect config: exponential backoff with a max delay.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultReconnectPolicy matches the teacher's DefaultReconnectConfig.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0}
}

func (p ReconnectPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// wireTick is the JSON shape a paper/demo venue websocket is expected to
// emit. Real venue wire formats are out of scope (spec.md §1); this is the
// minimal shape the control-plane's own paper venue and tests use.
type wireTick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Ts     int64   `json:"ts"`
}

// WSAdapter streams ticks from a venue websocket endpoint, reconnecting
// with exponential backoff on disconnect (grounded on the teacher's
// pkg/market/binance StreamClient).
type WSAdapter struct {
	id       string
	Venue    string
	Symbol   string
	URL      string
	Policy   ReconnectPolicy
	dialer   *websocket.Dialer

	hooks  LifecycleHooks
	out    chan domain.Tick
	cancel context.CancelFunc
}

// NewWSAdapter creates a websocket feed adapter for (venue, symbol) against
// url.
func NewWSAdapter(venue, symbol, url string) *WSAdapter {
	return &WSAdapter{
		id:     venue + ":" + symbol,
		Venue:  venue,
		Symbol: symbol,
		URL:    url,
		Policy: DefaultReconnectPolicy(),
		dialer: websocket.DefaultDialer,
		out:    make(chan domain.Tick, 256),
	}
}

func (w *WSAdapter) ID() string                        { return w.id }
func (w *WSAdapter) Feed() <-chan domain.Tick           { return w.out }
func (w *WSAdapter) SetLifecycleHooks(h LifecycleHooks) { w.hooks = h }

func (w *WSAdapter) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.loop(runCtx)
	return nil
}

func (w *WSAdapter) Disconnect() error {
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}

func (w *WSAdapter) loop(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.hooks.OnStatusChange != nil {
			w.hooks.OnStatusChange(Connecting)
		}

		conn, _, err := w.dialer.DialContext(ctx, w.URL, nil)
		if err != nil {
			log.Printf("feed: %s dial error: %v", w.id, err)
			if !w.sleep(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		if attempt > 0 && w.hooks.OnReconnect != nil {
			w.hooks.OnReconnect()
		}
		attempt = 0
		if w.hooks.OnStatusChange != nil {
			w.hooks.OnStatusChange(Connected)
		}

		w.readUntilClosed(ctx, conn)

		if w.hooks.OnStatusChange != nil {
			w.hooks.OnStatusChange(Disconnected)
		}
		conn.Close()

		if !w.sleep(ctx, attempt) {
			return
		}
		attempt++
	}
}

func (w *WSAdapter) readUntilClosed(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var wt wireTick
		if err := json.Unmarshal(msg, &wt); err != nil {
			continue
		}
		t := toTick(w.Venue, w.Symbol, wt)
		if w.hooks.OnTick != nil {
			w.hooks.OnTick(t)
		}
		select {
		case w.out <- t:
		default:
		}
	}
}

func (w *WSAdapter) sleep(ctx context.Context, attempt int) bool {
	d := w.Policy.delay(attempt)
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func toTick(venue, symbol string, wt wireTick) domain.Tick {
	t := domain.Tick{T: wt.Ts, Symbol: symbol, Venue: venue}
	if wt.Bid > 0 {
		b := decimal.NewFromFloat(wt.Bid)
		t.Bid = &b
	}
	if wt.Ask > 0 {
		a := decimal.NewFromFloat(wt.Ask)
		t.Ask = &a
	}
	if wt.Last > 0 {
		l := decimal.NewFromFloat(wt.Last)
		t.Last = &l
	}
	if t.T == 0 {
		t.T = time.Now().UnixMilli()
	}
	return t
}
