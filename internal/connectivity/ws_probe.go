package connectivity

import (
	"context"
	"errors"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

var ErrNoProbeURL = errors.New("probe url required")

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// WebsocketProbe derives reachability from a websocket connection to the
// backend gateway: a held connection with answered pings means online, a
// failed dial or ping means offline. Redials on an interval after failure.
type WebsocketProbe struct {
	url      string
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWebsocketProbe(url string, interval time.Duration) (*WebsocketProbe, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrNoProbeURL
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &WebsocketProbe{
		url:      url,
		interval: interval,
		timeout:  defaultProbeTimeout,
	}, nil
}

func (p *WebsocketProbe) Start(report func(online bool)) error {
	if p == nil || report == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, report)
	return nil
}

func (p *WebsocketProbe) Stop() {
	if p == nil || p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

func (p *WebsocketProbe) run(ctx context.Context, report func(online bool)) {
	defer close(p.done)
	for {
		p.holdConnection(ctx, report)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}
	}
}

// holdConnection dials once and keeps the connection alive with pings until
// it breaks or the probe stops.
func (p *WebsocketProbe) holdConnection(ctx context.Context, report func(online bool)) {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	conn, _, err := websocket.Dial(dialCtx, p.url, nil)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			report(false)
		}
		return
	}
	// CloseRead keeps a reader running so control frames (pongs) are
	// processed between our pings.
	readCtx := conn.CloseRead(ctx)
	report(true)
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-readCtx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "connection lost")
			if ctx.Err() == nil {
				report(false)
			}
			return
		case <-time.After(p.interval):
		}
		pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = conn.Close(websocket.StatusGoingAway, "ping failed")
			if ctx.Err() == nil {
				report(false)
			}
			return
		}
	}
}
