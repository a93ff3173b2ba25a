package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"perpwatch/logger"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 20 * time.Second
)

// StreamConfig describes one websocket connection. Subscribe runs right
// after dial; KeepAlive, when set, replaces the default control-frame ping
// loop for venues that expect an application level ping payload.
type StreamConfig struct {
	URL            string
	ReconnectDelay time.Duration
	Subscribe      func(*websocket.Conn) error
	KeepAlive      func(ctx context.Context, conn *websocket.Conn) context.CancelFunc
	Handler        func([]byte) error
}

// RunStream dials, subscribes and reads until the context is cancelled,
// reconnecting after a fixed delay on any failure.
func RunStream(ctx context.Context, cfg StreamConfig, log *logger.Entry) {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	dialer := websocket.DefaultDialer

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
		if err != nil {
			log.WithError(err).WithField("url", cfg.URL).Warn("failed to connect to websocket")
			if WaitReconnect(ctx, delay) {
				return
			}
			continue
		}

		if cfg.Subscribe != nil {
			if err := cfg.Subscribe(conn); err != nil {
				log.WithError(err).WithField("url", cfg.URL).Warn("failed to subscribe")
				conn.Close()
				if WaitReconnect(ctx, delay) {
					return
				}
				continue
			}
		}

		var pingCancel context.CancelFunc
		if cfg.KeepAlive != nil {
			pingCancel = cfg.KeepAlive(ctx, conn)
		} else {
			pingCancel = PingControlLoop(ctx, conn, defaultKeepAlive, log)
		}

		if err := readMessages(ctx, conn, cfg.Handler); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("url", cfg.URL).Warn("websocket read loop ended")
		}

		if pingCancel != nil {
			pingCancel()
		}
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		if WaitReconnect(ctx, delay) {
			return
		}
	}
}

func readMessages(ctx context.Context, conn *websocket.Conn, handler func([]byte) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if handler != nil {
			_ = handler(msg)
		}
	}
}

// WaitReconnect sleeps for delay and reports whether the context was
// cancelled while waiting.
func WaitReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// PingControlLoop sends websocket control-frame pings on a fixed interval.
func PingControlLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}

// JSONPingLoop periodically writes the given payload, for venues that expect
// an application level ping message instead of a control frame.
func JSONPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, payload []byte, log *logger.Entry) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					log.WithError(err).Warn("failed to send keepalive message")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}
