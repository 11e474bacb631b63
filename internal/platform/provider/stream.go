package provider

import (
	"context"
	"encoding/json"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Stream delivers server-pushed session events (remote sign-out, admin
// revocation) over a websocket and feeds them into the same listener set
// as locally generated events. It reconnects with capped backoff until
// closed.
type Stream struct {
	url    string
	token  func() string
	log    zerolog.Logger
	emit   func(Event)
	cancel context.CancelFunc
	done   chan struct{}
}

const (
	streamInitialBackoff = time.Second
	streamMaxBackoff     = 30 * time.Second
	streamReadDeadline   = 90 * time.Second
)

// AttachStream connects the client to a session-event websocket. Events
// whose payload decodes to a session Event are fanned out to session-
// change subscribers; a SIGNED_OUT event also clears the locally held
// session so the next GetSession reflects the revocation.
func (c *HTTPClient) AttachStream(ctx context.Context, wsURL string) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		url:    wsURL,
		token: func() string {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.session == nil {
				return ""
			}
			return c.session.AccessToken
		},
		log:    c.log.With().Str("component", "provider_stream").Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.emit = func(ev Event) {
		if ev.Type == EventSignedOut {
			c.restoreSession(nil)
		} else if ev.Session != nil {
			c.restoreSession(ev.Session)
		}
		c.emit(ev)
	}
	go s.run(ctx)
	return s
}

// Close tears the stream down. Safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	backoff := streamInitialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("stream dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > streamMaxBackoff {
				backoff = streamMaxBackoff
			}
			continue
		}

		backoff = streamInitialBackoff
		s.read(ctx, conn)
		conn.Close()
	}
}

func (s *Stream) dial(ctx context.Context) (*gorillawebsocket.Conn, error) {
	dialer := gorillawebsocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{}
	if t := s.token(); t != "" {
		header["Authorization"] = []string{"Bearer " + t}
	}
	conn, _, err := dialer.DialContext(ctx, s.url, header)
	return conn, err
}

func (s *Stream) read(ctx context.Context, conn *gorillawebsocket.Conn) {
	// The watcher must not outlive this connection: the reconnect loop
	// calls read once per dial, so a watcher parked on the stream-wide
	// context would pile up across reconnects.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-readDone:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("stream read failed, reconnecting")
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.log.Debug().Err(err).Msg("dropping undecodable stream message")
			continue
		}
		if ev.Type == "" {
			continue
		}
		s.emit(ev)
	}
}
