// Package geminilive implements the live tutoring channel over the Gemini
// Live BidiGenerateContent websocket protocol.
package geminilive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
	DefaultModel      = "gemini-2.5-flash-native-audio-preview-12-2025"

	livePath = "/ws/google.ai.generativelanguage.%s.GenerativeService.BidiGenerateContent"
)

// Config controls the live websocket endpoint.
type Config struct {
	APIBaseURL string
	APIVersion string
	Logger     *slog.Logger
}

// Provider implements ports.LiveProvider for Gemini Live.
type Provider struct {
	cfg         Config
	credentials ports.CredentialSource
	dialer      *websocket.Dialer
	logger      *slog.Logger
}

func NewProvider(cfg Config, credentials ports.CredentialSource) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:         cfg,
		credentials: credentials,
		dialer:      websocket.DefaultDialer,
		logger:      logger.With("component", "geminilive"),
	}
}

// Open dials the live endpoint and sends the session setup. The returned
// channel reports ChannelEventOpen once the server acknowledges the setup.
func (p *Provider) Open(ctx context.Context, cfg ports.LiveConfig) (ports.LiveChannel, error) {
	key := ""
	if p.credentials != nil {
		key = strings.TrimSpace(p.credentials.APIKey())
	}
	if key == "" {
		return nil, fmt.Errorf("%w: no API key selected", domain.ErrCredentialInvalid)
	}

	wsURL, err := buildLiveURL(p.cfg, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnect, err)
	}

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && isCredentialStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: live endpoint rejected handshake: %s", domain.ErrCredentialInvalid, resp.Status)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnect, redactKey(err.Error(), key))
	}

	if err := conn.WriteJSON(buildSetup(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to send setup: %v", domain.ErrConnect, err)
	}

	ch := newChannel(conn, p.logger)
	ch.start()
	return ch, nil
}

type channel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events   chan domain.ChannelEvent
	outbound chan []byte
	closing  chan struct{}
	readDone chan struct{}
	done     chan struct{}

	wg sync.WaitGroup

	opened    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func newChannel(conn *websocket.Conn, logger *slog.Logger) *channel {
	return &channel{
		conn:     conn,
		logger:   logger,
		events:   make(chan domain.ChannelEvent, 64),
		outbound: make(chan []byte, 32),
		closing:  make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *channel) start() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		close(c.events)
		close(c.done)
		_ = c.conn.Close()
	}()
}

// Send never blocks. Frames offered before the setup is acknowledged, after
// Close, or while the outbound queue is full are dropped.
func (c *channel) Send(frame domain.AudioFrame) bool {
	if !c.opened.Load() || c.closed.Load() || len(frame.Data) == 0 {
		return false
	}
	payload, err := json.Marshal(buildRealtimeInput(frame))
	if err != nil {
		return false
	}
	select {
	case c.outbound <- payload:
		return true
	default:
		return false
	}
}

func (c *channel) Events() <-chan domain.ChannelEvent {
	return c.events
}

func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *channel) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.closing:
			return
		case <-c.readDone:
			return
		case payload := <-c.outbound:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !c.closed.Load() {
					c.logger.Warn("live input write failed", "error", err)
				}
				return
			}
		}
	}
}

func (c *channel) readLoop() {
	defer c.wg.Done()
	defer close(c.readDone)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Debug("ignoring undecodable server message", "error", err)
			continue
		}

		if msg.SetupComplete != nil {
			if c.opened.CompareAndSwap(false, true) {
				c.emit(domain.ChannelEvent{Kind: domain.ChannelEventOpen})
			}
			continue
		}
		if msg.GoAway != nil {
			c.logger.Info("live session going away", "time_left", msg.GoAway.TimeLeft)
		}
		if events := serverEvents(msg); len(events) > 0 {
			c.emit(domain.ChannelEvent{Kind: domain.ChannelEventMessage, Events: events})
		}
	}
}

// finish reports the end of the read side. A remote abnormal close surfaces
// as an error event before the close event; a local Close reports nothing.
func (c *channel) finish(err error) {
	if c.closed.Load() {
		return
	}
	if remoteErr := classifyReadError(err); remoteErr != nil {
		c.emit(domain.ChannelEvent{Kind: domain.ChannelEventError, Err: remoteErr})
	}
	c.emit(domain.ChannelEvent{Kind: domain.ChannelEventClose})
}

func (c *channel) emit(event domain.ChannelEvent) {
	select {
	case c.events <- event:
	case <-c.closing:
	}
}

func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
			return nil
		}
		message := strings.TrimSpace(closeErr.Text)
		if message == "" {
			message = fmt.Sprintf("websocket closed with code %d", closeErr.Code)
		}
		if domain.IsCredentialFailure(message) {
			return fmt.Errorf("%w: %s", domain.ErrCredentialInvalid, message)
		}
		return fmt.Errorf("%w: %s", domain.ErrRemote, message)
	}
	return fmt.Errorf("%w: %v", domain.ErrRemote, err)
}

func isCredentialStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}

func buildLiveURL(cfg Config, key string) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}

	liveURL, err := url.Parse(base + fmt.Sprintf(livePath, version))
	if err != nil {
		return "", fmt.Errorf("invalid live API base URL: %w", err)
	}
	query := liveURL.Query()
	query.Set("key", key)
	liveURL.RawQuery = query.Encode()
	return liveURL.String(), nil
}

func redactKey(message string, key string) string {
	if key == "" {
		return message
	}
	return strings.ReplaceAll(message, key, "REDACTED")
}
