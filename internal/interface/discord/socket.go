package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY SOCKET
// Maintains the websocket connection to the Discord Gateway: identify,
// heartbeat, resume. Dispatch payloads are handed to the sink; everything
// else is protocol plumbing.
// ══════════════════════════════════════════════════════════════════════════════

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Gateway intents the bot subscribes to. Voice states drive presence
// tracking, message content drives the trigger detector.
const (
	intentGuilds         = 1 << 0
	intentGuildVoice     = 1 << 7
	intentGuildMessages  = 1 << 9
	intentMessageContent = 1 << 15

	defaultIntents = intentGuilds | intentGuildVoice | intentGuildMessages | intentMessageContent
)

// DefaultGatewayURL is the Discord Gateway endpoint.
const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// DispatchEvent is one op-0 gateway payload.
type DispatchEvent struct {
	Type string
	Data json.RawMessage
}

// EventSink consumes dispatch events. Called from the socket's read loop;
// implementations must not block for long.
type EventSink func(ctx context.Context, event DispatchEvent)

// SocketConfig configures the gateway socket.
type SocketConfig struct {
	Token string

	// URL overrides the gateway endpoint, for tests.
	URL string

	// Intents overrides the default intent set.
	Intents int

	// ReconnectBaseDelay is the initial backoff between connection attempts
	// (default 1s, doubling up to ReconnectMaxDelay).
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	Logger *slog.Logger
}

// GatewaySocket is the long-lived gateway connection.
type GatewaySocket struct {
	config SocketConfig
	sink   EventSink
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	seq       int64
	sessionID string
	resumeURL string
	acked     bool
	connected bool
	everReady bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// OnReconnect is called after a fresh identify (not a resume), when
	// accumulated gateway state must be rebuilt from scratch.
	OnReconnect func()
}

type gatewayPayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

// NewGatewaySocket creates the socket. Run starts it.
func NewGatewaySocket(config SocketConfig, sink EventSink) (*GatewaySocket, error) {
	if config.Token == "" {
		return nil, errors.New("gateway token is required")
	}
	if sink == nil {
		return nil, errors.New("event sink is required")
	}
	if config.URL == "" {
		config.URL = DefaultGatewayURL
	}
	if config.Intents == 0 {
		config.Intents = defaultIntents
	}
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = time.Second
	}
	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &GatewaySocket{
		config: config,
		sink:   sink,
		logger: config.Logger.With("component", "gateway_socket"),
		done:   make(chan struct{}),
	}, nil
}

// Run connects and keeps the connection alive until the context is cancelled,
// reconnecting with exponential backoff. Blocks.
func (g *GatewaySocket) Run(ctx context.Context) error {
	g.mu.Lock()
	g.ctx, g.cancel = context.WithCancel(ctx)
	ctx = g.ctx
	g.mu.Unlock()
	defer close(g.done)

	delay := g.config.ReconnectBaseDelay
	for {
		err := g.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		g.logger.Warn("gateway connection lost, reconnecting",
			"error", err,
			"delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + time.Duration(rand.Int63n(int64(delay/2)+1))):
		}
		if delay *= 2; delay > g.config.ReconnectMaxDelay {
			delay = g.config.ReconnectMaxDelay
		}
	}
}

// Close tears down the connection and stops reconnecting.
func (g *GatewaySocket) Close() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
		<-g.done
	}
}

// IsConnected reports whether the socket currently holds a live connection.
func (g *GatewaySocket) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// runOnce performs one connect-read-until-failure cycle.
func (g *GatewaySocket) runOnce(ctx context.Context) error {
	url := g.config.URL
	g.mu.Lock()
	canResume := g.sessionID != "" && g.resumeURL != ""
	if canResume {
		url = g.resumeURL
	}
	g.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(-1)

	g.mu.Lock()
	g.conn = conn
	g.connected = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.connected = false
		g.conn = nil
		g.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}()

	// HELLO must arrive first.
	payload, err := g.readPayload(ctx, conn)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if payload.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", payload.Op)
	}
	var hello struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(payload.Data, &hello); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	if canResume {
		err = g.sendResume(ctx, conn)
	} else {
		err = g.sendIdentify(ctx, conn)
	}
	if err != nil {
		return err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	hbFailed := make(chan struct{})
	go g.heartbeatLoop(hbCtx, conn, time.Duration(hello.HeartbeatInterval)*time.Millisecond, hbFailed)

	for {
		select {
		case <-hbFailed:
			return errors.New("heartbeat not acknowledged")
		default:
		}

		payload, err := g.readPayload(ctx, conn)
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		if err := g.handlePayload(ctx, conn, payload); err != nil {
			return err
		}
	}
}

func (g *GatewaySocket) handlePayload(ctx context.Context, conn *websocket.Conn, payload gatewayPayload) error {
	switch payload.Op {
	case opDispatch:
		if payload.Seq != nil {
			g.mu.Lock()
			g.seq = *payload.Seq
			g.mu.Unlock()
		}
		g.handleDispatch(ctx, payload)
		return nil

	case opHeartbeat:
		// Gateway requested an immediate beat.
		return g.sendHeartbeat(ctx, conn)

	case opHeartbeatACK:
		g.mu.Lock()
		g.acked = true
		g.mu.Unlock()
		return nil

	case opReconnect:
		return errors.New("gateway requested reconnect")

	case opInvalidSession:
		var resumable bool
		_ = json.Unmarshal(payload.Data, &resumable)
		if !resumable {
			g.mu.Lock()
			g.sessionID = ""
			g.resumeURL = ""
			g.mu.Unlock()
		}
		return fmt.Errorf("session invalidated (resumable=%v)", resumable)

	default:
		g.logger.Debug("ignoring gateway payload", "op", payload.Op)
		return nil
	}
}

func (g *GatewaySocket) handleDispatch(ctx context.Context, payload gatewayPayload) {
	if payload.Type == "READY" {
		var ready struct {
			SessionID        string `json:"session_id"`
			ResumeGatewayURL string `json:"resume_gateway_url"`
		}
		if err := json.Unmarshal(payload.Data, &ready); err == nil {
			g.mu.Lock()
			g.sessionID = ready.SessionID
			g.resumeURL = ready.ResumeGatewayURL
			g.mu.Unlock()
		}
		g.logger.Info("gateway session ready", "session_id", ready.SessionID)

		g.mu.Lock()
		fresh := g.everReady
		g.everReady = true
		g.mu.Unlock()
		if fresh && g.OnReconnect != nil {
			// A READY on anything but the first connection means the resume
			// failed: downstream voice state is stale and must be rebuilt
			// from the GUILD_CREATE replay.
			g.OnReconnect()
		}
	}

	g.sink(ctx, DispatchEvent{Type: payload.Type, Data: payload.Data})
}

func (g *GatewaySocket) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, failed chan<- struct{}) {
	// First beat at a random fraction of the interval, per gateway docs.
	first := time.Duration(rand.Int63n(int64(interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(first):
	}

	g.mu.Lock()
	g.acked = true
	g.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		g.mu.Lock()
		acked := g.acked
		g.acked = false
		g.mu.Unlock()

		if !acked {
			g.logger.Warn("heartbeat ack missing, dropping connection")
			close(failed)
			_ = conn.Close(websocket.StatusCode(4000), "heartbeat timeout")
			return
		}
		if err := g.sendHeartbeat(ctx, conn); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *GatewaySocket) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	g.mu.Lock()
	seq := g.seq
	g.mu.Unlock()
	return g.writePayload(ctx, conn, gatewayPayload{Op: opHeartbeat, Data: mustMarshal(seq)})
}

func (g *GatewaySocket) sendIdentify(ctx context.Context, conn *websocket.Conn) error {
	identify := map[string]interface{}{
		"token":   g.config.Token,
		"intents": g.config.Intents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "focushall",
			"device":  "focushall",
		},
	}
	return g.writePayload(ctx, conn, gatewayPayload{Op: opIdentify, Data: mustMarshal(identify)})
}

func (g *GatewaySocket) sendResume(ctx context.Context, conn *websocket.Conn) error {
	g.mu.Lock()
	resume := map[string]interface{}{
		"token":      g.config.Token,
		"session_id": g.sessionID,
		"seq":        g.seq,
	}
	g.mu.Unlock()
	return g.writePayload(ctx, conn, gatewayPayload{Op: opResume, Data: mustMarshal(resume)})
}

func (g *GatewaySocket) readPayload(ctx context.Context, conn *websocket.Conn) (gatewayPayload, error) {
	var payload gatewayPayload
	_, data, err := conn.Read(ctx)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func (g *GatewaySocket) writePayload(ctx context.Context, conn *websocket.Conn, payload gatewayPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
