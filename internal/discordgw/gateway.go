package discordgw

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/seonghun126/algoduel-bot/internal/obslog"
)

const defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// MessageHandler receives every MESSAGE_CREATE dispatch.
type MessageHandler func(msg *Message)

// Gateway maintains the Discord gateway connection: identify on hello,
// heartbeat at the server's interval, resume after drops, and dispatch of
// incoming messages. One Gateway serves one bot token.
type Gateway struct {
	url     string
	token   string
	intents int

	handler MessageHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	seq       int64
	sessionID string
	resumeURL string
	botUserID string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	maxReconnectAttempts int
	reconnectDelay       time.Duration
}

type GatewayOption func(*Gateway)

func WithGatewayURL(url string) GatewayOption {
	return func(g *Gateway) { g.url = url }
}

func WithIntents(intents int) GatewayOption {
	return func(g *Gateway) { g.intents = intents }
}

func WithReconnect(attempts int, delay time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.maxReconnectAttempts = attempts
		g.reconnectDelay = delay
	}
}

func NewGateway(botToken string, handler MessageHandler, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		url:                  defaultGatewayURL,
		token:                botToken,
		intents:              defaultIntents,
		handler:              handler,
		stopCh:               make(chan struct{}),
		maxReconnectAttempts: 0, // 0 = retry forever
		reconnectDelay:       2 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BotUserID returns the bot's own user ID, known after the first READY.
func (g *Gateway) BotUserID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.botUserID
}

// Connect dials the gateway and starts the session loop. It returns after the
// first successful dial; reconnects happen in the background.
func (g *Gateway) Connect(ctx context.Context) error {
	conn, err := g.dial(ctx, g.url)
	if err != nil {
		return err
	}
	g.setConn(conn)

	g.wg.Add(1)
	go g.run(conn)
	return nil
}

func (g *Gateway) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 22) // gateway frames can be large on busy guilds
	return conn, nil
}

// run owns one connection from dial to drop, then hands off to reconnect.
func (g *Gateway) run(conn *websocket.Conn) {
	defer g.wg.Done()

	heartbeatStop := make(chan struct{})
	var heartbeatOnce sync.Once
	stopHeartbeat := func() { heartbeatOnce.Do(func() { close(heartbeatStop) }) }
	defer stopHeartbeat()

	ctx := context.Background()
	for {
		if g.isStopping() {
			_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
			return
		}

		var payload gatewayPayload
		if err := wsjson.Read(ctx, conn, &payload); err != nil {
			if g.isStopping() {
				return
			}
			obslog.L().Warn("gateway_read_error", zap.Error(err))
			stopHeartbeat()
			g.scheduleReconnect()
			return
		}

		if payload.S != nil {
			g.mu.Lock()
			g.seq = *payload.S
			g.mu.Unlock()
		}

		switch payload.Op {
		case opHello:
			var hello helloData
			if err := json.Unmarshal(payload.D, &hello); err != nil {
				obslog.L().Warn("gateway_hello_decode_error", zap.Error(err))
				continue
			}
			interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
			g.wg.Add(1)
			go g.heartbeatLoop(conn, interval, heartbeatStop)
			if err := g.identifyOrResume(ctx, conn); err != nil {
				obslog.L().Warn("gateway_identify_error", zap.Error(err))
				stopHeartbeat()
				g.scheduleReconnect()
				return
			}

		case opDispatch:
			g.handleDispatch(payload)

		case opHeartbeat:
			g.sendHeartbeat(ctx, conn)

		case opHeartbeatACK:
			// nothing to track; a dead link surfaces as a read error

		case opReconnect:
			obslog.L().Info("gateway_reconnect_requested")
			_ = conn.Close(websocket.StatusServiceRestart, "reconnect requested")
			stopHeartbeat()
			g.scheduleReconnect()
			return

		case opInvalidSess:
			obslog.L().Warn("gateway_invalid_session")
			g.mu.Lock()
			g.sessionID = ""
			g.seq = 0
			g.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "invalid session")
			stopHeartbeat()
			g.scheduleReconnect()
			return
		}
	}
}

func (g *Gateway) identifyOrResume(ctx context.Context, conn *websocket.Conn) error {
	g.mu.Lock()
	sessionID, seq := g.sessionID, g.seq
	g.mu.Unlock()

	if sessionID != "" {
		return writePayload(ctx, conn, opResume, resumeData{
			Token: g.token, SessionID: sessionID, Seq: seq,
		})
	}
	return writePayload(ctx, conn, opIdentify, identifyData{
		Token:   g.token,
		Intents: g.intents,
		Properties: identifyProps{
			OS: "linux", Browser: "algoduel-bot", Device: "algoduel-bot",
		},
	})
}

func (g *Gateway) handleDispatch(payload gatewayPayload) {
	switch payload.T {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(payload.D, &ready); err != nil {
			obslog.L().Warn("gateway_ready_decode_error", zap.Error(err))
			return
		}
		g.mu.Lock()
		g.sessionID = ready.SessionID
		g.botUserID = ready.User.ID
		if ready.ResumeGatewayURL != "" {
			g.resumeURL = ready.ResumeGatewayURL + "/?v=10&encoding=json"
		}
		g.mu.Unlock()
		obslog.L().Info("gateway_ready", zap.String("bot_user_id", ready.User.ID))

	case "RESUMED":
		obslog.L().Info("gateway_resumed")

	case "MESSAGE_CREATE":
		var msg Message
		if err := json.Unmarshal(payload.D, &msg); err != nil {
			obslog.L().Warn("gateway_message_decode_error", zap.Error(err))
			return
		}
		if msg.Author.Bot {
			return
		}
		if g.handler != nil {
			g.handler(&msg)
		}
	}
}

func (g *Gateway) heartbeatLoop(conn *websocket.Conn, interval time.Duration, stop <-chan struct{}) {
	defer g.wg.Done()
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-stop:
			return
		case <-t.C:
			g.sendHeartbeat(context.Background(), conn)
		}
	}
}

func (g *Gateway) sendHeartbeat(ctx context.Context, conn *websocket.Conn) {
	g.mu.Lock()
	seq := g.seq
	g.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(wctx, conn, map[string]any{"op": opHeartbeat, "d": seq}); err != nil {
		obslog.L().Warn("gateway_heartbeat_error", zap.Error(err))
	}
}

func (g *Gateway) scheduleReconnect() {
	go func() {
		for attempt := 1; g.maxReconnectAttempts <= 0 || attempt <= g.maxReconnectAttempts; attempt++ {
			select {
			case <-g.stopCh:
				return
			case <-time.After(reconnectBackoff(attempt, g.reconnectDelay)):
			}

			g.mu.Lock()
			url := g.url
			if g.resumeURL != "" && g.sessionID != "" {
				url = g.resumeURL
			}
			g.mu.Unlock()

			conn, err := g.dial(context.Background(), url)
			if err != nil {
				obslog.L().Warn("gateway_reconnect_error", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			g.setConn(conn)
			obslog.L().Info("gateway_reconnected", zap.Int("attempt", attempt))
			g.wg.Add(1)
			go g.run(conn)
			return
		}
		obslog.L().Error("gateway_reconnect_exhausted")
	}()
}

func reconnectBackoff(attempt int, base time.Duration) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if max := 2 * time.Minute; d > max {
		return max
	}
	return d
}

func (g *Gateway) setConn(conn *websocket.Conn) {
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
}

func (g *Gateway) isStopping() bool {
	select {
	case <-g.stopCh:
		return true
	default:
		return false
	}
}

// Close stops reconnects, closes the socket and waits for the loops to exit.
func (g *Gateway) Close(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopCh) })

	g.mu.Lock()
	if g.conn != nil {
		_ = g.conn.Close(websocket.StatusNormalClosure, "shutdown")
		g.conn = nil
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func writePayload(ctx context.Context, conn *websocket.Conn, op int, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, gatewayPayload{Op: op, D: raw})
}
