package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/internal/infrastructure/middleware"
	"streamrelay/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types exchanged over the chat socket.
const (
	MessageCommand      = "command"
	MessageReply        = "reply"
	MessageNotification = "notification"
	MessageError        = "error"
)

type ChatMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ChatConfig struct {
	Token           string
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	AllowedOrigins  []string
	MaxMessageBytes int64
}

func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 4096,
	}
}

// chatClient serializes writes: replies come from the connection loop while
// notifications arrive from relay observers.
type chatClient struct {
	userID  domain.UserID
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *chatClient) write(msg ChatMessage, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(msg)
}

func (c *chatClient) ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

func (c *chatClient) close(code int, reason string, timeout time.Duration) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(timeout))
	c.writeMu.Unlock()
	c.conn.Close()
}

// ChatServer is the chat transport: each user holds one websocket, sends
// command lines and receives replies and relay notifications.
type ChatServer struct {
	handler  ports.CommandHandler
	config   ChatConfig
	upgrader websocket.Upgrader

	clients map[domain.UserID]*chatClient
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

func NewChatServer(handler ports.CommandHandler, config ChatConfig, logger *zap.SugaredLogger) *ChatServer {
	defaults := DefaultChatConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = defaults.PongTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageBytes <= 0 {
		config.MaxMessageBytes = defaults.MaxMessageBytes
	}

	s := &ChatServer{
		handler: handler,
		config:  config,
		clients: make(map[domain.UserID]*chatClient),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

var _ ports.Notifier = (*ChatServer)(nil)

// Handler serves /ws and /health.
func (s *ChatServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HealthCheck)
	return mux
}

// checkOrigin allows any origin when no allow-list is configured.
func (s *ChatServer) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

func (s *ChatServer) authorized(r *http.Request) bool {
	token := middleware.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return middleware.TokenMatches(token, s.config.Token)
}

func (s *ChatServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	rawUserID := r.URL.Query().Get("user_id")
	if err := validation.ValidateUserID(rawUserID); err != nil {
		http.Error(w, fmt.Sprintf("invalid user_id: %v", err), http.StatusBadRequest)
		return
	}
	userID := domain.UserID(rawUserID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	conn.SetReadLimit(s.config.MaxMessageBytes)

	client := &chatClient{userID: userID, conn: conn}

	s.mu.Lock()
	previous, isReconnect := s.clients[userID]
	s.clients[userID] = client
	s.mu.Unlock()

	if isReconnect {
		previous.close(websocket.ClosePolicyViolation, "replaced by a newer connection", s.config.WriteTimeout)
		s.logger.Infow("closed old connection for reconnecting user", "user_id", userID)
	}
	s.logger.Infow("user connected", "user_id", userID, "reconnect", isReconnect)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan ChatMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg ChatMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
			select {
			case messageChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(ctx, client, msg); err != nil {
				s.logger.Infow("error writing to user", "user_id", userID, "error", err)
				break loop
			}

		case <-pingTicker.C:
			if err := client.ping(s.config.WriteTimeout); err != nil {
				s.logger.Infow("error sending ping", "user_id", userID, "error", err)
				break loop
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from user", "user_id", userID, "error", err)
			}
			break loop
		}
	}

	s.mu.Lock()
	if s.clients[userID] == client {
		delete(s.clients, userID)
	}
	s.mu.Unlock()
	conn.Close()

	s.logger.Infow("user disconnected", "user_id", userID)
}

// handleMessage only fails when the reply cannot be written.
func (s *ChatServer) handleMessage(ctx context.Context, client *chatClient, msg ChatMessage) error {
	if msg.Type != MessageCommand {
		return client.write(ChatMessage{
			Type: MessageError,
			Text: fmt.Sprintf("unsupported message type %q", msg.Type),
		}, s.config.WriteTimeout)
	}

	for _, reply := range s.handler.Dispatch(ctx, client.userID, msg.Text) {
		if err := client.write(ChatMessage{Type: MessageReply, Text: reply}, s.config.WriteTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Notify delivers text to userID if they are connected.
func (s *ChatServer) Notify(ctx context.Context, userID domain.UserID, text string) error {
	s.mu.RLock()
	client, ok := s.clients[userID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("user %s: %w", userID, domain.ErrRecipientUnavailable)
	}

	timeout := s.config.WriteTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := client.write(ChatMessage{Type: MessageNotification, Text: text}, timeout); err != nil {
		return fmt.Errorf("notify user %s: %w", userID, err)
	}
	return nil
}

func (s *ChatServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown closes every connection with a going-away frame.
func (s *ChatServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	clients := make([]*chatClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[domain.UserID]*chatClient)
	s.mu.Unlock()

	for _, c := range clients {
		if ctx.Err() != nil {
			c.conn.Close()
			continue
		}
		c.close(websocket.CloseGoingAway, "server shutting down", s.config.WriteTimeout)
	}
	s.logger.Infow("chat connections closed", "count", len(clients))
	return ctx.Err()
}

func (s *ChatServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
