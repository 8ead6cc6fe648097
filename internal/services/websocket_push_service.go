package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"emcp-client/internal/metrics"
	"emcp-client/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxInboundMessage = 4096
)

// Push message types
const (
	MessageConnectionEstablished       = "connection_established"
	MessageNotification                = "notification"
	MessagePaymentConfirmationRequest  = "payment_confirmation_request"
	MessagePaymentConfirmationResolved = "payment_confirmation_resolved"

	// inbound
	MessageConfirmPayment = "confirm_payment"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the server only listens on loopback; browsers on any local origin may connect
	CheckOrigin: func(r *http.Request) bool { return true },
}

var (
	ErrNoUIConnected       = errors.New("no UI connected to confirm the payment")
	ErrUnknownConfirmation = errors.New("unknown or already resolved confirmation request")
	ErrPushServiceClosed   = errors.New("push service closed")
)

// Connection one UI client
type Connection struct {
	ID         string          `json:"id"`
	ClientName string          `json:"client_name"`
	Conn       *websocket.Conn `json:"-"`
	Send       chan []byte     `json:"-"`
	LastPing   time.Time       `json:"last_ping"`
}

// PushMessage envelope of every server to UI message
type PushMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id"`
	Data      interface{} `json:"data"`
}

// ConfirmationRequestData asks the UI to approve a payment
type ConfirmationRequestData struct {
	RequestID    string `json:"request_id"`
	ToolID       string `json:"tool_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Receiver     string `json:"receiver"`
	Message      string `json:"message,omitempty"`
	RequiresTOTP bool   `json:"requires_totp"`
	ExpiresAt    string `json:"expires_at"`
}

// ConfirmationResolvedData tells every UI that a request is settled
type ConfirmationResolvedData struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

// InboundMessage UI to server message
type InboundMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Code      string `json:"code,omitempty"`
}

type confirmationAnswer struct {
	approved bool
	code     string
}

type pendingConfirmation struct {
	toolID string
	answer chan confirmationAnswer
}

// WebSocketPushService fans notifications out to connected UIs and collects payment confirmations from them
type WebSocketPushService struct {
	connections map[string]*Connection
	hub         chan PushMessage
	register    chan *Connection
	unregister  chan *Connection
	done        chan struct{}
	stopped     chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex

	pendingMu sync.Mutex
	pending   map[string]*pendingConfirmation

	confirmTimeout time.Duration
	totpSecret     string
}

// PushOption configures a WebSocketPushService
type PushOption func(*WebSocketPushService)

// WithConfirmTimeout unanswered confirmations are declined after d; d <= 0 keeps the default
func WithConfirmTimeout(d time.Duration) PushOption {
	return func(s *WebSocketPushService) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// WithTOTPSecret approvals must carry a valid authenticator code
func WithTOTPSecret(secret string) PushOption {
	return func(s *WebSocketPushService) { s.totpSecret = secret }
}

func NewWebSocketPushService(opts ...PushOption) *WebSocketPushService {
	s := &WebSocketPushService{
		connections:    make(map[string]*Connection),
		hub:            make(chan PushMessage, 256),
		register:       make(chan *Connection),
		unregister:     make(chan *Connection),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
		pending:        make(map[string]*pendingConfirmation),
		confirmTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

func (s *WebSocketPushService) run() {
	defer close(s.stopped)
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case conn := <-s.unregister:
			s.handleUnregister(conn)

		case message := <-s.hub:
			s.handleBroadcast(message)

		case <-s.done:
			s.closeAll()
			return
		}
	}
}

// Close disconnects every UI and stops the hub. Pending confirmations are declined.
func (s *WebSocketPushService) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped
	})
}

// RegisterConnection adds a connection; it receives connection_established first
func (s *WebSocketPushService) RegisterConnection(conn *Connection) {
	select {
	case s.register <- conn:
	case <-s.done:
		if conn.Send != nil {
			close(conn.Send)
		}
	}
}

// UnregisterConnection removes a connection and closes its Send channel
func (s *WebSocketPushService) UnregisterConnection(conn *Connection) {
	select {
	case s.unregister <- conn:
	case <-s.done:
	}
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	s.connections[conn.ID] = conn
	count := len(s.connections)
	s.mutex.Unlock()

	metrics.WebSocketConnections.Set(float64(count))
	logrus.WithFields(logrus.Fields{
		"conn_id": conn.ID,
		"client":  conn.ClientName,
	}).Info("📱 [WebSocketPush] Connection registered")

	s.sendToConnection(conn, s.newMessage(MessageConnectionEstablished, map[string]interface{}{
		"connection_id": conn.ID,
		"message":       "Real-time notification connection established",
	}))
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	_, exists := s.connections[conn.ID]
	delete(s.connections, conn.ID)
	count := len(s.connections)
	s.mutex.Unlock()

	if !exists {
		return
	}
	if conn.Send != nil {
		close(conn.Send)
	}
	if conn.Conn != nil {
		conn.Conn.Close()
	}

	metrics.WebSocketConnections.Set(float64(count))
	logrus.WithField("conn_id", conn.ID).Info("📱 [WebSocketPush] Connection unregistered")
}

func (s *WebSocketPushService) closeAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, conn := range s.connections {
		if conn.Send != nil {
			close(conn.Send)
		}
		delete(s.connections, id)
	}
	metrics.WebSocketConnections.Set(0)
}

func (s *WebSocketPushService) handleBroadcast(message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("❌ [WebSocketPush] Failed to marshal message")
		return
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sent, failed := 0, 0
	for _, conn := range s.connections {
		select {
		case conn.Send <- data:
			sent++
		default:
			failed++
			logrus.WithField("conn_id", conn.ID).Warn("⚠️ [WebSocketPush] Send buffer full, dropping message")
		}
	}

	logrus.WithFields(logrus.Fields{
		"type":   message.Type,
		"sent":   sent,
		"failed": failed,
	}).Debug("📤 [WebSocketPush] Message delivered")
}

func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) {
	if conn.Send == nil {
		return
	}
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("❌ [WebSocketPush] Failed to marshal message")
		return
	}
	select {
	case conn.Send <- data:
	default:
		logrus.WithField("conn_id", conn.ID).Warn("⚠️ [WebSocketPush] Failed to send to connection")
	}
}

func (s *WebSocketPushService) newMessage(msgType string, data interface{}) PushMessage {
	return PushMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: "msg_" + uuid.NewString(),
		Data:      data,
	}
}

// Broadcast queues a message for every connected UI
func (s *WebSocketPushService) Broadcast(msgType string, data interface{}) {
	select {
	case s.hub <- s.newMessage(msgType, data):
	case <-s.done:
	}
}

// Notify pushes a notification to every connected UI
func (s *WebSocketPushService) Notify(_ context.Context, n Notification) {
	s.Broadcast(MessageNotification, n)
}

// GetActiveConnections number of connected UIs
func (s *WebSocketPushService) GetActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

// ConfirmPayment asks connected UIs to approve a payment and waits for the first answer.
// Timeout, context end and service shutdown count as a decline.
func (s *WebSocketPushService) ConfirmPayment(ctx context.Context, toolID string, req models.PaymentRequirement) (bool, error) {
	if s.GetActiveConnections() == 0 {
		return false, ErrNoUIConnected
	}

	requestID := uuid.NewString()
	pending := &pendingConfirmation{toolID: toolID, answer: make(chan confirmationAnswer, 1)}
	s.pendingMu.Lock()
	s.pending[requestID] = pending
	s.pendingMu.Unlock()
	defer s.dropPending(requestID)

	timer := time.NewTimer(s.confirmTimeout)
	defer timer.Stop()

	s.Broadcast(MessagePaymentConfirmationRequest, ConfirmationRequestData{
		RequestID:    requestID,
		ToolID:       toolID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Receiver:     req.Receiver,
		Message:      req.Message,
		RequiresTOTP: s.totpSecret != "",
		ExpiresAt:    time.Now().Add(s.confirmTimeout).UTC().Format(time.RFC3339),
	})

	logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"tool_id":    toolID,
		"amount":     req.Amount,
	}).Info("💬 [WebSocketPush] Waiting for payment confirmation")

	approved, reason := false, ""
	select {
	case answer := <-pending.answer:
		approved = answer.approved
		if approved && s.totpSecret != "" && !ValidTOTP(s.totpSecret, answer.code) {
			approved, reason = false, "invalid_code"
		} else if !approved {
			reason = "declined"
		}
	case <-timer.C:
		reason = "timeout"
	case <-ctx.Done():
		reason = "cancelled"
	case <-s.done:
		return false, nil
	}

	s.Broadcast(MessagePaymentConfirmationResolved, ConfirmationResolvedData{
		RequestID: requestID,
		Approved:  approved,
		Reason:    reason,
	})
	return approved, nil
}

// ResolveConfirmation records the UI's answer. Only the first answer to a request counts.
func (s *WebSocketPushService) ResolveConfirmation(requestID string, approved bool, code string) error {
	s.pendingMu.Lock()
	pending, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.pendingMu.Unlock()

	if !ok {
		return ErrUnknownConfirmation
	}
	pending.answer <- confirmationAnswer{approved: approved, code: code}

	logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"tool_id":    pending.toolID,
		"approved":   approved,
	}).Info("💬 [WebSocketPush] Confirmation answered")
	return nil
}

func (s *WebSocketPushService) dropPending(requestID string) {
	s.pendingMu.Lock()
	delete(s.pending, requestID)
	s.pendingMu.Unlock()
}

// HandleWebSocket upgrades the request and serves the connection until it closes
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, clientName string) error {
	select {
	case <-s.done:
		return ErrPushServiceClosed
	default:
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	connection := &Connection{
		ID:         "conn_" + uuid.NewString(),
		ClientName: clientName,
		Conn:       ws,
		Send:       make(chan []byte, 256),
		LastPing:   time.Now(),
	}
	s.RegisterConnection(connection)

	go s.handleConnectionWrite(connection)
	go s.handleConnectionRead(connection)
	return nil
}

func (s *WebSocketPushService) handleConnectionWrite(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithError(err).WithField("conn_id", conn.ID).Warn("❌ [WebSocketPush] Write failed")
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketPushService) handleConnectionRead(conn *Connection) {
	defer func() {
		s.UnregisterConnection(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(maxInboundMessage)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.LastPing = time.Now()
		return nil
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("conn_id", conn.ID).Warn("❌ [WebSocketPush] Read error")
			}
			return
		}
		s.handleInbound(conn, data)
	}
}

func (s *WebSocketPushService) handleInbound(conn *Connection, data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logrus.WithField("conn_id", conn.ID).Debug("⚠️ [WebSocketPush] Ignoring malformed message")
		return
	}

	switch msg.Type {
	case MessageConfirmPayment:
		if err := s.ResolveConfirmation(msg.RequestID, msg.Approved, msg.Code); err != nil {
			logrus.WithError(err).WithField("request_id", msg.RequestID).Debug("⚠️ [WebSocketPush] Confirmation ignored")
		}
	default:
		logrus.WithField("type", msg.Type).Debug("⚠️ [WebSocketPush] Unknown message type")
	}
}
