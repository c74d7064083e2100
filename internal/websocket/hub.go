package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mycobot-backend/internal/models"
	"mycobot-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type chatService interface {
	Converse(ctx context.Context, sessionID string, in services.TurnInput) (services.TurnResult, error)
}

type imageStager interface {
	StageBase64(data string) (string, func(), error)
}

// frameOverhead leaves room for the JSON envelope and message text around an image.
const frameOverhead = 64 << 10

type incoming struct {
	Type    string               `json:"type"`
	Payload models.WSChatMessage `json:"payload"`
}

// Hub serves chat over WebSocket, one live connection per session.
type Hub struct {
	mu            sync.RWMutex
	connections   map[string]*websocket.Conn
	chat          chatService
	uploads       imageStager
	historyWindow int
	readLimit     int64
	logger        *zap.SugaredLogger
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewHub caps incoming frames at the base64 size of a maxUpload image plus
// frameOverhead.
func NewHub(chat chatService, uploads imageStager, historyWindow int, maxUpload int64, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		connections:   make(map[string]*websocket.Conn),
		chat:          chat,
		uploads:       uploads,
		historyWindow: historyWindow,
		readLimit:     maxUpload*4/3 + frameOverhead,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if id, err := uuid.Parse(sessionID); err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	} else {
		sessionID = id.String()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	h.registerConnection(sessionID, conn)
	go h.serve(sessionID, conn)
}

func (h *Hub) serve(sessionID string, conn *websocket.Conn) {
	defer h.unregisterConnection(sessionID, conn)
	conn.SetReadLimit(h.readLimit)

	conv := services.NewConversation(h.historyWindow)
	if err := conn.WriteJSON(models.WSMessage{
		Type:    "session",
		Payload: map[string]string{"session_id": sessionID},
	}); err != nil {
		return
	}

	for {
		var msg incoming
		if err := conn.ReadJSON(&msg); err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				h.logger.Warnw("WebSocket frame too large", "session_id", sessionID, "limit", h.readLimit)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("WebSocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		if msg.Type != "" && msg.Type != "message" {
			if !h.writeError(conn, "Unsupported message type") {
				return
			}
			continue
		}

		reply, ok := h.turn(sessionID, conv, msg.Payload)
		if !ok {
			if !h.writeError(conn, "Message is required") {
				return
			}
			continue
		}
		if err := conn.WriteJSON(models.WSMessage{Type: "reply", Payload: reply}); err != nil {
			return
		}
	}
}

func (h *Hub) turn(sessionID string, conv *services.Conversation, msg models.WSChatMessage) (models.ChatResponse, bool) {
	var imagePath string
	if msg.Image != nil && msg.Image.Data != "" {
		path, cleanup, err := h.uploads.StageBase64(msg.Image.Data)
		if err != nil {
			h.logger.Warnw("Failed to stage WebSocket image", "session_id", sessionID, "error", err)
		} else {
			defer cleanup()
			imagePath = path
		}
	}
	if strings.TrimSpace(msg.Message) == "" && imagePath == "" {
		return models.ChatResponse{}, false
	}

	res, err := h.chat.Converse(h.ctx, sessionID, services.TurnInput{
		Message:   msg.Message,
		History:   conv.History(),
		ImagePath: imagePath,
	})
	if err != nil {
		h.logger.Warnw("Failed to store analysis", "session_id", sessionID, "error", err)
	}
	if res.OK() {
		conv.Append(msg.Message, res.Text)
	}

	return models.ChatResponse{
		Reply:     res.Text,
		SessionID: sessionID,
		OK:        res.OK(),
		Analysis:  res.Analysis,
	}, true
}

func (h *Hub) writeError(conn *websocket.Conn, message string) bool {
	err := conn.WriteJSON(models.WSMessage{
		Type:    "error",
		Payload: map[string]string{"message": message},
	})
	return err == nil
}

func (h *Hub) registerConnection(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	old := h.connections[sessionID]
	h.connections[sessionID] = conn
	h.mu.Unlock()

	// A session has one live socket; a reconnect replaces the previous one.
	if old != nil {
		old.Close()
	}
}

func (h *Hub) unregisterConnection(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	if h.connections[sessionID] == conn {
		delete(h.connections, sessionID)
	}
	h.mu.Unlock()
	conn.Close()
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close cancels in-flight turns and drops every connection.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	conns := h.connections
	h.connections = make(map[string]*websocket.Conn)
	h.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
