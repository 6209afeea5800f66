// Package publish доставляет метрики слою отображения по websocket
// и принимает от него изменения конфигурации.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"systemstats/internal/collector"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Типы сообщений, помимо имен метрик
const (
	TypeHello      = "hello"
	TypeConfigure  = "configure"
	TypeConfigured = "configured"
	TypeError      = "error"
)

// ErrClosed возвращается после остановки хаба
var ErrClosed = errors.New("hub closed")

// Source - то, что хаб требует от сборщика
type Source interface {
	Latest() []collector.Event
	Merge(patch []byte) (collector.Options, error)
	ActiveStreams() int
}

// ClientMessage - сообщение от слоя отображения
type ClientMessage struct {
	Type    string          `json:"type"`
	Options json.RawMessage `json:"options,omitempty"`
}

// ServerMessage - сообщение слою отображения
type ServerMessage struct {
	Type    string     `json:"type"`
	Payload any        `json:"payload,omitempty"`
	At      *time.Time `json:"at,omitempty"`
	Message string     `json:"message,omitempty"`
}

// HostInfo отправляется клиенту при подключении
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	KernelVersion   string `json:"kernelVersion,omitempty"`
	Uptime          uint64 `json:"uptime,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub рассылает события всем подключенным клиентам
type Hub struct {
	source   Source
	logger   *zap.Logger
	upgrader websocket.Upgrader
	hostInfo func(ctx context.Context) (*host.InfoStat, error)

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub создает хаб поверх источника метрик
func NewHub(source Source, logger *zap.Logger) *Hub {
	return &Hub{
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hostInfo: host.InfoWithContext,
		clients:  make(map[*client]struct{}),
	}
}

// Handler возвращает маршруты /ws и /health
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)
	return mux
}

// Clients возвращает число подключенных клиентов
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish реализует collector.Publisher. Медленные клиенты отключаются.
func (h *Hub) Publish(_ context.Context, ev collector.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
	return nil
}

// Close отключает всех клиентов
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"streams": h.source.ActiveStreams(),
		"clients": h.Clients(),
	})
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	// hello и кэш ставятся в очередь до регистрации, чтобы новые
	// события пришли после них
	h.enqueue(c, ServerMessage{Type: TypeHello, Payload: h.describeHost(r.Context())})
	for _, ev := range h.source.Latest() {
		data, err := encodeEvent(ev)
		if err != nil {
			h.logger.Warn("Failed to encode cached metric", zap.String("metric", string(ev.Name)), zap.Error(err))
			continue
		}
		c.send <- data
	}

	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Info("Websocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Info("Websocket client disconnected", zap.String("remote", c.conn.RemoteAddr().String()))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Websocket read failed", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, ServerMessage{Type: TypeError, Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case TypeConfigure:
			h.configure(c, msg.Options)
		default:
			h.reply(c, ServerMessage{Type: TypeError, Message: "unknown message type: " + msg.Type})
		}
	}
}

func (h *Hub) configure(c *client, patch json.RawMessage) {
	if len(patch) == 0 {
		patch = json.RawMessage("{}")
	}

	opts, err := h.source.Merge(patch)
	if err != nil {
		h.logger.Warn("Rejected configuration", zap.Error(err))
		h.reply(c, ServerMessage{Type: TypeError, Message: err.Error()})
		return
	}
	h.logger.Info("Configuration applied", zap.ByteString("patch", patch))
	h.reply(c, ServerMessage{Type: TypeConfigured, Payload: opts})
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply отправляет сообщение одному зарегистрированному клиенту
func (h *Hub) reply(c *client, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("Failed to encode reply", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.removeLocked(c)
	}
}

// enqueue используется до регистрации клиента
func (h *Hub) enqueue(c *client, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("Failed to encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	c.send <- data
}

func (h *Hub) describeHost(ctx context.Context) HostInfo {
	info := HostInfo{OS: runtime.GOOS + "/" + runtime.GOARCH}

	stat, err := h.hostInfo(ctx)
	if err != nil {
		h.logger.Debug("Host info unavailable", zap.Error(err))
		return info
	}
	info.Hostname = stat.Hostname
	info.Platform = stat.Platform
	info.PlatformVersion = stat.PlatformVersion
	info.KernelVersion = stat.KernelVersion
	info.Uptime = stat.Uptime
	return info
}

func encodeEvent(ev collector.Event) ([]byte, error) {
	at := ev.At
	return json.Marshal(ServerMessage{Type: string(ev.Name), Payload: ev.Payload, At: &at})
}
