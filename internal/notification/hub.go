package notification

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub はWebSocket接続ごとの送信キューを管理し、Pusher を実装する。
type Hub struct {
	mu      sync.Mutex
	clients map[string]chan []byte
	buffer  int
	logger  *slog.Logger
	metrics *Metrics
}

// NewHub は接続ごとにbuffer件まで送信を溜めるHubを生成する。
func NewHub(buffer int, logger *slog.Logger, metrics *Metrics) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]chan []byte),
		buffer:  buffer,
		logger:  logger,
		metrics: metrics,
	}
}

// Attach は接続を登録し、その接続の送信キューを返す。
// キューは Detach で閉じられる。
func (h *Hub) Attach(connID string) <-chan []byte {
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	if old, ok := h.clients[connID]; ok {
		close(old)
	} else {
		h.metrics.connected()
	}
	h.clients[connID] = ch
	h.mu.Unlock()
	return ch
}

// Detach は接続の登録を解除して送信キューを閉じる。未知の接続なら何もしない。
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(h.clients, connID)
	close(ch)
	h.metrics.disconnected()
}

// Push はメッセージを接続の送信キューに入れる。
// 未知の接続やキューが一杯の場合は捨てる。呼び出し元をブロックしない。
func (h *Hub) Push(connID string, msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("メッセージのシリアライズに失敗", "event", msg.Event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.clients[connID]
	if !ok {
		h.metrics.dropped()
		return
	}
	select {
	case ch <- b:
	default:
		h.metrics.dropped()
		h.logger.Warn("送信キューが一杯のためメッセージを破棄しました", "conn_id", connID, "event", msg.Event)
	}
}

// CloseAll は全ての接続の送信キューを閉じる。シャットダウン時に使う。
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
		h.metrics.disconnected()
	}
}

// Count は登録中の接続数を返す。
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
