package server

import (
	"sync"
	"time"

	"videocap/internal/camera"
	"videocap/internal/capture"
)

// イベント種別
const (
	EventFrame = "frame"
	EventDrop  = "drop"
)

// FrameEvent はWebSocketで配信するフレーム通知。画像は含まない
type FrameEvent struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"session_id"`
	TimestampMS float64 `json:"timestamp_ms"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
}

// subscriberBuffer は購読者ごとのバッファ数
// 読み出しが遅い購読者への通知は捨てる
const subscriberBuffer = 32

// EventHub はセッションのフレーム通知を購読者に配る
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[chan FrameEvent]struct{}
	closed      bool
}

// NewEventHub は新しいEventHubを作成する
func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[chan FrameEvent]struct{}),
	}
}

// OnFrame はcapture.Observerの実装
func (h *EventHub) OnFrame(session *capture.Session, buffer *camera.PixelBuffer, timestamp time.Duration) {
	ev := FrameEvent{
		Type:        EventDrop,
		TimestampMS: float64(timestamp) / float64(time.Millisecond),
	}
	if session != nil {
		ev.SessionID = session.ID()
	}
	if buffer != nil {
		ev.Type = EventFrame
		ev.Width = buffer.Width
		ev.Height = buffer.Height
	}
	h.Publish(ev)
}

// Publish はイベントをすべての購読者に送る
func (h *EventHub) Publish(ev FrameEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe は新しい購読チャネルを返す
func (h *EventHub) Subscribe() chan FrameEvent {
	ch := make(chan FrameEvent, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じる
func (h *EventHub) Unsubscribe(ch chan FrameEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// Subscribers は購読者数を返す
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close はすべての購読を終了する
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
	h.closed = true
}
