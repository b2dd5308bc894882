package capture

import (
	"sync"
	"time"

	"videocap/internal/camera"
)

// FrameStats はFrameCounterの集計値
type FrameStats struct {
	Frames        uint64        `json:"frames"`
	Dropped       uint64        `json:"dropped"`
	LastTimestamp time.Duration `json:"last_timestamp"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	FPS           float64       `json:"fps"`
}

// FrameCounter は受け取ったフレームとドロップを数えるObserver
type FrameCounter struct {
	mu    sync.Mutex
	stats FrameStats
	first time.Duration
	seen  bool
}

// NewFrameCounter は新しいFrameCounterを作成する
func NewFrameCounter() *FrameCounter {
	return &FrameCounter{}
}

// OnFrame はObserverの実装
func (c *FrameCounter) OnFrame(_ *Session, buffer *camera.PixelBuffer, timestamp time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.seen {
		c.first = timestamp
		c.seen = true
	}
	c.stats.LastTimestamp = timestamp

	if buffer == nil {
		c.stats.Dropped++
		return
	}
	c.stats.Frames++
	c.stats.Width = buffer.Width
	c.stats.Height = buffer.Height

	if elapsed := timestamp - c.first; elapsed > 0 && c.stats.Frames > 1 {
		c.stats.FPS = float64(c.stats.Frames-1) / elapsed.Seconds()
	}
}

// Snapshot は現在の集計値を返す
func (c *FrameCounter) Snapshot() FrameStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Reset は集計値を初期化する
func (c *FrameCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = FrameStats{}
	c.seen = false
	c.first = 0
}
