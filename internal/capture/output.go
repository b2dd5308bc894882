package capture

import (
	"sync"
	"time"

	"videocap/internal/camera"
)

// FrameOutput はデバイスからのフレームをセッションのワーカーに渡す出力
//
// AlwaysDiscardsLateFrames が有効な場合、画像付きのフレームは同時に1つまでしか
// 保持しない。前のフレームの配送が終わる前に届いたフレームは画像を捨て、
// ドロップとして通知する。
type FrameOutput struct {
	mu sync.Mutex

	layout      camera.PixelLayout
	discardLate bool
	connection  *Connection

	queue   Dispatcher
	deliver func(camera.Sample)

	running       bool
	pending       []camera.Sample
	framePending  bool
	draining      bool
	lastTimestamp time.Duration

	delivered uint64
	dropped   uint64
}

// NewFrameOutput は新しいFrameOutputを作成する
func NewFrameOutput() *FrameOutput {
	return &FrameOutput{
		layout: camera.PixelLayoutBGRA32,
	}
}

// PixelLayout は出力する画像のピクセル配置を返す
func (o *FrameOutput) PixelLayout() camera.PixelLayout {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.layout
}

// SetPixelLayout は出力する画像のピクセル配置を設定する
func (o *FrameOutput) SetPixelLayout(layout camera.PixelLayout) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.layout = layout
}

// AlwaysDiscardsLateFrames は遅れたフレームを常に捨てるかどうかを返す
func (o *FrameOutput) AlwaysDiscardsLateFrames() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.discardLate
}

// SetAlwaysDiscardsLateFrames は遅れたフレームを常に捨てるかどうかを設定する
func (o *FrameOutput) SetAlwaysDiscardsLateFrames(discard bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discardLate = discard
}

// Connection はセッションに追加された後の接続を返す。追加前はnil
func (o *FrameOutput) Connection() *Connection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connection
}

// Counts は配送したフレーム数とドロップ数を返す
func (o *FrameOutput) Counts() (delivered, dropped uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.delivered, o.dropped
}

// setSampleDelegate は配送先と配送を行うキューを設定する
func (o *FrameOutput) setSampleDelegate(deliver func(camera.Sample), queue Dispatcher) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliver = deliver
	o.queue = queue
}

// attach はセッションへの追加時に呼ばれ、接続を作り直す
func (o *FrameOutput) attach() *Connection {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connection = newConnection()
	return o.connection
}

// detach は接続を外す
func (o *FrameOutput) detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connection = nil
}

// setRunning はフレームの受け付けを切り替える
// lastTimestamp は停止と再開をまたいで保持する
func (o *FrameOutput) setRunning(running bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = running
}

// handleSample はデバイスのストリーミングゴルーチンから呼ばれる
func (o *FrameOutput) handleSample(s camera.Sample) {
	o.mu.Lock()
	if !o.running || o.deliver == nil || o.queue == nil {
		o.mu.Unlock()
		return
	}
	if o.connection != nil && !o.connection.Enabled() {
		o.mu.Unlock()
		return
	}

	// タイムスタンプは前の通知より小さくならない
	if s.Timestamp < o.lastTimestamp {
		s.Timestamp = o.lastTimestamp
	}
	o.lastTimestamp = s.Timestamp

	if s.Buffer != nil {
		if o.discardLate && o.framePending {
			s.Buffer = nil
		} else {
			o.framePending = true
		}
	}

	o.pending = append(o.pending, s)
	schedule := !o.draining
	o.draining = true
	queue := o.queue
	o.mu.Unlock()

	if schedule && !queue.Async(o.drain) {
		o.mu.Lock()
		o.pending = nil
		o.framePending = false
		o.draining = false
		o.mu.Unlock()
	}
}

// drain は溜まっているサンプルをワーカー上で配送する
// 配送中に届いたサンプルは次のタスクに回し、他のタスクを待たせない
func (o *FrameOutput) drain() {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	deliver := o.deliver
	o.mu.Unlock()

	for _, s := range batch {
		deliver(s)

		o.mu.Lock()
		if s.Buffer != nil {
			o.framePending = false
			o.delivered++
		} else {
			o.dropped++
		}
		o.mu.Unlock()
	}

	o.mu.Lock()
	if len(o.pending) == 0 {
		o.draining = false
		o.mu.Unlock()
		return
	}
	queue := o.queue
	o.mu.Unlock()

	if !queue.Async(o.drain) {
		o.mu.Lock()
		o.pending = nil
		o.framePending = false
		o.draining = false
		o.mu.Unlock()
	}
}
