package capture

import (
	"sync"
)

// Dispatcher は関数を非同期に実行するコンテキスト
type Dispatcher interface {
	// Async は f を実行待ちに積む。受け付けられなかった場合はfalseを返す
	Async(f func()) bool
}

// Queue は積まれた順に1つずつ関数を実行するシリアルワーカー
type Queue struct {
	label string

	mu     sync.Mutex
	tasks  []func()
	closed bool
	wakeCh chan struct{}
	doneCh chan struct{}
}

// NewQueue は新しいQueueを作成し、ワーカーゴルーチンを開始する
func NewQueue(label string) *Queue {
	q := &Queue{
		label:  label,
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
	go q.run()
	return q
}

// Label はキューの名前を返す
func (q *Queue) Label() string {
	return q.label
}

// Async はDispatcherの実装
func (q *Queue) Async(f func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, f)
	q.mu.Unlock()

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
	return true
}

// Sync は f をキューで実行し、完了するまで待つ
// キュー上で実行中の関数から呼ぶとデッドロックする
func (q *Queue) Sync(f func()) bool {
	done := make(chan struct{})
	if !q.Async(func() {
		defer close(done)
		f()
	}) {
		return false
	}
	<-done
	return true
}

// Close は新しい関数の受け付けを止め、積まれている関数を実行し終えるまで待つ
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.doneCh
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
	<-q.doneCh
}

func (q *Queue) run() {
	defer close(q.doneCh)

	for {
		q.mu.Lock()
		tasks := q.tasks
		q.tasks = nil
		closed := q.closed
		q.mu.Unlock()

		for _, task := range tasks {
			task()
		}

		if len(tasks) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wakeCh
	}
}
