package capture

import (
	"time"
	"weak"

	"videocap/internal/camera"
)

// Observer はセッションからフレームの通知を受け取る
//
// OnFrame はセッションのワーカー上でキャプチャ順に1つずつ呼ばれる。
// フレームが落とされた場合 buffer はnilになる。
type Observer interface {
	OnFrame(session *Session, buffer *camera.PixelBuffer, timestamp time.Duration)
}

// ObserverFunc は関数をObserverとして使うためのアダプタ
type ObserverFunc func(session *Session, buffer *camera.PixelBuffer, timestamp time.Duration)

// OnFrame はObserverの実装
func (f ObserverFunc) OnFrame(session *Session, buffer *camera.PixelBuffer, timestamp time.Duration) {
	f(session, buffer, timestamp)
}

// multiObserver は複数のObserverに順番に通知する
type multiObserver []Observer

func (m multiObserver) OnFrame(session *Session, buffer *camera.PixelBuffer, timestamp time.Duration) {
	for _, o := range m {
		o.OnFrame(session, buffer, timestamp)
	}
}

// Observers は複数のObserverをまとめる。nilは無視する
func Observers(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

// weakObserver は参照先の寿命を延ばさないObserver
type weakObserver[T any, P interface {
	*T
	Observer
}] struct {
	ptr weak.Pointer[T]
}

// WeakObserver は o を弱参照で保持するObserverを返す
// o が回収された後の通知は何もしない
func WeakObserver[T any, P interface {
	*T
	Observer
}](o P) Observer {
	return &weakObserver[T, P]{ptr: weak.Make((*T)(o))}
}

func (w *weakObserver[T, P]) OnFrame(session *Session, buffer *camera.PixelBuffer, timestamp time.Duration) {
	if v := w.ptr.Value(); v != nil {
		P(v).OnFrame(session, buffer, timestamp)
	}
}
