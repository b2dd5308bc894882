package capture

import (
	"errors"
	"math"
	"runtime"
	"testing"
	"time"

	"videocap/internal/camera"
)

type frameRecord struct {
	buffer    *camera.PixelBuffer
	timestamp time.Duration
}

// recorder は届いた通知をチャネルに流すObserver
type recorder struct {
	ch   chan frameRecord
	gate chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan frameRecord, 64)}
}

func (r *recorder) OnFrame(_ *Session, buffer *camera.PixelBuffer, timestamp time.Duration) {
	if r.gate != nil {
		<-r.gate
	}
	r.ch <- frameRecord{buffer: buffer, timestamp: timestamp}
}

func (r *recorder) next(t *testing.T) frameRecord {
	t.Helper()
	select {
	case rec := <-r.ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame notification")
		return frameRecord{}
	}
}

func hdFormat(subtype camera.Subtype) camera.Format {
	return camera.Format{
		Dimensions:      camera.Dimensions{Width: 1920, Height: 1080},
		FrameRateRanges: []camera.FrameRateRange{{Min: 24, Max: 30}},
		Subtype:         subtype,
	}
}

func testFormats() []camera.Format {
	return []camera.Format{
		hdFormat(camera.SubtypeFullRange420),
		{
			Dimensions:      camera.Dimensions{Width: 1280, Height: 720},
			FrameRateRanges: []camera.FrameRateRange{{Min: 15, Max: 24}},
			Subtype:         camera.SubtypeFullRange420,
		},
	}
}

func newTestSession(t *testing.T, devices ...camera.Device) *Session {
	t.Helper()
	s := NewSession(camera.NewMockProvider(devices...))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func configure(t *testing.T, s *Session, preset camera.Preset, fps int) bool {
	t.Helper()
	done := make(chan bool, 1)
	s.Configure(preset, fps, func(ok bool) { done <- ok })
	select {
	case ok := <-done:
		return ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for configure completion")
		return false
	}
}

func TestSession_ConfigureWithoutDevice(t *testing.T) {
	s := newTestSession(t)

	if configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to fail without a device")
	}
	if s.State() != StateUnconfigured {
		t.Errorf("Expected state unconfigured, got %s", s.State())
	}
	if s.PreviewLayer() != nil {
		t.Error("Expected no preview layer after failed configure")
	}

	err := s.ConfigureWait(camera.PresetHigh, 30)
	if !errors.Is(err, camera.ErrNoDeviceAvailable) {
		t.Errorf("Expected ErrNoDeviceAvailable, got %v", err)
	}
}

func TestSession_ConfigureOpenFailure(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	dev.SetShouldFailOpen(true)
	s := newTestSession(t, dev)

	err := s.ConfigureWait(camera.PresetHigh, 30)
	if !errors.Is(err, ErrInputCreationFailed) {
		t.Fatalf("Expected ErrInputCreationFailed, got %v", err)
	}
	if s.State() != StateUnconfigured {
		t.Errorf("Expected state unconfigured, got %s", s.State())
	}
}

func TestSession_ConfigurePreviewLayer(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}

	preview := s.PreviewLayer()
	if preview == nil {
		t.Fatal("Expected preview layer after configure")
	}
	if preview.Session() != s {
		t.Error("Expected preview layer to be bound to the session")
	}
	if got := preview.Connection().Orientation(); got != OrientationPortrait {
		t.Errorf("Expected portrait preview, got %s", got)
	}
	if got := preview.Gravity(); got != GravityResizeAspect {
		t.Errorf("Expected resize_aspect gravity, got %s", got)
	}

	output := s.Output()
	if output == nil {
		t.Fatal("Expected frame output after configure")
	}
	if got := output.Connection().Orientation(); got != OrientationPortrait {
		t.Errorf("Expected portrait output connection, got %s", got)
	}
	if !output.AlwaysDiscardsLateFrames() {
		t.Error("Expected output to discard late frames")
	}
	if output.PixelLayout() != camera.PixelLayoutBGRA32 {
		t.Errorf("Expected BGRA32 output, got %s", output.PixelLayout())
	}
	if dev.Preset() != camera.PresetHigh {
		t.Errorf("Expected preset high to be applied, got %q", dev.Preset())
	}
	if !dev.IsOpen() {
		t.Error("Expected device to be opened")
	}
}

func TestSession_ConfigureSelectsFirstMatchingFormat(t *testing.T) {
	formats := testFormats()
	dev := camera.NewMockDevice("cam", formats, hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}

	active, ok := s.ActiveFormat()
	if !ok {
		t.Fatal("Expected active format after configure")
	}
	if !active.Equal(formats[0]) {
		t.Errorf("Expected active format %s, got %s", formats[0], active)
	}

	want := camera.FrameDuration{Value: 1, Timescale: 30}
	minDur, maxDur := dev.FrameDurations()
	if minDur != want || maxDur != want {
		t.Errorf("Expected frame durations %s/%s, got %s/%s", want, want, minDur, maxDur)
	}
}

func TestSession_ConfigureNoFormatCoversRate(t *testing.T) {
	initial := hdFormat(camera.SubtypeYUYV)
	dev := camera.NewMockDevice("cam", testFormats(), initial)
	s := newTestSession(t, dev)

	if !configure(t, s, camera.PresetHigh, 60) {
		t.Fatal("Expected configure to succeed even without a matching format")
	}

	active, _ := s.ActiveFormat()
	if !active.Equal(initial) {
		t.Errorf("Expected active format unchanged %s, got %s", initial, active)
	}
	if dev.LockAttempts() != 0 {
		t.Errorf("Expected no lock attempts, got %d", dev.LockAttempts())
	}
}

func TestSession_ConfigureSkipsLockFailure(t *testing.T) {
	second := camera.Format{
		Dimensions:      camera.Dimensions{Width: 1920, Height: 1080},
		FrameRateRanges: []camera.FrameRateRange{{Min: 1, Max: 60}},
		Subtype:         camera.SubtypeFullRange420,
	}
	formats := []camera.Format{hdFormat(camera.SubtypeFullRange420), second}
	dev := camera.NewMockDevice("cam", formats, hdFormat(camera.SubtypeYUYV))
	dev.SetLockFailures(1)
	s := newTestSession(t, dev)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}

	active, _ := s.ActiveFormat()
	if !active.Equal(second) {
		t.Errorf("Expected second candidate %s after lock failure, got %s", second, active)
	}
	if dev.LockAttempts() != 2 {
		t.Errorf("Expected 2 lock attempts, got %d", dev.LockAttempts())
	}
}

func TestSession_ConfigureIsOneShot(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)

	if !configure(t, s, camera.PresetLow, 30) {
		t.Fatal("Expected first configure to succeed")
	}
	if configure(t, s, camera.PresetHigh, 30) {
		t.Error("Expected second configure to fail")
	}
	if err := s.ConfigureWait(camera.PresetHigh, 30); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("Expected ErrAlreadyConfigured, got %v", err)
	}
	if s.Preset() != camera.PresetLow {
		t.Errorf("Expected preset low to be kept, got %q", s.Preset())
	}
}

// beyondInt32 はint32に収まらないフレームレートを返す
func beyondInt32() int {
	n := math.MaxInt32
	n++
	return n
}

func TestSession_ConfigureInvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		preset camera.Preset
		fps    int
	}{
		{"zero frame rate", camera.PresetHigh, 0},
		{"negative frame rate", camera.PresetHigh, -5},
		{"frame rate beyond int32", camera.PresetHigh, beyondInt32()},
		{"unknown preset", camera.Preset("ultra"), 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
			s := newTestSession(t, dev)

			if configure(t, s, tt.preset, tt.fps) {
				t.Error("Expected configure to fail")
			}
			if dev.IsOpen() {
				t.Error("Expected device to stay closed")
			}
		})
	}
}

func TestSession_CompletionOnCallbackQueue(t *testing.T) {
	callbacks := NewQueue("callbacks")
	defer callbacks.Close()

	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := NewSession(camera.NewMockProvider(dev), WithCallbackQueue(callbacks))
	defer func() { _ = s.Close() }()

	done := make(chan bool, 1)
	s.Configure(camera.PresetHigh, 30, func(ok bool) { done <- ok })

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Expected configure to succeed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestSession_RequiredSubtypeOption(t *testing.T) {
	formats := []camera.Format{
		hdFormat(camera.SubtypeFullRange420),
		hdFormat(camera.SubtypeYUYV),
	}
	dev := camera.NewMockDevice("cam", formats, hdFormat(camera.SubtypeMJPEG))
	s := NewSession(camera.NewMockProvider(dev), WithRequiredSubtype(camera.SubtypeYUYV))
	defer func() { _ = s.Close() }()

	if err := s.ConfigureWait(camera.PresetHigh, 30); err != nil {
		t.Fatalf("ConfigureWait failed: %v", err)
	}
	active, _ := s.ActiveFormat()
	if active.Subtype != camera.SubtypeYUYV {
		t.Errorf("Expected subtype yuvs, got %s", active.Subtype)
	}
}

func TestSession_StartStopIdempotent(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)

	// 設定前は何もしない
	s.Start()
	if s.IsRunning() {
		t.Fatal("Expected session not to run before configure")
	}

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}

	s.Start()
	s.Start()
	if !s.IsRunning() {
		t.Fatal("Expected session to be running")
	}
	if dev.StartCount() != 1 {
		t.Errorf("Expected streaming to start once, got %d", dev.StartCount())
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Fatal("Expected session to be stopped")
	}
	if s.State() != StateConfigured {
		t.Errorf("Expected state configured after stop, got %s", s.State())
	}
	if dev.StopCount() != 1 {
		t.Errorf("Expected streaming to stop once, got %d", dev.StopCount())
	}

	// 再開できる
	s.Start()
	if !s.IsRunning() || dev.StartCount() != 2 {
		t.Errorf("Expected restart, running=%v starts=%d", s.IsRunning(), dev.StartCount())
	}
}

func TestSession_FrameTimestampsNonDecreasing(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)
	rec := newRecorder()
	s.SetObserver(rec)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}
	s.Start()

	timestamps := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		15 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
		5 * time.Millisecond,
	}
	for i, ts := range timestamps {
		if i%2 == 0 {
			dev.Emit(ts, camera.NewPixelBuffer(4, 2))
		} else {
			dev.EmitDrop(ts)
		}
	}

	var prev time.Duration
	for i := range timestamps {
		got := rec.next(t)
		if got.timestamp < prev {
			t.Errorf("notification %d: timestamp %v is before %v", i, got.timestamp, prev)
		}
		prev = got.timestamp
	}
}

func TestSession_TimestampsNonDecreasingAcrossRestart(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)
	rec := newRecorder()
	s.SetObserver(rec)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}
	s.Start()
	dev.Emit(300*time.Millisecond, camera.NewPixelBuffer(4, 2))
	if got := rec.next(t); got.timestamp != 300*time.Millisecond {
		t.Fatalf("Expected 300ms, got %v", got.timestamp)
	}

	s.Stop()
	s.Start()

	// 再開後のデバイス時刻が小さくても前の通知を下回らない
	dev.Emit(10*time.Millisecond, camera.NewPixelBuffer(4, 2))
	if got := rec.next(t); got.timestamp < 300*time.Millisecond {
		t.Errorf("Expected timestamp >= 300ms after restart, got %v", got.timestamp)
	}
	dev.EmitDrop(20 * time.Millisecond)
	if got := rec.next(t); got.timestamp < 300*time.Millisecond {
		t.Errorf("Expected drop timestamp >= 300ms after restart, got %v", got.timestamp)
	}
}

func TestSession_QueuedSamplesAcrossRestart(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)
	rec := newRecorder()
	rec.gate = make(chan struct{})
	s.SetObserver(rec)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}
	s.Start()

	// 最初のフレームの配送を止めている間に後続を溜める
	dev.Emit(300*time.Millisecond, camera.NewPixelBuffer(4, 2))
	dev.EmitDrop(320 * time.Millisecond)

	restarted := make(chan struct{})
	go func() {
		s.Stop()
		s.Start()
		close(restarted)
	}()
	// Stopがワーカーに積まれるのを待つ
	time.Sleep(20 * time.Millisecond)
	close(rec.gate)

	select {
	case <-restarted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for restart")
	}
	dev.Emit(10*time.Millisecond, camera.NewPixelBuffer(4, 2))

	var prev time.Duration
	for i := 0; i < 3; i++ {
		got := rec.next(t)
		if got.timestamp < prev {
			t.Errorf("notification %d: timestamp %v is before %v", i, got.timestamp, prev)
		}
		prev = got.timestamp
	}
	if prev < 320*time.Millisecond {
		t.Errorf("Expected last timestamp >= 320ms, got %v", prev)
	}
}

func TestSession_DiscardsLateFrames(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)
	rec := newRecorder()
	rec.gate = make(chan struct{})
	s.SetObserver(rec)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}
	s.Start()

	// 最初のフレームの配送が終わるまでに届いたフレームは落とされる
	for i := 1; i <= 3; i++ {
		dev.Emit(time.Duration(i)*time.Millisecond, camera.NewPixelBuffer(4, 2))
	}
	close(rec.gate)

	want := []bool{true, false, false}
	for i, hasBuffer := range want {
		got := rec.next(t)
		if (got.buffer != nil) != hasBuffer {
			t.Errorf("notification %d: expected buffer=%v, got %v", i, hasBuffer, got.buffer != nil)
		}
	}

	dev.Emit(4*time.Millisecond, camera.NewPixelBuffer(4, 2))
	if got := rec.next(t); got.buffer == nil {
		t.Error("Expected frame after delivery completed")
	}

	delivered, dropped := s.Output().Counts()
	if delivered < 1 || dropped != 2 {
		t.Errorf("Expected 2 drops and at least 1 delivery, got delivered=%d dropped=%d", delivered, dropped)
	}
}

func TestSession_ObserverReplaceAndClear(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)
	first := newRecorder()
	second := newRecorder()
	s.SetObserver(first)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}
	s.Start()

	dev.EmitDrop(time.Millisecond)
	first.next(t)

	s.SetObserver(second)
	dev.EmitDrop(2 * time.Millisecond)
	second.next(t)

	s.SetObserver(nil)
	dev.EmitDrop(3 * time.Millisecond)
	// 通知先がない状態でもワーカーは止まらない
	s.Stop()

	select {
	case <-first.ch:
		t.Error("Expected replaced observer not to be notified")
	case <-second.ch:
		t.Error("Expected cleared observer not to be notified")
	default:
	}
}

func TestSession_PreviewReceivesFrames(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)
	rec := newRecorder()
	s.SetObserver(rec)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}
	s.Start()

	buf := camera.NewPixelBuffer(8, 4)
	dev.Emit(33*time.Millisecond, buf)
	rec.next(t)

	latest, ts := s.PreviewLayer().Latest()
	if latest != buf {
		t.Error("Expected preview to hold the latest frame")
	}
	if ts != 33*time.Millisecond {
		t.Errorf("Expected timestamp 33ms, got %v", ts)
	}
}

func TestSession_StopsDeliveringAfterStop(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)
	rec := newRecorder()
	s.SetObserver(rec)

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Fatal("Expected configure to succeed")
	}
	s.Start()
	s.Stop()

	if dev.Emit(time.Millisecond, camera.NewPixelBuffer(2, 2)) {
		t.Error("Expected device not to accept frames after stop")
	}
}

func TestSession_Close(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := NewSession(camera.NewMockProvider(dev))

	if err := s.ConfigureWait(camera.PresetHigh, 30); err != nil {
		t.Fatalf("ConfigureWait failed: %v", err)
	}
	s.Start()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if dev.IsOpen() || dev.IsStreaming() {
		t.Error("Expected device to be closed")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}

	// mainキューが閉じていても完了通知は失敗として届く
	if configure(t, s, camera.PresetHigh, 30) {
		t.Error("Expected configure after Close to fail")
	}
}

func TestSession_CompletionWhenCallbackQueueClosed(t *testing.T) {
	callbacks := NewQueue("callbacks")
	callbacks.Close()

	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := NewSession(camera.NewMockProvider(dev), WithCallbackQueue(callbacks))
	defer func() { _ = s.Close() }()

	if !configure(t, s, camera.PresetHigh, 30) {
		t.Error("Expected configure to succeed")
	}
}

// weakTarget は回収を確認するためのObserver
type weakTarget struct {
	frames int
	last   *camera.PixelBuffer
}

func (w *weakTarget) OnFrame(_ *Session, buffer *camera.PixelBuffer, _ time.Duration) {
	w.frames++
	w.last = buffer
}

func TestSession_SetWeakObserver(t *testing.T) {
	dev := camera.NewMockDevice("cam", testFormats(), hdFormat(camera.SubtypeYUYV))
	s := newTestSession(t, dev)

	target := &weakTarget{}
	SetWeakObserver(s, target)

	if err := s.ConfigureWait(camera.PresetHigh, 30); err != nil {
		t.Fatalf("ConfigureWait failed: %v", err)
	}
	s.Start()
	dev.EmitDrop(time.Millisecond)
	s.Stop()

	if target.frames != 1 {
		t.Errorf("Expected 1 notification, got %d", target.frames)
	}
	runtime.KeepAlive(target)

	// セッションは参照先の寿命を延ばさない
	collected := make(chan struct{})
	func() {
		other := &weakTarget{}
		runtime.AddCleanup(other, func(ch chan struct{}) { close(ch) }, collected)
		SetWeakObserver(s, other)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		runtime.GC()
		select {
		case <-collected:
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected observer to be collected while registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSession_SyntheticGenerator(t *testing.T) {
	provider, err := camera.NewSyntheticProvider(camera.ProviderConfig{})
	if err != nil {
		t.Fatalf("NewSyntheticProvider failed: %v", err)
	}
	s := NewSession(provider)
	defer func() { _ = s.Close() }()

	counter := NewFrameCounter()
	rec := newRecorder()
	s.SetObserver(Observers(counter, rec))

	if err := s.ConfigureWait(camera.PresetLow, 30); err != nil {
		t.Fatalf("ConfigureWait failed: %v", err)
	}
	s.Start()

	var got frameRecord
	for got.buffer == nil {
		got = rec.next(t)
	}
	s.Stop()

	// lowプリセットは 320x240
	if got.buffer.Width != 320 || got.buffer.Height != 240 {
		t.Errorf("Expected 320x240 frame, got %dx%d", got.buffer.Width, got.buffer.Height)
	}
	if counter.Snapshot().Frames == 0 {
		t.Error("Expected frame counter to count frames")
	}
}
