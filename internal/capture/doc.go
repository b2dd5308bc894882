// Package capture はカメラのキャプチャセッションを提供する
//
// Session はデフォルトのカメラを選び、要求されたフレームレートとピクセル形式を
// 満たすフォーマットを設定し、取得したフレームをObserverに通知する。
//
//	session := capture.NewSession(provider)
//	session.SetObserver(capture.NewFrameCounter())
//	session.Configure(camera.PresetHigh, 30, func(ok bool) {
//		if ok {
//			go session.Start()
//		}
//	})
//
// 通知はセッションのワーカー上でキャプチャ順に届く。落とされたフレームは
// バッファがnilの通知になる。
package capture
