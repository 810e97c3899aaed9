package metrics

import "expvar"

var (
	// 行情流
	StreamConnects   = expvar.NewInt("stream_connects")
	StreamReconnects = expvar.NewInt("stream_reconnects")
	StreamErrors     = expvar.NewInt("stream_errors")
	FramesApplied    = expvar.NewInt("frames_applied")
	FramesStale      = expvar.NewInt("frames_stale")
	DecodeErrors     = expvar.NewInt("decode_errors")
	DecayClears      = expvar.NewInt("decay_clears")

	// 会话
	LoginAttempts        = expvar.NewInt("login_attempts")
	LoginFailures        = expvar.NewInt("login_failures")
	SessionInvalidations = expvar.NewInt("session_invalidations")

	// 订单
	OrdersSubmitted = expvar.NewInt("orders_submitted")
	OrdersRejected  = expvar.NewInt("orders_rejected")
	OrderRefreshes  = expvar.NewInt("order_refreshes")
	RefreshErrors   = expvar.NewInt("order_refresh_errors")

	NotificationsPublished = expvar.NewInt("notifications_published")

	// 行情磁带
	TapeWrites = expvar.NewInt("tape_writes")
	TapeDrops  = expvar.NewInt("tape_drops")
)
