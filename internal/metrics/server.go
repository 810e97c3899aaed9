package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "metrics")

// groups 按组件归类的计数器，/debug/tradedash 输出用
var groups = map[string]map[string]*expvar.Int{
	"stream": {
		"connects":      StreamConnects,
		"reconnects":    StreamReconnects,
		"errors":        StreamErrors,
		"frames":        FramesApplied,
		"stale_events":  FramesStale,
		"decode_errors": DecodeErrors,
		"decay_clears":  DecayClears,
	},
	"session": {
		"login_attempts": LoginAttempts,
		"login_failures": LoginFailures,
		"invalidations":  SessionInvalidations,
	},
	"orders": {
		"submitted":      OrdersSubmitted,
		"rejected":       OrdersRejected,
		"refreshes":      OrderRefreshes,
		"refresh_errors": RefreshErrors,
	},
	"notify": {
		"published": NotificationsPublished,
	},
	"tape": {
		"writes": TapeWrites,
		"drops":  TapeDrops,
	},
}

// Snapshot 当前计数器的分组快照
func Snapshot() map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(groups))
	for g, counters := range groups {
		m := make(map[string]int64, len(counters))
		for name, v := range counters {
			m[name] = v.Value()
		}
		out[g] = m
	}
	return out
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/tradedash", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Snapshot())
	})

	// pprof 显式注册到自己的 mux，不碰 DefaultServeMux
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// StartAsync 后台启动 metrics/debug 服务，ctx 结束时关闭。
// listenAddr 可以是 127.0.0.1:0，实际地址见返回值的 Addr。
func StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics 服务异常退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics 服务已启动: http://%s/debug/vars", s.Addr)
	return s, nil
}
