// Package server 本地控制面：把 dashboard 的操作暴露为 HTTP/JSON 接口（默认只监听 127.0.0.1）
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedash/internal/dashboard"
	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/tape"
)

var log = logrus.WithField("component", "controlplane")

// Backend 控制面依赖的操作集合（*dashboard.Dashboard）
type Backend interface {
	State() dashboard.State
	Login(ctx context.Context, email, password string) error
	Signup(ctx context.Context, req domain.SignupRequest) error
	Logout()
	Submit(ctx context.Context, intent domain.OrderIntent) (domain.Order, error)
	RefreshOrders(ctx context.Context) error
	ReconnectStream() error
	DismissNotification()
	RecentQuotes(ctx context.Context, symbol domain.Symbol, n int) ([]tape.QuoteRow, error)
	RecentOrderSnapshots(ctx context.Context, n int) ([]tape.OrderSnapshot, error)
}

type Config struct {
	Listen         string
	RequestTimeout time.Duration
}

type Server struct {
	cfg     Config
	backend Backend
	http    *http.Server
}

func New(cfg Config, backend Backend) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	return &Server{cfg: cfg, backend: backend}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/state", s.handleState)

	sess := api.Group("/session")
	sess.POST("/login", s.handleLogin)
	sess.POST("/signup", s.handleSignup)
	sess.POST("/logout", s.handleLogout)

	orders := api.Group("/orders")
	orders.POST("", s.handleSubmitOrder)
	orders.POST("/refresh", s.handleRefreshOrders)

	api.POST("/stream/reconnect", s.handleReconnect)
	api.POST("/notification/dismiss", s.handleDismiss)

	tp := api.Group("/tape")
	tp.GET("/quotes/:symbol", s.handleTapeQuotes)
	tp.GET("/orders", s.handleTapeOrders)

	return r
}

// Start 后台监听，返回实际监听地址（Listen 可以是 :0）
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return "", err
	}
	s.http = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	addr := ln.Addr().String()
	go func() {
		log.Infof("🛰️ 控制面监听: http://%s", addr)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("控制面异常退出: %v", err)
		}
	}()
	return addr, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}
