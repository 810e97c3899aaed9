package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/betbot/tradedash/internal/dashboard"
	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/session"
	"github.com/betbot/tradedash/internal/stream"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.State())
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.backend.Login(ctx, strings.TrimSpace(req.Email), req.Password); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.backend.State())
}

func (s *Server) handleSignup(c *gin.Context) {
	var req domain.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	req.Email = strings.TrimSpace(req.Email)
	if err := s.backend.Signup(ctx, req); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.backend.State())
}

func (s *Server) handleLogout(c *gin.Context) {
	s.backend.Logout()
	c.JSON(http.StatusOK, s.backend.State())
}

func (s *Server) handleSubmitOrder(c *gin.Context) {
	var intent domain.OrderIntent
	if err := c.ShouldBindJSON(&intent); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	order, err := s.backend.Submit(ctx, intent)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

func (s *Server) handleRefreshOrders(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.backend.RefreshOrders(ctx); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": s.backend.State().Orders})
}

func (s *Server) handleReconnect(c *gin.Context) {
	if err := s.backend.ReconnectStream(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (s *Server) handleDismiss(c *gin.Context) {
	s.backend.DismissNotification()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTapeQuotes(c *gin.Context) {
	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	ctx, cancel := s.requestContext(c)
	defer cancel()

	rows, err := s.backend.RecentQuotes(ctx, symbol, queryLimit(c, 50))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "quotes": rows})
}

func (s *Server) handleTapeOrders(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	snaps, err := s.backend.RecentOrderSnapshots(ctx, queryLimit(c, 10))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

// queryLimit 解析 ?limit=，超出 1..1000 时用默认值
func queryLimit(c *gin.Context, def int) int {
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// writeErr 按错误类型映射 HTTP 状态码
func writeErr(c *gin.Context, err error) {
	var (
		ve *domain.ValidationError
		ae *domain.AuthError
		se *domain.ServerError
		ne *domain.NetworkError
	)
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
	case errors.As(err, &ae):
		writeError(c, http.StatusUnauthorized, ae.Message)
	case errors.Is(err, domain.ErrNoSession), errors.Is(err, domain.ErrUnauthorized):
		writeError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, session.ErrAlreadyAuthenticated), errors.Is(err, stream.ErrNotArmed):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, dashboard.ErrTapeDisabled):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.As(err, &se):
		writeError(c, http.StatusUnprocessableEntity, se.Message)
	case errors.As(err, &ne):
		writeError(c, http.StatusBadGateway, err.Error())
	default:
		log.Errorf("请求失败: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		writeError(c, http.StatusInternalServerError, err.Error())
	}
}
