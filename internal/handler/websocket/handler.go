package websocket

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	httphandler "situation-room/internal/handler/http"
	"situation-room/internal/hub"
	"situation-room/internal/service"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	hub         *hub.Hub
	roomService *service.RoomService
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空或 "*" 时接受任意来源。
func NewWebSocketHandler(hub *hub.Hub, roomService *service.RoomService, allowedOrigin string) *WebSocketHandler {
	if hub == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if roomService == nil {
		panic("RoomService cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		hub:         hub,
		roomService: roomService,
	}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/room/{code}?userId=xxx
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	code := service.NormalizeCode(c.Param("code"))
	userID := strings.TrimSpace(c.Query("userId"))
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": userID})

	if userID == "" {
		httphandler.ErrorResponse(c, http.StatusBadRequest, httphandler.CodeInvalidInput, "userId is required")
		return
	}

	// 升级前先确认房间存在且请求者是成员，失败时仍可返回普通 HTTP 错误
	view, err := h.roomService.GetRoom(c.Request.Context(), code, userID)
	if err != nil {
		logCtx.WithError(err).Warn("WS Handler: Room validation failed")
		httphandler.HandleServiceError(c, err)
		return
	}
	member := false
	for _, m := range view.Members {
		if m == userID {
			member = true
			break
		}
	}
	if !member {
		logCtx.Warn("WS Handler: Non-member tried to subscribe")
		httphandler.HandleServiceError(c, service.ErrNotAMember)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, code, userID)
	if !h.hub.QueueMessage(hub.HubMessage{Type: "register", Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}

	client.Run()
	logCtx.Info("WS Handler: Client read/write pumps started")
}
