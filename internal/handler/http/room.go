package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"situation-room/internal/service"
)

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
	gate        *service.SubmissionGate
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService, gate *service.SubmissionGate) *RoomHandler {
	return &RoomHandler{roomService: roomService, gate: gate}
}

// CreateRoomRequest 定义创建房间请求的结构体
type CreateRoomRequest struct {
	OwnerID    string `json:"ownerId"`
	MaxMembers int    `json:"maxMembers"`
	Scenario   string `json:"scenario"`
}

// RoomActionRequest 用于 join / cancel / vote-cancel
type RoomActionRequest struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

// SubmitRequest 定义提交叙事请求的结构体
type SubmitRequest struct {
	Code     string `json:"code"`
	UserID   string `json:"userId"`
	Content  string `json:"content"`
	IsPublic bool   `json:"isPublic"`
}

// CreateRoom 处理创建新房间的请求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: Invalid request body")
		ErrorResponse(c, http.StatusBadRequest, CodeInvalidInput, "Invalid request body")
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), req.OwnerID, req.MaxMembers, req.Scenario)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, service.NewRoomView(room, req.OwnerID))
}

// JoinRoom 处理用户通过房间码加入房间的请求
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req RoomActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.JoinRoom: Invalid request body")
		ErrorResponse(c, http.StatusBadRequest, CodeInvalidInput, "Invalid request body")
		return
	}

	room, err := h.roomService.JoinRoom(c.Request.Context(), req.Code, req.UserID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, service.NewRoomView(room, req.UserID))
}

// Submit 处理叙事提交，成功时返回空对象
func (h *RoomHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Submit: Invalid request body")
		ErrorResponse(c, http.StatusBadRequest, CodeInvalidInput, "Invalid request body")
		return
	}

	if err := h.gate.Submit(c.Request.Context(), req.Code, req.UserID, req.Content, req.IsPublic); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{})
}

// GetRoom 返回房间详情，只有请求者自己的叙事原文可见
func (h *RoomHandler) GetRoom(c *gin.Context) {
	view, err := h.roomService.GetRoom(c.Request.Context(), c.Param("code"), c.Query("userId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, view)
}

// History 返回用户参与过的房间
func (h *RoomHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	views, err := h.roomService.History(c.Request.Context(), c.Query("userId"), limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, views)
}

// CancelRoom 房主解散房间
func (h *RoomHandler) CancelRoom(c *gin.Context) {
	var req RoomActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, CodeInvalidInput, "Invalid request body")
		return
	}
	room, err := h.roomService.CancelRoom(c.Request.Context(), req.Code, req.UserID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, service.NewRoomView(room, req.UserID))
}

// VoteCancel 成员投票解散
func (h *RoomHandler) VoteCancel(c *gin.Context) {
	var req RoomActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, CodeInvalidInput, "Invalid request body")
		return
	}
	room, err := h.roomService.VoteCancel(c.Request.Context(), req.Code, req.UserID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, service.NewRoomView(room, req.UserID))
}
