package http

import "github.com/gin-gonic/gin"

// RegisterRoutes 挂载房间和报告相关的全部路由
func RegisterRoutes(r gin.IRouter, roomHandler *RoomHandler, reportHandler *ReportHandler) {
	r.POST("/room", roomHandler.CreateRoom)
	r.POST("/room/join", roomHandler.JoinRoom)
	r.POST("/room/submit", roomHandler.Submit)
	r.POST("/room/cancel", roomHandler.CancelRoom)
	r.POST("/room/vote-cancel", roomHandler.VoteCancel)
	r.GET("/room/:code", roomHandler.GetRoom)
	r.GET("/room/:code/report", reportHandler.GetReport)
	r.GET("/rooms", roomHandler.History)
}
