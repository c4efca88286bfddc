package domain

import "time"

// 房间事件类型，推送给订阅了房间事件流的客户端。
const (
	EventMemberJoined    = "member_joined"
	EventNarrativeSubmit = "narrative_submitted"
	EventAnalysisStarted = "analysis_started"
	EventReportReady     = "report_ready"
	EventRoomCancelled   = "room_cancelled"
)

// RoomEvent 只携带状态变化的摘要，不包含叙事内容。
type RoomEvent struct {
	Type     string     `json:"type"`
	RoomCode string     `json:"roomCode"`
	UserID   string     `json:"userId,omitempty"`
	Status   RoomStatus `json:"status"`
	Members  int        `json:"members"`
	At       time.Time  `json:"at"`
}

// NewRoomEvent 根据房间当前状态构造事件。
func NewRoomEvent(eventType string, room *Room, userID string) RoomEvent {
	return RoomEvent{
		Type:     eventType,
		RoomCode: room.Code,
		UserID:   userID,
		Status:   room.Status,
		Members:  len(room.Members),
		At:       time.Now().UTC(),
	}
}
