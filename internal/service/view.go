package service

import (
	"time"

	"situation-room/internal/domain"
)

// SubmissionView 是对外展示的提交状态。Content 只对提交者本人可见。
type SubmissionView struct {
	UserID      string     `json:"userId"`
	Submitted   bool       `json:"submitted"`
	Content     string     `json:"content,omitempty"`
	IsPublic    bool       `json:"isPublic"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

// RoomView 是房间的对外视图，不暴露版本号等内部字段。
type RoomView struct {
	Code        string            `json:"code"`
	OwnerID     string            `json:"ownerId"`
	MaxMembers  int               `json:"maxMembers"`
	Scenario    string            `json:"scenario,omitempty"`
	Status      domain.RoomStatus `json:"status"`
	Members     []string          `json:"members"`
	Submissions []SubmissionView  `json:"submissions"`
	CancelVotes int               `json:"cancelVotes"`
	Analyzing   bool              `json:"analyzing"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// NewRoomView 构造 viewer 视角下的房间视图，其他成员的叙事原文被隐藏。
// viewer 为空时所有叙事都被隐藏。
func NewRoomView(room *domain.Room, viewer string) RoomView {
	members := make([]string, len(room.Members))
	copy(members, room.Members)

	subs := make([]SubmissionView, 0, len(room.Members))
	for _, m := range room.Members {
		view := SubmissionView{UserID: m}
		if s, ok := room.SubmissionOf(m); ok {
			view.Submitted = true
			view.IsPublic = s.IsPublic
			at := s.SubmittedAt
			view.SubmittedAt = &at
			if viewer != "" && m == viewer {
				view.Content = s.Content
			}
		}
		subs = append(subs, view)
	}

	return RoomView{
		Code:        room.Code,
		OwnerID:     room.OwnerID,
		MaxMembers:  room.MaxMembers,
		Scenario:    room.Scenario,
		Status:      room.Status,
		Members:     members,
		Submissions: subs,
		CancelVotes: len(room.CancelVotes),
		Analyzing:   room.Analyzing,
		CreatedAt:   room.CreatedAt,
		CompletedAt: room.CompletedAt,
	}
}
