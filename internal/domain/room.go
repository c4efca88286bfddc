package domain

import (
	"sort"
	"time"

	"gorm.io/datatypes"
)

// RoomStatus 表示房间的生命周期状态。状态只会前进：WAITING -> IN_PROGRESS -> COMPLETED，
// 或者从前两者进入终态 CANCELLED。
type RoomStatus string

const (
	RoomStatusWaiting    RoomStatus = "WAITING"
	RoomStatusInProgress RoomStatus = "IN_PROGRESS"
	RoomStatusCompleted  RoomStatus = "COMPLETED"
	RoomStatusCancelled  RoomStatus = "CANCELLED"
)

const (
	MinMembers = 2
	MaxMembers = 8

	// MaxNarrativeRunes 按 Unicode 码点计数，而不是字节。
	MaxNarrativeRunes = 1000
	MaxScenarioRunes  = 2000
)

// Submission 是某个成员提交的叙事，写入后不可修改。
type Submission struct {
	UserID      string    `json:"userId"`
	Content     string    `json:"content"`
	IsPublic    bool      `json:"isPublic"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Room 表示一个情景房间。
type Room struct {
	Code       string     `gorm:"primaryKey;size:6"`
	OwnerID    string     `gorm:"size:64;not null;index"`
	MaxMembers int        `gorm:"not null"`
	Scenario   string     `gorm:"type:text"`
	Status     RoomStatus `gorm:"size:20;not null;index"`

	// Members 保持加入顺序且不重复
	Members     datatypes.JSONSlice[string]     `gorm:"type:text"`
	Submissions datatypes.JSONSlice[Submission] `gorm:"type:text"`
	CancelVotes datatypes.JSONSlice[string]     `gorm:"type:text"`

	// Version 是乐观锁版本号，每次 CompareAndSwap 成功后 +1
	Version uint `gorm:"not null;default:0"`

	Analyzing         bool   `gorm:"not null;default:false;index"`
	AnalysisAttempts  int    `gorm:"not null;default:0"`
	AnalysisFailures  int    `gorm:"not null;default:0"`
	LastAnalysisError string `gorm:"type:text"`
	AnalysisStartedAt *time.Time
	CompletedAt       *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Room) TableName() string { return "situation_rooms" }

// IsMember 判断 userID 是否已在房间中。
func (r *Room) IsMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// IsFull 判断房间人数是否已达上限。
func (r *Room) IsFull() bool {
	return len(r.Members) >= r.MaxMembers
}

func (r *Room) SubmissionOf(userID string) (Submission, bool) {
	for _, s := range r.Submissions {
		if s.UserID == userID {
			return s, true
		}
	}
	return Submission{}, false
}

func (r *Room) HasSubmitted(userID string) bool {
	_, ok := r.SubmissionOf(userID)
	return ok
}

// AllSubmitted 当且仅当当前每个成员都已提交叙事时返回 true。
func (r *Room) AllSubmitted() bool {
	if len(r.Members) < MinMembers {
		return false
	}
	for _, m := range r.Members {
		if !r.HasSubmitted(m) {
			return false
		}
	}
	return true
}

// SortedMembers 返回按用户 ID 升序排列的成员副本，用于生成确定性的报告顺序。
func (r *Room) SortedMembers() []string {
	out := make([]string, len(r.Members))
	copy(out, r.Members)
	sort.Strings(out)
	return out
}

// IsTerminal 表示房间已经结束，不再接受任何成员或提交变更。
func (r *Room) IsTerminal() bool {
	return r.Status == RoomStatusCompleted || r.Status == RoomStatusCancelled
}

// Clone 返回深拷贝，内存存储和测试用它来隔离调用方的修改。
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Members = append(datatypes.JSONSlice[string](nil), r.Members...)
	c.Submissions = append(datatypes.JSONSlice[Submission](nil), r.Submissions...)
	c.CancelVotes = append(datatypes.JSONSlice[string](nil), r.CancelVotes...)
	if r.AnalysisStartedAt != nil {
		t := *r.AnalysisStartedAt
		c.AnalysisStartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
