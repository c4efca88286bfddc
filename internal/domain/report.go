package domain

import "time"

const (
	MinScore = 0
	MaxScore = 100
)

// PersonalSketch 是仅由某个成员自己的叙事推导出的人物画像。
type PersonalSketch struct {
	UserID   string `json:"userId"`
	Sketch   string `json:"sketch"`
	Degraded bool   `json:"degraded,omitempty"`
}

// PairCompatibility 描述一对成员的契合度，UserA < UserB (字典序)。
type PairCompatibility struct {
	UserA    string `json:"userA"`
	UserB    string `json:"userB"`
	Score    int    `json:"score"`
	Reason   string `json:"reason"`
	Degraded bool   `json:"degraded,omitempty"`
}

// PublicSubmission 是成员选择公开的叙事原文。
type PublicSubmission struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

// Report 是房间完成后的完整分析结果，生成一次后不可变。
type Report struct {
	RoomCode          string              `json:"roomCode"`
	Personal          []PersonalSketch    `json:"personal"`
	Pairs             []PairCompatibility `json:"pairs"`
	PublicSubmissions []PublicSubmission  `json:"publicSubmissions"`
	Degraded          bool                `json:"degraded"`
	GeneratedAt       time.Time           `json:"generatedAt"`
}

// StoredReport 是报告的持久化行。Payload 保存序列化后的原始 JSON，
// 重复读取时原样返回，保证字节级一致。
type StoredReport struct {
	ID        uint      `gorm:"primaryKey"`
	RoomCode  string    `gorm:"size:6;uniqueIndex;not null"`
	Payload   string    `gorm:"size:16777215;not null"`
	Degraded  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (StoredReport) TableName() string { return "situation_reports" }
