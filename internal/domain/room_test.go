package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestRoom(members ...string) *Room {
	return &Room{
		Code:       "ABC234",
		OwnerID:    members[0],
		MaxMembers: 4,
		Status:     RoomStatusInProgress,
		Members:    members,
	}
}

func TestRoom_AllSubmitted(t *testing.T) {
	room := newTestRoom("alice", "bob")
	assert.False(t, room.AllSubmitted(), "没有人提交时不应视为全部提交")

	room.Submissions = append(room.Submissions, Submission{UserID: "alice", Content: "a"})
	assert.False(t, room.AllSubmitted())

	room.Submissions = append(room.Submissions, Submission{UserID: "bob", Content: "b"})
	assert.True(t, room.AllSubmitted())

	// 新成员加入后需要重新等待
	room.Members = append(room.Members, "carol")
	assert.False(t, room.AllSubmitted())
}

func TestRoom_AllSubmitted_SingleMemberNeverTriggers(t *testing.T) {
	room := newTestRoom("alice")
	room.Submissions = append(room.Submissions, Submission{UserID: "alice", Content: "a"})
	assert.False(t, room.AllSubmitted(), "少于两名成员时不应触发分析")
}

func TestRoom_SortedMembersDoesNotMutate(t *testing.T) {
	room := newTestRoom("carol", "alice", "bob")
	assert.Equal(t, []string{"alice", "bob", "carol"}, room.SortedMembers())
	assert.Equal(t, []string{"carol", "alice", "bob"}, []string(room.Members), "原成员顺序应保持加入顺序")
}

func TestRoom_CloneIsDeep(t *testing.T) {
	started := time.Now()
	room := newTestRoom("alice", "bob")
	room.AnalysisStartedAt = &started
	room.Submissions = append(room.Submissions, Submission{UserID: "alice", Content: "a"})

	c := room.Clone()
	c.Members[0] = "mallory"
	c.Submissions[0].Content = "changed"
	*c.AnalysisStartedAt = started.Add(time.Hour)

	assert.Equal(t, "alice", room.Members[0])
	assert.Equal(t, "a", room.Submissions[0].Content)
	assert.True(t, room.AnalysisStartedAt.Equal(started))
}

func TestRoom_IsFullAndTerminal(t *testing.T) {
	room := newTestRoom("alice", "bob")
	room.MaxMembers = 2
	assert.True(t, room.IsFull())
	assert.False(t, room.IsTerminal())

	room.Status = RoomStatusCancelled
	assert.True(t, room.IsTerminal())
	room.Status = RoomStatusCompleted
	assert.True(t, room.IsTerminal())
}
