package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"situation-room/internal/domain"
	"situation-room/internal/repository"
)

// SubmissionGate 记录成员叙事，并在最后一份叙事到达时触发且仅触发一次分析。
type SubmissionGate struct {
	mutator    *roomMutator
	dispatcher Dispatcher
	publisher  repository.EventPublisher
}

func NewSubmissionGate(roomRepo repository.RoomRepository, locker repository.RoomLocker, dispatcher Dispatcher, publisher repository.EventPublisher) *SubmissionGate {
	if roomRepo == nil || locker == nil {
		panic("RoomRepository and RoomLocker cannot be nil for SubmissionGate")
	}
	if dispatcher == nil {
		panic("Dispatcher cannot be nil for SubmissionGate")
	}
	return &SubmissionGate{
		mutator:    &roomMutator{rooms: roomRepo, locker: locker},
		dispatcher: dispatcher,
		publisher:  publisher,
	}
}

// Submit 记录 userID 在房间 code 中的叙事。
// 校验顺序：内容 -> 房间存在 -> 成员资格 -> 房间状态 -> 重复提交。
func (g *SubmissionGate) Submit(ctx context.Context, code, userID, content string, isPublic bool) error {
	code = NormalizeCode(code)
	userID = strings.TrimSpace(userID)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": userID, "operation": "Submit"})

	if code == "" || userID == "" || strings.TrimSpace(content) == "" {
		return ErrInvalidInput
	}
	if utf8.RuneCountInString(content) > domain.MaxNarrativeRunes {
		return ErrTooLong
	}

	var triggered bool
	room, err := g.mutator.mutate(ctx, code, func(room *domain.Room) error {
		// CAS 冲突重试时 fn 会再次执行，标志必须在这里重置
		triggered = false
		if !room.IsMember(userID) {
			return ErrNotAMember
		}
		if room.Status != domain.RoomStatusInProgress || room.Analyzing {
			return ErrInvalidState
		}
		if room.HasSubmitted(userID) {
			return ErrAlreadySubmitted
		}
		now := time.Now().UTC()
		room.Submissions = append(room.Submissions, domain.Submission{
			UserID:      userID,
			Content:     content,
			IsPublic:    isPublic,
			SubmittedAt: now,
		})
		if room.AllSubmitted() {
			room.Analyzing = true
			room.AnalysisAttempts++
			room.AnalysisStartedAt = &now
			triggered = true
		}
		return nil
	})
	if err != nil {
		mapped := mapRepoError(err)
		if mapped == ErrInternalServer {
			logCtx.WithError(err).Error("Failed to record submission")
		} else {
			logCtx.WithError(err).Warn("Submission rejected")
		}
		return mapped
	}

	logCtx.Info("Narrative recorded")
	publishEvent(ctx, g.publisher, domain.EventNarrativeSubmit, room, userID)

	if triggered {
		logCtx = logCtx.WithField("attempt", room.AnalysisAttempts)
		logCtx.Info("All members submitted, dispatching analysis")
		publishEvent(ctx, g.publisher, domain.EventAnalysisStarted, room, "")
		if err := g.dispatcher.DispatchAnalysis(ctx, code, room.AnalysisAttempts); err != nil {
			// 房间已标记为分析中，卡滞扫描会重新派发
			logCtx.WithError(err).Error("Failed to dispatch analysis")
		}
	}
	return nil
}
