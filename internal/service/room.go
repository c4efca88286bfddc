package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"situation-room/internal/domain"
	"situation-room/internal/repository"
)

const defaultHistoryLimit = 50

// RoomService 负责房间生命周期：创建、加入、查询、解散。
type RoomService struct {
	roomRepo  repository.RoomRepository
	mutator   *roomMutator
	codes     *CodeGenerator
	publisher repository.EventPublisher
}

// NewRoomService 创建 RoomService 实例。publisher 可以为 nil。
func NewRoomService(roomRepo repository.RoomRepository, locker repository.RoomLocker, codes *CodeGenerator, publisher repository.EventPublisher) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if locker == nil {
		panic("RoomLocker cannot be nil for RoomService")
	}
	if codes == nil {
		codes = NewCodeGenerator()
	}
	return &RoomService{
		roomRepo:  roomRepo,
		mutator:   &roomMutator{rooms: roomRepo, locker: locker},
		codes:     codes,
		publisher: publisher,
	}
}

// NormalizeCode 房间码大小写不敏感
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoom 创建一个新房间，房主是唯一成员，状态为 WAITING。
func (s *RoomService) CreateRoom(ctx context.Context, ownerID string, maxMembers int, scenario string) (*domain.Room, error) {
	ownerID = strings.TrimSpace(ownerID)
	logCtx := logrus.WithFields(logrus.Fields{"owner_id": ownerID, "operation": "CreateRoom"})

	if ownerID == "" || maxMembers < domain.MinMembers || maxMembers > domain.MaxMembers {
		return nil, ErrInvalidInput
	}
	if utf8.RuneCountInString(scenario) > domain.MaxScenarioRunes {
		return nil, ErrInvalidInput
	}

	var created *domain.Room
	code, err := s.codes.Allocate(ctx, func(ctx context.Context, code string) error {
		room := &domain.Room{
			Code:       code,
			OwnerID:    ownerID,
			MaxMembers: maxMembers,
			Scenario:   scenario,
			Status:     domain.RoomStatusWaiting,
			Members:    []string{ownerID},
		}
		if err := s.roomRepo.Create(ctx, room); err != nil {
			return err
		}
		created = room
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCodeExhausted) {
			return nil, ErrCodeExhausted
		}
		logCtx.WithError(err).Error("Failed to save new room")
		return nil, ErrInternalServer
	}

	logCtx.WithField("room_code", code).Info("Room created successfully")
	return created, nil
}

// JoinRoom 将 userID 加入房间。人数达到 2 时房间在同一次写入中进入 IN_PROGRESS。
func (s *RoomService) JoinRoom(ctx context.Context, code, userID string) (*domain.Room, error) {
	code = NormalizeCode(code)
	userID = strings.TrimSpace(userID)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": userID, "operation": "JoinRoom"})
	if code == "" || userID == "" {
		return nil, ErrInvalidInput
	}

	room, err := s.mutator.mutate(ctx, code, func(room *domain.Room) error {
		if room.IsTerminal() || room.Analyzing {
			return ErrInvalidState
		}
		if room.IsMember(userID) {
			return ErrAlreadyMember
		}
		if room.IsFull() {
			return ErrRoomFull
		}
		room.Members = append(room.Members, userID)
		if room.Status == domain.RoomStatusWaiting && len(room.Members) >= domain.MinMembers {
			room.Status = domain.RoomStatusInProgress
		}
		return nil
	})
	if err != nil {
		mapped := mapRepoError(err)
		if mapped == ErrInternalServer {
			logCtx.WithError(err).Error("Failed to join room")
		} else {
			logCtx.WithError(err).Warn("Join rejected")
		}
		return nil, mapped
	}

	logCtx.WithField("members", len(room.Members)).Info("User joined room successfully")
	publishEvent(ctx, s.publisher, domain.EventMemberJoined, room, userID)
	return room, nil
}

// GetRoom 返回 viewer 视角下的房间详情
func (s *RoomService) GetRoom(ctx context.Context, code, viewer string) (*RoomView, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidInput
	}
	room, err := s.roomRepo.FindByCode(ctx, code)
	if err != nil {
		mapped := mapRepoError(err)
		if mapped == ErrInternalServer {
			logrus.WithField("room_code", code).WithError(err).Error("GetRoom: Repository error")
		}
		return nil, mapped
	}
	view := NewRoomView(room, strings.TrimSpace(viewer))
	return &view, nil
}

// History 返回 userID 参与过的房间，最新的在前。
func (s *RoomService) History(ctx context.Context, userID string, limit int) ([]RoomView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	rooms, err := s.roomRepo.FindByMember(ctx, userID, limit)
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Error("History: Repository error")
		return nil, ErrInternalServer
	}
	views := make([]RoomView, 0, len(rooms))
	for i := range rooms {
		views = append(views, NewRoomView(&rooms[i], userID))
	}
	return views, nil
}

// CancelRoom 房主解散房间。分析进行中或已结束的房间不可解散。
func (s *RoomService) CancelRoom(ctx context.Context, code, userID string) (*domain.Room, error) {
	code = NormalizeCode(code)
	userID = strings.TrimSpace(userID)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": userID, "operation": "CancelRoom"})
	if code == "" || userID == "" {
		return nil, ErrInvalidInput
	}

	room, err := s.mutator.mutate(ctx, code, func(room *domain.Room) error {
		if room.OwnerID != userID {
			return ErrNotOwner
		}
		if room.IsTerminal() || room.Analyzing {
			return ErrInvalidState
		}
		room.Status = domain.RoomStatusCancelled
		return nil
	})
	if err != nil {
		mapped := mapRepoError(err)
		if mapped == ErrInternalServer {
			logCtx.WithError(err).Error("Failed to cancel room")
		}
		return nil, mapped
	}

	logCtx.Info("Room cancelled by owner")
	publishEvent(ctx, s.publisher, domain.EventRoomCancelled, room, userID)
	return room, nil
}

// VoteCancel 成员投票解散进行中的房间，票数超过成员数一半时解散。重复投票不重复计数。
func (s *RoomService) VoteCancel(ctx context.Context, code, userID string) (*domain.Room, error) {
	code = NormalizeCode(code)
	userID = strings.TrimSpace(userID)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": userID, "operation": "VoteCancel"})
	if code == "" || userID == "" {
		return nil, ErrInvalidInput
	}

	room, err := s.mutator.mutate(ctx, code, func(room *domain.Room) error {
		if room.Status != domain.RoomStatusInProgress || room.Analyzing {
			return ErrInvalidState
		}
		if !room.IsMember(userID) {
			return ErrNotAMember
		}
		for _, v := range room.CancelVotes {
			if v == userID {
				return errNoChange
			}
		}
		room.CancelVotes = append(room.CancelVotes, userID)
		if len(room.CancelVotes) > len(room.Members)/2 {
			room.Status = domain.RoomStatusCancelled
		}
		return nil
	})
	if err != nil {
		mapped := mapRepoError(err)
		if mapped == ErrInternalServer {
			logCtx.WithError(err).Error("Failed to record cancel vote")
		}
		return nil, mapped
	}

	logCtx.WithFields(logrus.Fields{"votes": len(room.CancelVotes), "status": room.Status}).Info("Cancel vote recorded")
	if room.Status == domain.RoomStatusCancelled {
		publishEvent(ctx, s.publisher, domain.EventRoomCancelled, room, userID)
	}
	return room, nil
}
