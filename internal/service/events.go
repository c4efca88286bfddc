package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"situation-room/internal/domain"
	"situation-room/internal/repository"
)

const publishTimeout = 3 * time.Second

// publishEvent 发布失败只记日志，不影响调用结果
func publishEvent(ctx context.Context, pub repository.EventPublisher, eventType string, room *domain.Room, userID string) {
	if pub == nil || room == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	event := domain.NewRoomEvent(eventType, room, userID)
	if err := pub.PublishRoomEvent(pubCtx, event); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_code":  room.Code,
			"event_type": eventType,
		}).WithError(err).Warn("Failed to publish room event")
	}
}
