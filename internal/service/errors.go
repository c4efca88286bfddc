package service

import (
	"errors"

	"situation-room/internal/repository"
)

// 业务错误。所有客户端错误都在任何写入之前返回，调用方用 errors.Is 判断。
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrTooLong          = errors.New("narrative exceeds 1000 characters")
	ErrRoomNotFound     = errors.New("room not found")
	ErrNotAMember       = errors.New("user is not a member of the room")
	ErrNotOwner         = errors.New("only the room owner can do this")
	ErrInvalidState     = errors.New("operation not allowed in the current room state")
	ErrAlreadyMember    = errors.New("user is already a member of the room")
	ErrRoomFull         = errors.New("room is full")
	ErrAlreadySubmitted = errors.New("narrative already submitted")
	ErrNotReady         = errors.New("report is not ready yet")
	ErrAnalysisFailed   = errors.New("analysis failed after exhausting retries")
	ErrCodeExhausted    = errors.New("could not allocate a unique room code")
	ErrInternalServer   = errors.New("internal server error")
)

// mapRepoError 将仓库层的错误映射到服务层定义的错误。
// 未识别的错误一律视为内部错误。
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrLockTimeout):
		return ErrInternalServer
	}
	// 业务错误原样透传
	for _, known := range []error{
		ErrInvalidInput, ErrTooLong, ErrRoomNotFound, ErrNotAMember, ErrNotOwner,
		ErrInvalidState, ErrAlreadyMember, ErrRoomFull, ErrAlreadySubmitted,
		ErrNotReady, ErrAnalysisFailed, ErrCodeExhausted, ErrInternalServer,
	} {
		if errors.Is(err, known) {
			return known
		}
	}
	return ErrInternalServer
}
