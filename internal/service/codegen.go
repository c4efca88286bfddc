package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"situation-room/internal/repository"
)

const (
	// 去掉了容易混淆的 0/O/1/I
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength      = 6
	maxCodeAttempts = 10
)

// CodeGenerator 生成房间码。唯一性由存储层的原子插入保证，这里只负责生成和有限次重试。
type CodeGenerator struct {
	maxAttempts int
	// randRead 可在测试中替换
	randRead func([]byte) (int, error)
}

func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{maxAttempts: maxCodeAttempts, randRead: rand.Read}
}

// Generate 返回一个 6 位的随机房间码。
func (g *CodeGenerator) Generate() (string, error) {
	b := make([]byte, codeLength)
	if _, err := g.randRead(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	// 32 整除 256，取模不会引入偏差
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}

// Allocate 循环生成房间码并调用 reserve 占用，reserve 返回 ErrDuplicateEntry 时换一个码重试。
// 超过最大次数返回 ErrCodeExhausted。
func (g *CodeGenerator) Allocate(ctx context.Context, reserve func(ctx context.Context, code string) error) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := g.Generate()
		if err != nil {
			return "", err
		}
		err = reserve(ctx, code)
		if err == nil {
			logrus.WithField("room_code", code).Debugf("Allocated room code after %d attempt(s)", attempt)
			return code, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEntry) {
			return "", err
		}
		logrus.WithField("room_code", code).Warnf("Room code already taken, retrying (attempt %d)", attempt)
	}
	logrus.Errorf("Failed to allocate a unique room code after %d attempts", g.maxAttempts)
	return "", ErrCodeExhausted
}
