package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeReportGenerate = "report:generate" // 生成房间报告
	TypeAnalysisSweep  = "analysis:sweep"  // 周期性扫描卡住的分析
)

const (
	// 整轮分析失败后由 asynq 重试的次数
	reportMaxRetry = 4
	// 单个报告任务的执行上限，应大于 ANALYSIS_TIMEOUT
	reportTaskTimeout = 5 * time.Minute
)

// ReportGeneratePayload 定义了报告生成任务的数据结构
type ReportGeneratePayload struct {
	RoomCode string `json:"roomCode"`
	Attempt  int    `json:"attempt"`
}

// ReportTaskID 同一房间同一轮次只允许入队一次
func ReportTaskID(roomCode string, attempt int) string {
	return fmt.Sprintf("report:%s:%d", roomCode, attempt)
}

// NewReportGenerateTask 创建一个新的报告生成任务
func NewReportGenerateTask(roomCode string, attempt int) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(ReportGeneratePayload{RoomCode: roomCode, Attempt: attempt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReportGenerate, payloadBytes,
		asynq.TaskID(ReportTaskID(roomCode, attempt)),
		asynq.MaxRetry(reportMaxRetry),
		asynq.Timeout(reportTaskTimeout),
		asynq.Queue("critical"),
	), nil
}

// ParseReportGeneratePayload 解析报告任务负载
func ParseReportGeneratePayload(data []byte) (ReportGeneratePayload, error) {
	var p ReportGeneratePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if p.RoomCode == "" || p.Attempt <= 0 {
		return p, fmt.Errorf("invalid report payload: room=%q attempt=%d", p.RoomCode, p.Attempt)
	}
	return p, nil
}

// NewAnalysisSweepTask 创建周期性扫描任务，负载为空
func NewAnalysisSweepTask() *asynq.Task {
	return asynq.NewTask(TypeAnalysisSweep, nil, asynq.MaxRetry(0), asynq.Queue("low"))
}
