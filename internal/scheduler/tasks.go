package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskHybridPipelineRun = "pipeline.hybrid_run"

const TaskBatchReprocess = "batches.reprocess"

type HybridPipelineRunPayload struct {
	Trigger  string `json:"trigger"`
	TenantID string `json:"tenantId"`
}

// BatchReprocessPayload identifies recovered batches to push back through
// the fallback stage. ConversationID is empty for a tenant-wide sweep.
type BatchReprocessPayload struct {
	ConversationID string `json:"conversationId,omitempty"`
	TenantID       string `json:"tenantId"`
}

func NewHybridPipelineRunTask(payload HybridPipelineRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskHybridPipelineRun, data), nil
}

func ParseHybridPipelineRunPayload(task *asynq.Task) (HybridPipelineRunPayload, error) {
	var payload HybridPipelineRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return HybridPipelineRunPayload{}, err
	}
	return payload, nil
}

func NewBatchReprocessTask(payload BatchReprocessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchReprocess, data), nil
}

func ParseBatchReprocessPayload(task *asynq.Task) (BatchReprocessPayload, error) {
	var payload BatchReprocessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return BatchReprocessPayload{}, err
	}
	return payload, nil
}
