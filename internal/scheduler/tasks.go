package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskCallExpire = "calls.expire"

type CallExpirePayload struct {
	LeadID string `json:"leadId"`
	CallID string `json:"callId"`
}

func NewCallExpireTask(payload CallExpirePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCallExpire, data), nil
}

func ParseCallExpirePayload(task *asynq.Task) (CallExpirePayload, error) {
	var payload CallExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CallExpirePayload{}, err
	}
	return payload, nil
}
