package scheduler

import (
	"encoding/json"
	"fmt"

	"chatfunnel_backend/internal/conversations/worker"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskProcessMessage = "conversations.process"

const TaskReengagementSweep = "conversations.reengagement.sweep"

type ProcessMessagePayload struct {
	SessionID        string  `json:"sessionId"`
	TriggerMessageID *string `json:"triggerMessageId,omitempty"`
	Force            bool    `json:"force,omitempty"`
}

func NewProcessMessageTask(payload ProcessMessagePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessMessage, data), nil
}

func ParseProcessMessagePayload(task *asynq.Task) (ProcessMessagePayload, error) {
	var payload ProcessMessagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessMessagePayload{}, err
	}
	return payload, nil
}

// Trigger converts the payload into a worker trigger.
func (p ProcessMessagePayload) Trigger() (worker.Trigger, error) {
	sessionID, err := uuid.Parse(p.SessionID)
	if err != nil {
		return worker.Trigger{}, fmt.Errorf("invalid session id: %w", err)
	}

	trig := worker.Trigger{SessionID: sessionID, Force: p.Force}
	if p.TriggerMessageID != nil && *p.TriggerMessageID != "" {
		messageID, err := uuid.Parse(*p.TriggerMessageID)
		if err != nil {
			return worker.Trigger{}, fmt.Errorf("invalid trigger message id: %w", err)
		}
		trig.MessageID = &messageID
	}
	return trig, nil
}

func NewReengagementSweepTask() *asynq.Task {
	return asynq.NewTask(TaskReengagementSweep, nil)
}
