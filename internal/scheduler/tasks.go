package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskDialogueTurn = "dialogue.turn"

const TaskDialerTick = "dialer.tick"

type DialogueTurnPayload struct {
	CallID  string `json:"callId"`
	TurnSeq int    `json:"turnSeq"`
}

func NewDialogueTurnTask(payload DialogueTurnPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDialogueTurn, data), nil
}

func ParseDialogueTurnPayload(task *asynq.Task) (DialogueTurnPayload, error) {
	var payload DialogueTurnPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DialogueTurnPayload{}, err
	}
	return payload, nil
}

func NewDialerTickTask() *asynq.Task {
	return asynq.NewTask(TaskDialerTick, nil)
}
