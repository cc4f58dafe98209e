package scheduler

import (
	"encoding/json"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/types"
)

func decodeTaskPayload(task types.Task, out any) error {
	if err := json.Unmarshal(task.Payload, out); err != nil {
		return retrackerr.Wrapf(retrackerr.KindValidation, err, "decode task %s payload", task.ID)
	}
	return nil
}

func mustMarshalJSON(v any) json.RawMessage {
	encoded, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return encoded
}
