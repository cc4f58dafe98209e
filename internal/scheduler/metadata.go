package scheduler

import (
	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/types"
)

// EncodeMetadata packs a SchedulerJobMetadata into the compact 3-byte
// wire format of §6: {job_type: u8, is_running: bool, retry_attempt: u8}.
func EncodeMetadata(m types.SchedulerJobMetadata) []byte {
	running := byte(0)
	if m.IsRunning {
		running = 1
	}
	return []byte{byte(m.JobType), running, m.RetryAttempt}
}

// DecodeMetadata unpacks the 3-byte encoding, ignoring any trailing
// bytes beyond the third for forward compatibility, and reporting a
// KindValidation error ("corrupt metadata" per §4.6's
// resume semantics) when the blob is too short or the job_type is
// unrecognized — both trigger the caller's "delete the job" path.
func DecodeMetadata(blob []byte) (types.SchedulerJobMetadata, error) {
	if len(blob) < 3 {
		return types.SchedulerJobMetadata{}, retrackerr.New(retrackerr.KindValidation, "corrupt scheduler job metadata: too short")
	}
	jobType := types.SchedulerJobType(blob[0])
	switch jobType {
	case types.SchedulerJobTypeSchedule, types.SchedulerJobTypeRunDiscovery,
		types.SchedulerJobTypeTaskRun, types.SchedulerJobTypePerTrackerRun:
	default:
		return types.SchedulerJobMetadata{}, retrackerr.Newf(retrackerr.KindValidation, "corrupt scheduler job metadata: unknown job_type %d", blob[0])
	}
	return types.SchedulerJobMetadata{
		JobType:      jobType,
		IsRunning:    blob[1] != 0,
		RetryAttempt: blob[2],
	}, nil
}
