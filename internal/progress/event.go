package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDegraded  Stage = "JOB_DEGRADED"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StagePageFetched  Stage = "PAGE_FETCHED"
	StageBatchDone    Stage = "BATCH_DONE"
	StageRecordOK     Stage = "RECORD_EXTRACTED"
	StageRecordFailed Stage = "RECORD_FAILED"
)

// Event captures a single milestone of pipeline progress.
type Event struct {
	// JobID uniquely identifies a job run using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, discovery, or extraction milestone
	// occurred.
	Stage Stage
	// Source labels discovery events with the archive index they came from.
	Source string
	// URL is the optional snapshot URL; it should not contain credentials.
	URL string
	// PageIndex is the index page number for discovery events.
	PageIndex int
	// Records carries the record count delta for a fetched page.
	Records int64
	// Method names the extraction strategy that produced the content.
	Method string
	// Quality is the extraction quality score in [0,1].
	Quality float64
	// Words is the extracted word count.
	Words int64
	// Dur captures execution latency for fetches, extractions, and job
	// completions.
	Dur time.Duration
	// Counters carries the running job totals on BATCH_DONE events.
	Counters BatchCounters
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// BatchCounters is the per-job running tally reported after each batch.
type BatchCounters struct {
	Discovered int64
	Filtered   int64
	Extracted  int64
	Failed     int64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDegraded, StageJobDone, StageJobError:
	case StagePageFetched:
		if e.Source == "" {
			return errors.New("page fetched requires source")
		}
	case StageBatchDone:
	case StageRecordOK:
		if e.Method == "" {
			return errors.New("record extracted requires method")
		}
	case StageRecordFailed:
		if e.URL == "" {
			return errors.New("record failed requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID to uuid.UUID for repositories.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseJobID converts a string job ID to the Event form. Unparseable IDs map
// to the zero value, which Validate rejects.
func ParseJobID(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(parsed)
}
