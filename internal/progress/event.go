package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StageBatchDone  Stage = "BATCH_DONE"
	StageItemFailed Stage = "ITEM_FAILED"
	StageCheckpoint Stage = "CHECKPOINT"
	StageCrawlDone  Stage = "CRAWL_DONE"
)

// Event captures a single crawl milestone.
type Event struct {
	// RunID identifies the crawl run that produced the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Batch is the 1-based round number for BATCH_DONE events.
	Batch int
	// Size is the number of links dispatched in the batch.
	Size int
	// Pending is the frontier length after the batch settled.
	Pending int
	// Admitted is the number of records newly indexed so far.
	Admitted int
	URL      string
	Dur      time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCheckpoint, StageCrawlDone:
	case StageBatchDone:
		if e.Batch <= 0 {
			return errors.New("batch done requires a batch number")
		}
	case StageItemFailed:
		if e.URL == "" {
			return errors.New("item failed requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
