package dbspgraph

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gauss1314/geaflow-go/dbspgraph/job"
	"golang.org/x/xerrors"
)

// schedState is the cycle scheduler's explicit state machine, mirroring the
// original Init/Running/Finished enum rather than a plain iteration counter
// so resume-from-checkpoint and the terminal "no messages sent" condition
// are both represented as first-class transitions.
type schedState int

const (
	schedInit schedState = iota
	schedRunning
	schedFinished
)

// SchedulerResult reports how many supersteps actually executed.
type SchedulerResult struct {
	ExecutedIterations int
}

// RunCycles drives driver through supersteps 1..spec.Algorithm.Iterations
// (or fewer, if a superstep produces no messages), checkpointing at
// spec.Checkpoint.IntervalIter boundaries when enabled, and resuming from
// the latest checkpoint under spec.Checkpoint.BaseDir/spec.JobID if one
// exists.
func RunCycles(d *Driver, spec job.Spec) (SchedulerResult, error) {
	maxIterations := spec.Algorithm.Iterations

	state := schedInit
	inbox := make([]Inbox, d.NumWorkers())
	startIteration := 1

	if spec.Checkpoint.Enabled && spec.Checkpoint.IntervalIter > 0 {
		latestPath := job.LatestPath(spec.Checkpoint.BaseDir, spec.JobID)
		if job.Exists(latestPath) {
			meta, err := job.ReadMeta(latestPath)
			if err != nil {
				return SchedulerResult{}, xerrors.Errorf("read latest checkpoint meta: %w", err)
			}
			if err := d.LoadCheckpoint(meta.StateDir); err != nil {
				return SchedulerResult{}, xerrors.Errorf("load checkpoint %s: %w", meta.CheckpointID, err)
			}
			loaded, err := loadInboxes(meta.InboxesPath)
			if err != nil {
				return SchedulerResult{}, xerrors.Errorf("load checkpointed inboxes: %w", err)
			}
			inbox = loaded
			startIteration = meta.Iteration + 1
		}
	}

	iteration := startIteration
	executed := 0

	for {
		switch state {
		case schedInit:
			state = schedRunning

		case schedRunning:
			if iteration > maxIterations {
				executed = iteration - 1
				state = schedFinished
				continue
			}

			next, err := d.RunSuperstep(iteration, inbox)
			if err != nil {
				return SchedulerResult{}, xerrors.Errorf("superstep %d: %w", iteration, err)
			}
			inbox = next

			if spec.Checkpoint.Enabled && spec.Checkpoint.IntervalIter > 0 && iteration%spec.Checkpoint.IntervalIter == 0 {
				if err := checkpointAt(d, spec, iteration, inbox); err != nil {
					return SchedulerResult{}, xerrors.Errorf("checkpoint at iteration %d: %w", iteration, err)
				}
			}

			if TotalMessages(inbox) == 0 {
				executed = iteration
				state = schedFinished
				continue
			}
			iteration++

		case schedFinished:
			return SchedulerResult{ExecutedIterations: executed}, nil
		}
	}
}

func checkpointAt(d *Driver, spec job.Spec, iteration int, inbox []Inbox) error {
	checkpointID := strconv.Itoa(iteration)
	checkpointDir := filepath.Join(spec.Checkpoint.BaseDir, spec.JobID, "cp_"+checkpointID)
	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		return xerrors.Errorf("create checkpoint dir: %w", err)
	}
	if err := d.CreateCheckpoint(checkpointDir); err != nil {
		return err
	}

	inboxesPath := filepath.Join(checkpointDir, "inboxes.bin")
	if err := saveInboxes(inboxesPath, inbox); err != nil {
		return err
	}

	meta := job.Meta{
		CheckpointID: checkpointID,
		Iteration:    iteration,
		StateDir:     checkpointDir,
		InboxesPath:  inboxesPath,
		CreatedAt:    time.Now(),
	}
	if err := meta.WriteJSON(job.MetaPath(spec.Checkpoint.BaseDir, spec.JobID, checkpointID)); err != nil {
		return err
	}
	return meta.WriteJSON(job.LatestPath(spec.Checkpoint.BaseDir, spec.JobID))
}

func saveInboxes(path string, inbox []Inbox) error {
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("create inboxes file: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(inbox); err != nil {
		return xerrors.Errorf("encode inboxes: %w", err)
	}
	return nil
}

func loadInboxes(path string) ([]Inbox, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open inboxes file: %w", err)
	}
	defer f.Close()
	var inbox []Inbox
	if err := gob.NewDecoder(f).Decode(&inbox); err != nil {
		return nil, xerrors.Errorf("decode inboxes: %w", err)
	}
	return inbox, nil
}
