// Package job defines the job-level data types shared by the driver, the
// cycle scheduler and the job submission service: the immutable JobSpec a
// client submits, the CheckpointMeta record written at each checkpoint
// interval, and the Details a running job carries internally.
package job

import "time"

// Mode selects how a job's graph is executed.
type Mode int

const (
	ModeLocal Mode = iota
	ModeDistributed
)

// GraphSpec names the vertex and edge sources for a job's input graph.
type GraphSpec struct {
	VerticesSource string
	EdgesSource    string
	Undirected     bool
}

// AlgorithmSpec names the algorithm and its declared metadata.
type AlgorithmSpec struct {
	Name       string
	Iterations int
	Params     []byte
}

// CheckpointSpec controls whether and how often a job checkpoints.
type CheckpointSpec struct {
	Enabled      bool
	IntervalIter int
	BaseDir      string
}

// Spec is the immutable specification of a submitted job.
type Spec struct {
	JobID      string
	Name       string
	Mode       Mode
	Graph      GraphSpec
	Algorithm  AlgorithmSpec
	Checkpoint CheckpointSpec
}

// Meta records where a checkpoint's artifacts live and which iteration they
// capture. A job also maintains a "latest" pointer (the same struct,
// written to a fixed filename) pointing at the most recent meta.
type Meta struct {
	CheckpointID string    `json:"checkpoint_id"`
	Iteration    int       `json:"iteration"`
	StateDir     string    `json:"state_dir"`
	InboxesPath  string    `json:"inboxes_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// Details carries a running job's identity and worker assignment, as used
// internally by the driver and the job submission service.
type Details struct {
	JobID       string
	CreatedAt   time.Time
	WorkerAddrs []string
}
