package wire

import "github.com/gauss1314/geaflow-go/dbspgraph/job"

// VertexRec is a single (id, value) pair as carried over the wire.
type VertexRec struct {
	ID    []byte
	Value []byte
}

// EdgeRec is a single (src, target, value) triple as carried over the wire.
type EdgeRec struct {
	Src    []byte
	Target []byte
	Value  []byte
}

// InboxEntry is one vertex's accumulated messages for a superstep.
type InboxEntry struct {
	VertexID []byte
	Payloads [][]byte
}

// OutboxEntry is one outgoing message produced during a superstep.
type OutboxEntry struct {
	Target  []byte
	Payload []byte
}

// --- driver <-> worker: requests and their acks ---

// Ready is sent by a worker immediately after accepting the driver's
// connection.
type Ready struct{}

func (Ready) Kind() Kind { return KindReady }

// LoadGraph performs a one-shot load for graphs small enough to fit in a
// single frame.
type LoadGraph struct {
	Vertices []VertexRec
	Edges    []EdgeRec
}

func (LoadGraph) Kind() Kind { return KindLoadGraph }

// LoadGraphBatch is one slice of a streamed graph load. Last signals the
// final batch for this partition.
type LoadGraphBatch struct {
	Vertices []VertexRec
	Edges    []EdgeRec
	Last     bool
}

func (LoadGraphBatch) Kind() Kind { return KindLoadGraphBatch }

// GraphLoaded acks a LoadGraphBatch.
type GraphLoaded struct {
	Last bool
}

func (GraphLoaded) Kind() Kind { return KindGraphLoaded }

// SetAlgorithm selects the algorithm used for subsequent supersteps.
type SetAlgorithm struct {
	Name       string
	Iterations int
	Params     []byte
}

func (SetAlgorithm) Kind() Kind { return KindSetAlgorithm }

// SuperstepBatch is one slice of a worker's accumulated inbox for Iteration.
// Last marks the final slice for that iteration.
type SuperstepBatch struct {
	Iteration int
	Entries   []InboxEntry
	Last      bool
}

func (SuperstepBatch) Kind() Kind { return KindSuperstepBatch }

// CreateCheckpoint instructs the worker to snapshot its state store into Dir.
type CreateCheckpoint struct {
	Dir string
}

func (CreateCheckpoint) Kind() Kind { return KindCreateCheckpoint }

// CheckpointCreated acks a CreateCheckpoint.
type CheckpointCreated struct{}

func (CheckpointCreated) Kind() Kind { return KindCheckpointCreated }

// LoadCheckpoint instructs the worker to reopen its state store from Dir.
type LoadCheckpoint struct {
	Dir string
}

func (LoadCheckpoint) Kind() Kind { return KindLoadCheckpoint }

// CheckpointLoaded acks a LoadCheckpoint.
type CheckpointLoaded struct{}

func (CheckpointLoaded) Kind() Kind { return KindCheckpointLoaded }

// FetchVertices requests the full current vertex set from the worker.
type FetchVertices struct{}

func (FetchVertices) Kind() Kind { return KindFetchVertices }

// DumpVerticesCsv instructs the worker to write its vertex set as CSV.
type DumpVerticesCsv struct {
	Path string
}

func (DumpVerticesCsv) Kind() Kind { return KindDumpVerticesCsv }

// Shutdown is a best-effort notice that the worker should terminate. No
// reply is expected.
type Shutdown struct{}

func (Shutdown) Kind() Kind { return KindShutdown }

// --- worker -> driver ---

// SuperstepResultBatch is one slice of a worker's outbox for Iteration. Last
// marks the final slice.
type SuperstepResultBatch struct {
	Iteration int
	Entries   []OutboxEntry
	Last      bool
}

func (SuperstepResultBatch) Kind() Kind { return KindSuperstepResultBatch }

// Vertices carries the worker's full vertex set in reply to FetchVertices.
type Vertices struct {
	Vertices []VertexRec
}

func (Vertices) Kind() Kind { return KindVertices }

// VerticesDumped acks a DumpVerticesCsv with the written file path.
type VerticesDumped struct {
	Path string
}

func (VerticesDumped) Kind() Kind { return KindVerticesDumped }

// Error reports that an operation failed. Any frame may be answered with
// Error instead of its expected response kind.
type Error struct {
	Message string
}

func (Error) Kind() Kind { return KindError }

// --- worker/driver <-> master ---

// Register announces a worker's address to the master.
type Register struct {
	Addr string
}

func (Register) Kind() Kind { return KindRegister }

// Heartbeat refreshes a previously registered worker's last-seen time.
type Heartbeat struct {
	Addr string
}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

// GetWorkers asks the master for the current set of live worker addresses.
type GetWorkers struct{}

func (GetWorkers) Kind() Kind { return KindGetWorkers }

// Workers is the master's reply to GetWorkers, sorted ascending.
type Workers struct {
	Addrs []string
}

func (Workers) Kind() Kind { return KindWorkers }

// --- client <-> job service (ClientToDriver/DriverToClient) ---

// ClientSubmitJob asks the job service to run Spec, replying with either a
// ClientJobAccepted or an Error.
type ClientSubmitJob struct {
	Spec job.Spec
}

func (ClientSubmitJob) Kind() Kind { return KindClientSubmitJob }

// ClientJobAccepted acks a ClientSubmitJob with the job's assigned ID.
type ClientJobAccepted struct {
	JobID string
}

func (ClientJobAccepted) Kind() Kind { return KindClientJobAccepted }

// ClientGetJobStatus requests the current state of a previously submitted
// job, replying with either a ClientJobStatus or an Error.
type ClientGetJobStatus struct {
	JobID string
}

func (ClientGetJobStatus) Kind() Kind { return KindClientGetJobStatus }

// ClientJobStatus reports a job's lifecycle state. State mirrors jobState's
// string form ("running", "finished", "failed"); Err is non-empty only when
// State is "failed".
type ClientJobStatus struct {
	JobID string
	State string
	Err   string
}

func (ClientJobStatus) Kind() Kind { return KindClientJobStatus }

// ClientFetchVertices requests the final vertex set of a completed job,
// replying with either a ClientVertices or an Error.
type ClientFetchVertices struct {
	JobID string
}

func (ClientFetchVertices) Kind() Kind { return KindClientFetchVertices }

// ClientVertices carries a job's vertex set in reply to ClientFetchVertices.
type ClientVertices struct {
	JobID    string
	Vertices []VertexRec
}

func (ClientVertices) Kind() Kind { return KindClientVertices }

// ClientShutdown asks the job service's client listener to stop serving this
// connection. No reply is expected.
type ClientShutdown struct{}

func (ClientShutdown) Kind() Kind { return KindClientShutdown }
