package dbspgraph

import (
	"io"
	"net"
	"sync"

	"github.com/gauss1314/geaflow-go/dbspgraph/job"
	"github.com/gauss1314/geaflow-go/dbspgraph/wire"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// jobState is a submitted job's lifecycle state, mirroring the original
// driver service's state strings.
type jobState string

const (
	jobStateRunning  jobState = "running"
	jobStateFinished jobState = "finished"
	jobStateFailed   jobState = "failed"
)

type jobEntry struct {
	state    jobState
	result   []wire.VertexRec
	err      error
	executed int
}

// GraphLoader supplies the vertex and edge set for a job; SubmitJob calls it
// once per job, on the background goroutine that runs the job, so callers
// can read from whatever VerticesSource/EdgesSource names without blocking
// the submitting caller.
type GraphLoader func(spec job.Spec) ([]VertexInput, []EdgeInput, error)

// JobService accepts job specs, runs each to completion against a fixed
// worker set on a background goroutine, and answers status/result queries
// for jobs it has seen. It can be driven directly as a Go API by in-process
// callers, or exposed to separate client processes by passing a listener to
// Serve, which speaks the same ClientToDriver/DriverToClient wire protocol
// the original driver service exposed.
type JobService struct {
	cfg    DriverConfig
	loader GraphLoader

	mu     sync.Mutex
	jobs   map[string]*jobEntry
	closed bool
}

// NewJobService creates a JobService that dials cfg.WorkerAddrs fresh for
// every submitted job and loads each job's graph via loader.
func NewJobService(cfg DriverConfig, loader GraphLoader) *JobService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard, Formatter: new(logrus.TextFormatter), Level: logrus.PanicLevel})
	}
	return &JobService{cfg: cfg, loader: loader, jobs: make(map[string]*jobEntry)}
}

// SubmitJob assigns a job id (generating one if spec.JobID is empty),
// records it as running, and starts executing it in the background.
// SubmitJob returns as soon as the job is recorded, before execution starts.
func (s *JobService) SubmitJob(spec job.Spec) (string, error) {
	if spec.JobID == "" {
		spec.JobID = uuid.New().String()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", Invalid("job service is shut down")
	}
	if _, exists := s.jobs[spec.JobID]; exists {
		s.mu.Unlock()
		return "", Invalid("job %q already submitted", spec.JobID)
	}
	s.jobs[spec.JobID] = &jobEntry{state: jobStateRunning}
	s.mu.Unlock()

	go s.run(spec)
	return spec.JobID, nil
}

func (s *JobService) run(spec job.Spec) {
	result, executed, err := s.execute(spec)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.jobs[spec.JobID]
	if err != nil {
		entry.state = jobStateFailed
		entry.err = err
		return
	}
	entry.state = jobStateFinished
	entry.result = result
	entry.executed = executed
}

func (s *JobService) execute(spec job.Spec) ([]wire.VertexRec, int, error) {
	vertices, edges, err := s.loader(spec)
	if err != nil {
		return nil, 0, xerrors.Errorf("load graph inputs: %w", err)
	}

	d, err := Dial(s.cfg)
	if err != nil {
		return nil, 0, xerrors.Errorf("dial workers: %w", err)
	}
	defer d.Close()

	if err := d.LoadGraph(vertices, edges, spec.Graph.Undirected); err != nil {
		return nil, 0, xerrors.Errorf("load graph: %w", err)
	}
	if err := d.SetAlgorithm(spec.Algorithm.Name, spec.Algorithm.Iterations, spec.Algorithm.Params); err != nil {
		return nil, 0, xerrors.Errorf("set algorithm: %w", err)
	}

	result, err := RunCycles(d, spec)
	if err != nil {
		return nil, 0, xerrors.Errorf("run cycles: %w", err)
	}

	out, err := d.FetchVertices()
	if err != nil {
		return nil, 0, xerrors.Errorf("fetch vertices: %w", err)
	}
	return out, result.ExecutedIterations, nil
}

// JobStatus is the state and executed-iteration count of a known job.
type JobStatus struct {
	State    string
	Executed int
	Err      error
}

// GetJobStatus reports the current status of jobID, or an error if no such
// job was ever submitted.
func (s *JobService) GetJobStatus(jobID string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return JobStatus{}, Invalid("unknown job %q", jobID)
	}
	return JobStatus{State: string(entry.state), Executed: entry.executed, Err: entry.err}, nil
}

// FetchVertices returns the final vertex set of a finished job.
func (s *JobService) FetchVertices(jobID string) ([]wire.VertexRec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return nil, Invalid("unknown job %q", jobID)
	}
	if entry.state != jobStateFinished {
		return nil, Invalid("job %q not finished (state: %s)", jobID, entry.state)
	}
	return entry.result, nil
}

// Shutdown marks the service as no longer accepting new jobs. Jobs already
// running continue to completion; their results remain queryable.
func (s *JobService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Serve accepts client connections on ln and handles each with the
// ClientToDriver/DriverToClient wire protocol until ln is closed. Each
// connection is handled on its own goroutine and may submit any number of
// jobs and status/result queries before sending ClientShutdown or closing
// the connection.
func (s *JobService) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleClientConn(conn)
	}
}

func (s *JobService) handleClientConn(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			if !xerrors.Is(err, io.EOF) {
				s.cfg.Logger.WithField("err", err).Warn("client connection read failed")
			}
			return
		}

		var reply wire.Message
		switch req := msg.(type) {
		case wire.ClientSubmitJob:
			jobID, err := s.SubmitJob(req.Spec)
			if err != nil {
				reply = wire.Error{Message: err.Error()}
			} else {
				reply = wire.ClientJobAccepted{JobID: jobID}
			}

		case wire.ClientGetJobStatus:
			status, err := s.GetJobStatus(req.JobID)
			if err != nil {
				reply = wire.Error{Message: err.Error()}
			} else {
				errMsg := ""
				if status.Err != nil {
					errMsg = status.Err.Error()
				}
				reply = wire.ClientJobStatus{JobID: req.JobID, State: status.State, Err: errMsg}
			}

		case wire.ClientFetchVertices:
			vertices, err := s.FetchVertices(req.JobID)
			if err != nil {
				reply = wire.Error{Message: err.Error()}
			} else {
				reply = wire.ClientVertices{JobID: req.JobID, Vertices: vertices}
			}

		case wire.ClientShutdown:
			return

		default:
			reply = wire.Error{Message: "unexpected frame kind from client"}
		}

		if err := wire.WriteMessage(conn, reply); err != nil {
			s.cfg.Logger.WithField("err", err).Warn("client connection write failed")
			return
		}
	}
}
