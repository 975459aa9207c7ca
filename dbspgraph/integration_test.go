package dbspgraph

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/gauss1314/geaflow-go/dbspgraph/algorithm"
	"github.com/gauss1314/geaflow-go/dbspgraph/job"
	"github.com/gauss1314/geaflow-go/dbspgraph/wire"
	gc "gopkg.in/check.v1"
)

func TestIntegration(t *testing.T) { gc.TestingT(t) }

type integrationTestSuite struct{}

var _ = gc.Suite(new(integrationTestSuite))

func stdAlgorithms(name string, iterations int, params []byte) (algorithm.Algorithm, error) {
	switch name {
	case "wcc":
		return algorithm.NewWCC(iterations), nil
	case "pagerank":
		return algorithm.NewPageRank(iterations, params)
	default:
		return nil, Invalid("unknown algorithm %q", name)
	}
}

// startWorkers launches n in-process workers each backed by its own temp
// state directory, returning their listen addresses and a cleanup func.
func startWorkers(c *gc.C, n int) ([]string, []*Worker, func()) {
	addrs := make([]string, n)
	workers := make([]*Worker, n)
	listeners := make([]net.Listener, n)

	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		c.Assert(err, gc.IsNil)
		listeners[i] = ln
		addrs[i] = ln.Addr().String()

		w, err := NewWorker(WorkerConfig{
			ListenAddress: addrs[i],
			StateDir:      c.MkDir(),
			Algorithms:    stdAlgorithms,
		})
		c.Assert(err, gc.IsNil)
		workers[i] = w

		go func(w *Worker, ln net.Listener) {
			_ = w.Serve(ln)
		}(w, ln)
	}

	cleanup := func() {
		for _, w := range workers {
			_ = w.Close()
		}
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}
	return addrs, workers, cleanup
}

func u64v(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// TestWCCTriangleEndToEnd drives the triangle fixture {1,2,3} across two
// real worker processes (in-process, over real TCP sockets) and asserts
// every vertex converges to the same component id.
func (s *integrationTestSuite) TestWCCTriangleEndToEnd(c *gc.C) {
	addrs, _, cleanup := startWorkers(c, 2)
	defer cleanup()

	d, err := Dial(DriverConfig{WorkerAddrs: addrs})
	c.Assert(err, gc.IsNil)
	defer d.Close()

	vertices := []VertexInput{{ID: u64v(1)}, {ID: u64v(2)}, {ID: u64v(3)}}
	edges := []EdgeInput{
		{Src: u64v(1), Target: u64v(2)},
		{Src: u64v(2), Target: u64v(1)},
		{Src: u64v(2), Target: u64v(3)},
		{Src: u64v(3), Target: u64v(2)},
	}
	c.Assert(d.LoadGraph(vertices, edges, false), gc.IsNil)
	c.Assert(d.SetAlgorithm("wcc", 10, nil), gc.IsNil)

	result, err := RunCycles(d, job.Spec{
		JobID:     "wcc-triangle",
		Algorithm: job.AlgorithmSpec{Name: "wcc", Iterations: 10},
	})
	c.Assert(err, gc.IsNil)
	c.Assert(result.ExecutedIterations > 0, gc.Equals, true)

	out, err := d.FetchVertices()
	c.Assert(err, gc.IsNil)
	c.Assert(out, gc.HasLen, 3)

	var first uint64
	for i, v := range out {
		got := binary.BigEndian.Uint64(v.Value)
		if i == 0 {
			first = got
		} else {
			c.Assert(got, gc.Equals, first)
		}
	}
}

// TestPageRankTwoCycleEndToEnd drives the two-vertex reciprocal cycle
// fixture and asserts both values converge near 1.0.
func (s *integrationTestSuite) TestPageRankTwoCycleEndToEnd(c *gc.C) {
	addrs, _, cleanup := startWorkers(c, 2)
	defer cleanup()

	d, err := Dial(DriverConfig{WorkerAddrs: addrs})
	c.Assert(err, gc.IsNil)
	defer d.Close()

	vertices := []VertexInput{
		{ID: u64v(1), Value: algorithm.EncodeF64(1.0)},
		{ID: u64v(2), Value: algorithm.EncodeF64(1.0)},
	}
	edges := []EdgeInput{
		{Src: u64v(1), Target: u64v(2)},
		{Src: u64v(2), Target: u64v(1)},
	}
	c.Assert(d.LoadGraph(vertices, edges, false), gc.IsNil)
	c.Assert(d.SetAlgorithm("pagerank", 15, nil), gc.IsNil)

	_, err = RunCycles(d, job.Spec{
		JobID:     "pagerank-2cycle",
		Algorithm: job.AlgorithmSpec{Name: "pagerank", Iterations: 15},
	})
	c.Assert(err, gc.IsNil)

	out, err := d.FetchVertices()
	c.Assert(err, gc.IsNil)
	c.Assert(out, gc.HasLen, 2)
	for _, v := range out {
		got := algorithm.DecodeF64(v.Value)
		diff := got - 1.0
		if diff < 0 {
			diff = -diff
		}
		c.Assert(diff < 1e-6, gc.Equals, true)
	}
}

// TestCheckpointRoundTrip checkpoints WCC mid-run, stops the workers,
// restarts fresh workers bound to the same state directories, reloads from
// the checkpoint and confirms the resumed run executes at least as many
// iterations as the first and returns the same number of vertices.
func (s *integrationTestSuite) TestCheckpointRoundTrip(c *gc.C) {
	stateDirs := []string{c.MkDir(), c.MkDir()}
	checkpointBase := c.MkDir()

	newWorkerAt := func(i int) (*Worker, net.Listener) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		c.Assert(err, gc.IsNil)
		w, err := NewWorker(WorkerConfig{
			ListenAddress: ln.Addr().String(),
			StateDir:      stateDirs[i],
			Algorithms:    stdAlgorithms,
		})
		c.Assert(err, gc.IsNil)
		return w, ln
	}

	w0, ln0 := newWorkerAt(0)
	w1, ln1 := newWorkerAt(1)
	addrs := []string{ln0.Addr().String(), ln1.Addr().String()}
	go func() { _ = w0.Serve(ln0) }()
	go func() { _ = w1.Serve(ln1) }()

	d, err := Dial(DriverConfig{WorkerAddrs: addrs})
	c.Assert(err, gc.IsNil)

	vertices := []VertexInput{{ID: u64v(1)}, {ID: u64v(2)}, {ID: u64v(3)}}
	edges := []EdgeInput{
		{Src: u64v(1), Target: u64v(2)},
		{Src: u64v(2), Target: u64v(1)},
		{Src: u64v(2), Target: u64v(3)},
		{Src: u64v(3), Target: u64v(2)},
	}
	c.Assert(d.LoadGraph(vertices, edges, false), gc.IsNil)
	c.Assert(d.SetAlgorithm("wcc", 10, nil), gc.IsNil)

	spec := job.Spec{
		JobID:     "wcc-checkpoint",
		Algorithm: job.AlgorithmSpec{Name: "wcc", Iterations: 10},
		Checkpoint: job.CheckpointSpec{
			Enabled:      true,
			IntervalIter: 2,
			BaseDir:      checkpointBase,
		},
	}
	result, err := RunCycles(d, spec)
	c.Assert(err, gc.IsNil)
	c.Assert(job.Exists(job.LatestPath(checkpointBase, spec.JobID)), gc.Equals, true)

	out, err := d.FetchVertices()
	c.Assert(err, gc.IsNil)
	_ = d.Close()
	ln0.Close()
	ln1.Close()
	_ = w0.Close()
	_ = w1.Close()

	// Resume: reopen fresh workers over the same checkpoint metadata and
	// confirm RunCycles picks up from the recorded iteration and returns the
	// same vertex set size.
	w0b, ln0b := newWorkerAt(0)
	w1b, ln1b := newWorkerAt(1)
	addrsB := []string{ln0b.Addr().String(), ln1b.Addr().String()}
	go func() { _ = w0b.Serve(ln0b) }()
	go func() { _ = w1b.Serve(ln1b) }()
	defer func() {
		ln0b.Close()
		ln1b.Close()
	}()

	db, err := Dial(DriverConfig{WorkerAddrs: addrsB})
	c.Assert(err, gc.IsNil)
	defer db.Close()
	c.Assert(db.SetAlgorithm("wcc", 10, nil), gc.IsNil)

	resumeResult, err := RunCycles(db, spec)
	c.Assert(err, gc.IsNil)
	c.Assert(resumeResult.ExecutedIterations >= result.ExecutedIterations, gc.Equals, true)

	outB, err := db.FetchVertices()
	c.Assert(err, gc.IsNil)
	c.Assert(outB, gc.HasLen, len(out))
}

// TestFaultInjectionWorkerCrash confirms a worker connection dropping right
// after its Ready frame surfaces as an error from LoadGraph rather than
// hanging.
func (s *integrationTestSuite) TestFaultInjectionWorkerCrash(c *gc.C) {
	ln0, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, gc.IsNil)
	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, gc.IsNil)

	w0, err := NewWorker(WorkerConfig{ListenAddress: ln0.Addr().String(), StateDir: c.MkDir(), Algorithms: stdAlgorithms})
	c.Assert(err, gc.IsNil)
	w1, err := NewWorker(WorkerConfig{ListenAddress: ln1.Addr().String(), StateDir: c.MkDir(), Algorithms: stdAlgorithms})
	c.Assert(err, gc.IsNil)

	go func() { _ = w0.Serve(ln0) }()

	connReady := make(chan struct{})
	go func() {
		conn, err := ln1.Accept()
		if err != nil {
			return
		}
		_ = wire.WriteMessage(conn, wire.Ready{})
		conn.Close() // simulate a crash immediately after announcing readiness
		close(connReady)
	}()

	d, err := Dial(DriverConfig{WorkerAddrs: []string{ln0.Addr().String(), ln1.Addr().String()}})
	c.Assert(err, gc.IsNil)
	defer d.Close()
	<-connReady

	vertices := []VertexInput{{ID: u64v(1)}}
	err = d.LoadGraph(vertices, nil, false)
	c.Assert(err, gc.Not(gc.IsNil))
}

// TestJobServiceSubmitAndFetch exercises JobService end to end against real
// workers and an in-memory GraphLoader.
func (s *integrationTestSuite) TestJobServiceSubmitAndFetch(c *gc.C) {
	addrs, _, cleanup := startWorkers(c, 2)
	defer cleanup()

	loader := func(spec job.Spec) ([]VertexInput, []EdgeInput, error) {
		return []VertexInput{{ID: u64v(1)}, {ID: u64v(2)}},
			[]EdgeInput{{Src: u64v(1), Target: u64v(2)}, {Src: u64v(2), Target: u64v(1)}},
			nil
	}
	svc := NewJobService(DriverConfig{WorkerAddrs: addrs}, loader)

	jobID, err := svc.SubmitJob(job.Spec{Algorithm: job.AlgorithmSpec{Name: "wcc", Iterations: 5}})
	c.Assert(err, gc.IsNil)

	// Poll for completion; the job runs on a background goroutine.
	for {
		status, err := svc.GetJobStatus(jobID)
		c.Assert(err, gc.IsNil)
		if status.State == string(jobStateFinished) {
			break
		}
		if status.State == string(jobStateFailed) {
			c.Fatalf("job failed: %v", status.Err)
		}
		time.Sleep(time.Millisecond)
	}

	out, err := svc.FetchVertices(jobID)
	c.Assert(err, gc.IsNil)
	c.Assert(out, gc.HasLen, 2)
}

// TestWorkerRegistersWithMaster starts a real Master and a Worker configured
// with that master's address, and confirms the worker shows up in
// Master.GetWorkers via a real Register frame sent over the wire (not a
// direct Go method call), then keeps refreshing via Heartbeat.
func (s *integrationTestSuite) TestWorkerRegistersWithMaster(c *gc.C) {
	m, err := NewMaster(MasterConfig{ListenAddress: "127.0.0.1:0", WorkerTTL: 200})
	c.Assert(err, gc.IsNil)
	c.Assert(m.Start(), gc.IsNil)
	defer m.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, gc.IsNil)
	w, err := NewWorker(WorkerConfig{
		ListenAddress:     ln.Addr().String(),
		StateDir:          c.MkDir(),
		Algorithms:        stdAlgorithms,
		MasterAddress:     m.ln.Addr().String(),
		HeartbeatInterval: 20 * time.Millisecond,
	})
	c.Assert(err, gc.IsNil)
	defer w.Close()
	go func() { _ = w.Serve(ln) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if workers := m.GetWorkers(); len(workers) == 1 && workers[0] == ln.Addr().String() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Fatalf("worker never registered with master")
}

// TestDriverDialResolvesWorkersFromMaster confirms Dial can locate its
// worker set purely from DriverConfig.MasterAddress, with no WorkerAddrs of
// its own, by querying a real Master over GetWorkers/Workers.
func (s *integrationTestSuite) TestDriverDialResolvesWorkersFromMaster(c *gc.C) {
	m, err := NewMaster(MasterConfig{ListenAddress: "127.0.0.1:0"})
	c.Assert(err, gc.IsNil)
	c.Assert(m.Start(), gc.IsNil)
	defer m.Close()

	addrs, _, cleanup := startWorkers(c, 2)
	defer cleanup()
	for _, addr := range addrs {
		m.register(addr)
	}

	d, err := Dial(DriverConfig{MasterAddress: m.ln.Addr().String()})
	c.Assert(err, gc.IsNil)
	defer d.Close()
	c.Assert(d.NumWorkers(), gc.Equals, 2)
}

// TestDumpVerticesCsvNamingAndPaths confirms the dumped file names follow
// the {prefix}_part_{i}.csv convention and that the written paths are
// returned to the caller.
func (s *integrationTestSuite) TestDumpVerticesCsvNamingAndPaths(c *gc.C) {
	addrs, _, cleanup := startWorkers(c, 2)
	defer cleanup()

	d, err := Dial(DriverConfig{WorkerAddrs: addrs})
	c.Assert(err, gc.IsNil)
	defer d.Close()

	vertices := []VertexInput{{ID: u64v(1)}, {ID: u64v(2)}}
	c.Assert(d.LoadGraph(vertices, nil, false), gc.IsNil)
	c.Assert(d.SetAlgorithm("wcc", 1, nil), gc.IsNil)

	prefix := c.MkDir() + "/vertices"
	paths, err := d.DumpVerticesCsv(prefix)
	c.Assert(err, gc.IsNil)
	c.Assert(paths, gc.HasLen, 2)
	c.Assert(paths[0], gc.Equals, prefix+"_part_0.csv")
	c.Assert(paths[1], gc.Equals, prefix+"_part_1.csv")
}

// TestJobServiceClientWireProtocol drives JobService.Serve end to end over a
// real TCP connection using the ClientToDriver/DriverToClient wire messages,
// exercising submit, poll-for-status and fetch-vertices.
func (s *integrationTestSuite) TestJobServiceClientWireProtocol(c *gc.C) {
	addrs, _, cleanup := startWorkers(c, 2)
	defer cleanup()

	loader := func(spec job.Spec) ([]VertexInput, []EdgeInput, error) {
		return []VertexInput{{ID: u64v(1)}, {ID: u64v(2)}},
			[]EdgeInput{{Src: u64v(1), Target: u64v(2)}, {Src: u64v(2), Target: u64v(1)}},
			nil
	}
	svc := NewJobService(DriverConfig{WorkerAddrs: addrs}, loader)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, gc.IsNil)
	defer ln.Close()
	go func() { _ = svc.Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	c.Assert(err, gc.IsNil)
	defer conn.Close()

	c.Assert(wire.WriteMessage(conn, wire.ClientSubmitJob{
		Spec: job.Spec{Algorithm: job.AlgorithmSpec{Name: "wcc", Iterations: 5}},
	}), gc.IsNil)
	msg, err := wire.ReadMessage(conn)
	c.Assert(err, gc.IsNil)
	accepted, ok := msg.(wire.ClientJobAccepted)
	c.Assert(ok, gc.Equals, true)
	c.Assert(accepted.JobID, gc.Not(gc.Equals), "")

	var status wire.ClientJobStatus
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.Assert(wire.WriteMessage(conn, wire.ClientGetJobStatus{JobID: accepted.JobID}), gc.IsNil)
		msg, err = wire.ReadMessage(conn)
		c.Assert(err, gc.IsNil)
		status, ok = msg.(wire.ClientJobStatus)
		c.Assert(ok, gc.Equals, true)
		if status.State == string(jobStateFinished) || status.State == string(jobStateFailed) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Assert(status.State, gc.Equals, string(jobStateFinished))

	c.Assert(wire.WriteMessage(conn, wire.ClientFetchVertices{JobID: accepted.JobID}), gc.IsNil)
	msg, err = wire.ReadMessage(conn)
	c.Assert(err, gc.IsNil)
	vertices, ok := msg.(wire.ClientVertices)
	c.Assert(ok, gc.Equals, true)
	c.Assert(vertices.Vertices, gc.HasLen, 2)

	c.Assert(wire.WriteMessage(conn, wire.ClientShutdown{}), gc.IsNil)
}

// TestMasterPurgesStaleWorkers exercises the TTL-based registry directly.
func (s *integrationTestSuite) TestMasterPurgesStaleWorkers(c *gc.C) {
	m, err := NewMaster(MasterConfig{ListenAddress: "127.0.0.1:0", WorkerTTL: 1})
	c.Assert(err, gc.IsNil)
	m.register("127.0.0.1:9000")
	c.Assert(m.GetWorkers(), gc.DeepEquals, []string{"127.0.0.1:9000"})

	// Force staleness without a real sleep by back-dating lastSeen directly.
	m.mu.Lock()
	m.lastSeen["127.0.0.1:9000"] = m.lastSeen["127.0.0.1:9000"].Add(-time.Hour)
	m.mu.Unlock()

	c.Assert(m.GetWorkers(), gc.HasLen, 0)
}
