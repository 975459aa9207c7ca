package dbspgraph

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gauss1314/geaflow-go/dbspgraph/partition"
	"github.com/gauss1314/geaflow-go/dbspgraph/wire"
	"golang.org/x/xerrors"
)

// VertexInput is a caller-supplied (id, value) pair to load into the graph.
type VertexInput struct {
	ID    []byte
	Value []byte
}

// EdgeInput is a caller-supplied (src, target, value) triple to load into
// the graph.
type EdgeInput struct {
	Src    []byte
	Target []byte
	Value  []byte
}

// workerConn is a driver's open connection to a single worker.
type workerConn struct {
	addr string
	conn net.Conn
}

// Driver coordinates a fixed set of workers for the lifetime of one job: it
// connects to every worker, loads the partitioned graph, selects the
// algorithm, and drives supersteps to completion by shuffling each round's
// outbox into the next round's per-worker inbox.
type Driver struct {
	cfg     DriverConfig
	workers []*workerConn
}

// Dial connects to every worker address in cfg, retrying each with the
// configured backoff, and returns a ready Driver. Connection order matches
// cfg.WorkerAddrs, and that order is the partition index used by
// partition.Of throughout the job.
func Dial(cfg DriverConfig) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("driver config validation failed: %w", err)
	}

	workerAddrs, err := resolveWorkers(cfg)
	if err != nil {
		return nil, xerrors.Errorf("resolve workers: %w", err)
	}
	cfg.WorkerAddrs = workerAddrs

	d := &Driver{cfg: cfg}
	for _, addr := range cfg.WorkerAddrs {
		conn, err := dialWithRetry(addr, cfg.ConnectAttempts, time.Duration(cfg.ConnectBackoffMillis)*time.Millisecond)
		if err != nil {
			d.closeAll()
			return nil, xerrors.Errorf("dial worker %s: %w", addr, err)
		}
		if _, err := wire.ReadMessage(conn); err != nil {
			conn.Close()
			d.closeAll()
			return nil, xerrors.Errorf("await ready from %s: %w", addr, err)
		}
		d.workers = append(d.workers, &workerConn{addr: addr, conn: conn})
	}
	cfg.Logger.WithField("workers", len(d.workers)).Info("driver connected")
	return d, nil
}

// resolveWorkers returns the worker addresses a Driver should dial: the
// static cfg.WorkerAddrs list if provided, or else the current live set
// queried from cfg.MasterAddress via a GetWorkers/Workers exchange.
func resolveWorkers(cfg DriverConfig) ([]string, error) {
	if len(cfg.WorkerAddrs) > 0 {
		return cfg.WorkerAddrs, nil
	}

	conn, err := net.Dial("tcp", cfg.MasterAddress)
	if err != nil {
		return nil, xerrors.Errorf("dial master %s: %w", cfg.MasterAddress, err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, wire.GetWorkers{}); err != nil {
		return nil, xerrors.Errorf("query master for workers: %w", err)
	}
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return nil, xerrors.Errorf("read master workers reply: %w", err)
	}
	workers, ok := msg.(wire.Workers)
	if !ok {
		return nil, unexpectedReply(msg)
	}
	if len(workers.Addrs) == 0 {
		return nil, xerrors.Errorf("master %s reports no live workers", cfg.MasterAddress)
	}
	return workers.Addrs, nil
}

func dialWithRetry(addr string, attempts int, backoff time.Duration) (net.Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(backoff)
	}
	return nil, lastErr
}

// Close broadcasts a best-effort Shutdown to every worker and closes all
// connections. Errors from individual workers are not returned; the driver
// is shutting down regardless.
func (d *Driver) Close() error {
	for _, w := range d.workers {
		_ = wire.WriteMessage(w.conn, wire.Shutdown{})
	}
	d.closeAll()
	return nil
}

func (d *Driver) closeAll() {
	for _, w := range d.workers {
		w.conn.Close()
	}
}

// NumWorkers returns the number of partitions the driver is coordinating.
func (d *Driver) NumWorkers() int { return len(d.workers) }

// forEachWorker runs fn against every worker concurrently, one goroutine per
// worker connection, waits for all of them, and returns the error of the
// lowest-indexed worker that failed.
func (d *Driver) forEachWorker(fn func(w *workerConn) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(d.workers))
	for i, w := range d.workers {
		wg.Add(1)
		go func(i int, w *workerConn) {
			defer wg.Done()
			errs[i] = fn(w)
		}(i, w)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return xerrors.Errorf("worker %s: %w", d.workers[i].addr, err)
		}
	}
	return nil
}

// LoadGraph partitions vertices and edges by hashed id and streams each
// worker its share in batches of at most cfg.VertexBatchSize records. When
// undirected is set, each edge is mirrored in both directions before
// partitioning.
func (d *Driver) LoadGraph(vertices []VertexInput, edges []EdgeInput, undirected bool) error {
	n := d.NumWorkers()
	vertexBatches := make([][]wire.VertexRec, n)
	edgeBatches := make([][]wire.EdgeRec, n)

	for _, v := range vertices {
		p := partitionOf(v.ID, n)
		vertexBatches[p] = append(vertexBatches[p], wire.VertexRec{ID: v.ID, Value: v.Value})
	}
	for _, e := range edges {
		p := partitionOf(e.Src, n)
		edgeBatches[p] = append(edgeBatches[p], wire.EdgeRec{Src: e.Src, Target: e.Target, Value: e.Value})
		if undirected {
			rp := partitionOf(e.Target, n)
			edgeBatches[rp] = append(edgeBatches[rp], wire.EdgeRec{Src: e.Target, Target: e.Src, Value: e.Value})
		}
	}

	return d.forEachWorker(func(w *workerConn) error {
		i := d.indexOf(w)
		return streamLoadBatches(w.conn, vertexBatches[i], edgeBatches[i], d.cfg.VertexBatchSize)
	})
}

func (d *Driver) indexOf(w *workerConn) int {
	for i, x := range d.workers {
		if x == w {
			return i
		}
	}
	return -1
}

func streamLoadBatches(conn net.Conn, vertices []wire.VertexRec, edges []wire.EdgeRec, batchSize int) error {
	if len(vertices) == 0 && len(edges) == 0 {
		if err := wire.WriteMessage(conn, wire.LoadGraphBatch{Last: true}); err != nil {
			return err
		}
		_, err := expectGraphLoaded(conn)
		return err
	}
	for len(vertices) > 0 || len(edges) > 0 {
		vn := batchSize
		if vn > len(vertices) {
			vn = len(vertices)
		}
		en := batchSize
		if en > len(edges) {
			en = len(edges)
		}
		vBatch, eBatch := vertices[:vn], edges[:en]
		vertices, edges = vertices[vn:], edges[en:]
		last := len(vertices) == 0 && len(edges) == 0
		if err := wire.WriteMessage(conn, wire.LoadGraphBatch{Vertices: vBatch, Edges: eBatch, Last: last}); err != nil {
			return err
		}
		if _, err := expectGraphLoaded(conn); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
	return nil
}

func expectGraphLoaded(conn net.Conn) (wire.GraphLoaded, error) {
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return wire.GraphLoaded{}, err
	}
	ack, ok := msg.(wire.GraphLoaded)
	if !ok {
		return wire.GraphLoaded{}, unexpectedReply(msg)
	}
	return ack, nil
}

func unexpectedReply(msg wire.Message) error {
	if e, ok := msg.(wire.Error); ok {
		return Internal(nil, "worker reported error: %s", e.Message)
	}
	return Internal(nil, "unexpected reply frame kind %T", msg)
}

// SetAlgorithm selects the algorithm every worker applies to subsequent
// supersteps.
func (d *Driver) SetAlgorithm(name string, iterations int, params []byte) error {
	return d.forEachWorker(func(w *workerConn) error {
		if err := wire.WriteMessage(w.conn, wire.SetAlgorithm{Name: name, Iterations: iterations, Params: params}); err != nil {
			return err
		}
		return nil
	})
}

// RunSuperstep sends inbox to each worker for iteration and collects their
// outbox entries, shuffled into the next round's per-worker inbox. The
// returned inbox is ready to pass as the next call's inbox argument; pass
// nil on the first superstep.
func (d *Driver) RunSuperstep(iteration int, inbox []Inbox) ([]Inbox, error) {
	start := time.Now()
	defer metrics.observeSuperstep(start)

	n := d.NumWorkers()
	outboxes := make([][]OutboxEntry, n)

	err := d.forEachWorker(func(w *workerConn) error {
		i := d.indexOf(w)
		var entries []wire.InboxEntry
		if inbox != nil {
			for vid, payloads := range inbox[i] {
				entries = append(entries, wire.InboxEntry{VertexID: []byte(vid), Payloads: payloads})
			}
		}
		if err := streamSuperstepBatch(w.conn, iteration, entries); err != nil {
			return err
		}
		out, err := collectSuperstepResult(w.conn, iteration)
		if err != nil {
			return err
		}
		outboxes[i] = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	var combined []OutboxEntry
	for _, o := range outboxes {
		combined = append(combined, o...)
	}
	metrics.addShuffled(len(combined))
	return Shuffle(combined, n), nil
}

func streamSuperstepBatch(conn net.Conn, iteration int, entries []wire.InboxEntry) error {
	if len(entries) == 0 {
		return wire.WriteMessage(conn, wire.SuperstepBatch{Iteration: iteration, Last: true})
	}
	for i := 0; i < len(entries); i += maxBatchEntries {
		end := i + maxBatchEntries
		if end > len(entries) {
			end = len(entries)
		}
		last := end == len(entries)
		if err := wire.WriteMessage(conn, wire.SuperstepBatch{Iteration: iteration, Entries: entries[i:end], Last: last}); err != nil {
			return err
		}
	}
	return nil
}

func collectSuperstepResult(conn net.Conn, iteration int) ([]OutboxEntry, error) {
	var out []OutboxEntry
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return nil, err
		}
		res, ok := msg.(wire.SuperstepResultBatch)
		if !ok {
			return nil, unexpectedReply(msg)
		}
		for _, e := range res.Entries {
			out = append(out, OutboxEntry{Target: e.Target, Payload: e.Payload})
		}
		if res.Last {
			return out, nil
		}
	}
}

// TotalMessages counts the messages carried by an inbox slice, used by
// callers to decide whether a superstep round produced any activity.
func TotalMessages(inbox []Inbox) int {
	total := 0
	for _, ib := range inbox {
		for _, msgs := range ib {
			total += len(msgs)
		}
	}
	return total
}

// CreateCheckpoint instructs every worker to snapshot its state store into a
// per-worker subdirectory of dir.
func (d *Driver) CreateCheckpoint(dir string) error {
	return d.forEachWorker(func(w *workerConn) error {
		i := d.indexOf(w)
		subdir := workerCheckpointDir(dir, i)
		if err := wire.WriteMessage(w.conn, wire.CreateCheckpoint{Dir: subdir}); err != nil {
			return err
		}
		msg, err := wire.ReadMessage(w.conn)
		if err != nil {
			return err
		}
		if _, ok := msg.(wire.CheckpointCreated); !ok {
			return unexpectedReply(msg)
		}
		return nil
	})
}

// LoadCheckpoint instructs every worker to reopen its state store from a
// per-worker subdirectory of dir.
func (d *Driver) LoadCheckpoint(dir string) error {
	return d.forEachWorker(func(w *workerConn) error {
		i := d.indexOf(w)
		subdir := workerCheckpointDir(dir, i)
		if err := wire.WriteMessage(w.conn, wire.LoadCheckpoint{Dir: subdir}); err != nil {
			return err
		}
		msg, err := wire.ReadMessage(w.conn)
		if err != nil {
			return err
		}
		if _, ok := msg.(wire.CheckpointLoaded); !ok {
			return unexpectedReply(msg)
		}
		return nil
	})
}

func workerCheckpointDir(dir string, i int) string {
	return dir + "/worker-" + strconv.Itoa(i)
}

// FetchVertices retrieves the full vertex set from every worker.
func (d *Driver) FetchVertices() ([]wire.VertexRec, error) {
	n := d.NumWorkers()
	perWorker := make([][]wire.VertexRec, n)

	err := d.forEachWorker(func(w *workerConn) error {
		i := d.indexOf(w)
		if err := wire.WriteMessage(w.conn, wire.FetchVertices{}); err != nil {
			return err
		}
		msg, err := wire.ReadMessage(w.conn)
		if err != nil {
			return err
		}
		vs, ok := msg.(wire.Vertices)
		if !ok {
			return unexpectedReply(msg)
		}
		perWorker[i] = vs.Vertices
		return nil
	})
	if err != nil {
		return nil, err
	}

	var all []wire.VertexRec
	for _, vs := range perWorker {
		all = append(all, vs...)
	}
	return all, nil
}

// DumpVerticesCsv instructs every worker to write its vertex set as CSV
// under pathPrefix+"_part_"+i+".csv" (i being the partition index); workers
// write distinct files since each writes only its own partition's vertices.
// The paths actually written, in partition-index order, are returned.
func (d *Driver) DumpVerticesCsv(pathPrefix string) ([]string, error) {
	n := d.NumWorkers()
	paths := make([]string, n)
	err := d.forEachWorker(func(w *workerConn) error {
		i := d.indexOf(w)
		path := pathPrefix + "_part_" + strconv.Itoa(i) + ".csv"
		if err := wire.WriteMessage(w.conn, wire.DumpVerticesCsv{Path: path}); err != nil {
			return err
		}
		msg, err := wire.ReadMessage(w.conn)
		if err != nil {
			return err
		}
		dumped, ok := msg.(wire.VerticesDumped)
		if !ok {
			return unexpectedReply(msg)
		}
		paths[i] = dumped.Path
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func partitionOf(id []byte, n int) int { return partition.Of(id, n) }
