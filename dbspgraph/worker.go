package dbspgraph

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/gauss1314/geaflow-go/dbspgraph/algorithm"
	"github.com/gauss1314/geaflow-go/dbspgraph/state"
	"github.com/gauss1314/geaflow-go/dbspgraph/wire"
	"golang.org/x/xerrors"
)

// maxBatchEntries bounds how many inbox/outbox entries travel in a single
// frame in either direction, serving as coarse backpressure (spec §4.2).
const maxBatchEntries = 256

// Worker hosts one partition: it owns a Graph State, applies the selected
// algorithm to each local vertex once per superstep, and streams its outbox
// back to the driver over its single accepted connection.
type Worker struct {
	cfg   WorkerConfig
	store *state.Store

	algo       algorithm.Algorithm
	algoName   string
	algoParams string

	pending map[int]map[string][][]byte // iteration -> vertex id -> messages
}

// NewWorker creates a new Worker with the given configuration, opening its
// graph state store.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("worker config validation failed: %w", err)
	}
	store, err := state.Open(cfg.StateDir)
	if err != nil {
		return nil, xerrors.Errorf("open state store: %w", err)
	}
	return &Worker{cfg: cfg, store: store, pending: make(map[int]map[string][][]byte)}, nil
}

// Close releases the worker's graph state store.
func (w *Worker) Close() error { return w.store.Close() }

// Serve accepts exactly one driver connection on ln and handles it to
// completion. A worker accepts a single driver connection for its entire
// lifetime; connection loss at any point terminates the job. If
// cfg.MasterAddress is set, Serve also registers this worker with the
// master and keeps it alive with periodic heartbeats for as long as Serve
// runs.
func (w *Worker) Serve(ln net.Listener) error {
	if w.cfg.MasterAddress != "" {
		stop := make(chan struct{})
		defer close(stop)
		go w.registerWithMaster(ln.Addr().String(), stop)
	}

	conn, err := ln.Accept()
	if err != nil {
		return xerrors.Errorf("accept driver connection: %w", err)
	}
	defer conn.Close()
	return w.handleConn(conn)
}

// registerWithMaster dials cfg.MasterAddress (retrying every 200ms until it
// succeeds or stop is closed), announces this worker's address with a
// Register frame, then sends a Heartbeat on the same connection every
// cfg.HeartbeatInterval until stop is closed or the connection is lost, in
// which case it falls back to re-dialing and re-registering.
func (w *Worker) registerWithMaster(addr string, stop <-chan struct{}) {
	logger := w.cfg.Logger
	for {
		conn, err := dialUntilStopped(w.cfg.MasterAddress, 200*time.Millisecond, stop)
		if conn == nil {
			return // stop was closed before a connection succeeded
		}
		if err := wire.WriteMessage(conn, wire.Register{Addr: addr}); err != nil {
			logger.WithField("err", err).Warn("register with master failed")
			conn.Close()
			continue
		}

		if w.heartbeatLoop(conn, addr, stop) {
			conn.Close()
			return
		}
		conn.Close()
	}
}

// heartbeatLoop sends a Heartbeat every cfg.HeartbeatInterval over conn
// until stop is closed (returns true) or a send fails (returns false, so the
// caller can reconnect and re-register).
func (w *Worker) heartbeatLoop(conn net.Conn, addr string, stop <-chan struct{}) bool {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return true
		case <-ticker.C:
			if err := wire.WriteMessage(conn, wire.Heartbeat{Addr: addr}); err != nil {
				w.cfg.Logger.WithField("err", err).Warn("heartbeat to master failed")
				return false
			}
		}
	}
}

func dialUntilStopped(addr string, backoff time.Duration, stop <-chan struct{}) (net.Conn, error) {
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-stop:
			return nil, err
		case <-time.After(backoff):
		}
	}
}

func (w *Worker) handleConn(conn net.Conn) error {
	logger := w.cfg.Logger
	if err := wire.WriteMessage(conn, wire.Ready{}); err != nil {
		return xerrors.Errorf("send ready: %w", err)
	}

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			if xerrors.Is(err, io.EOF) {
				return nil
			}
			return xerrors.Errorf("read frame: %w", err)
		}

		if err := w.dispatch(conn, msg); err != nil {
			logger.WithField("err", err).Error("operation failed")
			_ = wire.WriteMessage(conn, wire.Error{Message: err.Error()})
			if _, isShutdown := msg.(wire.Shutdown); !isShutdown {
				return err
			}
		}
		if _, ok := msg.(wire.Shutdown); ok {
			return nil
		}
	}
}

func (w *Worker) dispatch(conn net.Conn, msg wire.Message) error {
	switch m := msg.(type) {
	case wire.LoadGraph:
		return w.loadGraph(m.Vertices, m.Edges)

	case wire.LoadGraphBatch:
		if err := w.loadGraph(m.Vertices, m.Edges); err != nil {
			return err
		}
		return wire.WriteMessage(conn, wire.GraphLoaded{Last: m.Last})

	case wire.SetAlgorithm:
		return w.setAlgorithm(m.Name, m.Iterations, m.Params)

	case wire.SuperstepBatch:
		return w.superstepBatch(conn, m)

	case wire.CreateCheckpoint:
		if err := w.store.CreateCheckpoint(m.Dir); err != nil {
			return Internal(err, "create checkpoint")
		}
		return wire.WriteMessage(conn, wire.CheckpointCreated{})

	case wire.LoadCheckpoint:
		newStore, err := state.Open(m.Dir)
		if err != nil {
			return Internal(err, "load checkpoint")
		}
		_ = w.store.Close()
		w.store = newStore
		return wire.WriteMessage(conn, wire.CheckpointLoaded{})

	case wire.FetchVertices:
		var vertices []wire.VertexRec
		err := w.store.ListVertices(func(v state.Vertex) error {
			vertices = append(vertices, wire.VertexRec{ID: v.ID, Value: v.Value})
			return nil
		})
		if err != nil {
			return Internal(err, "list vertices")
		}
		return wire.WriteMessage(conn, wire.Vertices{Vertices: vertices})

	case wire.DumpVerticesCsv:
		if err := w.dumpVerticesCsv(m.Path); err != nil {
			return err
		}
		return wire.WriteMessage(conn, wire.VerticesDumped{Path: m.Path})

	case wire.Shutdown:
		return nil

	default:
		return Internal(nil, "unexpected frame kind from driver")
	}
}

func (w *Worker) loadGraph(vertices []wire.VertexRec, edges []wire.EdgeRec) error {
	if len(vertices) > 0 {
		batch := make([]state.Vertex, len(vertices))
		for i, v := range vertices {
			batch[i] = state.Vertex{ID: v.ID, Value: v.Value}
		}
		if err := w.store.PutVertexBatch(batch); err != nil {
			return Internal(err, "put vertex batch")
		}
	}
	if len(edges) > 0 {
		batch := make([]state.EdgeBatchEntry, len(edges))
		for i, e := range edges {
			batch[i] = state.EdgeBatchEntry{Src: e.Src, Target: e.Target, Value: e.Value}
		}
		if err := w.store.PutEdgeBatch(batch); err != nil {
			return Internal(err, "put edge batch")
		}
	}
	return nil
}

func (w *Worker) setAlgorithm(name string, iterations int, params []byte) error {
	if w.algo != nil && w.algoName == name && w.algoParams == string(params) {
		return nil // idempotent per name+params
	}
	algo, err := w.cfg.Algorithms(name, iterations, params)
	if err != nil {
		return Invalid("construct algorithm %q: %v", name, err)
	}
	w.algo = algo
	w.algoName = name
	w.algoParams = string(params)
	return nil
}

func (w *Worker) superstepBatch(conn net.Conn, m wire.SuperstepBatch) error {
	acc, ok := w.pending[m.Iteration]
	if !ok {
		acc = make(map[string][][]byte)
		w.pending[m.Iteration] = acc
	}
	for _, e := range m.Entries {
		key := string(e.VertexID)
		acc[key] = append(acc[key], e.Payloads...)
	}
	if !m.Last {
		return nil
	}
	delete(w.pending, m.Iteration)

	if w.algo == nil {
		return Invalid("superstep batch received before SetAlgorithm")
	}

	outbox, err := w.runSuperstep(m.Iteration, acc)
	if err != nil {
		return Internal(err, "run superstep %d", m.Iteration)
	}
	return w.streamOutbox(conn, m.Iteration, outbox)
}

func (w *Worker) runSuperstep(iteration int, inbox map[string][][]byte) ([]OutboxEntry, error) {
	var outbox []OutboxEntry
	var writeBack []state.Vertex

	err := w.store.ListVertices(func(v state.Vertex) error {
		edges, err := w.store.GetOutEdges(v.ID)
		if err != nil {
			return err
		}
		algoEdges := make([]algorithm.Edge, len(edges))
		for i, e := range edges {
			algoEdges[i] = algorithm.Edge{Target: e.Target, Value: e.Value}
		}

		messages := inbox[string(v.ID)]
		newVal, hasNewVal, outgoing, err := w.algo.ComputeVertex(v.ID, v.Value, len(v.Value) > 0, algoEdges, messages, iteration)
		if err != nil {
			return err
		}
		if hasNewVal {
			writeBack = append(writeBack, state.Vertex{ID: v.ID, Value: newVal})
		}
		for _, m := range outgoing {
			outbox = append(outbox, OutboxEntry{Target: m.Target, Payload: m.Payload})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(writeBack) > 0 {
		if err := w.store.PutVertexBatch(writeBack); err != nil {
			return nil, err
		}
	}
	return outbox, nil
}

func (w *Worker) streamOutbox(conn net.Conn, iteration int, outbox []OutboxEntry) error {
	if len(outbox) == 0 {
		return wire.WriteMessage(conn, wire.SuperstepResultBatch{Iteration: iteration, Last: true})
	}
	for i := 0; i < len(outbox); i += maxBatchEntries {
		end := i + maxBatchEntries
		if end > len(outbox) {
			end = len(outbox)
		}
		entries := make([]wire.OutboxEntry, end-i)
		for j, e := range outbox[i:end] {
			entries[j] = wire.OutboxEntry{Target: e.Target, Payload: e.Payload}
		}
		last := end == len(outbox)
		if err := wire.WriteMessage(conn, wire.SuperstepResultBatch{Iteration: iteration, Entries: entries, Last: last}); err != nil {
			return err
		}
	}
	return nil
}

func idAsUint64Decimal(b []byte) string {
	var buf [8]byte
	copy(buf[:], b)
	return strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 10)
}

func (w *Worker) dumpVerticesCsv(path string) error {
	var codec state.Codec
	switch w.algoName {
	case "wcc":
		codec = idAsUint64Decimal
	case "pagerank":
		codec = func(b []byte) string { return strconv.FormatFloat(algorithm.DecodeF64(b), 'g', -1, 64) }
	default:
		// Unrecognized algorithm: fall back to the pluggable Serializer
		// rather than assuming a fixed-width encoding.
		codec = func(b []byte) string {
			v, err := w.cfg.Serializer.Unserialize(b)
			if err != nil {
				return idAsUint64Decimal(b)
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return w.store.DumpVerticesCSV(path, idAsUint64Decimal, codec)
}
