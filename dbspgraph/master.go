package dbspgraph

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gauss1314/geaflow-go/dbspgraph/wire"
	"golang.org/x/xerrors"
)

// Master is an in-memory registry mapping worker address to last-seen time.
// Workers Register once on startup then Heartbeat on a cadence; on each
// GetWorkers request from a driver the master purges entries older than its
// configured TTL and returns the remaining addresses, sorted.
type Master struct {
	cfg MasterConfig

	mu      sync.Mutex
	lastSeen map[string]time.Time

	ln net.Listener
}

// NewMaster creates a new Master with the given configuration.
func NewMaster(cfg MasterConfig) (*Master, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("master config validation failed: %w", err)
	}
	return &Master{cfg: cfg, lastSeen: make(map[string]time.Time)}, nil
}

// Start begins listening for Register/Heartbeat/GetWorkers connections.
// Start is non-blocking; callers must call Close to release the listener.
func (m *Master) Start() error {
	ln, err := net.Listen("tcp", m.cfg.ListenAddress)
	if err != nil {
		return xerrors.Errorf("listen: %w", err)
	}
	m.ln = ln
	m.cfg.Logger.WithField("addr", ln.Addr().String()).Info("master listening")
	go m.acceptLoop(ln)
	return nil
}

// Close stops accepting new connections.
func (m *Master) Close() error {
	if m.ln == nil {
		return nil
	}
	return m.ln.Close()
}

func (m *Master) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go m.handleConn(conn)
	}
}

func (m *Master) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		switch req := msg.(type) {
		case wire.Register:
			m.register(req.Addr)
		case wire.Heartbeat:
			m.register(req.Addr)
		case wire.GetWorkers:
			addrs := m.GetWorkers()
			if err := wire.WriteMessage(conn, wire.Workers{Addrs: addrs}); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (m *Master) register(addr string) {
	m.mu.Lock()
	m.lastSeen[addr] = time.Now()
	m.mu.Unlock()
}

// GetWorkers purges entries older than the configured TTL and returns the
// remaining worker addresses in sorted order.
func (m *Master) GetWorkers() []string {
	ttl := time.Duration(m.cfg.WorkerTTL) * time.Millisecond
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for addr, seen := range m.lastSeen {
		if now.Sub(seen) > ttl {
			delete(m.lastSeen, addr)
		}
	}

	addrs := make([]string, 0, len(m.lastSeen))
	for addr := range m.lastSeen {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}
