package dbspgraph

//go:generate mockgen -package mocks -destination mocks/mock_serializer.go github.com/gauss1314/geaflow-go/dbspgraph Serializer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gauss1314/geaflow-go/dbspgraph/algorithm"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Serializer encodes and decodes opaque vertex-value bytes. A worker's
// Serializer is set in its WorkerConfig and is used only when dumping vertex
// values as CSV for an algorithm the worker does not recognize. Bundled
// algorithms (WCC, PageRank) decode their own fixed binary encodings
// directly and never go through a Serializer; it exists for callers
// dumping or inspecting vertex values produced by algorithms this package
// does not know about.
type Serializer interface {
	// Serialize encodes v into its wire byte representation.
	Serialize(v interface{}) ([]byte, error)
	// Unserialize decodes b back into a value.
	Unserialize(b []byte) (interface{}, error)
}

// JSONSerializer is the default Serializer: it round-trips values through
// encoding/json. Suitable for any value JSON can represent; algorithms
// needing a fixed-width binary encoding (WCC, PageRank) bypass it entirely.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unserialize(b []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// AlgorithmFactory constructs a fresh Algorithm instance for a named
// algorithm and its opaque parameter bytes, as requested by a job's
// SetAlgorithm call.
type AlgorithmFactory func(name string, iterations int, params []byte) (algorithm.Algorithm, error)

// WorkerConfig encapsulates the configuration options for a worker node.
type WorkerConfig struct {
	// ListenAddress is the TCP address the worker listens on for the
	// driver's connection.
	ListenAddress string

	// StateDir is the directory backing this worker's persistent graph
	// state store.
	StateDir string

	// Algorithms resolves a named algorithm to a runnable instance.
	Algorithms AlgorithmFactory

	// MasterAddress, if non-empty, is dialed on startup to register this
	// worker and send periodic heartbeats. Connection failures to the
	// master are logged and retried; they are never fatal to the worker.
	MasterAddress string

	// HeartbeatInterval is how often the worker sends a Heartbeat frame to
	// MasterAddress once registered. Ignored when MasterAddress is empty.
	// Defaults to 1 second.
	HeartbeatInterval time.Duration

	// Serializer renders vertex values for algorithms this worker doesn't
	// recognize (used by DumpVerticesCsv's fallback codec); defaults to
	// JSONSerializer.
	Serializer Serializer

	// Logger to use; defaults to a discarding logger.
	Logger *logrus.Entry
}

// Validate checks the worker configuration and fills in defaults.
func (cfg *WorkerConfig) Validate() error {
	var err error
	if cfg.ListenAddress == "" {
		err = multierror.Append(err, xerrors.Errorf("listen address not specified"))
	}
	if cfg.StateDir == "" {
		err = multierror.Append(err, xerrors.Errorf("state directory not specified"))
	}
	if cfg.Algorithms == nil {
		err = multierror.Append(err, xerrors.Errorf("algorithm factory not specified"))
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.Serializer == nil {
		cfg.Serializer = JSONSerializer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard, Formatter: new(logrus.TextFormatter), Level: logrus.PanicLevel})
	}
	return err
}

// MasterConfig encapsulates the configuration options for a master node.
type MasterConfig struct {
	// ListenAddress is the TCP address the master listens on for
	// Register/Heartbeat/GetWorkers connections.
	ListenAddress string

	// WorkerTTL is the duration after which a worker that has not sent a
	// Heartbeat is purged from the registry.
	WorkerTTL int64 // milliseconds

	// Logger to use; defaults to a discarding logger.
	Logger *logrus.Entry
}

// Validate checks the master configuration and fills in defaults.
func (cfg *MasterConfig) Validate() error {
	var err error
	if cfg.ListenAddress == "" {
		err = multierror.Append(err, xerrors.Errorf("listen address not specified"))
	}
	if cfg.WorkerTTL <= 0 {
		cfg.WorkerTTL = 5000
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard, Formatter: new(logrus.TextFormatter), Level: logrus.PanicLevel})
	}
	return err
}

// DriverConfig encapsulates the configuration options for a driver
// instance.
type DriverConfig struct {
	// WorkerAddrs lists the TCP addresses of every worker partition, in
	// partition-index order. If empty, MasterAddress is queried via
	// GetWorkers to resolve the current worker set at Dial time.
	WorkerAddrs []string

	// MasterAddress, if WorkerAddrs is empty, is queried for the current
	// set of registered, live workers via a GetWorkers/Workers exchange.
	MasterAddress string

	// ConnectAttempts and ConnectBackoffMillis bound the driver's
	// connect-with-retry loop (spec §4.7.1: ~200 attempts x 30ms).
	ConnectAttempts      int
	ConnectBackoffMillis int

	// VertexBatchSize bounds how many vertices/edges are buffered per
	// partition before flushing a LoadGraphBatch; default 50000.
	VertexBatchSize int

	// Logger to use; defaults to a discarding logger.
	Logger *logrus.Entry
}

// Validate checks the driver configuration and fills in defaults.
func (cfg *DriverConfig) Validate() error {
	var err error
	if len(cfg.WorkerAddrs) == 0 && cfg.MasterAddress == "" {
		err = multierror.Append(err, xerrors.Errorf("no worker addresses and no master address specified"))
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 200
	}
	if cfg.ConnectBackoffMillis <= 0 {
		cfg.ConnectBackoffMillis = 30
	}
	if cfg.VertexBatchSize <= 0 {
		cfg.VertexBatchSize = 50000
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard, Formatter: new(logrus.TextFormatter), Level: logrus.PanicLevel})
	}
	return err
}
