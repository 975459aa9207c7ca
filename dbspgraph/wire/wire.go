// Package wire implements the length-delimited framing and tagged-union
// message codec shared by every connection in the system: client-to-driver,
// driver-to-worker, driver-to-master and worker-to-master all speak the same
// frame format described here.
//
// A frame on the wire is a big-endian uint32 byte length followed by that
// many payload bytes. The payload is a single byte identifying the message
// kind, followed by a gob encoding of the concrete message value. Framing
// itself never blocks on anything beyond network I/O — no message is so
// large that it cannot be buffered in memory before sending, matching the
// 256-entry batch limit enforced by callers in dbspgraph.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"golang.org/x/xerrors"
)

// MaxFrameLen bounds the size of a single frame payload, guarding against a
// corrupt or hostile length prefix causing an unbounded allocation.
const MaxFrameLen = 64 << 20 // 64MiB

// Kind tags a Message's concrete type on the wire.
type Kind byte

const (
	KindReady Kind = iota + 1
	KindLoadGraph
	KindLoadGraphBatch
	KindGraphLoaded
	KindSetAlgorithm
	KindSuperstepBatch
	KindSuperstepResultBatch
	KindCreateCheckpoint
	KindCheckpointCreated
	KindLoadCheckpoint
	KindCheckpointLoaded
	KindFetchVertices
	KindVertices
	KindDumpVerticesCsv
	KindVerticesDumped
	KindShutdown
	KindError
	KindRegister
	KindHeartbeat
	KindGetWorkers
	KindWorkers
	KindClientSubmitJob
	KindClientJobAccepted
	KindClientGetJobStatus
	KindClientJobStatus
	KindClientFetchVertices
	KindClientVertices
	KindClientShutdown
)

// Message is implemented by every concrete frame payload type.
type Message interface {
	Kind() Kind
}

// WriteMessage frames and writes msg to w.
func WriteMessage(w io.Writer, msg Message) error {
	var body bytes.Buffer
	body.WriteByte(byte(msg.Kind()))
	if err := gob.NewEncoder(&body).Encode(msg); err != nil {
		return xerrors.Errorf("encode message: %w", err)
	}
	if body.Len() > MaxFrameLen {
		return xerrors.Errorf("frame too large: %d bytes", body.Len())
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(body.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return xerrors.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return xerrors.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadMessage reads and decodes the next framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err // io.EOF propagates as-is so callers can detect disconnect
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n == 0 {
		return nil, xerrors.Errorf("empty frame")
	}
	if n > MaxFrameLen {
		return nil, xerrors.Errorf("frame too large: %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, xerrors.Errorf("read frame body: %w", err)
	}

	kind := Kind(body[0])
	dec := gob.NewDecoder(bytes.NewReader(body[1:]))

	ptr, err := newForKind(kind)
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(ptr); err != nil {
		return nil, xerrors.Errorf("decode message kind %d: %w", kind, err)
	}
	return deref(ptr), nil
}

// newForKind allocates an addressable zero value of the concrete type for k,
// suitable as a gob.Decode target.
func newForKind(k Kind) (Message, error) {
	switch k {
	case KindReady:
		return new(Ready), nil
	case KindLoadGraph:
		return new(LoadGraph), nil
	case KindLoadGraphBatch:
		return new(LoadGraphBatch), nil
	case KindGraphLoaded:
		return new(GraphLoaded), nil
	case KindSetAlgorithm:
		return new(SetAlgorithm), nil
	case KindSuperstepBatch:
		return new(SuperstepBatch), nil
	case KindSuperstepResultBatch:
		return new(SuperstepResultBatch), nil
	case KindCreateCheckpoint:
		return new(CreateCheckpoint), nil
	case KindCheckpointCreated:
		return new(CheckpointCreated), nil
	case KindLoadCheckpoint:
		return new(LoadCheckpoint), nil
	case KindCheckpointLoaded:
		return new(CheckpointLoaded), nil
	case KindFetchVertices:
		return new(FetchVertices), nil
	case KindVertices:
		return new(Vertices), nil
	case KindDumpVerticesCsv:
		return new(DumpVerticesCsv), nil
	case KindVerticesDumped:
		return new(VerticesDumped), nil
	case KindShutdown:
		return new(Shutdown), nil
	case KindError:
		return new(Error), nil
	case KindRegister:
		return new(Register), nil
	case KindHeartbeat:
		return new(Heartbeat), nil
	case KindGetWorkers:
		return new(GetWorkers), nil
	case KindWorkers:
		return new(Workers), nil
	case KindClientSubmitJob:
		return new(ClientSubmitJob), nil
	case KindClientJobAccepted:
		return new(ClientJobAccepted), nil
	case KindClientGetJobStatus:
		return new(ClientGetJobStatus), nil
	case KindClientJobStatus:
		return new(ClientJobStatus), nil
	case KindClientFetchVertices:
		return new(ClientFetchVertices), nil
	case KindClientVertices:
		return new(ClientVertices), nil
	case KindClientShutdown:
		return new(ClientShutdown), nil
	default:
		return nil, xerrors.Errorf("unknown message kind %d", k)
	}
}

// deref unwraps the pointer newForKind allocated back into the plain value
// every caller's type switch matches against (messages are constructed and
// sent as values, e.g. wire.Ready{}, throughout this package's callers).
func deref(ptr Message) Message {
	switch p := ptr.(type) {
	case *Ready:
		return *p
	case *LoadGraph:
		return *p
	case *LoadGraphBatch:
		return *p
	case *GraphLoaded:
		return *p
	case *SetAlgorithm:
		return *p
	case *SuperstepBatch:
		return *p
	case *SuperstepResultBatch:
		return *p
	case *CreateCheckpoint:
		return *p
	case *CheckpointCreated:
		return *p
	case *LoadCheckpoint:
		return *p
	case *CheckpointLoaded:
		return *p
	case *FetchVertices:
		return *p
	case *Vertices:
		return *p
	case *DumpVerticesCsv:
		return *p
	case *VerticesDumped:
		return *p
	case *Shutdown:
		return *p
	case *Error:
		return *p
	case *Register:
		return *p
	case *Heartbeat:
		return *p
	case *GetWorkers:
		return *p
	case *Workers:
		return *p
	case *ClientSubmitJob:
		return *p
	case *ClientJobAccepted:
		return *p
	case *ClientGetJobStatus:
		return *p
	case *ClientJobStatus:
		return *p
	case *ClientFetchVertices:
		return *p
	case *ClientVertices:
		return *p
	case *ClientShutdown:
		return *p
	default:
		return ptr
	}
}
