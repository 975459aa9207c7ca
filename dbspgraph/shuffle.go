package dbspgraph

import "github.com/gauss1314/geaflow-go/dbspgraph/partition"

// Inbox is one partition's accumulated messages for the next superstep,
// keyed by target vertex id (as a string so it can key a Go map; vertex ids
// are opaque bytes everywhere else).
type Inbox map[string][][]byte

// OutboxEntry is one outgoing message produced by a worker during a
// superstep.
type OutboxEntry struct {
	Target  []byte
	Payload []byte
}

// Shuffle routes outbox into n per-partition inboxes such that every
// message lands in partition.Of(target, n). Messages to the same target
// land in the same inbox in arrival order (a Go slice append is stable by
// construction); the relative order of different targets' message groups
// within one partition is unspecified, matching the shuffle contract.
func Shuffle(outbox []OutboxEntry, n int) []Inbox {
	inboxes := make([]Inbox, n)
	for i := range inboxes {
		inboxes[i] = make(Inbox)
	}
	for _, m := range outbox {
		p := partition.Of(m.Target, n)
		key := string(m.Target)
		inboxes[p][key] = append(inboxes[p][key], m.Payload)
	}
	return inboxes
}
