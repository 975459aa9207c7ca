// Package partition implements the stable, deterministic mapping from a
// vertex id's raw byte representation to a partition index. It is the only
// mechanism in the system that decides data placement; the driver, the
// shuffle and every worker must agree on it.
package partition

import "github.com/cespare/xxhash/v2"

// Of returns the partition index that owns id when the cluster has n
// worker partitions. The hash is fixed and unseeded (xxhash carries no
// process-random seed), so Of is identical across processes and across
// runs — unlike Go's builtin map hash or hash/maphash, both of which are
// seeded per process and are therefore unsuitable here.
func Of(id []byte, n int) int {
	if n < 1 {
		n = 1
	}
	return int(xxhash.Sum64(id) % uint64(n))
}
