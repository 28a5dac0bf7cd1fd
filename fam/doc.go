package fam

/*

# Primitives for fabric-attached memory

This package is the trust boundary between the tree algorithms and the
hardware: global pointer types, the atomic operations permitted on shared
cells, and the cache-line persist/invalidate barriers.

Every read or write of a cell that another thread or process may mutate MUST
go through this package. The permitted cell shapes are:

  - a 64-bit word (child pointers, allocator cursors): Load64/Store64/CAS64
  - a 128-bit tagged pointer (value cells, free-list heads): Load128/CAS128

CAS64 and CAS128 return the value actually observed, so a caller can resume
from contention without a separate reload.

The 128-bit operations require a genuine 16-byte atomic; composing two 8-byte
operations would break linearizability of tagged-cell transitions. amd64 and
arm64 use LOCK CMPXCHG16B and LDAXP/STLXP respectively. Other architectures
fall back to a striped-lock emulation that is correct within a single process
only.

Persist and Invalidate are build-time switched: under the `pmem` tag Persist
flushes the covering lines to the persistence domain, otherwise both compile
to nothing and the algorithms are unchanged.

*/
