package radix

/*

# Concurrent persistent radix tree over fabric-attached memory

This package maps variable-length byte keys (1..=MaxKeyLen) to 64-bit opaque
value handles inside a shared memory region. Many threads, potentially in
many processes mapping the same region, mutate one tree with no locks: the
only coordination is 8-byte CAS on child pointers, 16-byte CAS on tagged
value cells, and the persist/invalidate barriers of the fam package.

## Shape

Each node stores the full key bytes of its prefix (not the incremental
slice), the cumulative prefix length, 256 child pointers indexed by the byte
following the prefix, and one tagged value cell. A value cell is valid iff a
user value is associated with exactly key[0:prefixSize].

Mutation happens through three fixed patterns:

  - grow: CAS a null child pointer to a freshly persisted leaf
  - split: persist an intermediate carrying the diverging children, then CAS
    the parent pointer from the old node to it
  - value update/delete: 16-byte CAS on the cell, installing tag+1

Nodes are persisted before the pointer swing that makes them reachable, so a
reader arriving after a crash only ever sees fully initialized nodes.
Interior nodes are never reclaimed; destroy leaves a tombstone (null pointer,
advanced tag) so the key remains a lookup path and cache holders can
revalidate by tag.

## Consistent caching

The C variants (PutC/GetC/DestroyC) additionally return the Gptr of the leaf
node that holds the value cell. Node addresses are stable for the life of the
tree, so a caller may cache that Gptr and later operate on the cell directly
through the Gptr overloads, detecting replacement by comparing tags.

*/
