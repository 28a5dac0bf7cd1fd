package famops

/*

# Descriptor-bounded data-path operations

This package is the mechanical companion to the radix tree: block copy,
gather/scatter, and arithmetic-atomic operations on user data regions,
addressed through descriptors rather than raw pointers. Every operation
bounds-checks the descriptor span, checks the descriptor's permission bits,
and dispatches to the fam primitives, persisting after writes.

Blocking transfer operations move bytes between process-local buffers and
fabric-attached memory (and fabric-to-fabric for Copy). The atomic
operations act on naturally aligned 32- or 64-bit cells at a byte offset
within the descriptor; fetch variants return the value observed before the
operation.

*/
