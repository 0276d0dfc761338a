// Package lockmgr implements leases on top of any store.IStore.
//
// A lease is a key holding a random owner ID. It is taken with SetEIfUnset and
// confirmed by reading the key back; whoever finds its own ID won. The
// deletion deadline of the key is the lease timeout, so a crashed holder
// cannot block others forever. Releasing compares the owner ID before
// deleting.
//
// The manager keeps no state besides the store, any number of managers over
// the same store see the same leases.
//
// Two places use it:
//
//   - the metadata store serializes its writes through the lease meta/write
//   - every shard engine guards its namespaces with leases ns/<namespace>
//     while routers split, migrate or drop chunks
//
// AcquireWithRetry polls with exponential backoff for callers that would
// rather wait than fail.
package lockmgr
