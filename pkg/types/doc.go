/*
Package types defines the core data structures shared across Disco's
control-plane components.

This package contains the domain model that the Log & Snapshot Store,
Consensus Engine, and State Machine all agree on: node identity,
membership, replicated commands, and the durable hard-state/snapshot
shapes. Script-host object types (Provider, Cluster, Deployment, ...)
live in package scripthost instead, since they are never replicated or
serialized — see that package's doc comment.

# Core types

  - NodeID / RpcAddr: process-long node identity.
  - Membership / Server: the voting and learner set, itself replicated.
  - Command: the Set/Delete state-machine payload.
  - HardState: the crash-durable term/vote/index bookkeeping.
  - Snapshot / SnapshotMeta: the point-in-time KV + membership image.

All types are plain structs serialized with encoding/json; there is no
protobuf dependency here because the RPC wire encoding is handled at
the pkg/rpc boundary, not in the domain model itself.
*/
package types
