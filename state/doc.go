// Copyright (c) StateFlow Authors.
// Licensed under the MIT License.

/*
Package state provides field-level state diffing, pluggable conflict
resolution, and an immutable in-memory version ledger.

# Core types

  - FieldConflict / ConflictType — a field-level disagreement between two
    candidate states (VALUE_CHANGED / TYPE_MISMATCH / ADDED / DELETED)
  - Diff                         — deterministic recursive diff of two states
  - Resolver / Strategy          — strategy-table conflict resolution with a
    bounded resolution history ring buffer
  - VersionStore / StateVersion  — append-only, content-addressed version
    ledger, separate from the durable checkpoint chain

Resolution strategies: LastWriteWins, FirstWriteWins, MergeChanges, and
Custom (caller-supplied per-conflict callback). An unresolved conflict is
returned as data, never as an error: "could not auto-merge a field" is a
normal outcome requiring a caller decision, not a fault.
*/
package state
