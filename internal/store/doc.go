// Package store provides a SQLite-backed object store that reports changes.
//
// Objects belong to classes. Each class has named properties with stable
// integer keys, and each object has a UUIDv7 id. A class's objects form an
// ordered collection (Results), ordered by creation sequence.
//
// # Change notifications
//
// Write runs one transaction on the calling goroutine. Before commit the
// store compares each observed collection and object against its state at
// the start of the transaction; after a successful commit it invokes the
// registered callbacks on that same goroutine, with zero-based indices:
//   - Object: deleted flag, plus the modified property keys
//   - Collection: deletions and modificationsOld in old indices,
//     insertions and modificationsNew in new indices, all ascending
//
// Callbacks are registered through Object.AddObjectCallback and
// Results.AddCollectionCallback, which satisfy the notify target interfaces.
// When a scheduler is bound, registration is only allowed on its goroutine.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
