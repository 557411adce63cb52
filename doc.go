// Package lemonproxy persists host records in a local, versioned key-value
// database behind a uniform create, read, update, erase and clear contract.
//
// # Shapes
//
// A collection holds either a flat record set or a parent linked tree. The
// shape is taken from Config.Shape, or detected once: from the stored records
// when the database is first opened (any record with a leaf or parentId field
// makes it hierarchical) or, for an empty collection, from the first created
// record. It never changes afterwards.
//
// # Reads
//
// Flat reads either return one record by identity or sort the whole
// collection, filter it from the start offset and stop at the limit.
// Hierarchical reads rebuild the tree from parentId links and return the
// root level nodes with their descendants attached.
//
// # Readiness
//
// The database is opened by the first operation. Concurrent callers share that
// single initialization and all observe its result. Raising Config.Version
// drops and recreates the collection.
//
// # Errors
//
//   - [ErrInvalidConfig], [ErrStorageUnavailable] - returned by [New]
//   - [ErrUnableToLoadRecords] - reported through [Operation.Err] when a single
//     record read finds nothing
//   - storage failures are returned by every operation, a failing batch keeps
//     the records written before the failure
package lemonproxy
