// Package dataset defines the units the update engine works on: a Dataset
// (one named tile archive with its source query and build parameters) and
// the UpdateEvent that asks for it to be rebuilt or patched.
//
// UpdateEvent is a closed variant. It is either a bulk rebuild (no payload)
// or a point patch (add or remove) carrying an integer entity reference.
// Notification payloads only become events through ParseEvent, which rejects
// anything malformed with a ValidationError before it can reach a queue.
//
// Entity reference 0 is a legal value. Validation checks that the reference
// is an integral JSON number, never that it is non-zero.
package dataset
