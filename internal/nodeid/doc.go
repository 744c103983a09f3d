// internal/nodeid/doc.go

/*
Package nodeid provides a structured, type-safe representation for node
identifiers across nested patches.

Nodes live in per-patch arenas and are numbered by monotonically increasing
indices. A node inside a subpatch is identified by the chain of indices from
the top-level patch down to it, written as a slash-separated path, e.g. `4/1/9`
for node 9 in the subpatch of node 1, which lives in the subpatch of top-level
node 4.

The canonical string form is used as a stable key when node state crosses
execution contexts.
*/
package nodeid
