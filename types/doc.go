// Package types defines the core data model shared by the scheduler:
// hashes, transactions, blocks, read-write sets, execution results and
// the priority codes that order transactions inside a block.
package types
