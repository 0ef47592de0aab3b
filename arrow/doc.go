// Package arrow exports scheduling results as Apache Arrow records.
//
// Each scheduled block becomes one record with a row per confirmed
// transaction in commit order. Height, block hash, state root and the
// number of re-execution rounds are stored in the schema metadata.
// Records are shipped as IPC streams, one file per block.
package arrow
