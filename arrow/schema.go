package arrow

import (
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

// Schema metadata keys carrying block level values.
const (
	MetaHeight    = "height"
	MetaBlockHash = "block_hash"
	MetaStateRoot = "state_root"
	MetaRounds    = "reexecution_rounds"

	MetaDependencyEdges = "dependency_edges"
	MetaBatches         = "batches"
	MetaMaxParallelism  = "max_parallelism"
)

// confirmedFields returns the fields of one confirmed transaction row.
//
// Fields:
//   - position: int32 - index in the final order
//   - tx_hash: string - 0x-prefixed transaction hash
//   - priority: fixed_size_binary(41) - serialized priority code
//   - success: bool - execution outcome
//   - reason: string (nullable) - failure reason
//   - output: binary (nullable) - execution output
//   - attempts: int32 - number of executions
//   - reads: int32 - number of recorded reads
//   - writes: int32 - number of recorded writes
func confirmedFields() []arrow.Field {
	return []arrow.Field{
		{Name: "position", Type: arrow.PrimitiveTypes.Int32},
		{Name: "tx_hash", Type: arrow.BinaryTypes.String},
		{Name: "priority", Type: &arrow.FixedSizeBinaryType{ByteWidth: types.PriorityCodeSize}},
		{Name: "success", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "reason", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "output", Type: arrow.BinaryTypes.Binary, Nullable: true},
		{Name: "attempts", Type: arrow.PrimitiveTypes.Int32},
		{Name: "reads", Type: arrow.PrimitiveTypes.Int32},
		{Name: "writes", Type: arrow.PrimitiveTypes.Int32},
	}
}

// ConfirmedSchema returns the schema of confirmed transaction records
// without block metadata.
func ConfirmedSchema() *arrow.Schema {
	return arrow.NewSchema(confirmedFields(), nil)
}

// BlockSummary is the block level data stored in schema metadata.
type BlockSummary struct {
	Height            uint64
	BlockHash         types.Hash
	StateRoot         types.Hash
	ReexecutionRounds int
	DependencyEdges   int
	Batches           int
	MaxParallelism    int
}

func (s BlockSummary) metadata() arrow.Metadata {
	return arrow.NewMetadata(
		[]string{
			MetaHeight, MetaBlockHash, MetaStateRoot, MetaRounds,
			MetaDependencyEdges, MetaBatches, MetaMaxParallelism,
		},
		[]string{
			strconv.FormatUint(s.Height, 10),
			s.BlockHash.Hex(),
			s.StateRoot.Hex(),
			strconv.Itoa(s.ReexecutionRounds),
			strconv.Itoa(s.DependencyEdges),
			strconv.Itoa(s.Batches),
			strconv.Itoa(s.MaxParallelism),
		},
	)
}

// schemaFor returns the confirmed schema annotated with s.
func schemaFor(s BlockSummary) *arrow.Schema {
	md := s.metadata()
	return arrow.NewSchema(confirmedFields(), &md)
}
