package arrow

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/Seamless-Engine/engine"
	"github.com/VanDung-dev/Seamless-Engine/types"
)

// ConfirmedRow is one confirmed transaction read back from a record.
type ConfirmedRow struct {
	Position int
	TxHash   string
	Priority types.PriorityCode
	Success  bool
	Reason   string
	Output   []byte
	Attempts int
	Reads    int
	Writes   int
}

// Converter turns schedule results into Arrow records.
type Converter struct {
	allocator memory.Allocator
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{allocator: memory.DefaultAllocator}
}

// NewConverterWithAllocator creates a Converter with a custom allocator.
func NewConverterWithAllocator(alloc memory.Allocator) *Converter {
	return &Converter{allocator: alloc}
}

// ResultToRecord converts the confirmed transactions of res into a record.
// Block level values go into the schema metadata.
func (c *Converter) ResultToRecord(height uint64, res *engine.ScheduleResult) (arrow.Record, error) {
	if res == nil {
		return nil, errors.New("nil schedule result")
	}

	schema := schemaFor(BlockSummary{
		Height:            height,
		BlockHash:         res.BlockHash,
		StateRoot:         res.StateRoot,
		ReexecutionRounds: res.ReexecutionRounds,
		DependencyEdges:   res.Stats.Dependencies.Edges,
		Batches:           res.Stats.Dependencies.Batches,
		MaxParallelism:    res.Stats.Dependencies.MaxParallelism,
	})
	builder := array.NewRecordBuilder(c.allocator, schema)
	defer builder.Release()

	positionBuilder := builder.Field(0).(*array.Int32Builder)
	hashBuilder := builder.Field(1).(*array.StringBuilder)
	priorityBuilder := builder.Field(2).(*array.FixedSizeBinaryBuilder)
	successBuilder := builder.Field(3).(*array.BooleanBuilder)
	reasonBuilder := builder.Field(4).(*array.StringBuilder)
	outputBuilder := builder.Field(5).(*array.BinaryBuilder)
	attemptsBuilder := builder.Field(6).(*array.Int32Builder)
	readsBuilder := builder.Field(7).(*array.Int32Builder)
	writesBuilder := builder.Field(8).(*array.Int32Builder)

	for i, tx := range res.Confirmed {
		priority := tx.Priority.Bytes()

		positionBuilder.Append(int32(i))
		hashBuilder.Append(tx.Hash().Hex())
		priorityBuilder.Append(priority[:])
		successBuilder.Append(tx.Result.IsSuccess())

		if tx.Result.Reason != "" {
			reasonBuilder.Append(tx.Result.Reason)
		} else {
			reasonBuilder.AppendNull()
		}
		if tx.Result.Output != nil {
			outputBuilder.Append(tx.Result.Output)
		} else {
			outputBuilder.AppendNull()
		}

		attemptsBuilder.Append(int32(tx.Attempts))
		readsBuilder.Append(int32(len(tx.RWSet.Reads())))
		writesBuilder.Append(int32(len(tx.RWSet.Writes())))
	}

	return builder.NewRecord(), nil
}

// RecordToRows reads confirmed rows back from a record.
func (c *Converter) RecordToRows(record arrow.Record) ([]ConfirmedRow, error) {
	if err := ValidateSchema(record, ConfirmedSchema()); err != nil {
		return nil, err
	}

	positionCol := record.Column(0).(*array.Int32)
	hashCol := record.Column(1).(*array.String)
	priorityCol := record.Column(2).(*array.FixedSizeBinary)
	successCol := record.Column(3).(*array.Boolean)
	reasonCol := record.Column(4).(*array.String)
	outputCol := record.Column(5).(*array.Binary)
	attemptsCol := record.Column(6).(*array.Int32)
	readsCol := record.Column(7).(*array.Int32)
	writesCol := record.Column(8).(*array.Int32)

	rows := make([]ConfirmedRow, record.NumRows())
	for i := range rows {
		var code types.PriorityCode
		if err := code.UnmarshalBinary(priorityCol.Value(i)); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		rows[i] = ConfirmedRow{
			Position: int(positionCol.Value(i)),
			TxHash:   hashCol.Value(i),
			Priority: code,
			Success:  successCol.Value(i),
			Attempts: int(attemptsCol.Value(i)),
			Reads:    int(readsCol.Value(i)),
			Writes:   int(writesCol.Value(i)),
		}
		if !reasonCol.IsNull(i) {
			rows[i].Reason = reasonCol.Value(i)
		}
		if !outputCol.IsNull(i) {
			rows[i].Output = append([]byte(nil), outputCol.Value(i)...)
		}
	}
	return rows, nil
}

// SummaryFromRecord reads the block level values from the schema metadata.
func SummaryFromRecord(record arrow.Record) (BlockSummary, error) {
	var s BlockSummary
	if record == nil {
		return s, errors.New("record is nil")
	}
	md := record.Schema().Metadata()

	get := func(key string) (string, error) {
		idx := md.FindKey(key)
		if idx < 0 {
			return "", fmt.Errorf("missing metadata key %q", key)
		}
		return md.Values()[idx], nil
	}

	v, err := get(MetaHeight)
	if err != nil {
		return s, err
	}
	if s.Height, err = strconv.ParseUint(v, 10, 64); err != nil {
		return s, fmt.Errorf("parse %s: %w", MetaHeight, err)
	}
	if v, err = get(MetaBlockHash); err != nil {
		return s, err
	}
	if s.BlockHash, err = types.HexToHash(v); err != nil {
		return s, fmt.Errorf("parse %s: %w", MetaBlockHash, err)
	}
	if v, err = get(MetaStateRoot); err != nil {
		return s, err
	}
	if s.StateRoot, err = types.HexToHash(v); err != nil {
		return s, fmt.Errorf("parse %s: %w", MetaStateRoot, err)
	}
	if v, err = get(MetaRounds); err != nil {
		return s, err
	}
	if s.ReexecutionRounds, err = strconv.Atoi(v); err != nil {
		return s, fmt.Errorf("parse %s: %w", MetaRounds, err)
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{MetaDependencyEdges, &s.DependencyEdges},
		{MetaBatches, &s.Batches},
		{MetaMaxParallelism, &s.MaxParallelism},
	} {
		if v, err = get(f.key); err != nil {
			return s, err
		}
		if *f.dst, err = strconv.Atoi(v); err != nil {
			return s, fmt.Errorf("parse %s: %w", f.key, err)
		}
	}
	return s, nil
}

// ValidateSchema checks if a record matches the expected schema.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.Name)
		}

		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.Type)
		}
	}

	return nil
}
