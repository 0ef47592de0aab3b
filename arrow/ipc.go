package arrow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/VanDung-dev/Seamless-Engine/engine"
)

// Encode writes one block record as an IPC stream. Schema metadata
// travels with the stream.
func (c *Converter) Encode(record arrow.Record) ([]byte, error) {
	if err := ValidateSchema(record, ConfirmedSchema()); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(record.Schema()), ipc.WithAllocator(c.allocator))
	if err := w.Write(record); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a stream holding exactly one block record. The caller
// must release the record.
func (c *Converter) Decode(data []byte) (arrow.Record, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer r.Release()

	if !r.Next() {
		if r.Err() != nil {
			return nil, r.Err()
		}
		return nil, fmt.Errorf("no record in stream")
	}
	record := r.Record()
	record.Retain()

	if r.Next() {
		record.Release()
		return nil, fmt.Errorf("stream holds more than one record")
	}
	if err := ValidateSchema(record, ConfirmedSchema()); err != nil {
		record.Release()
		return nil, err
	}
	return record, nil
}

const (
	filePrefix = "block-"
	fileSuffix = ".arrow"
)

// Exporter stores one IPC file per block in a directory. Each block gets
// its own file because the block values live in the schema metadata.
type Exporter struct {
	dir  string
	conv *Converter
}

// NewExporter creates an exporter writing into dir.
func NewExporter(dir string, conv *Converter) *Exporter {
	if conv == nil {
		conv = NewConverter()
	}
	return &Exporter{dir: dir, conv: conv}
}

// Path returns the file of the block at height.
func (e *Exporter) Path(height uint64) string {
	return filepath.Join(e.dir, fmt.Sprintf("%s%08d%s", filePrefix, height, fileSuffix))
}

// Export writes the result of the block at height and returns the file
// path. The file appears atomically.
func (e *Exporter) Export(height uint64, res *engine.ScheduleResult) (string, error) {
	record, err := e.conv.ResultToRecord(height, res)
	if err != nil {
		return "", err
	}
	defer record.Release()

	data, err := e.conv.Encode(record)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(e.dir, filePrefix+"*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	path := e.Path(height)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return path, nil
}

// Load reads the record of the block at height.
func (e *Exporter) Load(height uint64) (arrow.Record, error) {
	data, err := os.ReadFile(e.Path(height))
	if err != nil {
		return nil, fmt.Errorf("failed to read block %d: %w", height, err)
	}
	return e.conv.Decode(data)
}

// Heights lists the exported block heights in ascending order.
func (e *Exporter) Heights() ([]uint64, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, err
	}
	var heights []uint64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		h, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights, nil
}
