package network

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/VanDung-dev/Seamless-Engine/engine"
	"github.com/VanDung-dev/Seamless-Engine/types"
)

// TopicSchedule is the topic frame of schedule summaries.
const TopicSchedule = "schedule"

// TxSummary describes one confirmed transaction.
type TxSummary struct {
	Hash     string `json:"hash"`
	Priority string `json:"priority"`
	Success  bool   `json:"success"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`
}

// ScheduleSummary is the published form of a ScheduleResult.
type ScheduleSummary struct {
	From              string      `json:"from"`
	Height            uint64      `json:"height"`
	BlockHash         string      `json:"block_hash"`
	StateRoot         string      `json:"state_root"`
	ReexecutionRounds int         `json:"reexecution_rounds"`
	Executions        int         `json:"executions"`
	DependencyEdges   int         `json:"dependency_edges"`
	Batches           int         `json:"batches"`
	MaxParallelism    int         `json:"max_parallelism"`
	Transactions      []TxSummary `json:"transactions"`
	Timestamp         time.Time   `json:"timestamp"`
}

// NewScheduleSummary summarizes res for the block at height.
func NewScheduleSummary(from string, height uint64, res *engine.ScheduleResult) *ScheduleSummary {
	s := &ScheduleSummary{
		From:              from,
		Height:            height,
		BlockHash:         res.BlockHash.Hex(),
		StateRoot:         res.StateRoot.Hex(),
		ReexecutionRounds: res.ReexecutionRounds,
		Executions:        res.Stats.Executions,
		DependencyEdges:   res.Stats.Dependencies.Edges,
		Batches:           res.Stats.Dependencies.Batches,
		MaxParallelism:    res.Stats.Dependencies.MaxParallelism,
		Transactions:      make([]TxSummary, len(res.Confirmed)),
		Timestamp:         time.Now().UTC(),
	}
	for i, tx := range res.Confirmed {
		s.Transactions[i] = TxSummary{
			Hash:     tx.Hash().Hex(),
			Priority: tx.Priority.String(),
			Success:  tx.Result.IsSuccess(),
			Reason:   tx.Result.Reason,
			Attempts: tx.Attempts,
		}
	}
	return s
}

// Root parses the state root.
func (s *ScheduleSummary) Root() (types.Hash, error) {
	return types.HexToHash(s.StateRoot)
}

func encodeSummary(s *ScheduleSummary) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	return data, nil
}

func decodeSummary(data []byte) (*ScheduleSummary, error) {
	var s ScheduleSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &s, nil
}
