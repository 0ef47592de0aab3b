package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/Seamless-Engine/engine"
	"github.com/VanDung-dev/Seamless-Engine/executor/transfer"
	"github.com/VanDung-dev/Seamless-Engine/state"
	"github.com/VanDung-dev/Seamless-Engine/types"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Transactions int
	Accounts     []int
	Workers      int
	MaxRetries   int
	Concurrency  int
	Iterations   int
	Seed         int64
	ReportFile   string
}

// StressTestResult holds the results for one contention level.
type StressTestResult struct {
	Accounts      int
	Runs          int
	Failures      int
	AvgRounds     float64
	MaxRounds     int
	AvgExecutions float64
	AvgRatio      float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
	TxPerSec      float64
	Deterministic bool
}

func main() {
	config := parseFlags()

	fmt.Println("=== Seamless Scheduler Stress Test ===")
	fmt.Printf("Transactions: %d per block\n", config.Transactions)
	fmt.Printf("Accounts:     %v\n", config.Accounts)
	fmt.Printf("Workers:      %d\n", config.Workers)
	fmt.Printf("Concurrency:  %d schedulers x %d iterations\n", config.Concurrency, config.Iterations)
	fmt.Println()

	var results []StressTestResult
	for _, accounts := range config.Accounts {
		result, err := runStressTest(config, accounts)
		if err != nil {
			log.Fatalf("Stress test failed at %d accounts: %v", accounts, err)
		}
		printResults(result)
		results = append(results, result)
	}

	if config.ReportFile != "" {
		saveReport(config, results)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}
	var accounts string

	flag.IntVar(&config.Transactions, "n", 500, "Transactions per block")
	flag.StringVar(&accounts, "accounts", "2,8,32,128", "Comma separated account counts (contention levels)")
	flag.IntVar(&config.Workers, "w", 8, "Scheduler workers")
	flag.IntVar(&config.MaxRetries, "r", 1000, "Maximum re-execution rounds")
	flag.IntVar(&config.Concurrency, "c", 4, "Schedulers running the same block concurrently")
	flag.IntVar(&config.Iterations, "i", 5, "Blocks per contention level")
	flag.Int64Var(&config.Seed, "seed", 1, "Workload seed")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	for _, s := range strings.Split(accounts, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n <= 0 {
			log.Fatalf("Invalid account count %q", s)
		}
		config.Accounts = append(config.Accounts, n)
	}
	return config
}

func address(i int) types.Address {
	return types.BytesToAddress([]byte{byte(i >> 8), byte(i), 0xaa})
}

func buildBlock(rng *rand.Rand, height uint64, accounts, n int) *types.Block {
	txs := make([]*types.Transaction, n)
	for i := range txs {
		from, to := address(rng.Intn(accounts)), address(rng.Intn(accounts))
		txs[i] = types.NewTransaction(uint64(i), from, to, uint64(rng.Intn(50)+1), nil)
	}
	return types.NewBlock(height, types.Hash{}, txs, 0)
}

func genesis(accounts int) (state.Store, error) {
	store := state.NewMemoryStore()
	balances := make(map[types.Address]uint64, accounts)
	for i := 0; i < accounts; i++ {
		balances[address(i)] = 1_000_000
	}
	_, err := transfer.Genesis(store, balances)
	return store, err
}

// runStressTest schedules each block on several schedulers at once, each
// with its own store, and checks they agree on the state root.
func runStressTest(config StressTestConfig, accounts int) (StressTestResult, error) {
	result := StressTestResult{Accounts: accounts, Deterministic: true, MinLatency: time.Duration(1<<63 - 1)}
	rng := rand.New(rand.NewSource(config.Seed))

	var (
		mu            sync.Mutex
		totalLatency  time.Duration
		totalRounds   int
		totalExecs    int
		totalConfirms int
		totalRatio    float64
	)

	cfg := engine.DefaultConfig()
	cfg.Workers = config.Workers
	cfg.MaxRetries = config.MaxRetries
	start := time.Now()

	for it := 0; it < config.Iterations; it++ {
		block := buildBlock(rng, uint64(it+1), accounts, config.Transactions)
		roots := make([]types.Hash, config.Concurrency)

		g, ctx := errgroup.WithContext(context.Background())
		for c := 0; c < config.Concurrency; c++ {
			g.Go(func() error {
				store, err := genesis(accounts)
				if err != nil {
					return err
				}
				defer store.Close()

				sched, err := engine.NewScheduler(cfg)
				if err != nil {
					return err
				}
				defer sched.Close()

				begin := time.Now()
				res, err := sched.Schedule(ctx, block, store, transfer.New())
				latency := time.Since(begin)

				mu.Lock()
				defer mu.Unlock()
				result.Runs++
				if err != nil {
					result.Failures++
					return nil
				}
				roots[c] = res.StateRoot
				totalLatency += latency
				totalRounds += res.ReexecutionRounds
				totalExecs += res.Stats.Executions
				totalConfirms += len(res.Confirmed)
				totalRatio += res.Stats.ParallelismRatio()
				if res.ReexecutionRounds > result.MaxRounds {
					result.MaxRounds = res.ReexecutionRounds
				}
				if latency < result.MinLatency {
					result.MinLatency = latency
				}
				if latency > result.MaxLatency {
					result.MaxLatency = latency
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}
		for _, r := range roots[1:] {
			if r != roots[0] {
				result.Deterministic = false
			}
		}
	}

	if ok := result.Runs - result.Failures; ok > 0 {
		result.AvgLatency = totalLatency / time.Duration(ok)
		result.AvgRounds = float64(totalRounds) / float64(ok)
		result.AvgExecutions = float64(totalExecs) / float64(ok)
		result.AvgRatio = totalRatio / float64(ok)
	} else {
		result.MinLatency = 0
	}
	result.TxPerSec = float64(totalConfirms) / time.Since(start).Seconds()
	return result, nil
}

func printResults(result StressTestResult) {
	fmt.Printf("=== %d accounts ===\n", result.Accounts)
	fmt.Printf("Runs:            %d (%d failed)\n", result.Runs, result.Failures)
	fmt.Printf("Deterministic:   %v\n", result.Deterministic)
	fmt.Printf("Rounds:          avg %.2f, max %d\n", result.AvgRounds, result.MaxRounds)
	fmt.Printf("Executions:      avg %.1f\n", result.AvgExecutions)
	fmt.Printf("Parallelism:     avg %.2f tx/batch\n", result.AvgRatio)
	fmt.Printf("Tx/sec:          %.2f\n", result.TxPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
	fmt.Println()
}

func saveReport(config StressTestConfig, results []StressTestResult) {
	levels := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		levels = append(levels, map[string]interface{}{
			"accounts":        r.Accounts,
			"runs":            r.Runs,
			"failures":        r.Failures,
			"deterministic":   r.Deterministic,
			"avg_rounds":      r.AvgRounds,
			"max_rounds":      r.MaxRounds,
			"avg_executions":  r.AvgExecutions,
			"avg_parallelism": r.AvgRatio,
			"tx_per_sec":      r.TxPerSec,
			"avg_latency_ms":  float64(r.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":  float64(r.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":  float64(r.MaxLatency.Microseconds()) / 1000,
		})
	}
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"transactions": config.Transactions,
			"workers":      config.Workers,
			"max_retries":  config.MaxRetries,
			"concurrency":  config.Concurrency,
			"iterations":   config.Iterations,
		},
		"results":   levels,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
