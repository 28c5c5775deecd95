package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/accountcore/store"
	"github.com/MrEthical07/accountcore/store/redisstore"
)

type loadtestFlags struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

func newLoadtestCmd() *cobra.Command {
	var f loadtestFlags
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Benchmark the Redis session store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.sessions <= 0 || f.concurrency <= 0 || f.ops <= 0 {
				return fmt.Errorf("sessions, concurrency and ops must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().IntVar(&f.sessions, "sessions", 100000, "number of sessions to seed")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 256, "number of concurrent workers")
	cmd.Flags().IntVar(&f.ops, "ops", 200000, "operations per phase (lookup + touch)")
	cmd.Flags().StringVar(&f.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	cmd.Flags().StringVar(&f.prefix, "prefix", "aclt", "key prefix")
	return cmd
}

type seeded struct {
	id   string
	hash string
}

func runLoadtest(ctx context.Context, out io.Writer, f loadtestFlags) error {
	addr := f.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	st := redisstore.New(client, redisstore.Options{Prefix: f.prefix})

	sessions := make([]seeded, f.sessions)
	fmt.Fprintf(out, "seeding %d sessions...\n", f.sessions)
	startSeed := time.Now()
	now := time.Now().UTC()
	for i := range sessions {
		s := seeded{id: fmt.Sprintf("sid-%d", i), hash: fmt.Sprintf("hash-%d", i)}
		sessions[i] = s
		err := st.CreateSession(ctx, &store.Session{
			ID:         s.id,
			UserID:     fmt.Sprintf("u-%d", i%1000),
			TokenHash:  s.hash,
			CreatedAt:  now,
			LastUsedAt: now,
			ExpiresAt:  now.Add(24 * time.Hour),
		})
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookup := runPhase(f.ops, f.concurrency, func(r *rand.Rand) error {
		s := sessions[r.Intn(len(sessions))]
		_, err := st.GetSessionByTokenHash(ctx, s.hash)
		return err
	})
	touch := runPhase(f.ops, f.concurrency, func(r *rand.Rand) error {
		s := sessions[r.Intn(len(sessions))]
		return st.TouchSession(ctx, s.id, time.Now().UTC(), time.Time{})
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "lookup", lookup)
	printStats(out, "touch", touch)
	return nil
}

// runPhase spreads ops calls of op over concurrency workers.
func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
