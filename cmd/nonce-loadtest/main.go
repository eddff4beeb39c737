// Command nonce-loadtest races concurrent redeemers against each issued nonce
// and reports any nonce redeemed more than once, or never.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/torutek/authkit/cache"
	"github.com/torutek/authkit/cache/memorycache"
	"github.com/torutek/authkit/cache/rediscache"
	"github.com/torutek/authkit/passwordless"
)

type options struct {
	nonces      int
	racers      int
	concurrency int
	backend     string
	redisAddr   string
	optimistic  bool
}

func main() {
	var opts options
	flag.IntVar(&opts.nonces, "nonces", 20000, "number of nonces to issue")
	flag.IntVar(&opts.racers, "racers", 8, "concurrent redeemers per nonce")
	flag.IntVar(&opts.concurrency, "concurrency", 64, "nonces raced at once")
	flag.StringVar(&opts.backend, "backend", "redis", "store backend: memory or redis")
	flag.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flag.BoolVar(&opts.optimistic, "optimistic", false, "redeem with Get + CompareAndDelete instead of an atomic take")
	flag.Parse()

	if opts.nonces <= 0 || opts.racers <= 0 || opts.concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "nonces, racers, and concurrency must be > 0")
		os.Exit(2)
	}

	store, cleanup, err := openStore(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	svc, err := passwordless.NewService(store, passwordless.WithNonceLength(16))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	res, err := run(ctx, svc, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printResult(res)
	if res.violations > 0 {
		os.Exit(1)
	}
}

func openStore(opts options) (cache.Cache, func(), error) {
	switch opts.backend {
	case "memory":
		mc := memorycache.New()
		fmt.Println("using in-process memory store")
		return wrap(mc, opts.optimistic), func() { _ = mc.Close() }, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", opts.backend)
	}

	addr := opts.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var mr *miniredis.Miniredis
	if addr == "" {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		PoolSize: opts.concurrency * opts.racers,
	})
	cleanup := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return wrap(rediscache.New(client, "loadtest:"), opts.optimistic), cleanup, nil
}

type basic interface {
	cache.Cache
	cache.Basic
}

func wrap(c basic, optimistic bool) cache.Cache {
	if optimistic {
		return cache.Optimistic(c)
	}
	return c
}

type result struct {
	total      time.Duration
	nonces     int
	redeems    int
	winners    int64
	violations int64
	orphans    int64
	errors     int64
	p50        time.Duration
	p95        time.Duration
	p99        time.Duration
	opsPerS    float64
}

// run issues opts.nonces nonces, then for each one releases opts.racers
// goroutines at the same instant. Exactly one of them must win.
func run(ctx context.Context, svc *passwordless.Service, opts options) (result, error) {
	nonces := make([]string, opts.nonces)
	seedStart := time.Now()
	for i := range nonces {
		n, err := svc.GenerateNonce(ctx, fmt.Sprintf("user-%d@example.com", i))
		if err != nil {
			return result{}, fmt.Errorf("issue nonce %d: %w", i, err)
		}
		nonces[i] = n
	}
	fmt.Printf("issued %d nonces in %s\n", len(nonces), time.Since(seedStart).Round(time.Millisecond))

	var (
		wg         sync.WaitGroup
		cursor     int64
		winners    int64
		violations int64
		orphans    int64
		failures   int64
		mu         sync.Mutex
		latencies  = make([]time.Duration, 0, opts.nonces*opts.racers)
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, 256)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(nonces) {
					break
				}
				won, errs, samples := race(ctx, svc, nonces[i], opts.racers)
				local = append(local, samples...)
				atomic.AddInt64(&failures, errs)
				switch {
				case won == 1:
					atomic.AddInt64(&winners, 1)
				case won > 1:
					atomic.AddInt64(&winners, won)
					atomic.AddInt64(&violations, 1)
				case errs == 0:
					atomic.AddInt64(&orphans, 1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	total := time.Since(start)

	res := computeStats(total, latencies)
	res.nonces = len(nonces)
	res.winners = winners
	res.violations = violations
	res.orphans = orphans
	res.errors = failures
	return res, nil
}

func race(ctx context.Context, svc *passwordless.Service, nonce string, racers int) (won, errs int64, samples []time.Duration) {
	var (
		wg    sync.WaitGroup
		ready sync.WaitGroup
		gate  = make(chan struct{})
	)
	samples = make([]time.Duration, racers)

	ready.Add(racers)
	for r := 0; r < racers; r++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			ready.Done()
			<-gate
			t0 := time.Now()
			_, ok, err := svc.GetKeyFromNonce(ctx, nonce)
			samples[slot] = time.Since(t0)
			if err != nil {
				atomic.AddInt64(&errs, 1)
				return
			}
			if ok {
				atomic.AddInt64(&won, 1)
			}
		}(r)
	}
	ready.Wait()
	close(gate)
	wg.Wait()
	return won, errs, samples
}

func computeStats(total time.Duration, samples []time.Duration) result {
	if len(samples) == 0 {
		return result{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return result{
		total:   total,
		redeems: len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printResult(r result) {
	fmt.Printf("nonces=%d redeems=%d winners=%d violations=%d orphans=%d errors=%d\n",
		r.nonces, r.redeems, r.winners, r.violations, r.orphans, r.errors)
	fmt.Printf("redeem: total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		r.total.Round(time.Millisecond),
		r.opsPerS,
		r.p50.Round(time.Microsecond),
		r.p95.Round(time.Microsecond),
		r.p99.Round(time.Microsecond),
	)
}
