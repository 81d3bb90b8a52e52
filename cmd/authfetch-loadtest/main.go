// Command authfetch-loadtest fires waves of concurrent requests through one
// authfetch client across access-token expiries and reports latency
// percentiles, refresh calls, and the client metrics.
//
// Without --base-url it runs against an in-process storefront backend whose
// clock it advances past the access TTL before every wave.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authfetch"
	"github.com/MrEthical07/authfetch/credentials"
	promexport "github.com/MrEthical07/authfetch/metrics/export/prometheus"
	"github.com/MrEthical07/authfetch/storefronttest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var routes = []string{
	storefronttest.RouteProducts,
	storefronttest.RouteCategories,
	storefronttest.RouteBrands,
	storefronttest.RoutePromotions,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "authfetch-loadtest",
		Short:         "Load test the authfetch refresh coordinator against a storefront backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadOptions(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.String("config", "", "authfetch YAML config file")
	f.String("base-url", "", "storefront base URL; empty starts an in-process backend")
	f.Int("waves", 5, "number of expiry waves")
	f.Int("concurrency", 64, "concurrent requests per wave")
	f.Duration("refresh-delay", 50*time.Millisecond, "refresh latency of the in-process backend")
	f.Duration("access-ttl", time.Minute, "access token TTL of the in-process backend")
	f.Bool("bearer", false, "send credentials as bearer headers from a Redis-backed store")
	f.String("redis-addr", "", "redis address for --bearer; empty uses miniredis")
	f.String("prefix", "af", "redis key prefix for --bearer")
	f.String("username", storefronttest.DefaultUser, "login identifier")
	f.String("password", storefronttest.DefaultPassword, "login password")
	f.Bool("metrics", false, "print the Prometheus exposition of the client metrics")
	f.Bool("verbose", false, "development logging")

	_ = v.BindPFlags(f)
	v.SetEnvPrefix("AUTHFETCH_LOADTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

type options struct {
	configFile   string
	baseURL      string
	waves        int
	concurrency  int
	refreshDelay time.Duration
	accessTTL    time.Duration
	bearer       bool
	redisAddr    string
	prefix       string
	username     string
	password     string
	metrics      bool
	verbose      bool
}

func loadOptions(v *viper.Viper) (options, error) {
	o := options{
		configFile:   v.GetString("config"),
		baseURL:      v.GetString("base-url"),
		waves:        v.GetInt("waves"),
		concurrency:  v.GetInt("concurrency"),
		refreshDelay: v.GetDuration("refresh-delay"),
		accessTTL:    v.GetDuration("access-ttl"),
		bearer:       v.GetBool("bearer"),
		redisAddr:    v.GetString("redis-addr"),
		prefix:       v.GetString("prefix"),
		username:     v.GetString("username"),
		password:     v.GetString("password"),
		metrics:      v.GetBool("metrics"),
		verbose:      v.GetBool("verbose"),
	}
	if o.waves <= 0 || o.concurrency <= 0 {
		return o, errors.New("waves and concurrency must be > 0")
	}
	if o.accessTTL <= 0 {
		return o, errors.New("access-ttl must be > 0")
	}
	return o, nil
}

func run(ctx context.Context, o options) error {
	logger := zap.NewNop()
	if o.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()

	cfg := authfetch.DefaultConfig()
	if o.configFile != "" {
		c, err := authfetch.LoadConfigFile(o.configFile)
		if err != nil {
			return err
		}
		cfg = c
	}
	if err := cfg.ApplyEnv(authfetch.DefaultEnvPrefix); err != nil {
		return err
	}
	cfg.Metrics = authfetch.MetricsConfig{Enabled: true, EnableLatencyHistograms: true}

	// -------- BACKEND --------
	var backend *storefronttest.Server
	if o.baseURL == "" {
		srv, err := storefronttest.NewServer(storefronttest.Options{
			AccessTTL:    o.accessTTL,
			RefreshDelay: o.refreshDelay,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		o.baseURL = srv.Start()
		defer srv.Close()
		backend = srv
		fmt.Printf("using in-process storefront at %s\n", o.baseURL)
	}
	cfg.BaseURL = o.baseURL

	builder := authfetch.New().WithConfig(cfg).WithLogger(logger)

	// -------- CREDENTIALS --------
	var store credentials.Store
	if o.bearer {
		rs, cleanup, err := openStore(ctx, o.redisAddr, o.prefix, o.username)
		if err != nil {
			return err
		}
		defer cleanup()
		store = rs
		builder.WithCredentialStore(store)
	}

	var expired atomic.Int64
	builder.WithSessionExpiryNotifier(authfetch.NotifierFunc(func(context.Context, authfetch.SessionExpiredEvent) {
		expired.Add(1)
	}))

	client, err := builder.Build()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := login(ctx, client, store, o.username, o.password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	// -------- WAVES --------
	var all []time.Duration
	var failures int64
	start := time.Now()
	for w := 0; w < o.waves; w++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if backend != nil {
			backend.Advance(o.accessTTL + 2*time.Second)
		}
		samples, failed := runWave(ctx, client, o.concurrency)
		all = append(all, samples...)
		failures += failed
		fmt.Printf("wave %d: requests=%d failures=%d\n", w+1, len(samples), failed)
	}

	fmt.Println("---- results ----")
	printStats("requests", computeStats(time.Since(start), all, failures))
	snap := client.MetricsSnapshot()
	fmt.Printf("refresh calls=%d renewed=%d reused=%d retries=%d session_expired=%d notified=%d\n",
		snap.Counters[authfetch.MetricRefreshStarted],
		snap.Counters[authfetch.MetricRefreshRenewed],
		snap.Counters[authfetch.MetricRefreshReused],
		snap.Counters[authfetch.MetricRetrySent],
		snap.Counters[authfetch.MetricSessionExpired],
		expired.Load(),
	)
	if backend != nil {
		fmt.Printf("backend refresh calls=%d\n", backend.RefreshCalls())
	}
	if o.metrics {
		fmt.Print(promexport.NewPrometheusExporter(client).Render())
	}
	return nil
}

// openStore connects the credential store and fails fast when redis is unreachable.
func openStore(ctx context.Context, addr, prefix, id string) (*credentials.RedisStore, func(), error) {
	rdb, cleanup, err := openRedis(addr)
	if err != nil {
		return nil, nil, err
	}
	store := credentials.NewRedisStore(rdb, prefix, id)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	rtt, err := store.Ping(pingCtx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	fmt.Printf("redis round trip %s\n", rtt)
	return store, cleanup, nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

func login(ctx context.Context, client *authfetch.Client, store credentials.Store, username, password string) error {
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err := client.DoJSON(ctx, http.MethodPost, storefronttest.RouteLogin, map[string]string{
		"username": username,
		"password": password,
	}, &tokens)
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	sess, err := credentials.NewSession(tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		return err
	}
	return store.Save(ctx, sess)
}

func runWave(ctx context.Context, client *authfetch.Client, concurrency int) ([]time.Duration, int64) {
	var (
		wg        sync.WaitGroup
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, concurrency)
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			t0 := time.Now()
			_, err := client.Get(ctx, routes[i%len(routes)])
			d := time.Since(t0)
			if err != nil {
				failures.Add(1)
			}
			mu.Lock()
			latencies = append(latencies, d)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return latencies, failures.Load()
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
