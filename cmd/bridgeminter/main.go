// Command bridgeminter runs the ERC-20 bridge minter: a long-running
// daemon that scrapes deposit logs from an EVM chain, mints the
// corresponding ckERC20 balance, and drives outbound withdrawals through
// the per-nonce transaction state machine. It follows the
// same flag-var + cobra.Command + RunE shape as cmd/txpool/main.go,
// generalized from a long-running node subsystem to this daemon's three
// periodic tasks.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/erigontech/erigon-lib/common"
	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chainbridge-go/erc20minter/internal/chainparams"
	"github.com/chainbridge-go/erc20minter/internal/config"
	"github.com/chainbridge-go/erc20minter/internal/driver"
	"github.com/chainbridge-go/erc20minter/internal/ethrpc"
	"github.com/chainbridge-go/erc20minter/internal/eventlog"
	"github.com/chainbridge-go/erc20minter/internal/metrics"
	"github.com/chainbridge-go/erc20minter/internal/mintapplier"
	"github.com/chainbridge-go/erc20minter/internal/registry"
	"github.com/chainbridge-go/erc20minter/internal/scraper"
	"github.com/chainbridge-go/erc20minter/internal/signer"
	"github.com/chainbridge-go/erc20minter/internal/state"
	"github.com/chainbridge-go/erc20minter/internal/taskguard"
	"github.com/chainbridge-go/erc20minter/internal/units"
)

var (
	configPath    string
	eventLogPath  string
	providerAddrs []string
	metricsAddr   string
	erc20Contract string
	tokenAddress  string
	minterAddress string
	devPrivateKey string

	scrapeInterval    time.Duration
	mintInterval      time.Duration
	retrieveInterval  time.Duration
	maxBlockSpread    uint64
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the init TOML config file")
	rootCmd.Flags().StringVar(&eventLogPath, "eventlog", "bridgeminter.eventlog", "path to the durable CBOR event log")
	rootCmd.Flags().StringSliceVar(&providerAddrs, "rpc.providers", nil, "comma-separated EVM JSON-RPC provider URLs")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics.addr", "localhost:9092", "listen address for the Prometheus /metrics endpoint")
	rootCmd.Flags().StringVar(&erc20Contract, "erc20.helper.address", "", "ERC-20 helper contract address deposits are scraped from")
	rootCmd.Flags().StringVar(&tokenAddress, "erc20.token.address", "", "ERC-20 token address minted deposits are denominated in")
	rootCmd.Flags().StringVar(&minterAddress, "minter.address", "", "the minter's own EVM address, used to track its transaction count and nonce")
	rootCmd.Flags().StringVar(&devPrivateKey, "dev.signer.key", "", "hex secp256k1 private key for the dev signer (non-production only)")
	rootCmd.Flags().DurationVar(&scrapeInterval, "scrape.interval", 15*time.Second, "deposit scrape tick interval")
	rootCmd.Flags().DurationVar(&mintInterval, "mint.interval", 5*time.Second, "mint-applier tick interval")
	rootCmd.Flags().DurationVar(&retrieveInterval, "retrieve.interval", 15*time.Second, "withdrawal driver tick interval")
	rootCmd.Flags().Uint64Var(&maxBlockSpread, "scrape.max-block-spread", 500, "maximum block range requested per get_logs call before bisection")
}

var rootCmd = &cobra.Command{
	Use:   "bridgeminter",
	Short: "Run the ERC-20 bridge minter custodial daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New()
		return run(cmd.Context(), logger)
	},
}

func run(ctx context.Context, logger log.Logger) error {
	initArgs, err := config.LoadInit(configPath)
	if err != nil {
		return fmt.Errorf("bridgeminter: load config: %w", err)
	}

	evLog, err := eventlog.Open(eventLogPath)
	if err != nil {
		return fmt.Errorf("bridgeminter: open event log: %w", err)
	}
	defer evLog.Close()

	s := state.New()
	if evLog.Count() == 0 {
		if err := state.ProcessEvent(s, evLog, nowUnix(), initEventPayload(initArgs)); err != nil {
			return fmt.Errorf("bridgeminter: record init event: %w", err)
		}
	} else {
		s, err = state.Replay(evLog)
		if err != nil {
			return fmt.Errorf("bridgeminter: replay event log: %w", err)
		}
	}

	pool, err := buildRPCPool(initArgs.EthereumNetwork, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	go serveMetrics(metricsAddr, reg, logger)

	blocklist := registry.NewBlocklist()
	// users is wired for the admin-gated principal lookups the scraper and
	// withdrawal request validation need once that RPC surface is exposed;
	// neither is part of this daemon's periodic-task loop.
	_ = registry.NewUserRegistry(initArgs.Admin)

	oracle, err := buildSigner()
	if err != nil {
		return err
	}

	scraperCfg := scraper.Config{
		Contract:       common.HexToAddress(erc20Contract),
		TokenAddress:   common.HexToAddress(tokenAddress),
		MaxBlockSpread: maxBlockSpread,
		Commitment:     scraper.CommitmentTag(s.EthereumBlockHeight),
	}
	driverCfg := driver.Config{
		MinterAddress: common.HexToAddress(minterAddress),
		ChainID:       initArgs.EthereumNetwork.ChainID(),
		GasLimit:      units.New(units.TagGasAmount, 65_000),
	}

	sink := &logAppendSink{state: s, log: evLog, logger: logger}
	// lastObserved carries the scraper's best-effort chain head from one
	// scrape tick to the next; it is not event-backed.
	lastObserved := units.New(units.TagBlockNumber, 0)

	scrapeTicker := time.NewTicker(scrapeInterval)
	mintTicker := time.NewTicker(mintInterval)
	retrieveTicker := time.NewTicker(retrieveInterval)
	defer scrapeTicker.Stop()
	defer mintTicker.Stop()
	defer retrieveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-scrapeTicker.C:
			runGuarded(&s.Tasks, taskguard.ScrapEthLogs, logger, func() {
				cursor := s.Cursor
				cursor.LastObserved = lastObserved
				if err := scraper.ScrapeLogs(ctx, pool, scraperCfg, &cursor, blocklist, sink, logger); err != nil {
					logger.Info("bridgeminter: scrape tick failed", "err", err)
				}
				lastObserved = cursor.LastObserved
				m.LastScrapedBlock.Set(float64(s.Cursor.LastScraped.Uint64()))
				m.LastObservedBlock.Set(float64(lastObserved.Uint64()))
			})
		case <-mintTicker.C:
			runGuarded(&s.Tasks, taskguard.Mint, logger, func() {
				deposits := make(map[eventlog.EventSource]mintapplier.Deposit, len(s.EventsToMint))
				for k, v := range s.EventsToMint {
					deposits[k] = v
				}
				mintapplier.ApplyMints(deposits, s.Ledger, sink)
			})
		case <-retrieveTicker.C:
			// step 1 of the withdrawal pipeline: nothing pending and nothing
			// in flight means this tick has no work.
			if len(s.Machine.Pending()) == 0 && len(s.Machine.CreatedTransactions()) == 0 && len(s.Machine.SentTransactions()) == 0 {
				continue
			}
			runGuarded(&s.Tasks, taskguard.RetrieveEth, logger, func() {
				driver.Tick(ctx, pool, oracle, s.Machine, driverCfg, sink, logger)
				m.NextNonce.Set(float64(s.Machine.NextNonce()))
			})
		}
	}
}

// runGuarded acquires task's mutual-exclusion guard,
// recovers a panic by logging at Crit and re-panicking so the process
// exits non-zero and a supervisor restarts it into replay.
func runGuarded(tasks *taskguard.Set, task taskguard.TaskType, logger log.Logger, fn func()) {
	guard, err := tasks.Acquire(task)
	if err != nil {
		logger.Info("bridgeminter: task already running, skipping tick", "task", task)
		return
	}
	defer guard.Release()
	defer func() {
		if r := recover(); r != nil {
			logger.Crit("bridgeminter: fatal invariant violation", "task", task, "panic", r)
			panic(r)
		}
	}()
	fn()
}

func buildRPCPool(network chainparams.Network, logger log.Logger) (*ethrpc.Pool, error) {
	providers := make([]ethrpc.Provider, 0, len(providerAddrs))
	for i, addr := range providerAddrs {
		providers = append(providers, ethrpc.Provider{Name: fmt.Sprintf("provider-%d", i), URL: addr})
	}
	quorum := network.DefaultFleetSize()/2 + 1
	return ethrpc.NewPool(providers, quorum, &http.Client{Timeout: 10 * time.Second}, logger)
}

func buildSigner() (signer.Oracle, error) {
	if devPrivateKey == "" {
		return nil, fmt.Errorf("bridgeminter: no signing oracle configured (set --dev.signer.key for local/test use)")
	}
	raw := strings.TrimPrefix(devPrivateKey, "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("bridgeminter: dev signer key must be 32 bytes hex")
	}
	var key [32]byte
	copy(key[:], decoded)
	return signer.NewDevSigner(key), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("bridgeminter: metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Info("bridgeminter: metrics server stopped", "err", err)
	}
}

func initEventPayload(args config.InitArgs) eventlog.Init {
	return args.ToInitEvent()
}

// nowUnix is the only place main wants a wall-clock timestamp; kept out of
// internal/state so that package stays free of the usual Date.now()-style
// nondeterminism everywhere else in this module.
func nowUnix() uint64 {
	return uint64(time.Now().Unix())
}

// logAppendSink adapts internal/state.ProcessEvent to the Sink interface
// internal/scraper, internal/mintapplier and internal/driver expect: every
// event any of those packages produces is appended to the durable log and
// folded into state before the emitting call returns.
type logAppendSink struct {
	state  *state.State
	log    *eventlog.Log
	logger log.Logger
}

func (s *logAppendSink) Emit(ev eventlog.EventType) {
	if err := state.ProcessEvent(s.state, s.log, nowUnix(), ev); err != nil {
		s.logger.Crit("bridgeminter: failed to durably record event", "event", fmt.Sprintf("%T", ev), "err", err)
		panic(err)
	}
}

func main() {
	ctx, cancel := common.RootContext()
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
