// Package metrics exposes the minter's operational counters and gauges via
// github.com/prometheus/client_golang, following that library's own
// canonical promauto registration idiom.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric the minter registers. A single instance is
// constructed at process start in cmd/bridgeminter, which sets the
// LastScrapedBlock, LastObservedBlock and NextNonce gauges after each tick;
// no task or RPC code increments the counters.
type Registry struct {
	DepositsMinted       prometheus.Counter
	DepositsQuarantined  prometheus.Counter
	DepositsInvalid      prometheus.Counter
	BlocksSkipped        prometheus.Counter
	WithdrawalsCreated   prometheus.Counter
	WithdrawalsFinalized prometheus.Counter
	WithdrawalsFailed    prometheus.Counter
	RpcQuorumFailures    *prometheus.CounterVec
	LastScrapedBlock     prometheus.Gauge
	LastObservedBlock    prometheus.Gauge
	NextNonce            prometheus.Gauge
}

// New registers every minter metric against reg and returns the handles
// used to update them. Passing a fresh prometheus.NewRegistry() keeps tests
// from colliding with the global default registry.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		DepositsMinted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgeminter", Subsystem: "deposits", Name: "minted_total",
			Help: "ERC-20 deposits successfully credited to a principal's ckERC20 balance.",
		}),
		DepositsQuarantined: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgeminter", Subsystem: "deposits", Name: "quarantined_total",
			Help: "Deposits pulled out of processing after a panic crossed the mint side-effect boundary.",
		}),
		DepositsInvalid: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgeminter", Subsystem: "deposits", Name: "invalid_total",
			Help: "Deposit logs rejected as malformed or from a blocklisted source.",
		}),
		BlocksSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgeminter", Subsystem: "scraper", Name: "blocks_skipped_total",
			Help: "Blocks whose logs could not be fetched even at minimum range.",
		}),
		WithdrawalsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgeminter", Subsystem: "withdrawals", Name: "created_total",
			Help: "Unsigned withdrawal transactions built from the pending queue.",
		}),
		WithdrawalsFinalized: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgeminter", Subsystem: "withdrawals", Name: "finalized_total",
			Help: "Withdrawal transactions confirmed on-chain, any receipt status.",
		}),
		WithdrawalsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridgeminter", Subsystem: "withdrawals", Name: "failed_total",
			Help: "Finalized withdrawal transactions whose receipt status was failure.",
		}),
		RpcQuorumFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgeminter", Subsystem: "rpc", Name: "quorum_failures_total",
			Help: "Calls that failed to reach quorum agreement across the provider fleet, by method.",
		}, []string{"method"}),
		LastScrapedBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridgeminter", Subsystem: "scraper", Name: "last_scraped_block",
			Help: "Highest block number committed to the deposit scraper's cursor.",
		}),
		LastObservedBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridgeminter", Subsystem: "scraper", Name: "last_observed_block",
			Help: "Most recently observed chain head at the configured commitment level.",
		}),
		NextNonce: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridgeminter", Subsystem: "withdrawals", Name: "next_nonce",
			Help: "Nonce the next created withdrawal transaction will consume.",
		}),
	}
}
