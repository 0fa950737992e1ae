// Package mintapplier decides, for each pending deposit in events_to_mint,
// whether it can be minted or must be quarantined — it never credits the
// real ledger itself. Crediting happens exactly once, when internal/state
// applies the MintedCkErc20 this package emits; applyOne only probes
// feasibility via Ledger.CanCredit so that a deposit is never counted
// twice. Each deposit is processed under a quarantine guard: the guard
// mirrors internal/taskguard's scoped-release-on-every-exit-path pattern,
// but instead of merely releasing a lock on exit, an undisarmed guard emits
// QuarantinedDeposit — bridging an ordinary recoverable failure and a
// panic that crosses this decision into the same durable recovery path.
package mintapplier

import (
	"sort"

	"github.com/chainbridge-go/erc20minter/internal/eventlog"
	"github.com/chainbridge-go/erc20minter/internal/units"
)

// Deposit is one entry awaiting minting (state's events_to_mint value).
type Deposit struct {
	Source eventlog.EventSource
	Principal string
	Value units.Amount // TagErc20Value
}

// Sink emits the events the applier is solely responsible for producing —
// MintedCkErc20 on success, QuarantinedDeposit on abnormal exit.
type Sink interface {
	Emit(eventlog.EventType)
}

// Ledger is the feasibility-check capability (internal/ledger.Ledger
// satisfies this). CanCredit must not mutate any balance — the real credit
// happens only once internal/state applies the MintedCkErc20 this package
// emits.
type Ledger interface {
	CanCredit(principal string, amount units.Amount) error
}

// quarantineGuard is the scoped side-effect guard wrapping a single
// deposit's credit: if disarm is never called before the guard goes out
// of scope (including a panic unwinding through applyOne, whose deferred
// release runs before the panic propagates; nothing in this package
// recovers it), it emits QuarantinedDeposit for its source on release.
type quarantineGuard struct {
	source eventlog.EventSource
	sink Sink
	armed bool
}

func newQuarantineGuard(source eventlog.EventSource, sink Sink) *quarantineGuard {
	return &quarantineGuard{source: source, sink: sink, armed: true}
}

// disarm defuses the guard once MintedCkErc20 has been emitted for this
// deposit — the guard's job from that point on is done.
func (g *quarantineGuard) disarm() { g.armed = false }

// release is called via defer; if the guard was never disarmed it emits
// QuarantinedDeposit, pulling the item out of further processing.
func (g *quarantineGuard) release() {
	if g == nil || !g.armed {
		return
	}
	g.sink.Emit(&eventlog.QuarantinedDeposit{Source: g.source})
}

// ApplyMints processes every pending deposit in deterministic order,
// sorted by (tx_hash, log_index) since EventSource is exactly that pair
// and Go map iteration order is not stable.
func ApplyMints(deposits map[eventlog.EventSource]Deposit, ledger Ledger, sink Sink) {
	for _, source := range sortedSources(deposits) {
		d := deposits[source]
		applyOne(d, ledger, sink)
	}
}

func applyOne(d Deposit, ledger Ledger, sink Sink) {
	guard := newQuarantineGuard(d.Source, sink)
	defer guard.release()

	if err := ledger.CanCredit(d.Principal, d.Value); err != nil {
		// An infeasible credit (arithmetic overflow on the ledger) is not a
		// condition this applier can resolve; leave the guard armed so the
		// deposit is quarantined rather than silently dropped or retried.
		return
	}

	sink.Emit(&eventlog.MintedCkErc20{
		Source: d.Source,
		Principal: d.Principal,
		Amount: d.Value.ToBeBytes32(),
	})
	guard.disarm()
}

func sortedSources(deposits map[eventlog.EventSource]Deposit) []eventlog.EventSource {
	out := make([]eventlog.EventSource, 0, len(deposits))
	for s := range deposits {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TxHash != out[j].TxHash {
			return out[i].TxHash.Hex() < out[j].TxHash.Hex()
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}
