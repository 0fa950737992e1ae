// Package ledger tracks each principal's ckERC20 balance as a derived
// read model over the event log. It is grounded on the
// balance-crediting pattern in boba-chain-ops/ether/migrate.go — a map of
// address to balance protected by a single mutex, mutated only through
// checked arithmetic — generalized here from OVM_ETH's one-time genesis
// migration to the minter's ongoing mint/burn bookkeeping.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chainbridge-go/erc20minter/internal/units"
)

// ErrInsufficientBalance reports an attempted debit that would take a
// principal's balance below zero.
var ErrInsufficientBalance = fmt.Errorf("ledger: insufficient balance")

// Ledger is the in-memory ckERC20 balance sheet, one instance per ckERC20
// token the minter backs. Construct one with New: the zero value has no
// balance map, and the first write to it panics.
type Ledger struct {
	mu sync.Mutex
	balances map[string]units.Amount // principal -> TagErc20Value
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[string]units.Amount)}
}

// Balance returns principal's current balance, zero if never credited.
func (l *Ledger) Balance(principal string) units.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[principal]; ok {
		return bal
	}
	return units.New(units.TagErc20Value, 0)
}

// Credit increases principal's balance by amount — the effect of a
// MintedCkErc20 event. This is the only place a deposit may durably
// increase a balance; internal/mintapplier only probes feasibility via
// CanCredit and never calls this directly, so a deposit is credited exactly
// once, by internal/state applying the MintedCkErc20 it emits.
func (l *Ledger) Credit(principal string, amount units.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.balances[principal]
	if !ok {
		cur = units.New(units.TagErc20Value, 0)
	}
	next, err := units.CheckedAdd(cur, amount)
	if err != nil {
		return err
	}
	l.balances[principal] = next
	return nil
}

// CanCredit reports whether Credit(principal, amount) would succeed,
// without mutating any balance. internal/mintapplier uses this to decide
// between minting and quarantining a deposit before the real credit ever
// happens, since the real credit only happens once, when the MintedCkErc20
// it emits is applied.
func (l *Ledger) CanCredit(principal string, amount units.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.balances[principal]
	if !ok {
		cur = units.New(units.TagErc20Value, 0)
	}
	_, err := units.CheckedAdd(cur, amount)
	return err
}

// Debit decreases principal's balance by amount, never letting a balance go
// negative. Returns ErrInsufficientBalance if amount exceeds the current
// balance — internal/state's AcceptedErc20WithdrawalRequest apply treats
// that as a panic, since an accepted withdrawal request is only ever
// supposed to reach this call once its budget was already confirmed.
func (l *Ledger) Debit(principal string, amount units.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.balances[principal]
	if !ok {
		cur = units.New(units.TagErc20Value, 0)
	}
	if units.Lt(cur, amount) {
		return ErrInsufficientBalance
	}
	next, err := units.CheckedSub(cur, amount)
	if err != nil {
		return err
	}
	l.balances[principal] = next
	return nil
}

// Transfer moves amount from one principal to another atomically (used for
// the Erc20TransferCompleted audit event). Fails without mutating state if
// from's balance is insufficient.
func (l *Ledger) Transfer(from, to string, amount units.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	curFrom, ok := l.balances[from]
	if !ok {
		curFrom = units.New(units.TagErc20Value, 0)
	}
	if units.Lt(curFrom, amount) {
		return ErrInsufficientBalance
	}
	nextFrom, err := units.CheckedSub(curFrom, amount)
	if err != nil {
		return err
	}
	curTo, ok := l.balances[to]
	if !ok {
		curTo = units.New(units.TagErc20Value, 0)
	}
	nextTo, err := units.CheckedAdd(curTo, amount)
	if err != nil {
		return err
	}
	l.balances[from] = nextFrom
	l.balances[to] = nextTo
	return nil
}

// TotalSupply sums every tracked balance — used by tests and audits to
// cross-check against the sum of all MintedCkErc20 minus burned amounts.
func (l *Ledger) TotalSupply() (units.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := units.New(units.TagErc20Value, 0)
	var err error
	for _, bal := range l.balances {
		total, err = units.CheckedAdd(total, bal)
		if err != nil {
			return units.Amount{}, err
		}
	}
	return total, nil
}

// Principals returns every principal with a non-zero balance, sorted, for
// deterministic iteration in snapshots and tests.
func (l *Ledger) Principals() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.balances))
	for p, bal := range l.balances {
		if !bal.IsZero() {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
