package withdrawal

import (
	"fmt"
	"sort"

	"github.com/erigontech/erigon-lib/common"

	"github.com/chainbridge-go/erc20minter/internal/units"
)

// Machine is the withdrawal state machine. The zero value is not ready to
// use — construct with NewMachine so nextNonce is seeded.
type Machine struct {
	pending []Request
	createdTx map[uint64]createdEntry // nonce -> entry
	sentTx map[uint64][]sentEntry // nonce -> resubmission history
	finalized map[uint64]FinalizedTx // nonce -> terminal outcome
	nonceOfID map[ID]uint64 // id -> assigned nonce, set once, forever
	owner map[ID]Stage // id -> current logical owner stage (I4)
	processed map[ID]Request // id -> original request, kept for the life of the id
	maybeReimburse map[ID]struct{}

	reimbursementRequests map[uint64]ReimbursementRequest
	reimbursed map[uint64]Receipt
	nextReimbursementIdx uint64

	nextNonce uint64
}

// NewMachine returns a Machine ready to accept withdrawal requests, with
// next_nonce seeded from the minter's init/upgrade configuration.
func NewMachine(initialNonce uint64) *Machine {
	return &Machine{
		createdTx: make(map[uint64]createdEntry),
		sentTx: make(map[uint64][]sentEntry),
		finalized: make(map[uint64]FinalizedTx),
		nonceOfID: make(map[ID]uint64),
		owner: make(map[ID]Stage),
		processed: make(map[ID]Request),
		maybeReimburse: make(map[ID]struct{}),
		reimbursementRequests: make(map[uint64]ReimbursementRequest),
		reimbursed: make(map[uint64]Receipt),
		nextNonce: initialNonce,
	}
}

// NextNonce is the nonce the next created transaction will consume (I5).
func (m *Machine) NextNonce() uint64 { return m.nextNonce }

// Owner reports the current Stage of id, or 0 if id is unknown.
func (m *Machine) Owner(id ID) Stage { return m.owner[id] }

// Pending returns a copy of the FIFO pending queue, oldest first.
func (m *Machine) Pending() []Request {
	out := make([]Request, len(m.pending))
	copy(out, m.pending)
	return out
}

// RecordWithdrawalRequest enqueues a newly accepted request. Panics if the
// id has ever been seen before — duplicate withdrawal IDs indicate a
// corrupted replay, never a condition to recover from silently.
func (m *Machine) RecordWithdrawalRequest(r Request) {
	if _, ok := m.owner[r.ID]; ok {
		panic(fmt.Sprintf("withdrawal: duplicate withdrawal id %d", r.ID))
	}
	m.pending = append(m.pending, r)
	m.owner[r.ID] = StagePending
}

func (m *Machine) removeFromPending(id ID) (Request, bool) {
	for i, r := range m.pending {
		if r.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return r, true
		}
	}
	return Request{}, false
}

// RecordCreatedTransaction moves id from pending into created_tx at tx's
// nonce. Panics if id is not pending or tx.Nonce != NextNonce() — both
// indicate an internal invariant violation.
func (m *Machine) RecordCreatedTransaction(id ID, tx Tx) {
	req, ok := m.removeFromPending(id)
	if !ok {
		panic(fmt.Sprintf("withdrawal: record_created_transaction: id %d is not pending", id))
	}
	if tx.Nonce.Uint64() != m.nextNonce {
		panic(fmt.Sprintf("withdrawal: record_created_transaction: nonce %d != next_nonce %d", tx.Nonce.Uint64(), m.nextNonce))
	}
	if !tx.Amount.IsZero() {
		panic("withdrawal: erc20 withdrawal transaction must carry zero on-chain value")
	}
	m.createdTx[tx.Nonce.Uint64()] = createdEntry{ID: id, Tx: tx}
	m.nonceOfID[id] = tx.Nonce.Uint64()
	m.processed[id] = req
	m.maybeReimburse[id] = struct{}{}
	m.owner[id] = StageCreated
	m.nextNonce++
}

// RecordSignedTransaction moves the created_tx entry at signed's nonce into
// sent_tx, appending to that nonce's resubmission history. Panics if the
// unsigned body does not exactly match what is in created_tx — a replay
// corruption, not a recoverable condition.
func (m *Machine) RecordSignedTransaction(signed SignedTx) {
	nonce := signed.Unsigned.Nonce.Uint64()
	entry, ok := m.createdTx[nonce]
	if !ok {
		panic(fmt.Sprintf("withdrawal: record_signed_transaction: no created tx at nonce %d", nonce))
	}
	if !exactEqualTx(entry.Tx, signed.Unsigned) {
		panic(fmt.Sprintf("withdrawal: record_signed_transaction: signed body diverges from created_tx at nonce %d", nonce))
	}
	delete(m.createdTx, nonce)
	m.sentTx[nonce] = append(m.sentTx[nonce], sentEntry{ID: entry.ID, Signed: signed})
	m.owner[entry.ID] = StageSent
}

// CreateResubmitTransactions evaluates every sent-but-unmined nonce
// (nonce >= latestTxCount) in ascending order and proposes a fee-bumped
// replacement. It stops at the first nonce whose budget can no longer
// cover the bump.
func (m *Machine) CreateResubmitTransactions(latestTxCount uint64, estimate GasFeeEstimate) ([]ResubmitProposal, *InsufficientFee) {
	var nonces []uint64
	for nonce := range m.sentTx {
		if nonce >= latestTxCount {
			nonces = append(nonces, nonce)
		}
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })

	var proposals []ResubmitProposal
	for _, nonce := range nonces {
		entries := m.sentTx[nonce]
		last := entries[len(entries)-1]
		req := m.processed[last.ID]

		bumped, err := bumpedFeeWithinBudget(last.ID, nonce, last.Signed.Unsigned.MaxFeePerGas, last.Signed.Unsigned.GasLimit, req.MaxTransactionFee, estimate)
		if err != nil {
			insufficient := err.(InsufficientFee)
			return proposals, &insufficient
		}
		newTx := last.Signed.Unsigned
		newTx.MaxFeePerGas = bumped
		newTx.MaxPriorityFeePerGas = estimate.MaxPriorityFeePerGas
		proposals = append(proposals, ResubmitProposal{ID: last.ID, Nonce: nonce, Tx: newTx})
	}
	return proposals, nil
}

// RecordResubmitTransaction inserts a fee-bumped replacement into
// created_tx, discarding any previously created-but-unsigned resubmission
// at the same nonce. Panics if the new body violates the fee-bump equality
// law I7/P5 (identical to the last sent body modulo fee fields and amount).
func (m *Machine) RecordResubmitTransaction(id ID, tx Tx) {
	nonce := tx.Nonce.Uint64()
	entries, ok := m.sentTx[nonce]
	if !ok || len(entries) == 0 {
		panic(fmt.Sprintf("withdrawal: record_resubmit_transaction: no sent tx at nonce %d", nonce))
	}
	last := entries[len(entries)-1]
	if !sameUnsignedBodyModuloFee(last.Signed.Unsigned, tx) {
		panic(fmt.Sprintf("withdrawal: record_resubmit_transaction: fee-bump law violated at nonce %d", nonce))
	}
	// discard any unsigned resubmission already pending at this nonce.
	delete(m.createdTx, nonce)
	m.createdTx[nonce] = createdEntry{ID: id, Tx: tx}
	m.owner[id] = StageCreated
}

func sameUnsignedBodyModuloFee(a, b Tx) bool {
	return a.ChainID == b.ChainID && a.Nonce == b.Nonce && a.GasLimit == b.GasLimit &&
		a.Destination == b.Destination && bytesEqual(a.Data, b.Data)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RescheduleToPending handles InsufficientFee: the withdrawal goes back to
// the back of the pending queue so it is retried at a fresh nonce, while
// the stale transaction stays in sent_tx in case the mempool includes it
// anyway. This is the one place a withdrawal ID's "current
// owner" moves right-to-left; the stale sent_tx[nonce] entry is kept as a
// historical artifact rather than as something still owned by this ID's
// forward progress — see DESIGN.md for why this does not violate I4.
func (m *Machine) RescheduleToPending(id ID) {
	req, ok := m.processed[id]
	if !ok {
		panic(fmt.Sprintf("withdrawal: reschedule_to_pending: unknown id %d", id))
	}
	m.pending = append(m.pending, req)
	m.owner[id] = StagePending
}

// CreatedTransactions returns every created-but-unsigned transaction,
// sorted by nonce, in the shape internal/driver's SignStep consumes.
func (m *Machine) CreatedTransactions() []ResubmitProposal {
	nonces := make([]uint64, 0, len(m.createdTx))
	for nonce := range m.createdTx {
		nonces = append(nonces, nonce)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	out := make([]ResubmitProposal, 0, len(nonces))
	for _, nonce := range nonces {
		entry := m.createdTx[nonce]
		out = append(out, ResubmitProposal{ID: entry.ID, Nonce: nonce, Tx: entry.Tx})
	}
	return out
}

// SentTransactions returns the latest signed transaction at every
// outstanding nonce, sorted by nonce, for internal/driver's SendStep to
// (re)broadcast. Resending an already-landed transaction is idempotent
// under NonceTooLow, so it is safe to offer every sent nonce here every
// tick rather than tracking which ones were sent before.
func (m *Machine) SentTransactions() []SignedTx {
	nonces := make([]uint64, 0, len(m.sentTx))
	for nonce := range m.sentTx {
		nonces = append(nonces, nonce)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	out := make([]SignedTx, 0, len(nonces))
	for _, nonce := range nonces {
		entries := m.sentTx[nonce]
		out = append(out, entries[len(entries)-1].Signed)
	}
	return out
}

// SentTransactionsToFinalize returns, for every sent transaction whose
// nonce is below finalizedCount (i.e. already mined per the finalized
// transaction count), a map from transaction hash to withdrawal id. Panics
// if two different withdrawal ids ever produced the same hash — corrupted
// replay history.
func (m *Machine) SentTransactionsToFinalize(finalizedCount uint64) map[common.Hash]ID {
	out := make(map[common.Hash]ID)
	for nonce, entries := range m.sentTx {
		if nonce >= finalizedCount {
			continue
		}
		for _, e := range entries {
			h := e.Signed.Hash()
			if existing, ok := out[h]; ok && existing != e.ID {
				panic(fmt.Sprintf("withdrawal: hash %s claimed by both id %d and id %d", h.Hex(), existing, e.ID))
			}
			out[h] = e.ID
		}
	}
	return out
}

// RecordFinalizedTransaction moves id to finalized_tx once receipt
// confirms one of its sent transactions. On a reverted receipt it also
// files a reimbursement request for the withdrawal's full amount. Panics if
// no sent transaction at id's nonce matches receipt's hash.
func (m *Machine) RecordFinalizedTransaction(id ID, receipt Receipt) {
	nonce, ok := m.nonceOfID[id]
	if !ok {
		panic(fmt.Sprintf("withdrawal: record_finalized_transaction: unknown id %d", id))
	}
	entries := m.sentTx[nonce]
	found := false
	for _, e := range entries {
		if e.Signed.Hash() == receipt.TransactionHash {
			found = true
			break
		}
	}
	if !found {
		panic(fmt.Sprintf("withdrawal: record_finalized_transaction: receipt hash %s not among sent txs at nonce %d", receipt.TransactionHash.Hex(), nonce))
	}
	tx := entries[len(entries)-1].Signed.Unsigned
	delete(m.sentTx, nonce)
	delete(m.maybeReimburse, id)
	m.finalized[nonce] = FinalizedTx{ID: id, Tx: tx, Receipt: receipt}
	m.owner[id] = StageFinalized

	if receipt.Status == StatusFailure {
		req := m.processed[id]
		m.RecordReimbursementRequest(id, req.WithdrawalAmount)
	}
}

// RecordReimbursementRequest files a reimbursement request and returns its
// index. Execution of the reimbursement is external.
func (m *Machine) RecordReimbursementRequest(id ID, amount units.Amount) uint64 {
	idx := m.nextReimbursementIdx
	m.nextReimbursementIdx++
	m.reimbursementRequests[idx] = ReimbursementRequest{WithdrawalID: id, ReimbursedAmount: amount}
	return idx
}

// ReimbursementRequests returns a copy of all filed reimbursement requests
// keyed by index.
func (m *Machine) ReimbursementRequests() map[uint64]ReimbursementRequest {
	out := make(map[uint64]ReimbursementRequest, len(m.reimbursementRequests))
	for k, v := range m.reimbursementRequests {
		out[k] = v
	}
	return out
}

// InMaybeReimburse reports whether id is currently eligible for
// reimbursement bookkeeping (created or sent, not yet finalized) — I6.
func (m *Machine) InMaybeReimburse(id ID) bool {
	_, ok := m.maybeReimburse[id]
	return ok
}

// FinalizedCount returns the number of distinct withdrawal ids that have
// reached finalized_tx, used by tests asserting P4's partition property.
func (m *Machine) FinalizedCount() int { return len(m.finalized) }
