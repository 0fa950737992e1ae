package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainbridge-go/erc20minter/internal/units"
)

func amt(v uint64) units.Amount { return units.New(units.TagErc20Value, v) }

func TestCreditDebitRoundTrip(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("alice", amt(100)))
	require.Equal(t, amt(100), l.Balance("alice"))
	require.NoError(t, l.Debit("alice", amt(40)))
	require.Equal(t, amt(60), l.Balance("alice"))
}

func TestDebitBelowZeroRejected(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("alice", amt(10)))
	err := l.Debit("alice", amt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, amt(10), l.Balance("alice"))
}

func TestCanCreditDoesNotMutateBalance(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("alice", amt(100)))
	require.NoError(t, l.CanCredit("alice", amt(50)))
	require.Equal(t, amt(100), l.Balance("alice"))
}

func TestCanCreditReportsOverflowWithoutMutating(t *testing.T) {
	l := New()
	var allOnes [32]byte
	for i := range allOnes {
		allOnes[i] = 0xff
	}
	max, err := units.FromBigEndian(units.TagErc20Value, allOnes[:])
	require.NoError(t, err)
	require.NoError(t, l.Credit("alice", max))

	err = l.CanCredit("alice", amt(1))
	require.Error(t, err)
	require.Equal(t, max, l.Balance("alice"))
}

func TestTransferAtomic(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("alice", amt(100)))
	require.NoError(t, l.Transfer("alice", "bob", amt(30)))
	require.Equal(t, amt(70), l.Balance("alice"))
	require.Equal(t, amt(30), l.Balance("bob"))
}

func TestTransferInsufficientLeavesBothUnchanged(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("alice", amt(10)))
	err := l.Transfer("alice", "bob", amt(20))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, amt(10), l.Balance("alice"))
	require.True(t, l.Balance("bob").IsZero())
}

func TestTotalSupplyAndPrincipals(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("alice", amt(10)))
	require.NoError(t, l.Credit("bob", amt(5)))
	total, err := l.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, amt(15), total)
	require.Equal(t, []string{"alice", "bob"}, l.Principals())
}
