package taskguard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	var s Set
	g, err := s.Acquire(Mint)
	require.NoError(t, err)
	require.True(t, s.Active(Mint))

	g.Release()
	require.False(t, s.Active(Mint))
}

func TestDoubleAcquireFails(t *testing.T) {
	var s Set
	g, err := s.Acquire(ScrapEthLogs)
	require.NoError(t, err)
	defer g.Release()

	_, err = s.Acquire(ScrapEthLogs)
	require.ErrorIs(t, err, ErrAlreadyRunning{Task: ScrapEthLogs})
}

func TestReleaseOnPanicViaDefer(t *testing.T) {
	var s Set
	func() {
		defer func() { _ = recover() }()
		g, err := s.Acquire(RetrieveEth)
		require.NoError(t, err)
		defer g.Release()
		panic("boom")
	}()
	require.False(t, s.Active(RetrieveEth))
}

func TestReleaseIsIdempotent(t *testing.T) {
	var s Set
	g, err := s.Acquire(Mint)
	require.NoError(t, err)
	g.Release()
	require.NotPanics(t, g.Release)
}

func TestIndependentTaskTypesDoNotBlockEachOther(t *testing.T) {
	var s Set
	g1, err := s.Acquire(Mint)
	require.NoError(t, err)
	defer g1.Release()

	g2, err := s.Acquire(ScrapEthLogs)
	require.NoError(t, err)
	defer g2.Release()
}
