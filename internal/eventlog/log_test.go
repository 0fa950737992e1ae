package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendIterCount(t *testing.T) {
	l := NewInMemory()
	require.NoError(t, l.Append(Event{Timestamp: 1, Payload: Init{EthereumNetwork: "sepolia"}}))
	require.NoError(t, l.Append(Event{Timestamp: 2, Payload: SyncedErc20ToBlock{Block: 150}}))

	require.Equal(t, 2, l.Count())
	events := l.Iter()
	require.Len(t, events, 2)
	require.Equal(t, Init{EthereumNetwork: "sepolia"}, events[0].Payload)
	require.Equal(t, SyncedErc20ToBlock{Block: 150}, events[1].Payload)
}

func TestFilePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Event{Timestamp: 1, Payload: Init{EthereumNetwork: "local"}}))
	require.NoError(t, l.Append(Event{Timestamp: 2, Payload: SkippedBlockForContract{Block: 142}}))
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 2, reopened.Count())
	events := reopened.Iter()
	require.Equal(t, Init{EthereumNetwork: "local"}, events[0].Payload)
	require.Equal(t, SkippedBlockForContract{Block: 142}, events[1].Payload)
}

func TestUnknownTagPanics(t *testing.T) {
	require.Panics(t, func() {
		_, _ = decodePayload(Tag(250), []byte{})
	})
}
