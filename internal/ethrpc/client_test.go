package ethrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeProvider(t *testing.T, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func TestCallReachesQuorum(t *testing.T) {
	s1 := fakeProvider(t, `"0x10"`)
	s2 := fakeProvider(t, `"0x10"`)
	s3 := fakeProvider(t, `"0x11"`) // disagreeing minority
	defer s1.Close()
	defer s2.Close()
	defer s3.Close()

	pool, err := NewPool([]Provider{
		{Name: "a", URL: s1.URL},
		{Name: "b", URL: s2.URL},
		{Name: "c", URL: s3.URL},
	}, 2, nil, nil)
	require.NoError(t, err)

	raw, err := pool.Call(context.Background(), "eth_blockNumber")
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "0x10", got)
}

func TestCallFailsWithoutQuorum(t *testing.T) {
	s1 := fakeProvider(t, `"0x10"`)
	s2 := fakeProvider(t, `"0x11"`)
	defer s1.Close()
	defer s2.Close()

	pool, err := NewPool([]Provider{
		{Name: "a", URL: s1.URL},
		{Name: "b", URL: s2.URL},
	}, 2, nil, nil)
	require.NoError(t, err)

	_, err = pool.Call(context.Background(), "eth_blockNumber")
	require.Error(t, err)
	var inconsistent *Inconsistent
	require.ErrorAs(t, err, &inconsistent)
}

func TestCallToleratesMinorityOutage(t *testing.T) {
	s1 := fakeProvider(t, `"0x20"`)
	s2 := fakeProvider(t, `"0x20"`)
	defer s1.Close()
	defer s2.Close()

	pool, err := NewPool([]Provider{
		{Name: "a", URL: s1.URL},
		{Name: "b", URL: s2.URL},
		{Name: "c", URL: "http://127.0.0.1:1"}, // unreachable
	}, 2, nil, nil)
	require.NoError(t, err)

	raw, err := pool.Call(context.Background(), "eth_blockNumber")
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "0x20", got)
}

func TestAgreementIgnoresFieldOrder(t *testing.T) {
	s1 := fakeProvider(t, `{"a":1,"b":2}`)
	s2 := fakeProvider(t, `{"b":2,"a":1}`)
	defer s1.Close()
	defer s2.Close()

	pool, err := NewPool([]Provider{
		{Name: "a", URL: s1.URL},
		{Name: "b", URL: s2.URL},
	}, 2, nil, nil)
	require.NoError(t, err)

	_, err = pool.Call(context.Background(), "eth_getBlockByNumber")
	require.NoError(t, err)
}

func TestNewPoolRejectsBadQuorum(t *testing.T) {
	_, err := NewPool([]Provider{{Name: "a", URL: "http://x"}}, 2, nil, nil)
	require.Error(t, err)
	_, err = NewPool(nil, 1, nil, nil)
	require.Error(t, err)
}

func TestCacheableMethodServesSecondCallWithoutProviders(t *testing.T) {
	calls := 0
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"status":"0x1"}}`))
	}))
	defer s.Close()

	pool, err := NewPool([]Provider{{Name: "a", URL: s.URL}}, 1, nil, nil)
	require.NoError(t, err)

	_, err = pool.Call(context.Background(), "eth_getTransactionReceipt", "0xabc")
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	_, err = pool.Call(context.Background(), "eth_getTransactionReceipt", "0xabc")
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second call for the same receipt should be served from cache")
}

func TestCacheSkipsNullReceipt(t *testing.T) {
	calls := 0
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	}))
	defer s.Close()

	pool, err := NewPool([]Provider{{Name: "a", URL: s.URL}}, 1, nil, nil)
	require.NoError(t, err)

	_, err = pool.Call(context.Background(), "eth_getTransactionReceipt", "0xdef")
	require.NoError(t, err)
	_, err = pool.Call(context.Background(), "eth_getTransactionReceipt", "0xdef")
	require.NoError(t, err)
	require.Equal(t, 2, calls, "a not-yet-mined receipt must never be cached")
}
