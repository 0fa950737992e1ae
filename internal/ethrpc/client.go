// Package ethrpc is the multi-provider JSON-RPC façade: it fans a call
// out to a fleet of independently operated endpoints and only
// returns a result once enough providers agree byte-for-byte, following the
// same "launch N goroutines, collect via errgroup, decide once all are in"
// shape that erigon-lib/state/domain.go uses for its BuildMissedIndices
// fan-out (golang.org/x/sync/errgroup), generalized from "wait for parallel
// index builds" to "wait for parallel untrusted responses and vote".
package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/erigontech/erigon-lib/log/v3"
	lru "github.com/hashicorp/golang-lru/arc/v2"
	"golang.org/x/sync/errgroup"
)

// maxResponseBytes bounds a single provider's HTTP response body. Providers
// that exceed this are reported via ErrResponseTooLarge so the scraper can
// bisect its block range.
const maxResponseBytes = 10 << 20 // 10 MiB

// cacheableMethods are calls whose quorum-agreed result is cached: a
// transaction receipt or a get_logs answer for an already-finalized range
// never changes, so repeated scraper/driver ticks that re-ask about the
// same data can be served from the bounded cache instead of re-polling the
// whole fleet. Every non-null answer of these methods is cached, whether or
// not the range or receipt it covers is finalized yet.
var cacheableMethods = map[string]bool{
	"eth_getTransactionReceipt": true,
	"eth_getLogs": true,
}

// resultCacheSize bounds the façade's receipt/log cache, the same
// bounded-cache role golang-lru/arc/v2 plays for stageloop's index cache.
const resultCacheSize = 4096

// Provider is one upstream JSON-RPC endpoint in the fleet.
type Provider struct {
	Name string
	URL string
}

// Pool fans a JSON-RPC call out across a fleet and applies quorum agreement.
type Pool struct {
	providers []Provider
	client *http.Client
	logger log.Logger
	quorum int // minimum number of agreeing responses required
	cache *lru.ARCCache[string, json.RawMessage]
}

// NewPool builds a Pool. quorum must be between 1 and len(providers); the
// caller (cmd/bridgeminter) is responsible for choosing a sane default,
// typically a strict majority of the configured fleet size.
func NewPool(providers []Provider, quorum int, httpClient *http.Client, logger log.Logger) (*Pool, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("ethrpc: pool needs at least one provider")
	}
	if quorum < 1 || quorum > len(providers) {
		return nil, fmt.Errorf("ethrpc: quorum %d invalid for %d providers", quorum, len(providers))
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cache, err := lru.NewARC[string, json.RawMessage](resultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: build result cache: %w", err)
	}
	return &Pool{providers: providers, client: httpClient, logger: logger, quorum: quorum, cache: cache}, nil
}

// HttpOutcallError is a single provider's failure to answer at all (network
// error, non-2xx, or response-too-large) — distinct from Inconsistent, which
// reports providers that answered but disagreed.
type HttpOutcallError struct {
	Provider string
	Err error
}

func (e *HttpOutcallError) Error() string {
	return fmt.Sprintf("ethrpc: provider %q: %v", e.Provider, e.Err)
}

func (e *HttpOutcallError) Unwrap() error { return e.Err }

// ErrResponseTooLarge is returned (wrapped in HttpOutcallError) when a
// provider's response exceeds maxResponseBytes — the scraper's signal to
// bisect the requested block range.
var ErrResponseTooLarge = fmt.Errorf("ethrpc: response exceeds %d bytes", maxResponseBytes)

// Inconsistent reports that providers answered but did not reach quorum
// agreement on a single byte-for-byte identical result.
type Inconsistent struct {
	Method string
	Results map[string]json.RawMessage // provider name -> raw result
}

func (e *Inconsistent) Error() string {
	return fmt.Sprintf("ethrpc: %s: %d distinct responses, no quorum", e.Method, len(e.Results))
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID int `json:"id"`
	Method string `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error *struct {
		Code int `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call performs method against every provider in the fleet concurrently and
// returns the result once at least quorum providers agree byte-for-byte.
// Each provider's own error or disagreement does not fail the whole call —
// only a failure to reach quorum across all providers does.
func (p *Pool) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var cacheKey string
	if cacheableMethods[method] {
		cacheKey = cacheKeyFor(method, params)
		if cached, ok := p.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	type outcome struct {
		provider string
		result json.RawMessage
		err error
	}
	outcomes := make([]outcome, len(p.providers))

	g, ctx := errgroup.WithContext(ctx)
	for i, prov := range p.providers {
		i, prov := i, prov
		g.Go(func() error {
			res, err := p.callOne(ctx, prov, method, params)
			outcomes[i] = outcome{provider: prov.Name, result: res, err: err}
			return nil // never abort siblings — we need every provider's vote
		})
	}
	_ = g.Wait()

	votes := make(map[string][]string) // canonical json -> provider names
	results := make(map[string]json.RawMessage)
	var firstErr error
	for _, o := range outcomes {
		if o.err != nil {
			if firstErr == nil || (errors.Is(o.err, ErrResponseTooLarge) && !errors.Is(firstErr, ErrResponseTooLarge)) {
				firstErr = o.err
			}
			if p.logger != nil {
				p.logger.Warn("ethrpc provider call failed", "provider", o.provider, "method", method, "err", o.err)
			}
			continue
		}
		canon, err := canonicalizeJSON(o.result)
		if err != nil {
			continue
		}
		votes[canon] = append(votes[canon], o.provider)
		results[o.provider] = o.result
	}

	best := ""
	bestCount := 0
	for canon, provs := range votes {
		if len(provs) > bestCount {
			best, bestCount = canon, len(provs)
		}
	}
	if bestCount >= p.quorum {
		agreed := json.RawMessage(best)
		if cacheKey != "" && !isNullResult(agreed) {
			p.cache.Add(cacheKey, agreed)
		}
		return agreed, nil
	}
	// Without quorum, a too-large provider error, or the first provider error
	// when no provider answered at all, is returned as is.
	if firstErr != nil && (len(results) == 0 || errors.Is(firstErr, ErrResponseTooLarge)) {
		return nil, firstErr
	}
	return nil, &Inconsistent{Method: method, Results: results}
}

// isNullResult reports whether a quorum-agreed result is the JSON literal
// null, the answer eth_getTransactionReceipt gives for a not-yet-mined
// transaction — never cache that, since it does change.
func isNullResult(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// cacheKeyFor builds a stable cache key from method and params. params are
// always small, JSON-marshalable request arguments (block ranges, hashes),
// so re-marshaling them here is cheap and avoids a hand-rolled composite key.
func cacheKeyFor(method string, params []interface{}) string {
	b, err := json.Marshal(params)
	if err != nil {
		return method
	}
	return method + ":" + string(b)
}

func (p *Pool) callOne(ctx context.Context, prov Provider, method string, params []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, &HttpOutcallError{Provider: prov.Name, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, prov.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &HttpOutcallError{Provider: prov.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &HttpOutcallError{Provider: prov.Name, Err: err}
	}
	defer resp.Body.Close()

	limited := http.MaxBytesReader(nil, resp.Body, maxResponseBytes)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, &HttpOutcallError{Provider: prov.Name, Err: ErrResponseTooLarge}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HttpOutcallError{Provider: prov.Name, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, &HttpOutcallError{Provider: prov.Name, Err: err}
	}
	if rpcResp.Error != nil {
		return nil, &HttpOutcallError{Provider: prov.Name, Err: fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)}
	}
	return rpcResp.Result, nil
}

// canonicalizeJSON re-marshals through a sorted-key representation so that
// two providers' responses that differ only in field order still agree.
func canonicalizeJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("ethrpc: empty result")
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	out, err := marshalSorted(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(val)
	}
}
