// Package chain collects on-chain usage snapshots from a NearBlocks
// compatible indexer API for one account per call.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/merit/internal/domain/model"
	"github.com/okian/merit/pkg/metrics"
	"github.com/okian/merit/pkg/retry"
)

const (
	defaultBaseURL      = "https://api.nearblocks.io/v1"
	defaultPerPage      = 100
	defaultMaxPages     = 25
	defaultTimeout      = 30 * time.Second
	collectorSourceName = "chain"

	// One native token is 10^24 of the indexer's base units.
	tokenDecimals = 24
)

// txnPage is the indexer's paged response. Receipts come back under the
// same key as transactions.
type txnPage struct {
	Txns []txn `json:"txns"`
}

type txn struct {
	SignerAccountID      string     `json:"signer_account_id"`
	PredecessorAccountID string     `json:"predecessor_account_id"`
	ReceiverAccountID    string     `json:"receiver_account_id"`
	ActionsAgg           actionsAgg `json:"actions_agg"`
	Actions              []action   `json:"actions"`
}

// Deposits are NullDecimal: the indexer emits null for actions that
// carry no attached amount.
type actionsAgg struct {
	Deposit decimal.NullDecimal `json:"deposit"`
}

type action struct {
	Action  string              `json:"action"`
	Method  string              `json:"method"`
	Deposit decimal.NullDecimal `json:"deposit"`
}

// Collector produces ChainMetrics snapshots.
type Collector struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	perPage       int
	maxPages      int
	tokenPriceUSD float64
}

// Option applies a configuration option to the Collector.
type Option func(*Collector)

// WithBaseURL points the collector at a different indexer endpoint.
func WithBaseURL(raw string) Option {
	return func(c *Collector) {
		if raw != "" {
			c.baseURL = raw
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Collector) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPerPage sets the page size for indexer calls.
func WithPerPage(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.perPage = n
		}
	}
}

// WithMaxPages bounds pagination per endpoint.
func WithMaxPages(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithTokenPriceUSD stamps snapshots with the native token price used
// downstream for USD conversion.
func WithTokenPriceUSD(price float64) Option {
	return func(c *Collector) {
		if price > 0 {
			c.tokenPriceUSD = price
		}
	}
}

// NewCollector creates a collector. An empty API key falls back to the
// indexer's public tier and its lower rate limits.
func NewCollector(apiKey string, opts ...Option) *Collector {
	c := &Collector{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		perPage:    defaultPerPage,
		maxPages:   defaultMaxPages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect gathers transaction volume, contract calls and wallet activity
// for account inside the [since, until) window. An account unknown to
// the indexer yields an empty snapshot rather than an error.
func (c *Collector) Collect(ctx context.Context, account string, since, until time.Time) (*model.ChainMetrics, error) {
	start := time.Now()
	defer func() {
		metrics.RecordCollectorLatency(collectorSourceName, float64(time.Since(start).Milliseconds()))
	}()

	if account == "" {
		metrics.RecordCollectorError(collectorSourceName)
		return nil, ErrEmptyAccount
	}

	snapshot := &model.ChainMetrics{
		Project:       account,
		TxVolume:      "0",
		TokenPriceUSD: c.tokenPriceUSD,
		CollectedAt:   time.Now().UTC(),
	}

	exists, err := c.accountExists(ctx, account)
	if err != nil {
		metrics.RecordCollectorError(collectorSourceName)
		return nil, fmt.Errorf("checking account %s: %w", account, err)
	}
	if !exists {
		return snapshot, nil
	}

	txns, err := c.fetchPaged(ctx, account, "txns-only", since, until)
	if err != nil {
		metrics.RecordCollectorError(collectorSourceName)
		return nil, fmt.Errorf("fetching transactions for %s: %w", account, err)
	}
	receipts, err := c.fetchPaged(ctx, account, "receipts", since, until)
	if err != nil {
		metrics.RecordCollectorError(collectorSourceName)
		return nil, fmt.Errorf("fetching receipts for %s: %w", account, err)
	}

	aggregate(snapshot, account, txns, receipts)
	return snapshot, nil
}

// aggregate folds raw indexer records into the snapshot. Transaction
// count covers transactions only; volume and contract calls cover both
// transactions and receipts, matching how the indexer splits deposits
// across them.
func aggregate(snapshot *model.ChainMetrics, account string, txns, receipts []txn) {
	volume := decimal.Zero
	users := make(map[string]struct{})
	callers := make(map[string]struct{})

	snapshot.TxCount = len(txns)

	for _, item := range append(txns, receipts...) {
		if item.ActionsAgg.Deposit.Valid {
			volume = volume.Add(item.ActionsAgg.Deposit.Decimal)
		}

		hasCall := false
		for _, act := range item.Actions {
			if act.Deposit.Valid {
				volume = volume.Add(act.Deposit.Decimal)
			}
			if act.Action == "FUNCTION_CALL" {
				snapshot.ContractCalls++
				hasCall = true
			}
		}

		for _, wallet := range []string{item.SignerAccountID, item.PredecessorAccountID} {
			if wallet == "" || wallet == account {
				continue
			}
			users[wallet] = struct{}{}
			if hasCall {
				callers[wallet] = struct{}{}
			}
		}
	}

	snapshot.TxVolume = volume.Shift(-tokenDecimals).String()
	snapshot.UniqueUsers = sortedKeys(users)
	snapshot.UniqueCallers = sortedKeys(callers)
}

func (c *Collector) fetchPaged(ctx context.Context, account, endpoint string, since, until time.Time) ([]txn, error) {
	var out []txn

	for page := 1; page <= c.maxPages; page++ {
		u := fmt.Sprintf("%s/account/%s/%s", c.baseURL, url.PathEscape(account), endpoint)
		params := url.Values{
			"page":           {strconv.Itoa(page)},
			"per_page":       {strconv.Itoa(c.perPage)},
			"from_timestamp": {strconv.FormatInt(since.UTC().UnixNano(), 10)},
			"to_timestamp":   {strconv.FormatInt(until.UTC().UnixNano(), 10)},
		}

		var result txnPage
		err := retry.Do(ctx, func() error {
			return c.getJSON(ctx, u+"?"+params.Encode(), &result)
		}, retry.WithMaxRetries(3), retry.WithInitialDelay(time.Second))
		if err != nil {
			return nil, err
		}

		out = append(out, result.Txns...)
		if len(result.Txns) < c.perPage {
			break
		}
	}

	return out, nil
}

func (c *Collector) accountExists(ctx context.Context, account string) (bool, error) {
	u := fmt.Sprintf("%s/account/%s", c.baseURL, url.PathEscape(account))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	return resp.StatusCode == http.StatusOK, nil
}

func (c *Collector) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrIndexerStatus, resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Collector) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
