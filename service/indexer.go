package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/tez"
)

// KeyFilter holds TzKT field-path filters applied to big-map keys, e.g.
// "value.status" = "0" or "value.status.ne" = "-1".
type KeyFilter map[string]string

func StatusFilter(s model.Status) KeyFilter {
	return KeyFilter{"value.status": strconv.Itoa(int(s))}
}

// PendingRevertFilter selects records both parties withdrew from that were
// never marked cancelled.
func PendingRevertFilter() KeyFilter {
	return KeyFilter{
		"value.counterpartyHasWithdrawn": "true",
		"value.ownerHasWithdrawn":        "true",
		"value.status.ne":                "-1",
	}
}

// PartyRole selects which side of the parties record to match.
type PartyRole string

const (
	PartyOwner        PartyRole = "owner"
	PartyCounterparty PartyRole = "counterparty"
)

// ContractStorage is the subset of contract storage the dashboard reads.
type ContractStorage struct {
	Master string `json:"master"`
}

type bigMapKey[V any] struct {
	Key   string `json:"key"`
	Value V      `json:"value"`
}

type bigMapInfo struct {
	TotalKeys  int `json:"totalKeys"`
	ActiveKeys int `json:"activeKeys"`
}

// Indexer is a typed TzKT client over the escrow contract's big maps.
// Every failure is a *model.QueryError; missing keys wrap model.ErrNotFound.
type Indexer struct {
	baseURL    string
	contract   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewIndexer(cfg *config.IndexerConfig, contract string) *Indexer {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Indexer{
		baseURL:  strings.TrimRight(cfg.APIURL, "/"),
		contract: contract,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// HTTPClient is shared with the confirmation observer.
func (ix *Indexer) HTTPClient() *http.Client {
	return ix.httpClient
}

func (ix *Indexer) bigMapPath(bigMap string) string {
	return fmt.Sprintf("/v1/contracts/%s/bigmaps/%s", ix.contract, bigMap)
}

// Commissions returns one page of the transactions big map in key order.
func (ix *Indexer) Commissions(ctx context.Context, filter KeyFilter, offset, limit int) ([]model.Commission, error) {
	q := url.Values{}
	q.Set("select", "key,value")
	for k, v := range filter {
		q.Set(k, v)
	}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var entries []bigMapKey[model.Commission]
	if err := ix.get(ctx, "commissions", ix.bigMapPath("transactions")+"/keys", q, &entries); err != nil {
		return nil, err
	}

	out := make([]model.Commission, len(entries))
	for i, e := range entries {
		out[i] = e.Value
		out[i].ID = e.Key
	}
	return out, nil
}

// CountCommissions returns the total number of keys ever stored.
func (ix *Indexer) CountCommissions(ctx context.Context) (int, error) {
	var info bigMapInfo
	if err := ix.get(ctx, "count", ix.bigMapPath("transactions"), nil, &info); err != nil {
		return 0, err
	}
	return info.TotalKeys, nil
}

func (ix *Indexer) Commission(ctx context.Context, id string) (model.Commission, error) {
	var entry bigMapKey[model.Commission]
	if err := ix.get(ctx, "commission", ix.bigMapPath("transactions")+"/keys/"+url.PathEscape(id), nil, &entry); err != nil {
		return model.Commission{}, err
	}
	entry.Value.ID = id
	return entry.Value, nil
}

func (ix *Indexer) Parties(ctx context.Context, id string) (model.Parties, error) {
	var entry bigMapKey[model.Parties]
	if err := ix.get(ctx, "parties", ix.bigMapPath("parties")+"/keys/"+url.PathEscape(id), nil, &entry); err != nil {
		return model.Parties{}, err
	}
	return entry.Value, nil
}

// PartiesBy lists parties records where address holds role.
func (ix *Indexer) PartiesBy(ctx context.Context, role PartyRole, address string) ([]model.PartyEntry, error) {
	q := url.Values{}
	q.Set("select", "key,value")
	q.Set("value."+string(role), address)

	var entries []bigMapKey[model.Parties]
	if err := ix.get(ctx, "parties_by_"+string(role), ix.bigMapPath("parties")+"/keys", q, &entries); err != nil {
		return nil, err
	}

	out := make([]model.PartyEntry, len(entries))
	for i, e := range entries {
		out[i] = model.PartyEntry{ID: e.Key, Parties: e.Value}
	}
	return out, nil
}

func (ix *Indexer) Storage(ctx context.Context) (ContractStorage, error) {
	var s ContractStorage
	if err := ix.get(ctx, "storage", fmt.Sprintf("/v1/contracts/%s/storage", ix.contract), nil, &s); err != nil {
		return ContractStorage{}, err
	}
	return s, nil
}

// Balance returns the spendable balance of address.
func (ix *Indexer) Balance(ctx context.Context, address string) (tez.Mutez, error) {
	var m tez.Mutez
	if err := ix.get(ctx, "balance", "/v1/accounts/"+url.PathEscape(address)+"/balance", nil, &m); err != nil {
		return 0, err
	}
	return m, nil
}

func (ix *Indexer) get(ctx context.Context, name, path string, q url.Values, out any) error {
	wrap := func(err error) error { return &model.QueryError{Query: name, Err: err} }

	if err := ix.limiter.Wait(ctx); err != nil {
		return wrap(err)
	}

	u := ix.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return wrap(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return wrap(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrap(fmt.Errorf("failed to read response: %w", err))
	}

	// TzKT answers 204 for a missing single entity.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound || len(body) == 0 {
		return wrap(model.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return wrap(fmt.Errorf("indexer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return wrap(fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}
