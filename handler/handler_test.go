package handler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/tez"
	"github.com/AnTengye/escrowdash/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSessions struct {
	mu         sync.Mutex
	session    model.Session
	state      model.SessionState
	address    string
	admin      string
	connectErr error
}

func (f *fakeSessions) Current() model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeSessions) State() model.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSessions) Authorize(required model.Role) error {
	s := f.Current()
	if s.Address == "" {
		return &model.AuthorizationError{Required: required}
	}
	if required == model.RoleAdmin && (!s.Authenticated || s.Role != model.RoleAdmin) {
		return &model.AuthorizationError{Address: s.Address, Required: required, Actual: s.Role}
	}
	return nil
}

func (f *fakeSessions) Connect(_ context.Context, opts service.ConnectOptions) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		f.state = model.Disconnected
		return model.Session{}, &model.ConnectionError{Err: f.connectErr}
	}
	s := model.Session{Address: f.address}
	if opts.ResolveRole {
		s.Role = service.ResolveRole(f.address, f.admin)
		s.Authenticated = true
	}
	f.session, f.state = s, model.Connected
	return s, nil
}

func (f *fakeSessions) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session, f.state = model.Session{}, model.Disconnected
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	records  []model.Commission
	parties  map[string]model.Parties
	balances map[string]tez.Mutez
	filters  []service.KeyFilter
}

func newFakeSource() *fakeSource {
	return &fakeSource{parties: map[string]model.Parties{}, balances: map[string]tez.Mutez{}}
}

func (s *fakeSource) add(c model.Commission, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, c)
	s.parties[c.ID] = model.Parties{Owner: &owner}
}

func (s *fakeSource) Commissions(_ context.Context, filter service.KeyFilter, offset, limit int) ([]model.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	if offset >= len(s.records) {
		return nil, nil
	}
	end := min(offset+limit, len(s.records))
	return append([]model.Commission(nil), s.records[offset:end]...), nil
}

func (s *fakeSource) CountCommissions(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *fakeSource) Commission(_ context.Context, id string) (model.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.records {
		if c.ID == id {
			return c, nil
		}
	}
	return model.Commission{}, &model.QueryError{Query: "transactions/" + id, Err: model.ErrNotFound}
}

func (s *fakeSource) Parties(_ context.Context, id string) (model.Parties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parties[id]
	if !ok {
		return model.Parties{}, &model.QueryError{Query: "parties/" + id, Err: model.ErrNotFound}
	}
	return p, nil
}

func (s *fakeSource) PartiesBy(_ context.Context, role service.PartyRole, address string) ([]model.PartyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PartyEntry
	for id, p := range s.parties {
		if role == service.PartyOwner && p.Owner != nil && *p.Owner == address {
			out = append(out, model.PartyEntry{ID: id, Parties: p})
		}
	}
	return out, nil
}

func (s *fakeSource) Storage(context.Context) (service.ContractStorage, error) {
	return service.ContractStorage{Master: "tz1admin"}, nil
}

func (s *fakeSource) Balance(_ context.Context, address string) (tez.Mutez, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[address], nil
}

type fakeSubmitter struct {
	mu      sync.Mutex
	actions []service.Action
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, a service.Action) (*model.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Receipt{
		ID:            fmt.Sprintf("r%d", len(f.actions)),
		Action:        a.Name,
		Entrypoint:    a.Entrypoint,
		TransactionID: a.TransactionID,
		Sender:        a.Sender,
		OpHash:        "ooHash",
		Amount:        a.Amount,
	}, nil
}

func (f *fakeSubmitter) last(t *testing.T) service.Action {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.actions)
	return f.actions[len(f.actions)-1]
}

type testEnv struct {
	router    *gin.Engine
	sessions  *fakeSessions
	source    *fakeSource
	submitter *fakeSubmitter
	feed      *service.Feed
	receipts  *service.ReceiptStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		sessions:  &fakeSessions{address: "tz1alice", admin: "tz1admin"},
		source:    newFakeSource(),
		submitter: &fakeSubmitter{},
		feed:      service.NewFeed(10),
		receipts:  service.NewReceiptStore(10),
	}
	reader := service.NewReader(env.source)
	cfg := &config.Config{
		Chain: config.ChainConfig{Network: "ghostnet", ContractAddress: "KT1escrow"},
		Auth:  config.AuthConfig{JWTSecret: "test-secret", TokenExpireHours: 1},
	}
	env.router = gin.New()
	Register(env.router, Deps{
		Config:    cfg,
		Sessions:  env.sessions,
		Reader:    reader,
		Pager:     service.NewPager(reader, service.FilterAll, 2),
		Submitter: env.submitter,
		Feed:      env.feed,
		Receipts:  env.receipts,
	})
	return env
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) connect(t *testing.T, admin bool) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/session/connect", "", ConnectRequest{Admin: admin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func sampleCommission(id string) model.Commission {
	return model.Commission{
		ID:           id,
		Title:        "Logo design",
		Offer:        2_000_000,
		Fee:          500_000,
		Status:       model.StatusPending,
		HashedSecret: hex.EncodeToString(tez.HashSecret("open sesame")),
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"contract":"KT1escrow"`)
	assert.Contains(t, w.Body.String(), `"session":"disconnected"`)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/session", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.Disconnected, env.sessions.State())

	token := env.connect(t, false)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/commissions", token, nil).Code)

	w = env.do(http.MethodPost, "/api/session/disconnect", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/commissions", token, nil).Code)
}

func TestSessionConnectWithoutBody(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/session/connect", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SessionResponse](t, w)
	assert.Equal(t, "tz1alice", resp.Address)
	assert.False(t, resp.Authenticated)
}

func TestSessionConnectFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.connectErr = errors.New("user rejected")
	w := env.do(http.MethodPost, "/api/session/connect", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "user rejected")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/commissions", "/api/dashboard", "/api/receipts", "/api/notifications"} {
		assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, path, "", nil).Code, path)
	}
}

func TestCommissionListAndCount(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.source.add(sampleCommission(fmt.Sprintf("c%d", i)), "tz1alice")
	}
	token := env.connect(t, false)

	w := env.do(http.MethodGet, "/api/commissions?page=1&page_size=2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListResponse](t, w)
	assert.Equal(t, service.FilterAll, list.Filter)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "c2", list.Items[0].ID)

	w = env.do(http.MethodGet, "/api/commissions/count", token, nil)
	assert.JSONEq(t, `{"total":3}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/commissions?filter=bogus", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/commissions?page=-1", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/commissions?page_size=0", token, nil).Code)
}

func TestCommissionGet(t *testing.T) {
	env := newTestEnv(t)
	env.source.add(sampleCommission("c1"), "tz1alice")
	token := env.connect(t, false)

	w := env.do(http.MethodGet, "/api/commissions/c1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[model.CommissionDetail](t, w)
	assert.Equal(t, "Logo design", detail.Title)
	require.NotNil(t, detail.Parties.Owner)
	assert.Equal(t, "tz1alice", *detail.Parties.Owner)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/commissions/missing", token, nil).Code)
}

func TestPostCommission(t *testing.T) {
	env := newTestEnv(t)
	token := env.connect(t, false)

	w := env.do(http.MethodPost, "/api/commissions", token, model.CommissionDraft{
		Title: "Logo design", Offer: 2_000_000, Fee: 500_000, Duration: 86400, Secret: "open sesame",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[WriteResponse](t, w)
	require.NotNil(t, resp.Receipt)
	assert.Equal(t, service.ActionPost, resp.Receipt.Action)
	assert.Equal(t, "tz1alice", resp.Receipt.Sender)

	a := env.submitter.last(t)
	assert.Equal(t, model.EntrypointPost, a.Entrypoint)
	assert.NotEmpty(t, a.TransactionID)
	assert.Zero(t, a.Amount)
}

func TestPostCommissionValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.connect(t, false)

	w := env.do(http.MethodPost, "/api/commissions", token, model.CommissionDraft{
		Title: "Logo", Offer: 0, Fee: 1, Secret: "s",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.submitter.actions)
}

func TestSimpleActions(t *testing.T) {
	env := newTestEnv(t)
	env.source.add(sampleCommission("c1"), "tz1alice")
	token := env.connect(t, false)

	tests := []struct {
		path       string
		entrypoint string
	}{
		{"accept", model.EntrypointAccept},
		{"approve", model.EntrypointApprove},
		{"claim-owner", model.EntrypointClaimOwner},
		{"cancel-owner", model.EntrypointCancelOwner},
		{"cancel-counterparty", model.EntrypointCancelCounterparty},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/commissions/c1/"+tt.path, token, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			resp := decode[WriteResponse](t, w)
			require.NotNil(t, resp.Commission)
			assert.Equal(t, "c1", resp.Commission.ID)

			a := env.submitter.last(t)
			assert.Equal(t, tt.entrypoint, a.Entrypoint)
			assert.Equal(t, "c1", a.Value)
		})
	}
}

func TestDepositDefaultsToStake(t *testing.T) {
	env := newTestEnv(t)
	env.source.add(sampleCommission("c1"), "tz1alice")
	token := env.connect(t, false)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/commissions/c1/deposit-owner", token, nil).Code)
	assert.Equal(t, tez.Mutez(2_000_000), env.submitter.last(t).Amount)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/commissions/c1/deposit-counterparty", token, nil).Code)
	assert.Equal(t, tez.Mutez(500_000), env.submitter.last(t).Amount)
}

func TestDepositExplicitAmount(t *testing.T) {
	env := newTestEnv(t)
	env.source.add(sampleCommission("c1"), "tz1alice")
	token := env.connect(t, false)

	w := env.do(http.MethodPost, "/api/commissions/c1/deposit-owner", token, DepositRequest{Amount: "1.5"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tez.Mutez(1_500_000), env.submitter.last(t).Amount)

	w = env.do(http.MethodPost, "/api/commissions/c1/deposit-owner", token, DepositRequest{Amount: "1.0000001"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/commissions/missing/deposit-owner", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClaimCounterparty(t *testing.T) {
	env := newTestEnv(t)
	env.source.add(sampleCommission("c1"), "tz1alice")
	token := env.connect(t, false)

	w := env.do(http.MethodPost, "/api/commissions/c1/claim-counterparty", token, ClaimRequest{Secret: "wrong"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.submitter.actions, "a wrong secret is never sent")

	w = env.do(http.MethodPost, "/api/commissions/c1/claim-counterparty", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/commissions/c1/claim-counterparty", token, ClaimRequest{Secret: "open sesame"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.EntrypointClaimCounterparty, env.submitter.last(t).Entrypoint)
}

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"busy", model.ErrBusy, http.StatusConflict},
		{"estimation", &model.EstimationError{Entrypoint: "acceptCommission", Err: errors.New("script failed")}, http.StatusUnprocessableEntity},
		{"submission", &model.SubmissionError{Entrypoint: "acceptCommission", OpHash: "ooFail", Err: errors.New("backtracked")}, http.StatusBadGateway},
		{"timeout", &model.TimeoutError{OpHash: "ooSlow"}, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.source.add(sampleCommission("c1"), "tz1alice")
			env.submitter.err = tt.err
			token := env.connect(t, false)

			w := env.do(http.MethodPost, "/api/commissions/c1/accept", token, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestSubmissionErrorCarriesOpHash(t *testing.T) {
	env := newTestEnv(t)
	env.source.add(sampleCommission("c1"), "tz1alice")
	env.submitter.err = &model.SubmissionError{Entrypoint: "acceptCommission", OpHash: "ooFail", Err: errors.New("backtracked")}
	token := env.connect(t, false)

	w := env.do(http.MethodPost, "/api/commissions/c1/accept", token, nil)
	assert.Contains(t, w.Body.String(), `"op_hash":"ooFail"`)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.source.add(sampleCommission("c1"), "tz1alice")

	userToken := env.connect(t, true)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/admin/reverts", userToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/admin/commissions/c1/revert", userToken, nil).Code)

	env.sessions.address = "tz1admin"
	adminToken := env.connect(t, true)

	w := env.do(http.MethodGet, "/api/admin/reverts?page_size=5", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.FilterReverts, decode[ListResponse](t, w).Filter)

	w = env.do(http.MethodPost, "/api/admin/commissions/c1/revert", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	a := env.submitter.last(t)
	assert.Equal(t, model.EntrypointRevert, a.Entrypoint)
	assert.Equal(t, "tz1admin", a.Sender)
}

func TestDashboardKeepsState(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.source.add(sampleCommission(fmt.Sprintf("c%d", i)), "tz1alice")
	}
	token := env.connect(t, false)

	w := env.do(http.MethodGet, "/api/dashboard", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[service.PageView](t, w)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, 5, view.Total)

	w = env.do(http.MethodGet, "/api/dashboard?page=1", token, nil)
	view = decode[service.PageView](t, w)
	assert.Equal(t, 1, view.Page)
	assert.Equal(t, "c2", view.Items[0].ID)

	// shrinking keeps the offset: items from 2 onward are page 2 at size 1
	w = env.do(http.MethodGet, "/api/dashboard?page_size=1", token, nil)
	view = decode[service.PageView](t, w)
	assert.Equal(t, 2, view.Page)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "c2", view.Items[0].ID)

	w = env.do(http.MethodGet, "/api/dashboard?refresh=true", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/dashboard?filter=nope", token, nil).Code)
}

func TestAccountRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.source.add(sampleCommission("c1"), "tz1alice")
	env.source.balances["tz1alice"] = 12_500_000
	token := env.connect(t, false)

	w := env.do(http.MethodGet, "/api/accounts/tz1alice/balance", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance_mutez":12500000`)

	w = env.do(http.MethodGet, "/api/accounts/tz1alice/commissions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"c1"`)
}

func TestActivityRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.feed.Notify(context.Background(), service.Notice{Level: service.NoticeSuccess, Message: service.SuccessMessage})
	env.receipts.Save(&model.Receipt{ID: "r1", TransactionID: "c1", OpHash: "oo1"})
	env.receipts.Save(&model.Receipt{ID: "r2", TransactionID: "c2", OpHash: "oo2"})
	token := env.connect(t, false)

	w := env.do(http.MethodGet, "/api/notifications?limit=5", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), service.SuccessMessage)

	w = env.do(http.MethodGet, "/api/receipts?transaction_id=c1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/receipts/r2", token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/receipts/r9", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/notifications?limit=x", token, nil).Code)
}
