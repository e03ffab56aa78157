package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/logger"
)

// Persisted session keys.
const (
	KeyAddress       = "address"
	KeyRole          = "role"
	KeyAuthenticated = "authenticated"
)

// Wallet is the wallet side of the chain adapter.
type Wallet interface {
	ActiveAccount(ctx context.Context) (string, error)
	RequestPermissions(ctx context.Context) (string, error)
	ClearActiveAccount(ctx context.Context) error
}

// AdminResolver returns the admin address configured in the contract.
type AdminResolver interface {
	AdminAddress(ctx context.Context) (string, error)
}

// ConnectOptions controls a connect attempt.
type ConnectOptions struct {
	// ResolveRole compares the address with the contract admin and marks the
	// session authenticated. Without it the session has no role.
	ResolveRole bool
}

// SessionManager owns the wallet session: Disconnected, Connecting, then
// Connected, and back to Disconnected on disconnect or a failed connect.
// Mutations are serialised; readers never wait on a connect in progress.
type SessionManager struct {
	wallet Wallet
	admin  AdminResolver
	store  KVStore

	writeMu sync.Mutex

	mu      sync.RWMutex
	session model.Session
	state   model.SessionState
	subs    map[int]func(model.Session)
	nextID  int
}

func NewSessionManager(wallet Wallet, admin AdminResolver, store KVStore) *SessionManager {
	return &SessionManager{
		wallet: wallet,
		admin:  admin,
		store:  store,
		subs:   make(map[int]func(model.Session)),
	}
}

// Restore loads the persisted session. A stored address means Connected with
// the stored role, without asking the wallet.
func (m *SessionManager) Restore(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	address, err := m.store.Get(ctx, KeyAddress)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	role, err := m.store.Get(ctx, KeyRole)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	auth, err := m.store.Get(ctx, KeyAuthenticated)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	if address == "" {
		m.set(model.Session{}, model.Disconnected)
		return nil
	}

	authenticated, _ := strconv.ParseBool(auth)
	s := model.Session{Address: address, Role: model.Role(role), Authenticated: authenticated}
	m.set(s, model.Connected)

	ctx = logger.WithAddress(ctx, address)
	logger.Info(ctx, "session restored", "role", s.Role, "authenticated", s.Authenticated)
	if active, err := m.wallet.ActiveAccount(ctx); err == nil && active != "" && active != address {
		logger.Warn(ctx, "wallet active account differs from restored session", "wallet", active)
	}
	return nil
}

// Connect asks the wallet for permission and, when requested, resolves the
// role once against the contract admin.
func (m *SessionManager) Connect(ctx context.Context, opts ConnectOptions) (model.Session, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.setState(model.Connecting)

	address, err := m.wallet.RequestPermissions(ctx)
	if err != nil {
		m.reset(ctx)
		return model.Session{}, &model.ConnectionError{Err: err}
	}

	s := model.Session{Address: address}
	if opts.ResolveRole {
		admin, err := m.admin.AdminAddress(ctx)
		if err != nil {
			m.reset(ctx)
			return model.Session{}, &model.ConnectionError{Err: fmt.Errorf("resolve admin: %w", err)}
		}
		s.Role = ResolveRole(address, admin)
		s.Authenticated = true
	}

	ctx = logger.WithAddress(ctx, address)
	if err := m.persist(ctx, s); err != nil {
		logger.Warn(ctx, "failed to persist session", "error", err)
	}
	m.set(s, model.Connected)
	logger.Info(ctx, "wallet connected", "role", s.Role, "authenticated", s.Authenticated)
	return s, nil
}

// reset clears a failed connect so a reload does not bring back the
// previous session.
func (m *SessionManager) reset(ctx context.Context) {
	if err := m.persist(ctx, model.Session{}); err != nil {
		logger.Warn(ctx, "failed to clear session", "error", err)
	}
	m.set(model.Session{}, model.Disconnected)
}

// ResolveRole is admin when address is the contract admin, user otherwise.
func ResolveRole(address, admin string) model.Role {
	if address != "" && address == admin {
		return model.RoleAdmin
	}
	return model.RoleUser
}

// Disconnect drops the wallet permission and clears the persisted session.
// Local state is cleared even when the wallet call fails.
func (m *SessionManager) Disconnect(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	var errs []error
	if err := m.wallet.ClearActiveAccount(ctx); err != nil {
		logger.Warn(ctx, "wallet disconnect failed", "error", err)
		errs = append(errs, &model.ConnectionError{Err: err})
	}
	if err := m.persist(ctx, model.Session{}); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear session: %w", err))
	}
	m.set(model.Session{}, model.Disconnected)
	logger.Info(ctx, "wallet disconnected")
	return errors.Join(errs...)
}

func (m *SessionManager) Current() model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func (m *SessionManager) State() model.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Authorize checks the cached session. The role is not re-read from chain.
func (m *SessionManager) Authorize(required model.Role) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != model.Connected {
		return &model.AuthorizationError{Required: required}
	}
	if required == model.RoleAdmin && (!m.session.Authenticated || m.session.Role != model.RoleAdmin) {
		return &model.AuthorizationError{Address: m.session.Address, Required: required, Actual: m.session.Role}
	}
	return nil
}

// Subscribe registers fn for every session change.
func (m *SessionManager) Subscribe(fn func(model.Session)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *SessionManager) persist(ctx context.Context, s model.Session) error {
	values := [][2]string{
		{KeyAddress, s.Address},
		{KeyRole, string(s.Role)},
		{KeyAuthenticated, strconv.FormatBool(s.Authenticated)},
	}
	for _, kv := range values {
		if err := m.store.Set(ctx, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (m *SessionManager) setState(state model.SessionState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *SessionManager) set(s model.Session, state model.SessionState) {
	m.mu.Lock()
	m.session = s
	m.state = state
	subs := make([]func(model.Session), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}
