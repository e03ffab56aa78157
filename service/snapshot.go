package service

import (
	"context"
	"sync"
	"time"

	"github.com/AnTengye/escrowdash/pkg/logger"
)

type storageSource interface {
	Storage(ctx context.Context) (ContractStorage, error)
}

// ContractSnapshot is the last read of contract storage. Refresh is the only
// writer; subscribers are called after each change.
type ContractSnapshot struct {
	src storageSource

	mu       sync.RWMutex
	storage  ContractStorage
	loadedAt time.Time
	subs     map[int]func(ContractStorage)
	nextID   int
}

func NewContractSnapshot(src storageSource) *ContractSnapshot {
	return &ContractSnapshot{
		src:  src,
		subs: make(map[int]func(ContractStorage)),
	}
}

// Refresh reads storage and notifies subscribers when it changed.
func (s *ContractSnapshot) Refresh(ctx context.Context) (ContractStorage, error) {
	st, err := s.src.Storage(ctx)
	if err != nil {
		logger.Warn(ctx, "contract storage unavailable", "error", err)
		return ContractStorage{}, err
	}

	s.mu.Lock()
	changed := st != s.storage || s.loadedAt.IsZero()
	s.storage = st
	s.loadedAt = time.Now()
	var subs []func(ContractStorage)
	if changed {
		subs = make([]func(ContractStorage), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
	return st, nil
}

// Current returns the last snapshot and whether one was ever loaded.
func (s *ContractSnapshot) Current() (ContractStorage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage, !s.loadedAt.IsZero()
}

// AdminAddress reads the contract's configured admin afresh.
func (s *ContractSnapshot) AdminAddress(ctx context.Context) (string, error) {
	st, err := s.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return st.Master, nil
}

func (s *ContractSnapshot) Subscribe(fn func(ContractStorage)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
