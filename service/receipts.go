package service

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/AnTengye/escrowdash/model"
)

// ReceiptStore is an in-memory store for confirmed operation receipts.
// Durable copies go to the archive when one is configured.
type ReceiptStore struct {
	receipts    map[string]*model.Receipt
	mu          sync.RWMutex
	maxReceipts int // 0 = unlimited
}

func NewReceiptStore(maxReceipts int) *ReceiptStore {
	if maxReceipts < 0 {
		maxReceipts = 0
	}
	slog.Info("receipt store initialized", "max_receipts", maxReceipts)
	return &ReceiptStore{
		receipts:    make(map[string]*model.Receipt),
		maxReceipts: maxReceipts,
	}
}

func (s *ReceiptStore) Save(r *model.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts[r.ID] = r
	s.cleanupIfNeeded()
}

func (s *ReceiptStore) Get(id string) *model.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipts[id]
}

// List returns receipts newest first. An empty transactionID lists all.
func (s *ReceiptStore) List(transactionID string) []*model.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		if transactionID == "" || r.TransactionID == transactionID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ConfirmedAt.After(result[j].ConfirmedAt)
	})
	return result
}

// cleanupIfNeeded drops the oldest receipts beyond maxReceipts.
// Must be called with lock held
func (s *ReceiptStore) cleanupIfNeeded() {
	if s.maxReceipts <= 0 || len(s.receipts) <= s.maxReceipts {
		return
	}

	receipts := make([]*model.Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		receipts = append(receipts, r)
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].ConfirmedAt.Before(receipts[j].ConfirmedAt)
	})

	removeCount := len(receipts) - s.maxReceipts
	for i := 0; i < removeCount; i++ {
		slog.Debug("evicting old receipt",
			"receipt_id", receipts[i].ID,
			"op_hash", receipts[i].OpHash,
		)
		delete(s.receipts, receipts[i].ID)
	}
}

func (s *ReceiptStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}
