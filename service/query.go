package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/logger"
	"github.com/AnTengye/escrowdash/pkg/tez"
)

// Source is the raw indexed storage the Reader queries. *Indexer implements it.
type Source interface {
	Commissions(ctx context.Context, filter KeyFilter, offset, limit int) ([]model.Commission, error)
	CountCommissions(ctx context.Context) (int, error)
	Commission(ctx context.Context, id string) (model.Commission, error)
	Parties(ctx context.Context, id string) (model.Parties, error)
	PartiesBy(ctx context.Context, role PartyRole, address string) ([]model.PartyEntry, error)
	Storage(ctx context.Context) (ContractStorage, error)
	Balance(ctx context.Context, address string) (tez.Mutez, error)
}

// Filter names a commission listing.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterPending   Filter = "pending"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
	FilterCancelled Filter = "cancelled"
	FilterReverts   Filter = "reverts"
)

// ParseFilter maps a query value to a Filter. Empty means all.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPending, FilterActive, FilterCompleted, FilterCancelled, FilterReverts:
		return f, nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

func (f Filter) keyFilter() KeyFilter {
	switch f {
	case FilterPending:
		return StatusFilter(model.StatusPending)
	case FilterActive:
		return StatusFilter(model.StatusActive)
	case FilterCompleted:
		return StatusFilter(model.StatusCompleted)
	case FilterCancelled:
		return StatusFilter(model.StatusCancelled)
	case FilterReverts:
		return PendingRevertFilter()
	}
	return nil
}

// Reader is the read side used by the views. List reads degrade to empty
// results on failure and log a warning; GetOne reports errors.
type Reader struct {
	src Source
}

func NewReader(src Source) *Reader {
	return &Reader{src: src}
}

// List returns the page [offset, offset+limit) of f in insertion order.
func (r *Reader) List(ctx context.Context, f Filter, offset, limit int) []model.Commission {
	items, err := r.src.Commissions(ctx, f.keyFilter(), offset, limit)
	if err != nil {
		logger.Warn(ctx, "commission listing unavailable", "filter", f, "offset", offset, "limit", limit, "error", err)
		return []model.Commission{}
	}
	return items
}

func (r *Reader) ListAll(ctx context.Context, offset, limit int) []model.Commission {
	return r.List(ctx, FilterAll, offset, limit)
}

func (r *Reader) ListByStatus(ctx context.Context, s model.Status, offset, limit int) []model.Commission {
	items, err := r.src.Commissions(ctx, StatusFilter(s), offset, limit)
	if err != nil {
		logger.Warn(ctx, "commission listing unavailable", "status", s, "error", err)
		return []model.Commission{}
	}
	return items
}

// ListPendingReverts is the admin revert queue.
func (r *Reader) ListPendingReverts(ctx context.Context, offset, limit int) []model.Commission {
	return r.List(ctx, FilterReverts, offset, limit)
}

// Count returns the total number of commissions, 0 when unavailable.
func (r *Reader) Count(ctx context.Context) int {
	n, err := r.src.CountCommissions(ctx)
	if err != nil {
		logger.Warn(ctx, "commission count unavailable", "error", err)
		return 0
	}
	return n
}

// GetOne fetches both halves of a commission. Either half missing is an error.
func (r *Reader) GetOne(ctx context.Context, id string) (model.CommissionDetail, error) {
	var (
		c model.Commission
		p model.Parties
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		c, err = r.src.Commission(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		p, err = r.src.Parties(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.CommissionDetail{}, err
	}
	return model.CommissionDetail{Commission: c, Parties: p}, nil
}

// ListByParty returns the parties records where address is owner, followed
// by those where it is counterparty. Entries are not deduplicated.
func (r *Reader) ListByParty(ctx context.Context, address string) []model.PartyEntry {
	var owned, countered []model.PartyEntry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		owned, err = r.src.PartiesBy(gctx, PartyOwner, address)
		return err
	})
	g.Go(func() error {
		var err error
		countered, err = r.src.PartiesBy(gctx, PartyCounterparty, address)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Warn(ctx, "party listing unavailable", "address", address, "error", err)
		return []model.PartyEntry{}
	}

	out := make([]model.PartyEntry, 0, len(owned)+len(countered))
	out = append(out, owned...)
	return append(out, countered...)
}

// Balance returns the account balance, 0 when unavailable.
func (r *Reader) Balance(ctx context.Context, address string) tez.Mutez {
	m, err := r.src.Balance(ctx, address)
	if err != nil {
		logger.Warn(ctx, "balance unavailable", "address", address, "error", err)
		return 0
	}
	return m
}
