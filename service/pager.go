package service

import (
	"context"
	"sync"

	"github.com/AnTengye/escrowdash/model"
)

const DefaultPageSize = 10

// PageView is what a listing screen renders.
type PageView struct {
	Filter   Filter             `json:"filter"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []model.Commission `json:"items"`
	// Total is the commission count for the unfiltered listing and the
	// number of loaded items otherwise.
	Total int `json:"total"`
}

// PageRequest changes the pager state. Nil fields are left unchanged.
type PageRequest struct {
	Filter   *Filter
	Page     *int
	PageSize *int
}

// Pager holds the state of one paginated listing. Shrinking the page size
// truncates the loaded page in place when the current offset is a multiple
// of the new size, moving to the page that starts there; any other change
// re-fetches.
type Pager struct {
	mu       sync.Mutex
	reader   *Reader
	filter   Filter
	page     int
	pageSize int
	items    []model.Commission
	total    int
	loaded   bool
}

func NewPager(reader *Reader, filter Filter, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if filter == "" {
		filter = FilterAll
	}
	return &Pager{reader: reader, filter: filter, pageSize: pageSize}
}

func (p *Pager) Offset() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page * p.pageSize
}

// Apply updates the state and returns the resulting view.
func (p *Pager) Apply(ctx context.Context, req PageRequest) PageView {
	p.mu.Lock()
	defer p.mu.Unlock()

	refetch := !p.loaded
	if req.Filter != nil && *req.Filter != p.filter {
		p.filter = *req.Filter
		refetch = true
	}
	if req.Page != nil && *req.Page >= 0 && *req.Page != p.page {
		p.page = *req.Page
		refetch = true
	}
	if req.PageSize != nil && *req.PageSize > 0 && *req.PageSize != p.pageSize {
		size := *req.PageSize
		offset := p.page * p.pageSize
		switch {
		case size > p.pageSize || offset%size != 0:
			refetch = true
		case !refetch:
			// the loaded items start at offset, so they are the head of
			// page offset/size under the new size
			p.page = offset / size
			if len(p.items) > size {
				p.items = p.items[:size]
			}
			if p.filter != FilterAll {
				p.total = len(p.items)
			}
		}
		p.pageSize = size
	}

	if refetch {
		p.fetch(ctx)
	}
	return p.view()
}

// Refresh re-fetches the current page, e.g. after a write.
func (p *Pager) Refresh(ctx context.Context) PageView {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetch(ctx)
	return p.view()
}

func (p *Pager) View() PageView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view()
}

// Must be called with lock held
func (p *Pager) fetch(ctx context.Context) {
	p.items = p.reader.List(ctx, p.filter, p.page*p.pageSize, p.pageSize)
	if p.filter == FilterAll {
		p.total = p.reader.Count(ctx)
	} else {
		p.total = len(p.items)
	}
	p.loaded = true
}

func (p *Pager) view() PageView {
	items := make([]model.Commission, len(p.items))
	copy(items, p.items)
	return PageView{
		Filter:   p.filter,
		Page:     p.page,
		PageSize: p.pageSize,
		Items:    items,
		Total:    p.total,
	}
}
