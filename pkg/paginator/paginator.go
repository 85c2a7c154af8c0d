// Package paginator converts page-token RPCs (AIP-158) into lazy sequences
// of pages or items. The next page is fetched only after the previous
// page's items are exhausted, and iteration terminates exactly when a page
// with an empty next_page_token has been consumed.
package paginator

import (
	"context"
	"iter"
)

// Page is one RPC response: a batch of items plus the continuation token.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// FetchFunc executes one page RPC. The first call receives an empty token.
type FetchFunc[T any] func(ctx context.Context, pageToken string) (Page[T], error)

// Paginator walks the pages of a list RPC.
type Paginator[T any] struct {
	fetch FetchFunc[T]
	token string
	done  bool
}

// New builds a paginator starting from pageToken ("" for the first page).
func New[T any](fetch FetchFunc[T], pageToken string) *Paginator[T] {
	return &Paginator[T]{fetch: fetch, token: pageToken}
}

// NextPage fetches and returns the next page. It returns ok=false once a
// page with an empty continuation token has been consumed. A fetch error
// does not terminate the paginator; the caller may retry NextPage.
func (p *Paginator[T]) NextPage(ctx context.Context) (Page[T], bool, error) {
	if p.done {
		return Page[T]{}, false, nil
	}
	page, err := p.fetch(ctx, p.token)
	if err != nil {
		return Page[T]{}, true, err
	}
	p.token = page.NextPageToken
	if p.token == "" {
		p.done = true
	}
	return page, true, nil
}

// Pages returns an iterator over the remaining pages. Iteration stops
// early at the first error, which is yielded with a zero page.
func (p *Paginator[T]) Pages(ctx context.Context) iter.Seq2[Page[T], error] {
	return func(yield func(Page[T], error) bool) {
		for {
			page, ok, err := p.NextPage(ctx)
			if !ok {
				return
			}
			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

// Items flattens the paginator into its items. The multiset of yielded
// items is exactly the concatenation of page.Items across fetched pages.
type Items[T any] struct {
	p      *Paginator[T]
	buffer []T
}

// ByItem adapts a paginator into an item iterator.
func ByItem[T any](p *Paginator[T]) *Items[T] {
	return &Items[T]{p: p}
}

// Next returns the next item. A new page is fetched only when the buffer
// is empty and the paginator is not done. ok=false signals the end of the
// sequence.
func (it *Items[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for len(it.buffer) == 0 {
		page, ok, err := it.p.NextPage(ctx)
		if !ok {
			return zero, false, nil
		}
		if err != nil {
			return zero, true, err
		}
		it.buffer = page.Items
	}
	item := it.buffer[0]
	it.buffer = it.buffer[1:]
	return item, true, nil
}

// All returns an iterator over the remaining items. Iteration stops early
// at the first error, which is yielded with a zero item.
func (it *Items[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, ok, err := it.Next(ctx)
			if !ok {
				return
			}
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}
