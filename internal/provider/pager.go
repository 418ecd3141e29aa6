package provider

import (
	"context"
	"iter"
)

// PageFunc fetches the page starting at token ("" for the first page) and
// returns its items plus the next token ("" when the listing is complete).
type PageFunc[T any] func(ctx context.Context, token string) ([]T, string, error)

// Pager walks a token-continued listing one page at a time. It can be
// resumed from any token it handed out.
type Pager[T any] struct {
	fetch PageFunc[T]
	token string
	done  bool
}

// NewPager starts a walk at token.
func NewPager[T any](fetch PageFunc[T], token string) *Pager[T] {
	return &Pager[T]{fetch: fetch, token: token}
}

// Done reports whether the last page was fetched.
func (p *Pager[T]) Done() bool { return p.done }

// Token is the continuation token of the next page.
func (p *Pager[T]) Token() string { return p.token }

// Next fetches the next page. A failed fetch leaves the token unchanged so
// the call can be retried.
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	if p.done {
		return nil, nil
	}
	items, next, err := p.fetch(ctx, p.token)
	if err != nil {
		return nil, err
	}
	p.token = next
	p.done = next == ""
	return items, nil
}

// All yields every item lazily. Iteration stops after the first error,
// which is yielded with the zero value.
func (p *Pager[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for !p.done {
			if err := ctx.Err(); err != nil {
				var zero T
				yield(zero, err)
				return
			}
			items, err := p.Next(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// All walks a listing from its first page.
func All[T any](ctx context.Context, fetch PageFunc[T]) iter.Seq2[T, error] {
	return NewPager(fetch, "").All(ctx)
}

// Channels walks every channel of enc.
func Channels(ctx context.Context, enc Encoder) iter.Seq2[Channel, error] {
	return All(ctx, func(ctx context.Context, token string) ([]Channel, string, error) {
		page, err := enc.ListChannels(ctx, token)
		return page.Channels, page.NextToken, err
	})
}

// SecurityGroups walks every input security group of enc.
func SecurityGroups(ctx context.Context, enc Encoder) iter.Seq2[SecurityGroup, error] {
	return All(ctx, func(ctx context.Context, token string) ([]SecurityGroup, string, error) {
		page, err := enc.ListSecurityGroups(ctx, token)
		return page.Groups, page.NextToken, err
	})
}
