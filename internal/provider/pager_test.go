package provider

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagesOf serves items in pages of size n with numeric tokens.
func pagesOf(items []string, n int, calls *[]string) PageFunc[string] {
	return func(_ context.Context, token string) ([]string, string, error) {
		*calls = append(*calls, token)
		start := 0
		if token != "" {
			start, _ = strconv.Atoi(token)
		}
		end := min(start+n, len(items))
		next := ""
		if end < len(items) {
			next = strconv.Itoa(end)
		}
		return items[start:end], next, nil
	}
}

func TestAllWalksEveryPage(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	var calls []string

	var got []string
	for item, err := range All(context.Background(), pagesOf(items, 2, &calls)) {
		require.NoError(t, err)
		got = append(got, item)
	}

	assert.Equal(t, items, got)
	assert.Equal(t, []string{"", "2", "4"}, calls)
}

func TestAllStopsEarly(t *testing.T) {
	var calls []string
	for item := range All(context.Background(), pagesOf([]string{"a", "b", "c", "d"}, 2, &calls)) {
		if item == "a" {
			break
		}
	}
	assert.Equal(t, []string{""}, calls)
}

func TestPagerResumesFromToken(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	var calls []string
	fetch := pagesOf(items, 2, &calls)

	first := NewPager(fetch, "")
	page, err := first.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, page)
	assert.False(t, first.Done())

	var rest []string
	for item, err := range NewPager(fetch, first.Token()).All(context.Background()) {
		require.NoError(t, err)
		rest = append(rest, item)
	}
	assert.Equal(t, []string{"c", "d", "e"}, rest)
}

func TestPagerKeepsTokenOnError(t *testing.T) {
	boom := errors.New("throttled")
	failures := 1
	fetch := func(_ context.Context, token string) ([]int, string, error) {
		if token == "p2" && failures > 0 {
			failures--
			return nil, "", boom
		}
		if token == "" {
			return []int{1}, "p2", nil
		}
		return []int{2}, "", nil
	}

	p := NewPager(fetch, "")
	var got []int
	var lastErr error
	for v, err := range p.All(context.Background()) {
		if err != nil {
			lastErr = err
			break
		}
		got = append(got, v)
	}
	assert.ErrorIs(t, lastErr, boom)
	assert.Equal(t, "p2", p.Token())

	for v, err := range p.All(context.Background()) {
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
}
