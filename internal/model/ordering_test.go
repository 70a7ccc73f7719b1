package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(items []ContentItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func itemsWithIDs(idList ...string) []ContentItem {
	out := make([]ContentItem, len(idList))
	for i, id := range idList {
		out[i] = ContentItem{ID: id, Type: TypeStory}
	}
	return out
}

func TestSortByLedger(t *testing.T) {
	tests := []struct {
		name   string
		items  []string
		ledger []string
		want   []string
	}{
		{"partial ledger", []string{"1", "2", "3"}, []string{"3", "1"}, []string{"3", "1", "2"}},
		{"empty ledger keeps arrival order", []string{"b", "a", "c"}, nil, []string{"b", "a", "c"}},
		{"stale ledger ids ignored", []string{"1", "2"}, []string{"9", "2", "8", "1"}, []string{"2", "1"}},
		{"unordered keep arrival order", []string{"x", "1", "y", "2", "z"}, []string{"2", "1"}, []string{"2", "1", "x", "y", "z"}},
		{"duplicate ledger id uses first position", []string{"1", "2"}, []string{"2", "1", "2"}, []string{"2", "1"}},
		{"no items", nil, []string{"1"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SortByLedger(itemsWithIDs(tt.items...), Ledger{ContentOrder: tt.ledger})
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestSortByLedger_DoesNotModifyInput(t *testing.T) {
	items := itemsWithIDs("1", "2", "3")
	_ = SortByLedger(items, Ledger{ContentOrder: []string{"3", "2", "1"}})
	assert.Equal(t, []string{"1", "2", "3"}, ids(items))
}

func TestUpsert(t *testing.T) {
	items := itemsWithIDs("1", "2", "3")

	replaced, created := Upsert(items, ContentItem{ID: "2", Type: TypePoetry, Title: "new"})
	assert.False(t, created)
	assert.Equal(t, []string{"1", "2", "3"}, ids(replaced))
	assert.Equal(t, "new", replaced[1].Title)
	assert.Empty(t, items[1].Title, "input must not be mutated")

	prepended, created := Upsert(items, ContentItem{ID: "4"})
	assert.True(t, created)
	assert.Equal(t, []string{"4", "1", "2", "3"}, ids(prepended))
}

func TestRemove(t *testing.T) {
	items := itemsWithIDs("1", "2", "3")

	out, ok := Remove(items, "2")
	assert.True(t, ok)
	assert.Equal(t, []string{"1", "3"}, ids(out))

	out, ok = Remove(items, "missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"1", "2", "3"}, ids(out))
}

func TestLedgerPrependAndWithout(t *testing.T) {
	l := Ledger{ContentOrder: []string{"a", "b"}}

	assert.Equal(t, []string{"c", "a", "b"}, l.Prepend("c").ContentOrder)
	assert.Equal(t, []string{"b", "a"}, l.Prepend("b").ContentOrder)

	without, changed := l.Without("a")
	assert.True(t, changed)
	assert.Equal(t, []string{"b"}, without.ContentOrder)

	_, changed = l.Without("zzz")
	assert.False(t, changed)
	assert.True(t, l.Contains("b"))
	assert.False(t, l.Contains("c"))
}

func TestFilterByType(t *testing.T) {
	items := []ContentItem{
		{ID: "1", Type: TypeStory},
		{ID: "2", Type: TypeQuote},
		{ID: "3", Type: TypeStory},
	}
	assert.Equal(t, []string{"1", "3"}, ids(FilterByType(items, TypeStory)))
	assert.Equal(t, []string{"1", "2", "3"}, ids(FilterByType(items, "")))
	assert.Empty(t, FilterByType(items, TypePoetry))
}

func TestParseContentType(t *testing.T) {
	for in, want := range map[string]ContentType{
		"story": TypeStory, "Stories": TypeStory,
		"poem": TypePoetry, "POETRY": TypePoetry, "poems": TypePoetry,
		" quote ": TypeQuote, "quotes": TypeQuote,
	} {
		got, err := ParseContentType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseContentType("novel")
	assert.Error(t, err)
}

func TestDeriveExcerpt(t *testing.T) {
	assert.Equal(t, "First line of the first paragraph.",
		DeriveExcerpt("\n\nFirst line\nof the   first paragraph.\n\nSecond paragraph."))

	long := strings.Repeat("word ", 60)
	got := DeriveExcerpt(long)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.LessOrEqual(t, len([]rune(got)), excerptLimit+1)
	assert.False(t, strings.Contains(got, "  "))

	assert.Empty(t, DeriveExcerpt("   "))
}
