package model

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// Ledger records the display order of content items. It need not mention
// every item, and may mention ids that no longer exist.
type Ledger struct {
	ContentOrder []string `json:"contentOrder" yaml:"contentOrder"`
}

// Contains reports whether id has a ledger position.
func (l Ledger) Contains(id string) bool {
	return slices.Contains(l.ContentOrder, id)
}

// Prepend returns a ledger with id moved to the front.
func (l Ledger) Prepend(id string) Ledger {
	order := make([]string, 0, len(l.ContentOrder)+1)
	order = append(order, id)
	for _, existing := range l.ContentOrder {
		if existing != id {
			order = append(order, existing)
		}
	}
	return Ledger{ContentOrder: order}
}

// Without returns a ledger with every occurrence of id removed and whether
// anything was removed.
func (l Ledger) Without(id string) (Ledger, bool) {
	order := make([]string, 0, len(l.ContentOrder))
	for _, existing := range l.ContentOrder {
		if existing != id {
			order = append(order, existing)
		}
	}
	return Ledger{ContentOrder: order}, len(order) != len(l.ContentOrder)
}

// SortByLedger orders items by their ledger position. Items missing from the
// ledger follow all ordered items in arrival order; ledger ids with no item
// are ignored. The input slice is not modified.
func SortByLedger(items []ContentItem, ledger Ledger) []ContentItem {
	pos := make(map[string]int, len(ledger.ContentOrder))
	for i, id := range ledger.ContentOrder {
		if _, seen := pos[id]; !seen {
			pos[id] = i
		}
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b ContentItem) int {
		pa, oka := pos[a.ID]
		pb, okb := pos[b.ID]
		switch {
		case oka && okb:
			return pa - pb
		case oka:
			return -1
		case okb:
			return 1
		}
		return 0
	})
	return sorted
}

// Upsert replaces the item with the same id in place, or prepends it when the
// id is new. It reports whether the item was created.
func Upsert(items []ContentItem, item ContentItem) ([]ContentItem, bool) {
	for i := range items {
		if items[i].ID == item.ID {
			out := slices.Clone(items)
			out[i] = item
			return out, false
		}
	}
	out := make([]ContentItem, 0, len(items)+1)
	out = append(out, item)
	out = append(out, items...)
	return out, true
}

// Remove drops the item with the given id and reports whether it existed.
func Remove(items []ContentItem, id string) ([]ContentItem, bool) {
	out := make([]ContentItem, 0, len(items))
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out, len(out) != len(items)
}

// FilterByType returns the items of type t, keeping their order. An empty t
// matches everything.
func FilterByType(items []ContentItem, t ContentType) []ContentItem {
	if t == "" {
		return slices.Clone(items)
	}
	var out []ContentItem
	for _, it := range items {
		if it.Type == t {
			out = append(out, it)
		}
	}
	return out
}

const excerptLimit = 160

// DeriveExcerpt takes the first paragraph of body, collapses whitespace and
// cuts it at a word boundary.
func DeriveExcerpt(body string) string {
	var para string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(p) != "" {
			para = p
			break
		}
	}
	text := strings.Join(strings.Fields(para), " ")
	if utf8.RuneCountInString(text) <= excerptLimit {
		return text
	}

	runes := []rune(text)
	cut := string(runes[:excerptLimit])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:.-") + "…"
}
