package tgui

import "fmt"

// Page is one window of a list. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	Total   int
	HasNext bool
}

// Paginate returns the requested page, clamped to the last one. size <= 0
// means 10.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if index >= pages {
		index = pages - 1
	}
	if index < 0 {
		index = 0
	}
	start := index * size
	end := start + size
	if end > total {
		end = total
	}
	return Page[T]{
		Items:   items[start:end],
		Index:   index,
		Pages:   pages,
		Total:   total,
		HasNext: end < total,
	}
}

// Label is a compact footer such as "page 2/3 (41 total)".
func (p Page[T]) Label() string {
	return fmt.Sprintf("page %d/%d (%d total)", p.Index+1, p.Pages, p.Total)
}
