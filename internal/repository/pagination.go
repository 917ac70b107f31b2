package repository

// Audit-log pages default to 20 entries and are capped at 100, which is also
// the page size the snapshot archiver drains the trail with.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type PageRequest struct {
	Page     int
	PageSize int
}

// normalized clamps the request into the valid range, so handlers can pass
// query parameters through without pre-validating them.
func (p PageRequest) normalized() PageRequest {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// offset is the row offset of a normalized request.
func (p PageRequest) offset() int {
	return (p.Page - 1) * p.PageSize
}

type PageResult[T any] struct {
	Items      []T
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
}

// newPageResult assembles a result page, deriving TotalPages from the total
// row count.
func newPageResult[T any](items []T, page PageRequest, total int64) PageResult[T] {
	pages := 0
	if total > 0 && page.PageSize > 0 {
		pages = int((total + int64(page.PageSize) - 1) / int64(page.PageSize))
	}
	return PageResult[T]{
		Items:      items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      total,
		TotalPages: pages,
	}
}
