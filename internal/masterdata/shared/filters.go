package shared

const (
	// DefaultPage is the first list page.
	DefaultPage = 1
	// DefaultLimit caps list pages unless the caller asks for more.
	DefaultLimit = 20

	// SortAsc sorts ascending.
	SortAsc = "asc"
	// SortDesc sorts descending.
	SortDesc = "desc"
)

// ListFilters represents standard list filters across masterdata entities.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	SortBy   string
	SortDir  string
	IsActive *bool

	// Entity specific filters
	Category string
	Kind     string
}

// Normalize fills defaults for page and limit.
func (f ListFilters) Normalize() ListFilters {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	return f
}

// Offset derives the row offset for the current page.
func (f ListFilters) Offset() int {
	offset := (f.Page - 1) * f.Limit
	if offset < 0 {
		return 0
	}
	return offset
}
