package models

import "fmt"

// PageSize is the fixed number of notes shown per listing page.
const PageSize = 5

// ValidationError reports input that was rejected before any side effect.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Page is one slice of an ordered note listing.
type Page struct {
	Notes      []*Note `json:"notes"`
	Page       int     `json:"page"`
	TotalPages int     `json:"total_pages"`
	Total      int     `json:"total"`
}

// ClampPage turns a requested page number into a valid 1-based page.
func ClampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// PageOffset returns the number of notes preceding the given page.
func PageOffset(page int) int {
	return (ClampPage(page) - 1) * PageSize
}

// TotalPages is ceil(total / PageSize).
func TotalPages(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + PageSize - 1) / PageSize
}
