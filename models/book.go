// Package models defines data structures shared by the finder, client and UI.
package models

// Book is a single search result as returned by the search endpoint.
// Optional fields are empty strings when the upstream record lacks them;
// PageCount is nil when no page count is known.
type Book struct {
	Title         string `json:"title" yaml:"title"`
	Authors       string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	Thumbnail     string `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
	PublishedDate string `json:"publishedDate,omitempty" yaml:"published_date,omitempty"`
	PageCount     *int   `json:"pageCount,omitempty" yaml:"page_count,omitempty"`
	Categories    string `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// Pages returns the page count, or zero when it is unknown.
func (b Book) Pages() int {
	if b.PageCount == nil {
		return 0
	}
	return *b.PageCount
}

// SearchRequest is the body posted to the search endpoint.
type SearchRequest struct {
	Description string `json:"description"`
}

// SearchResponse is the success body of the search endpoint.
type SearchResponse struct {
	Books []Book `json:"books"`
}

// ErrorResponse is returned by the search endpoint for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IntPtr is a small helper for building records with a page count.
func IntPtr(v int) *int {
	return &v
}
