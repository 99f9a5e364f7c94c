// Package parser turns Google Books volume records into models.Book values.
package parser

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rrh2023/book-finder/models"
)

// UnknownTitle is used when a volume carries no title.
const UnknownTitle = "Unknown Title"

// VolumeList is the body of a volumes query.
type VolumeList struct {
	TotalItems int      `json:"totalItems"`
	Items      []Volume `json:"items"`
}

// Volume is a single item of a volumes query.
type Volume struct {
	ID         string     `json:"id"`
	VolumeInfo VolumeInfo `json:"volumeInfo"`
}

// VolumeInfo holds the descriptive metadata of a volume.
type VolumeInfo struct {
	Title         string      `json:"title"`
	Authors       []string    `json:"authors"`
	Description   string      `json:"description"`
	PublishedDate string      `json:"publishedDate"`
	PageCount     *int        `json:"pageCount"`
	Categories    []string    `json:"categories"`
	ImageLinks    *ImageLinks `json:"imageLinks"`
}

// ImageLinks lists cover images in several sizes.
type ImageLinks struct {
	SmallThumbnail string `json:"smallThumbnail"`
	Thumbnail      string `json:"thumbnail"`
}

var strictPolicy = bluemonday.StrictPolicy()

// BookFromVolume maps volume metadata to a book record. descriptionLimit caps
// the description length in characters.
func BookFromVolume(info VolumeInfo, descriptionLimit int) models.Book {
	title := strings.TrimSpace(info.Title)
	if title == "" {
		title = UnknownTitle
	}

	book := models.Book{
		Title:         title,
		Authors:       JoinList(info.Authors),
		Description:   TruncateDescription(SanitizeDescription(info.Description), descriptionLimit),
		Thumbnail:     Thumbnail(info.ImageLinks),
		PublishedDate: strings.TrimSpace(info.PublishedDate),
		Categories:    JoinList(info.Categories),
	}
	if info.PageCount != nil {
		book.PageCount = models.IntPtr(*info.PageCount)
	}
	return book
}

// BooksFromVolumes maps every item of a volumes query, preserving order.
func BooksFromVolumes(list VolumeList, descriptionLimit int) []models.Book {
	books := make([]models.Book, 0, len(list.Items))
	for _, item := range list.Items {
		books = append(books, BookFromVolume(item.VolumeInfo, descriptionLimit))
	}
	return books
}

// JoinList joins non-empty entries with ", ".
func JoinList(values []string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// Thumbnail prefers the regular thumbnail over the small one.
func Thumbnail(links *ImageLinks) string {
	if links == nil {
		return ""
	}
	if links.Thumbnail != "" {
		return links.Thumbnail
	}
	return links.SmallThumbnail
}

// SanitizeDescription strips markup from a description and decodes entities.
func SanitizeDescription(description string) string {
	if description == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(description))
	return strings.Join(strings.Fields(cleaned), " ")
}

// TruncateDescription cuts description to at most limit characters, backing
// off to the last space and appending "...".
func TruncateDescription(description string, limit int) string {
	if description == "" || limit <= 0 {
		return description
	}

	runes := []rune(description)
	if len(runes) <= limit {
		return description
	}

	truncated := string(runes[:limit])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

// ValidateBook ensures a record can be rendered.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book missing title")
	}
	if b.PageCount != nil && *b.PageCount < 0 {
		return fmt.Errorf("book %q has negative page count", b.Title)
	}
	return nil
}

// DedupeKey identifies a record by normalised title and authors.
func DedupeKey(b models.Book) string {
	return strings.ToLower(strings.TrimSpace(b.Title)) + "|" + strings.ToLower(strings.TrimSpace(b.Authors))
}
