// Package render turns book records and controller state into display output:
// HTML pages for the web UI and text, JSON or YAML for the command line.
package render

import (
	"strconv"

	"github.com/rrh2023/book-finder/models"
)

// Fallbacks for absent record fields.
const (
	PlaceholderThumbnail = "https://via.placeholder.com/120x180?text=No+Cover"
	UnknownAuthor        = "Unknown Author"
	NoDescription        = "No description available."
)

// Card is the display form of one book.
type Card struct {
	Title         string `json:"title" yaml:"title"`
	Authors       string `json:"authors" yaml:"authors"`
	Description   string `json:"description" yaml:"description"`
	Thumbnail     string `json:"thumbnail" yaml:"thumbnail"`
	PublishedDate string `json:"published_date,omitempty" yaml:"published_date,omitempty"`
	PageCount     int    `json:"page_count,omitempty" yaml:"page_count,omitempty"`
	Categories    string `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// Badge is an optional detail shown under the description.
type Badge struct {
	Kind  string
	Icon  string
	Label string
}

// CardFor maps a record to its card. Absent authors, description and
// thumbnail take their fallbacks; a non-positive page count counts as absent.
func CardFor(b models.Book) Card {
	card := Card{
		Title:         b.Title,
		Authors:       b.Authors,
		Description:   b.Description,
		Thumbnail:     b.Thumbnail,
		PublishedDate: b.PublishedDate,
		Categories:    b.Categories,
	}
	if card.Authors == "" {
		card.Authors = UnknownAuthor
	}
	if card.Description == "" {
		card.Description = NoDescription
	}
	if card.Thumbnail == "" {
		card.Thumbnail = PlaceholderThumbnail
	}
	if pages := b.Pages(); pages > 0 {
		card.PageCount = pages
	}
	return card
}

// Cards maps records to cards, keeping their order.
func Cards(books []models.Book) []Card {
	cards := make([]Card, 0, len(books))
	for _, b := range books {
		cards = append(cards, CardFor(b))
	}
	return cards
}

// Badges lists the details present on the card. Absent details have no
// badge at all.
func (c Card) Badges() []Badge {
	var badges []Badge
	if c.PublishedDate != "" {
		badges = append(badges, Badge{Kind: "published", Icon: "📅", Label: c.PublishedDate})
	}
	if c.PageCount > 0 {
		badges = append(badges, Badge{Kind: "pages", Icon: "📖", Label: strconv.Itoa(c.PageCount) + " pages"})
	}
	if c.Categories != "" {
		badges = append(badges, Badge{Kind: "categories", Icon: "🏷️", Label: c.Categories})
	}
	return badges
}
