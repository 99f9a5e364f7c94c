package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/rrh2023/book-finder/controller"
)

// EmptyBanner is shown when a completed search found nothing.
const EmptyBanner = "No books found. Try a different description."

//go:embed templates/*.html
var templateFS embed.FS

// Page is the view model of the search page.
type Page struct {
	Query     string
	Loading   bool
	Message   string
	Cards     []Card
	ShowClear bool
	ShowEmpty bool
	// RefreshSeconds asks the browser to reload while a search is running.
	RefreshSeconds int
}

// NewPage derives the view model from a controller snapshot.
func NewPage(snap controller.Snapshot) Page {
	loading := snap.Loading()
	p := Page{
		Query:   snap.Query,
		Loading: loading,
		Message: snap.Message,
	}
	if !loading {
		p.Cards = Cards(snap.Books)
	}
	p.ShowClear = len(p.Cards) > 0
	p.ShowEmpty = !loading && snap.HasSearched && len(snap.Books) == 0 && snap.Query != "" && snap.Message == ""
	if loading {
		p.RefreshSeconds = 1
	}
	return p
}

// Renderer executes the embedded page template.
type Renderer struct {
	page *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("page.html").Funcs(template.FuncMap{
		"emptyBanner": func() string { return EmptyBanner },
	}).ParseFS(templateFS, "templates/page.html")
	if err != nil {
		return nil, fmt.Errorf("parsing page template: %w", err)
	}
	return &Renderer{page: tmpl}, nil
}

// Page writes the full HTML document for p.
func (r *Renderer) Page(w io.Writer, p Page) error {
	if err := r.page.Execute(w, p); err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	return nil
}
