package controller

import "github.com/rrh2023/book-finder/models"

// State is the interaction state of a Controller.
type State int

const (
	// Idle is the initial state and the state after Clear.
	Idle State = iota
	// Loading means a search call is outstanding.
	Loading
	// Success means the last search returned at least one book.
	Success
	// Empty means the last search completed with zero books and no error.
	Empty
	// Failed means a user-visible error message is showing.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Empty:
		return "empty"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// User-visible messages.
const (
	MsgEmptyQuery = "Please enter a book description"
	MsgNoBooks    = "No books found."
	MsgTransport  = "Failed to search for books. Please try again."
)

// Snapshot is an immutable copy of the controller state.
type Snapshot struct {
	State       State
	Query       string
	Books       []models.Book
	Message     string
	HasSearched bool
}

// Loading reports whether a search is outstanding.
func (s Snapshot) Loading() bool {
	return s.State == Loading
}

// KeyEvent is a key press in the query input.
type KeyEvent struct {
	Key   string
	Shift bool
}

// Submits reports whether the key press triggers a search. Enter without
// Shift submits; Shift+Enter inserts a newline.
func (e KeyEvent) Submits() bool {
	return e.Key == "Enter" && !e.Shift
}
