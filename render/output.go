package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects a command-line output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// Write encodes cards in the given format.
func Write(w io.Writer, format Format, cards []Card) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, cards)
	case FormatYAML:
		return WriteYAML(w, cards)
	default:
		return WriteText(w, cards)
	}
}

// WriteText prints one numbered block per card. Badges are printed on one
// line and omitted when the card has none.
func WriteText(w io.Writer, cards []Card) error {
	if len(cards) == 0 {
		_, err := fmt.Fprintln(w, EmptyBanner)
		return err
	}
	for i, c := range cards {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%d. %s\n   by %s\n   %s\n", i+1, c.Title, c.Authors, c.Description); err != nil {
			return err
		}
		badges := c.Badges()
		if len(badges) == 0 {
			continue
		}
		labels := make([]string, 0, len(badges))
		for _, b := range badges {
			labels = append(labels, b.Label)
		}
		if _, err := fmt.Fprintf(w, "   %s\n", strings.Join(labels, " | ")); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON encodes cards as an indented JSON array.
func WriteJSON(w io.Writer, cards []Card) error {
	if cards == nil {
		cards = []Card{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cards); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}

// WriteYAML encodes cards as a YAML sequence.
func WriteYAML(w io.Writer, cards []Card) error {
	if cards == nil {
		cards = []Card{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cards); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}
