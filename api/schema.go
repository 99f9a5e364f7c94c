package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/rrh2023/book-finder/models"
)

// requestSchema accepts an object whose description, when present, is a
// string. A missing description is reported separately as required.
const requestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "description": {"type": "string"}
  }
}`

var errInvalidJSON = errors.New("Request body must be valid JSON")

// decode validates body against the request schema. An empty body counts as
// an empty object.
func (s *Server) decode(body io.Reader) (models.SearchRequest, error) {
	var req models.SearchRequest

	raw, err := io.ReadAll(body)
	if err != nil {
		return req, fmt.Errorf("Reading request body: %v", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return req, nil
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return req, errInvalidJSON
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return req, fmt.Errorf("Invalid request: %s", strings.Join(problems, "; "))
	}

	if err := json.Unmarshal(raw, &req); err != nil {
		return req, errInvalidJSON
	}
	return req, nil
}
