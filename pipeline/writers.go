package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rrh2023/book-finder/models"
)

// ErrNoRecords is returned by Validate when nothing was written.
var ErrNoRecords = errors.New("no records written")

var csvHeader = []string{"query", "title", "authors", "description", "thumbnail", "published_date", "page_count", "categories"}

// recordFile is the file handle shared by the concrete writers. It counts
// written records so Validate does not depend on headers or buffering.
type recordFile struct {
	mu    sync.Mutex
	file  *os.File
	count int
}

func createRecordFile(filename string) (*recordFile, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	return &recordFile{file: f}, nil
}

func (rf *recordFile) Validate() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.count == 0 {
		return fmt.Errorf("%s: %w", rf.file.Name(), ErrNoRecords)
	}
	return nil
}

// CSVWriter writes one row per record after a header row.
type CSVWriter struct {
	*recordFile
	csv *csv.Writer
}

// NewCSVWriter creates filename (and its directory) and writes the header.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	rf, err := createRecordFile(filename)
	if err != nil {
		return nil, err
	}
	cw := &CSVWriter{recordFile: rf, csv: csv.NewWriter(rf.file)}
	if err := cw.flushRows([][]string{csvHeader}); err != nil {
		rf.file.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

// Write appends records. An unknown page count is an empty cell.
func (cw *CSVWriter) Write(records []Record) error {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, csvRow(rec))
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if err := cw.flushRows(rows); err != nil {
		return fmt.Errorf("write csv records: %w", err)
	}
	cw.count += len(records)
	return nil
}

func (cw *CSVWriter) flushRows(rows [][]string) error {
	if err := cw.csv.WriteAll(rows); err != nil {
		return err
	}
	return cw.csv.Error()
}

// Close flushes and closes the file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.csv.Flush()
	if err := cw.csv.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

func csvRow(rec Record) []string {
	pages := ""
	if n := rec.Book.Pages(); n > 0 {
		pages = strconv.Itoa(n)
	}
	b := rec.Book
	return []string{rec.Query, b.Title, b.Authors, b.Description, b.Thumbnail, b.PublishedDate, pages, b.Categories}
}

// JSONWriter writes newline-delimited JSON, one object per record with the
// book fields flattened next to the query.
type JSONWriter struct {
	*recordFile
	buf *bufio.Writer
	enc *json.Encoder
}

type jsonRecord struct {
	Query string `json:"query"`
	models.Book
}

// NewJSONWriter creates filename and its directory.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	rf, err := createRecordFile(filename)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(rf.file)
	return &JSONWriter{recordFile: rf, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write appends one line per record and flushes.
func (jw *JSONWriter) Write(records []Record) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, rec := range records {
		if err := jw.enc.Encode(jsonRecord{Query: rec.Query, Book: rec.Book}); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
		jw.count++
	}
	if err := jw.buf.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.buf.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// NewOutputWriter opens a writer for format ("csv", "json" or "dual") at
// base, which gets the matching extension appended.
func NewOutputWriter(format, base string) (OutputWriter, error) {
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".csv"), ".jsonl")
	switch strings.ToLower(format) {
	case "csv":
		return asOutput(NewCSVWriter(base + ".csv"))
	case "json", "jsonl":
		return asOutput(NewJSONWriter(base + ".jsonl"))
	case "dual", "both":
		return asOutput(NewDualWriter(base+".csv", base+".jsonl"))
	default:
		return nil, fmt.Errorf("unknown output format %q (want csv, json or dual)", format)
	}
}

// asOutput keeps a failed constructor from leaking a typed nil.
func asOutput[W OutputWriter](w W, err error) (OutputWriter, error) {
	if err != nil {
		return nil, err
	}
	return w, nil
}
