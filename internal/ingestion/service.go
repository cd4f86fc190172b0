// Package ingestion loads rental tables from CSV and XLSX files.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/repository"
	"github.com/rpattn/rentalreports/internal/schema"
)

var (
	// ErrUnsupportedFormat is returned when a file is neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	supportedExtensions = []string{".csv", ".xlsx"}
)

// Service coerces tabular files into registered tables held by an in-memory repository.
type Service struct {
	registry *schema.Registry
	store    *repository.MemoryTableRepository
	logger   *slog.Logger
}

// NewService creates a new ingestion service writing into store.
func NewService(registry *schema.Registry, store *repository.MemoryTableRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: registry, store: store, logger: logger}
}

// Request describes one table file.
type Request struct {
	Table    string
	FileName string
	Data     io.Reader
}

// Summary reports what an ingestion loaded.
type Summary struct {
	Table     string   `json:"table"`
	TotalRows int      `json:"totalRows"`
	Columns   []string `json:"columns"`
	Ignored   []string `json:"ignoredColumns,omitempty"`
}

type tableData struct {
	headers []string
	rows    [][]string
}

// Ingest parses the file, coerces every cell to its registered column type and
// replaces the table in the store. A single bad cell rejects the whole file.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{Table: req.Table}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}
	table, err := s.registry.Table(req.Table)
	if err != nil {
		return summary, err
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read %s: %w", req.FileName, err)
	}
	if len(payload) == 0 {
		return summary, fmt.Errorf("file %s is empty", req.FileName)
	}

	data, err := parseTable(req.FileName, payload)
	if err != nil {
		return summary, err
	}

	positions := make(map[string]int, len(data.headers))
	for i, header := range data.headers {
		positions[strings.ToLower(header)] = i
	}
	columnIndex := make([]int, len(table.Columns))
	for i, col := range table.Columns {
		idx, ok := positions[strings.ToLower(col.Name)]
		if !ok {
			return summary, fmt.Errorf("file %s: missing column %q for table %s", req.FileName, col.Name, table.Name)
		}
		columnIndex[i] = idx
		summary.Columns = append(summary.Columns, col.Name)
	}
	for _, header := range data.headers {
		if _, ok := table.Column(header); !ok {
			summary.Ignored = append(summary.Ignored, header)
		}
	}

	rows := make([]domain.Row, 0, len(data.rows))
	for rowIdx, record := range data.rows {
		row := make(domain.Row, len(table.Columns))
		for i, col := range table.Columns {
			raw := strings.TrimSpace(record[columnIndex[i]])
			if raw == "" {
				row[col.Name] = nil
				continue
			}
			value, err := coerceValue(col.Type, raw)
			if err != nil {
				return summary, fmt.Errorf("file %s row %d column %s: %w", req.FileName, rowIdx+2, col.Name, err)
			}
			row[col.Name] = value
		}
		rows = append(rows, row)
	}

	s.store.Put(table.Name, rows)
	summary.TotalRows = len(rows)
	s.logger.Info("table ingested", "table", table.Name, "file", req.FileName, "rows", len(rows))
	return summary, nil
}

// LoadDirectory ingests <table>.csv or <table>.xlsx for every registered table in dir.
func (s *Service) LoadDirectory(ctx context.Context, dir string) ([]Summary, error) {
	var summaries []Summary
	for _, table := range s.registry.Tables() {
		path, err := findTableFile(dir, table.Name)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		summary, err := s.Ingest(ctx, Request{Table: table.Name, FileName: filepath.Base(path), Data: f})
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// LoadDirectory builds an in-memory repository from the table files in dir.
func LoadDirectory(ctx context.Context, dir string, registry *schema.Registry, logger *slog.Logger) (*repository.MemoryTableRepository, error) {
	store := repository.NewMemoryTableRepository()
	if _, err := NewService(registry, store, logger).LoadDirectory(ctx, dir); err != nil {
		return nil, err
	}
	return store, nil
}

func findTableFile(dir, table string) (string, error) {
	for _, ext := range supportedExtensions {
		path := filepath.Join(dir, table+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no data file for table %s in %s (expected %s.csv or %s.xlsx)", table, dir, table, table)
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

// normalizeTable treats the first non-empty row as the header and pads data rows to its width.
func normalizeTable(records [][]string) (tableData, error) {
	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if isEmptyRow(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}
	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}
	return tableData{headers: headers, rows: dataRows}, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}
	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func coerceValue(colType domain.ColumnType, raw string) (any, error) {
	switch colType {
	case domain.ColumnTypeString:
		return raw, nil
	case domain.ColumnTypeInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case domain.ColumnTypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to float", raw)
	case domain.ColumnTypeBoolean:
		value := strings.ToLower(raw)
		switch value {
		case "1", "yes", "y", "t":
			return true, nil
		case "0", "no", "n", "f":
			return false, nil
		}
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
		}
		return boolVal, nil
	case domain.ColumnTypeTimestamp:
		ts, err := repository.ParseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to timestamp: %w", raw, err)
		}
		return ts, nil
	default:
		return nil, fmt.Errorf("unsupported column type %q", colType)
	}
}
