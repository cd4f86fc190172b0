// Package export renders report results as JSON, CSV, XLSX or text tables and
// serves them over HTTP.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/rentalreports/internal/domain"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatXLSX  Format = "xlsx"
	FormatTable Format = "table"
)

// ParseFormat validates an output format name; empty means JSON.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXLSX, FormatTable:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format %q (want json, csv, xlsx or table)", raw)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatTable:
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

// FileName returns a download file name for a report in the format.
func FileName(report string, f Format) string {
	ext := string(f)
	if f == FormatTable {
		ext = "txt"
	}
	return sanitizeFileComponent(report) + "." + ext
}

// Write renders results in the given format. CSV and table output separate
// several reports with a blank line; XLSX writes one sheet per report.
func Write(w io.Writer, f Format, results ...domain.ResultSet) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(results) == 1 {
			return enc.Encode(results[0])
		}
		return enc.Encode(results)
	case FormatCSV:
		for i, result := range results {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := WriteCSV(w, result); err != nil {
				return err
			}
		}
		return nil
	case FormatXLSX:
		return WriteXLSX(w, results...)
	case FormatTable:
		for i, result := range results {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := WriteTable(w, result); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported format %q", f)
}

// WriteCSV writes a header row of column names followed by the result rows.
func WriteCSV(w io.Writer, result domain.ResultSet) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(columnNames(result)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatValue(row[i])
			}
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// WriteXLSX writes a workbook with one sheet per result, keeping numbers and
// timestamps as native cell values.
func WriteXLSX(w io.Writer, results ...domain.ResultSet) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 22})
	if err != nil {
		return fmt.Errorf("create date style: %w", err)
	}

	used := make(map[string]int)
	for i, result := range results {
		sheet := sheetName(result.Report, used)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}

		names := make([]any, len(result.Columns))
		for j, name := range columnNames(result) {
			names[j] = name
		}
		if err := f.SetSheetRow(sheet, "A1", &names); err != nil {
			return fmt.Errorf("write header of %s: %w", sheet, err)
		}
		if len(names) > 0 {
			last, _ := excelize.CoordinatesToCellName(len(names), 1)
			if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
				return fmt.Errorf("style header of %s: %w", sheet, err)
			}
		}

		for r, row := range result.Rows {
			cells := make([]any, len(result.Columns))
			copy(cells, row)
			cell, _ := excelize.CoordinatesToCellName(1, r+2)
			if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
				return fmt.Errorf("write row %d of %s: %w", r+1, sheet, err)
			}
			for c, value := range cells {
				if _, ok := value.(time.Time); ok {
					at, _ := excelize.CoordinatesToCellName(c+1, r+2)
					if err := f.SetCellStyle(sheet, at, at, dateStyle); err != nil {
						return fmt.Errorf("style row %d of %s: %w", r+1, sheet, err)
					}
				}
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteTable writes an aligned plain text table headed by the report name.
func WriteTable(w io.Writer, result domain.ResultSet) error {
	if _, err := fmt.Fprintf(w, "%s (%d rows)\n", result.Report, result.Len()); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columnNames(result), "\t"))
	values := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i := range values {
			values[i] = "NULL"
			if i < len(row) && row[i] != nil {
				values[i] = formatValue(row[i])
			}
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}
	return tw.Flush()
}

// SortedResults returns results ordered by report name.
func SortedResults(results map[string]domain.ResultSet) []domain.ResultSet {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	ordered := make([]domain.ResultSet, len(names))
	for i, name := range names {
		ordered[i] = results[name]
	}
	return ordered
}

func columnNames(result domain.ResultSet) []string {
	names := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		names[i] = col.Name
	}
	return names
}

// sheetName derives a unique worksheet name within excelize's 31 character limit.
func sheetName(report string, used map[string]int) string {
	const maxLen = 31
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, report)
	if name == "" {
		name = "report"
	}
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	used[name]++
	if n := used[name]; n > 1 {
		suffix := fmt.Sprintf("~%d", n)
		if len(name)+len(suffix) > maxLen {
			name = name[:maxLen-len(suffix)]
		}
		name += suffix
	}
	return name
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "report"
	}
	return result
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
