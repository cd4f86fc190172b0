package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/repository"
	"github.com/rpattn/rentalreports/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		domain.TableDef{Name: "payment", Columns: []domain.Column{
			{Name: "payment_id", Type: domain.ColumnTypeInteger},
			{Name: "customer_id", Type: domain.ColumnTypeInteger},
			{Name: "amount", Type: domain.ColumnTypeFloat},
			{Name: "payment_date", Type: domain.ColumnTypeTimestamp},
		}},
		domain.TableDef{Name: "category", Columns: []domain.Column{
			{Name: "category_id", Type: domain.ColumnTypeInteger},
			{Name: "name", Type: domain.ColumnTypeString},
		}},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestServiceIngestCoercesColumns(t *testing.T) {
	store := repository.NewMemoryTableRepository()
	service := NewService(testRegistry(t), store, nil)

	data := "\xEF\xBB\xBFpayment_id,customer_id,amount,payment_date,note\n" +
		"1,10,2.99,2005-05-25 11:30:37,first\n" +
		"\n" +
		"2,11,,2005-06-15,\n"

	summary, err := service.Ingest(context.Background(), Request{Table: "payment", FileName: "payment.csv", Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if summary.TotalRows != 2 {
		t.Fatalf("expected 2 rows, got %d", summary.TotalRows)
	}
	if len(summary.Ignored) != 1 || summary.Ignored[0] != "note" {
		t.Fatalf("expected note column to be ignored, got %v", summary.Ignored)
	}

	table, _ := testRegistry(t).Table("payment")
	rows, err := store.LoadTable(context.Background(), table)
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	if rows[0]["payment_id"] != int64(1) || rows[0]["amount"] != 2.99 {
		t.Fatalf("unexpected first row: %#v", rows[0])
	}
	want := time.Date(2005, 5, 25, 11, 30, 37, 0, time.UTC)
	if ts, ok := rows[0]["payment_date"].(time.Time); !ok || !ts.Equal(want) {
		t.Fatalf("unexpected payment_date: %#v", rows[0]["payment_date"])
	}
	if rows[1]["amount"] != nil {
		t.Fatalf("expected empty amount to load as NULL, got %#v", rows[1]["amount"])
	}
}

func TestServiceIngestRejectsBadCell(t *testing.T) {
	service := NewService(testRegistry(t), repository.NewMemoryTableRepository(), nil)
	data := "category_id,name\nabc,Drama\n"

	_, err := service.Ingest(context.Background(), Request{Table: "category", FileName: "category.csv", Data: strings.NewReader(data)})
	if err == nil || !strings.Contains(err.Error(), "row 2") {
		t.Fatalf("expected row level coercion error, got %v", err)
	}
}

func TestServiceIngestRequiresRegisteredColumns(t *testing.T) {
	service := NewService(testRegistry(t), repository.NewMemoryTableRepository(), nil)
	data := "category_id\n1\n"

	_, err := service.Ingest(context.Background(), Request{Table: "category", FileName: "category.csv", Data: strings.NewReader(data)})
	if err == nil || !strings.Contains(err.Error(), `missing column "name"`) {
		t.Fatalf("expected missing column error, got %v", err)
	}
}

func TestServiceIngestUnknownTable(t *testing.T) {
	service := NewService(testRegistry(t), repository.NewMemoryTableRepository(), nil)

	_, err := service.Ingest(context.Background(), Request{Table: "film", FileName: "film.csv", Data: strings.NewReader("film_id\n1\n")})
	var unknown *domain.UnknownFieldError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownFieldError, got %v", err)
	}
}

func TestServiceIngestUnsupportedFormat(t *testing.T) {
	service := NewService(testRegistry(t), repository.NewMemoryTableRepository(), nil)

	_, err := service.Ingest(context.Background(), Request{Table: "category", FileName: "category.json", Data: strings.NewReader("[]")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoadDirectoryReadsCSVAndXLSX(t *testing.T) {
	dir := t.TempDir()
	payments := "payment_id,customer_id,amount,payment_date\n1,10,4.99,2005-05-25\n"
	if err := os.WriteFile(filepath.Join(dir, "payment.csv"), []byte(payments), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	for i, row := range [][]interface{}{
		{"category_id", "name"},
		{1, "Drama"},
		{2, "Comedy"},
	} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := book.SaveAs(filepath.Join(dir, "category.xlsx")); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}

	reg := testRegistry(t)
	store, err := LoadDirectory(context.Background(), dir, reg, nil)
	if err != nil {
		t.Fatalf("load directory: %v", err)
	}

	table, _ := reg.Table("category")
	rows, err := store.LoadTable(context.Background(), table)
	if err != nil {
		t.Fatalf("load category: %v", err)
	}
	if len(rows) != 2 || rows[1]["name"] != "Comedy" || rows[1]["category_id"] != int64(2) {
		t.Fatalf("unexpected category rows: %#v", rows)
	}
}

func TestLoadDirectoryMissingFile(t *testing.T) {
	_, err := LoadDirectory(context.Background(), t.TempDir(), testRegistry(t), nil)
	if err == nil || !strings.Contains(err.Error(), "no data file for table payment") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}
