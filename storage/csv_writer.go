package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"fipe-harvester/models"
	"fipe-harvester/services"
)

// CSVWriter writes priced instances to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

var _ PriceWriter = (*CSVWriter)(nil)

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"reference_code", "brand_code", "model_code", "year_code", "fipe_code", "fuel", "price", "price_label", "updated_at",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WritePrices appends one row per priced instance.
func (c *CSVWriter) WritePrices(prices []models.PricedInstance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range prices {
		row := []string{
			strconv.Itoa(p.ReferenceCode),
			p.BrandCode,
			p.ModelCode,
			p.YearCode,
			p.FipeCode,
			p.Fuel,
			p.Price.StringFixed(2),
			services.FormatPrice(p.Price),
			p.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
