package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"otodom-stats/models"
)

// CSVWriter appends one row per saved aggregate to a CSV file. It is an
// export sink only: DeleteAggregatesForCity is a no-op, history stays in the file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

var csvHeader = []string{
	"city", "district", "room_type", "fetch_date", "count", "reported_count",
	"avg_price", "avg_price_per_sqm", "bot_detected", "consent_strategy", "saved_at",
}

// NewCSVWriter opens the CSV file at the given path for appending and writes
// the header row when the file is new. Intermediate directories are created
// automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w}, nil
}

// DeleteAggregatesForCity does nothing; the CSV is an append-only log.
func (c *CSVWriter) DeleteAggregatesForCity(ctx context.Context, city string) error {
	return nil
}

// SaveAggregate appends a summary row for the aggregate.
func (c *CSVWriter) SaveAggregate(ctx context.Context, target models.TargetDescriptor, result *models.AggregateResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	row := []string{
		target.City,
		target.District,
		string(target.RoomType),
		target.FetchDate.Format("2006-01-02"),
		strconv.Itoa(result.Count),
		strconv.Itoa(result.ReportedCount),
		strconv.FormatFloat(result.AvgPrice, 'f', 2, 64),
		strconv.FormatFloat(result.AvgPricePerSqm, 'f', 2, 64),
		strconv.FormatBool(result.Diagnostics.BotDetected),
		result.Diagnostics.ConsentStrategy,
		time.Now().Format(time.RFC3339),
	}
	if err := c.writer.Write(row); err != nil {
		return fmt.Errorf("csv: write row: %w", err)
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

// MultiWriter fans a call out to several writers, stopping at the first error.
type MultiWriter []AggregateWriter

func (m MultiWriter) DeleteAggregatesForCity(ctx context.Context, city string) error {
	for _, w := range m {
		if err := w.DeleteAggregatesForCity(ctx, city); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiWriter) SaveAggregate(ctx context.Context, target models.TargetDescriptor, result *models.AggregateResult) error {
	for _, w := range m {
		if err := w.SaveAggregate(ctx, target, result); err != nil {
			return err
		}
	}
	return nil
}
