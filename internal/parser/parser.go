package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"PriceWatch/internal/domain"
	"PriceWatch/internal/feed"
)

// Positional columns in the source sheet. The first row is a header.
const (
	colSupplier = iota
	colCategory
	colModel
	colStorage
	colRegion
	colColor
	colPrice
	colUpdatedAt // optional
)

// degradedSkipRatio is the skipped-row share above which parse quality is
// reported as degraded. Processing continues either way.
const degradedSkipRatio = 0.2

// ErrEmptyDataset marks a slice with no rows at all.
var ErrEmptyDataset = errors.New("dataset slice is empty")

// Stats is per-cycle parse-quality telemetry.
type Stats struct {
	RowsRead      int
	RowsExpected  int
	RowsConverted int
	RowsSkipped   int
}

// Degraded reports whether the skip ratio crossed the quality threshold.
func (s Stats) Degraded() bool {
	if s.RowsExpected == 0 {
		return false
	}
	return float64(s.RowsSkipped)/float64(s.RowsExpected) > degradedSkipRatio
}

// Parser converts raw rows into validated snapshots. Untyped row data never
// flows past this boundary.
type Parser struct {
	logger *slog.Logger
}

// New wires a parser with an optional logger for quality telemetry.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse builds a fully-formed snapshot from raw rows. Rows missing supplier,
// model, or a sane price are skipped and counted, never defaulted.
func (p *Parser) Parse(datasetKey string, rows feed.RawRows, fetchedAt time.Time) (*domain.Snapshot, Stats, error) {
	stats := Stats{RowsRead: len(rows)}
	if len(rows) == 0 {
		return nil, stats, fmt.Errorf("dataset %s: %w", datasetKey, ErrEmptyDataset)
	}
	stats.RowsExpected = len(rows) - 1

	records := make([]domain.ProductRecord, 0, stats.RowsExpected)
	for i, row := range rows[1:] {
		record, err := p.convertRow(datasetKey, row, i+1, fetchedAt)
		if err != nil {
			stats.RowsSkipped++
			p.debug("row skipped", "dataset_key", datasetKey, "row", i+1, "reason", err)
			continue
		}
		stats.RowsConverted++
		records = append(records, record)
	}

	markLowestPrices(records)

	snap := &domain.Snapshot{
		DatasetKey: datasetKey,
		FetchedAt:  fetchedAt,
		Records:    records,
		Suppliers:  supplierIndex(records),
	}

	if stats.Degraded() && p.logger != nil {
		p.logger.Warn("parse quality degraded",
			"dataset_key", datasetKey,
			"rows_expected", stats.RowsExpected,
			"rows_converted", stats.RowsConverted,
			"rows_skipped", stats.RowsSkipped,
		)
	}

	return snap, stats, nil
}

func (p *Parser) convertRow(datasetKey string, row []string, rowRef int, fetchedAt time.Time) (domain.ProductRecord, error) {
	supplier := domain.NormalizeSupplier(cell(row, colSupplier))
	model := strings.TrimSpace(cell(row, colModel))
	priceRaw := cell(row, colPrice)

	if supplier == "" {
		return domain.ProductRecord{}, errors.New("missing supplier")
	}
	if model == "" {
		return domain.ProductRecord{}, errors.New("missing model")
	}
	if strings.TrimSpace(priceRaw) == "" {
		return domain.ProductRecord{}, errors.New("missing price")
	}

	price, err := ParsePrice(priceRaw)
	if err != nil {
		return domain.ProductRecord{}, err
	}

	storage := strings.TrimSpace(cell(row, colStorage))
	color := strings.TrimSpace(cell(row, colColor))

	record := domain.ProductRecord{
		SKU:        domain.MakeSKU(model, storage, color),
		Model:      model,
		Supplier:   supplier,
		Storage:    storage,
		Color:      color,
		Category:   strings.TrimSpace(cell(row, colCategory)),
		Region:     normalizeRegion(cell(row, colRegion)),
		Price:      price,
		DatasetKey: datasetKey,
		RowRef:     rowRef,
		LastSeenAt: fetchedAt,
	}

	if raw := strings.TrimSpace(cell(row, colUpdatedAt)); raw != "" {
		if ts, err := time.Parse("02/01/2006 15:04", raw); err == nil {
			record.LastSeenAt = ts
		}
	}

	return record, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}

// normalizeRegion drops the "national" sentinel the source uses for
// region-free offers.
func normalizeRegion(raw string) string {
	region := strings.TrimSpace(raw)
	switch strings.ToLower(region) {
	case "national", "nacional":
		return ""
	}
	return region
}

// markLowestPrices flags every record within tolerance of its group minimum.
// Ties are all marked, never collapsed to one.
func markLowestPrices(records []domain.ProductRecord) {
	minByGroup := map[string]float64{}
	for _, r := range records {
		key := r.GroupKey()
		if min, ok := minByGroup[key]; !ok || r.Price < min {
			minByGroup[key] = r.Price
		}
	}
	for i := range records {
		min := minByGroup[records[i].GroupKey()]
		records[i].IsLowestPrice = records[i].Price <= min+domain.PriceTolerance
	}
}

func supplierIndex(records []domain.ProductRecord) []string {
	seen := map[string]struct{}{}
	var suppliers []string
	for _, r := range records {
		if _, ok := seen[r.Supplier]; ok {
			continue
		}
		seen[r.Supplier] = struct{}{}
		suppliers = append(suppliers, r.Supplier)
	}
	sort.Strings(suppliers)
	return suppliers
}

func (p *Parser) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
