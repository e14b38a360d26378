package domain

import (
	"strings"
	"time"
)

// PriceTolerance is the smallest price difference considered meaningful.
// Anything below it is floating-point noise, not a change.
const PriceTolerance = 0.01

// MaxSanePrice rejects absurd upstream values before they poison a snapshot.
const MaxSanePrice = 1_000_000

// ProductRecord is one priced offer from one supplier for one configuration.
type ProductRecord struct {
	SKU           string    `json:"sku"`
	Model         string    `json:"model"`
	Supplier      string    `json:"supplier"`
	Storage       string    `json:"storage"`
	Color         string    `json:"color"`
	Category      string    `json:"category,omitempty"`
	Capacity      string    `json:"capacity,omitempty"`
	Region        string    `json:"region,omitempty"`
	Price         float64   `json:"price"`
	DatasetKey    string    `json:"dataset_key"`
	RowRef        int       `json:"row_ref"`
	IsLowestPrice bool      `json:"is_lowest_price"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// GroupKey identifies "the same configuration" across suppliers and
// snapshots: (model, storage, color), case-insensitive.
func (r ProductRecord) GroupKey() string {
	return MakeGroupKey(r.Model, r.Storage, r.Color)
}

// MakeGroupKey builds the lowercase comparison key for a configuration.
func MakeGroupKey(model, storage, color string) string {
	return strings.ToLower(collapseSpaces(model)) + "|" +
		strings.ToLower(collapseSpaces(storage)) + "|" +
		strings.ToLower(collapseSpaces(color))
}

// MakeSKU derives the display identifier from model, storage and color.
// It is unique per supplier only, never globally.
func MakeSKU(model, storage, color string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{model, storage, color} {
		p = collapseSpaces(p)
		if p != "" {
			parts = append(parts, strings.ToUpper(p))
		}
	}
	return strings.Join(parts, "-")
}

// NormalizeSupplier collapses runs of whitespace so cosmetic formatting in
// the source does not create phantom duplicate suppliers.
func NormalizeSupplier(name string) string {
	return collapseSpaces(name)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Snapshot is an immutable, fully-parsed set of records for one dataset key.
// It is built completely in memory and swapped into the store as a whole.
type Snapshot struct {
	DatasetKey string          `json:"dataset_key"`
	FetchedAt  time.Time       `json:"fetched_at"`
	Records    []ProductRecord `json:"records"`
	Suppliers  []string        `json:"suppliers"`
}

// GroupMinimum returns the lowest-priced record for the given group key and
// whether the group exists in the snapshot.
func (s *Snapshot) GroupMinimum(groupKey string) (ProductRecord, bool) {
	var best ProductRecord
	found := false
	for _, r := range s.Records {
		if r.GroupKey() != groupKey {
			continue
		}
		if !found || r.Price < best.Price {
			best = r
			found = true
		}
	}
	return best, found
}

// ChangeType classifies a difference between two snapshots.
type ChangeType string

const (
	ChangePriceDrop      ChangeType = "PRICE_DROP"
	ChangePriceIncrease  ChangeType = "PRICE_INCREASE"
	ChangeNewProduct     ChangeType = "NEW_PRODUCT"
	ChangeSupplierChange ChangeType = "SUPPLIER_CHANGE"
)

// ChangeEvent is a classified difference between two snapshots for the same
// dataset key. Events are transient: emitted once, never persisted.
type ChangeEvent struct {
	Type        ChangeType    `json:"type"`
	DatasetKey  string        `json:"dataset_key"`
	GroupKey    string        `json:"group_key"`
	Record      ProductRecord `json:"record"`
	OldPrice    float64       `json:"old_price,omitempty"`
	NewPrice    float64       `json:"new_price,omitempty"`
	Delta       float64       `json:"delta,omitempty"`
	Percent     float64       `json:"percent,omitempty"`
	OldSupplier string        `json:"old_supplier,omitempty"`
	NewSupplier string        `json:"new_supplier,omitempty"`
}
