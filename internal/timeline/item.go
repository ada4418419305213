// Package timeline drains the full transaction history over the stream
// and turns each raw item into a normalized, categorized record.
package timeline

import (
	"encoding/json"
	"fmt"
)

// Category is the normalized transaction category.
type Category string

const (
	CategoryCard        Category = "card"
	CategoryInvestment  Category = "investment"
	CategoryTransferIn  Category = "transfer_in"
	CategoryTransferOut Category = "transfer_out"
	CategoryOther       Category = "other"
)

// Amount is the server's signed money value. Outflows are negative.
type Amount struct {
	Value          float64 `json:"value"`
	Currency       string  `json:"currency"`
	FractionDigits int     `json:"fractionDigits"`
}

// RawItem is one timeline item as the server sends it. Every field is
// optional on the wire; classification tolerates any subset.
type RawItem struct {
	ID                string  `json:"id"`
	Timestamp         string  `json:"timestamp"`
	EventType         string  `json:"eventType"`
	Icon              string  `json:"icon"`
	Title             string  `json:"title"`
	Subtitle          string  `json:"subtitle"`
	CashAccountNumber string  `json:"cashAccountNumber"`
	Amount            *Amount `json:"amount"`
	Status            string  `json:"status"`
}

// ParseItem decodes one raw timeline item, keeping unknown fields out of
// the way.
func ParseItem(raw json.RawMessage) (RawItem, error) {
	var item RawItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return RawItem{}, fmt.Errorf("parse timeline item: %w", err)
	}
	return item, nil
}

// Txn is the normalized output record, one per raw item.
type Txn struct {
	ID           string          `json:"id"`
	Timestamp    string          `json:"timestamp"`
	Category     Category        `json:"category"`
	AmountSigned float64         `json:"amount_signed"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
	Merchant     string          `json:"merchant"`
	SubtitleRaw  string          `json:"subtitle_raw"`
	EventTypeRaw string          `json:"event_type_raw"`
	Raw          json.RawMessage `json:"-"`
}

// Normalize maps a raw item to a Txn. The amount keeps the server's own
// sign bit-exactly; timestamps and status pass through unparsed. An
// empty status is NOT substituted here; consumers decide its meaning.
func Normalize(item RawItem) Txn {
	t := Txn{
		ID:           item.ID,
		Timestamp:    item.Timestamp,
		Category:     Classify(item),
		Currency:     "EUR",
		Status:       item.Status,
		Merchant:     item.Title,
		SubtitleRaw:  item.Subtitle,
		EventTypeRaw: item.EventType,
	}
	if item.Amount != nil {
		t.AmountSigned = item.Amount.Value
		if item.Amount.Currency != "" {
			t.Currency = item.Amount.Currency
		}
	}
	if t.Merchant == "" {
		t.Merchant = "Unknown"
	}
	return t
}

// NormalizeAll parses, classifies and normalizes a batch of raw items,
// keeping server order. Unparsable items are skipped with an error list
// the caller may log.
func NormalizeAll(raws []json.RawMessage) ([]Txn, []error) {
	txns := make([]Txn, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		item, err := ParseItem(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		t := Normalize(item)
		t.Raw = raw
		txns = append(txns, t)
	}
	return txns, errs
}
