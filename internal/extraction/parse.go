package extraction

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	maxQuantity     = 1000
	maxNameLength   = 200
	maxRefLength    = 50
	minNameLength   = 2
	defaultQuantity = 1
)

var (
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKey   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*):`)
	nonPriceChars = regexp.MustCompile(`[^\d.,]`)
)

// parseRecordsJSON parses the JSON array returned by a language model
func parseRecordsJSON(text string) ([]Record, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "[")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	endIdx := strings.LastIndex(text, "]")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON array in response")
	}
	text = text[startIdx : endIdx+1]

	var items []map[string]any
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		fixed := fixJSON(text)
		if fixErr := json.Unmarshal([]byte(fixed), &items); fixErr != nil {
			return nil, fmt.Errorf("unmarshaling json: %w", err)
		}
		slog.Debug("Model JSON repaired after cleanup")
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		record, ok := recordFromItem(item)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// fixJSON repairs the mistakes models commonly make in JSON output
func fixJSON(text string) string {
	text = trailingComma.ReplaceAllString(text, "$1")
	text = unquotedKey.ReplaceAllString(text, `$1"$2"$3:`)
	text = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ").Replace(text)
	return strings.TrimSpace(text)
}

// recordFromItem converts one model item. Prices in the item are line totals and
// are divided by the quantity to get unit prices.
func recordFromItem(item map[string]any) (Record, bool) {
	name := strings.TrimSpace(stringField(item, "name"))
	if len([]rune(name)) < minNameLength {
		return Record{}, false
	}
	name = truncate(name, maxNameLength)

	quantity := defaultQuantity
	if q, ok := intField(item, "quantity", "qty"); ok && q > 0 && q < maxQuantity {
		quantity = q
	}

	record := Record{
		Reference: truncate(strings.TrimSpace(stringField(item, "reference")), maxRefLength),
		Name:      name,
		Quantity:  quantity,
	}
	if total, ok := priceField(item, "totalTTC", "priceTTC", "price"); ok {
		record.PriceTTC = roundCents(total / float64(quantity))
	}
	if total, ok := priceField(item, "totalHT", "priceHT"); ok {
		record.PriceHT = roundCents(total / float64(quantity))
	}
	if tva, ok := intField(item, "tva", "vat"); ok && tva >= 0 {
		record.TVA = tva
	}
	return record, true
}

func stringField(item map[string]any, key string) string {
	switch v := item[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func intField(item map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := item[key].(type) {
		case float64:
			return int(v), true
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%")))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func priceField(item map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if p, ok := parsePrice(item[key]); ok {
			return p, true
		}
	}
	return 0, false
}

// parsePrice accepts numbers and strings such as "199,80 €". Only positive
// prices are kept.
func parsePrice(value any) (float64, bool) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case string:
		s := nonPriceChars.ReplaceAllString(v, "")
		s = strings.ReplaceAll(s, ",", ".")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	return roundCents(n), true
}

func roundCents(n float64) float64 {
	return math.Round(n*100) / 100
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
