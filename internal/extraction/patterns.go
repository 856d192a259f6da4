package extraction

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Capture groups shared by every pattern set, in template order:
// reference, name, quantity, net price, tax rate, gross price.
const (
	groupReference = iota + 1
	groupName
	groupQuantity
	groupPriceHT
	groupTVA
	groupPriceTTC
	groupCount
)

// Generic matches dotted numeric references and free-text names in any script.
// Name words never contain a dot, so a date or phone number earlier on the page
// cannot swallow the reference of the line that follows it.
var Generic = MustPatternSet("generic",
	`(\d+(?:\.\d+)+)\s+((?:[\p{L}\p{N}/'&()+\-]+\s+)*?[\p{L}\p{N}/'&()+\-]+)\s+(\d+)\s+(\d+[,.]\d+)\s+(\d+\s*%)\s+(\d+[,.]\d+)`)

// IKEA matches IKEA invoice lines such as "905.691.39 KALLAX Shelf unit 2 49,99 20% 59,99".
var IKEA = MustPatternSet("ikea",
	`(\d{3}\.\d{3}\.\d{2})\s+([\w\s/.]+?)\s+(\d+)\s+(\d+[,.]\d{2})\s+(\d+\s*%)\s+(\d+[,.]\d{2})`)

// PatternSet is a line item template compiled into a single expression
type PatternSet struct {
	name string
	expr *regexp.Regexp
}

// NewPatternSet compiles a pattern set. The expression must have exactly the six
// template capture groups.
func NewPatternSet(name, expr string) (*PatternSet, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() != groupCount-1 {
		return nil, &PatternError{Name: name, Groups: re.NumSubexp()}
	}
	return &PatternSet{name: name, expr: re}, nil
}

// MustPatternSet is like NewPatternSet but panics on an invalid expression
func MustPatternSet(name, expr string) *PatternSet {
	p, err := NewPatternSet(name, expr)
	if err != nil {
		panic(err)
	}
	return p
}

// PatternError reports a template expression with the wrong number of groups
type PatternError struct {
	Name   string
	Groups int
}

func (e *PatternError) Error() string {
	return "pattern set " + e.Name + ": expected " + strconv.Itoa(groupCount-1) +
		" capture groups, got " + strconv.Itoa(e.Groups)
}

// Name returns the pattern set name
func (p *PatternSet) Name() string {
	return p.name
}

// ParseItems implements Parser. It never fails.
func (p *PatternSet) ParseItems(_ context.Context, text string) ([]Record, error) {
	return p.Parse(text), nil
}

// Parse scans text left to right and returns one record per non-overlapping match.
// Matches whose fields fail conversion are skipped.
func (p *PatternSet) Parse(text string) []Record {
	records := make([]Record, 0)
	for _, m := range p.expr.FindAllStringSubmatch(text, -1) {
		record, ok := recordFromMatch(m)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records
}

func recordFromMatch(m []string) (Record, bool) {
	name := strings.TrimSpace(m[groupName])
	if name == "" {
		return Record{}, false
	}

	quantity, err := strconv.Atoi(m[groupQuantity])
	if err != nil || quantity <= 0 {
		return Record{}, false
	}

	priceHT, err := parseDecimal(m[groupPriceHT])
	if err != nil {
		return Record{}, false
	}
	priceTTC, err := parseDecimal(m[groupPriceTTC])
	if err != nil {
		return Record{}, false
	}

	tva, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(m[groupTVA], "%")))
	if err != nil {
		return Record{}, false
	}

	return Record{
		Reference: strings.TrimSpace(m[groupReference]),
		Name:      name,
		Quantity:  quantity,
		PriceHT:   priceHT,
		PriceTTC:  priceTTC,
		TVA:       tva,
	}, true
}

// parseDecimal accepts either "," or "." as the fractional separator
func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
}
