package extraction

import (
	"regexp"
	"strings"
)

const (
	// maxExcerptLength bounds the text sent to language models
	maxExcerptLength = 50000

	// minModelTextLength is the shortest text worth sending to a model
	minModelTextLength = 50

	truncationMarker = "\n\n[...TEXT TRUNCATED...]\n\n"
)

// lineItemPrompt is the shared prompt used by all LLM parsers
const lineItemPrompt = `Extract products from this invoice text. Return ONLY a valid JSON array.

EXTRACTION RULES:
1. Find product names (descriptive text, not codes)
2. Find the TOTAL price for each line (Total TTC column, or the final price on the right)
3. Find quantities (integers, look for a "Quantité" column or numbers like "2" before the price)
4. When multiple prices appear on a line, use the SMALLER one (it is the discounted price)
5. Extract the TOTAL LINE PRICE, not the unit price
6. Look for reference codes/SKUs (dotted codes like "905.691.39" or 6-digit numbers like "234964")
7. Find the VAT rate of the line as an integer percentage when present

SKIP THESE (not products):
- Headers: "Article", "Taille", "Quantité", "Remise", "Prix", "Code"
- Totals: "MONTANT", "TOTAL", "SOUS-TOTAL"
- Shipping: "FRAIS DE LIVRAISON", "Livraison"
- Fees: "dont", "éco-participation", "Eco Part"
- Payment: "CARTE VISA", "Payé par"
- Other: "TVA", "Adresse", "ÉCONOMIE"

OUTPUT FORMAT (JSON array only, no explanation):
[
  {
    "name": "Product Name",
    "quantity": 2,
    "totalTTC": 199.80,
    "totalHT": 166.50,
    "tva": 20,
    "reference": "234964"
  }
]

IMPORTANT:
- Return ONLY the JSON array, no markdown, no explanation
- Format prices as decimals: 199.80 not "199,80 €"

INVOICE TEXT:
`

var whitespaceRun = regexp.MustCompile(`\s+`)

// buildPrompt appends the invoice text to the extraction instructions
func buildPrompt(text string) string {
	return lineItemPrompt + text + "\n\nJSON OUTPUT:"
}

// NormalizeText collapses all whitespace runs into single spaces
func NormalizeText(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// relevantExcerpt keeps the head and tail of text longer than maxLength
func relevantExcerpt(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	half := maxLength / 2
	return string(runes[:half]) + truncationMarker + string(runes[len(runes)-half:])
}

// modelInput prepares document text for a language model. ok is false when the
// text is too short to contain any line item.
func modelInput(text string) (string, bool) {
	text = NormalizeText(text)
	if len(text) < minModelTextLength {
		return "", false
	}
	return relevantExcerpt(text, maxExcerptLength), true
}
