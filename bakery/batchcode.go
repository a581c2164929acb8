package bakery

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BatchCodePrefix holds the parts concatenated in front of a batch code.
// A zero dosage is omitted.
type BatchCodePrefix struct {
	Dosage  decimal.Decimal
	OilType string
	Acronym string
}

func (p BatchCodePrefix) String() string {
	var b strings.Builder
	if !p.Dosage.IsZero() {
		b.WriteString(p.Dosage.String())
	}
	b.WriteString(strings.TrimSpace(p.OilType))
	b.WriteString(strings.TrimSpace(p.Acronym))
	return b.String()
}

var (
	leadingDC = regexp.MustCompile(`(?i)^DC`)
	nonDigits = regexp.MustCompile(`[^0-9]`)
)

// OilBatchNumeric strips a leading "DC" (any case) and every non-digit from
// an oil batch code. An empty result becomes "0000".
func OilBatchNumeric(oilBatchCode string) string {
	numeric := nonDigits.ReplaceAllString(leadingDC.ReplaceAllString(strings.TrimSpace(oilBatchCode), ""), "")
	if numeric == "" {
		return "0000"
	}
	return numeric
}

// GenerateBatchCode formats "{prefix}-DC{numeric}-{MM}-{DD}-{YY}".
// It is a pure function of its inputs; date is never read from the clock.
//
//	GenerateBatchCode(BatchCodePrefix{Dosage: 25, OilType: "OG", Acronym: "CHC"},
//	    "DC0123", 2024-03-05) == "25OGCHC-DC0123-03-05-24"
func GenerateBatchCode(prefix BatchCodePrefix, oilBatchCode string, date time.Time) string {
	return fmt.Sprintf("%s-DC%s-%02d-%02d-%02d",
		prefix, OilBatchNumeric(oilBatchCode), int(date.Month()), date.Day(), date.Year()%100)
}
