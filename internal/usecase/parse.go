package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"TradeWatch/internal/domain/models"

	"github.com/shopspring/decimal"
)

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

var currencyReplacer = strings.NewReplacer("¥", "", "￥", "", "元", "", "$", "", "HK$", "", "港元", "", "美元", "")

// ParseStockList splits user input on newlines, commas and spaces and returns
// the upper-cased symbols in first-seen order without duplicates.
func ParseStockList(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == '，' || r == ';' || r == '；' || r == '、' || unicode.IsSpace(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		sym := strings.ToUpper(strings.TrimSpace(f))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// ParsePriceRange extracts a buy range such as "10.5-12.0元" or "¥10.5 至 12".
func ParsePriceRange(s string) (*models.PriceRange, error) {
	nums := numberRe.FindAllString(currencyReplacer.Replace(s), -1)
	if len(nums) < 2 {
		return nil, fmt.Errorf("%w: no price range in %q", models.ErrInvalidRange, s)
	}
	lo, err := decimal.NewFromString(nums[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRange, err)
	}
	hi, err := decimal.NewFromString(nums[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRange, err)
	}
	if !lo.IsPositive() || !lo.LessThan(hi) {
		return nil, fmt.Errorf("%w: %s-%s", models.ErrInvalidRange, lo, hi)
	}
	return &models.PriceRange{Min: lo, Max: hi}, nil
}

// ParsePrice extracts the first positive number of s, e.g. "¥15.2 (+8%)".
func ParsePrice(s string) (decimal.Decimal, error) {
	m := numberRe.FindString(currencyReplacer.Replace(s))
	if m == "" {
		return decimal.Zero, fmt.Errorf("%w: no price in %q", models.ErrInvalidArgument, s)
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price must be positive, got %s", models.ErrInvalidArgument, d)
	}
	return d, nil
}

// specFromDecision turns an analysis decision into monitor thresholds.
// Fields that do not parse are left unset.
func specFromDecision(res *models.AnalysisResult) (models.InstrumentSpec, bool) {
	spec := models.InstrumentSpec{
		Symbol:               res.Symbol,
		Name:                 res.Name,
		Rating:               res.Decision.Rating,
		NotificationsEnabled: true,
	}
	if r, err := ParsePriceRange(res.Decision.EntryRange); err == nil {
		spec.EntryRange = r
	}
	if p, err := ParsePrice(res.Decision.TakeProfit); err == nil {
		spec.TakeProfit = &p
	}
	if p, err := ParsePrice(res.Decision.StopLoss); err == nil {
		spec.StopLoss = &p
	}
	ok := spec.EntryRange != nil || spec.TakeProfit != nil || spec.StopLoss != nil
	return spec, ok
}
