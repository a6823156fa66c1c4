package services

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	// priceRegexp accepts the vendor's locale format: "45.231,90", "0,00", "1200".
	priceRegexp = regexp.MustCompile(`^-?\d{1,3}(?:\.\d{3})*(?:,\d{1,2})?$|^-?\d+(?:,\d{1,2})?$`)
	// yearCodeRegexp captures "<year>-<fuelType>" model-year codes.
	yearCodeRegexp = regexp.MustCompile(`^(\d{4,5})-(\d+)$`)
)

var ErrInvalidPrice = errors.New("invalid price")

// ParsePrice converts a display price such as "R$ 45.231,90" into a decimal
// amount with two fractional digits.
func ParsePrice(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	if !priceRegexp.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}

	s = strings.ReplaceAll(s, ".", "")
	s = strings.Replace(s, ",", ".", 1)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrInvalidPrice, raw, err)
	}
	return d.Round(2), nil
}

// FormatPrice renders an amount back into the vendor's display format.
func FormatPrice(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return "R$ " + sign + b.String() + "," + frac
}

// ParseModelYearCode splits "2015-1" into year 2015 and fuel type 1.
func ParseModelYearCode(code string) (year, fuelType int, err error) {
	m := yearCodeRegexp.FindStringSubmatch(strings.TrimSpace(code))
	if m == nil {
		return 0, 0, fmt.Errorf("invalid model-year code %q", code)
	}
	year, _ = strconv.Atoi(m[1])
	fuelType, _ = strconv.Atoi(m[2])
	return year, fuelType, nil
}

// NormaliseText strips leading/trailing whitespace and collapses internal whitespace.
func NormaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
