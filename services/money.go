package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	errNoDigits     = errors.New("no digits")
	errTrailingText = errors.New("unexpected text")

	// moneyTokenRegexp matches one magnitude-qualified number, e.g. "5억", "3,000만", "2천".
	moneyTokenRegexp = regexp.MustCompile(`^(\d+(?:\.\d+)?)(억|천만|천|만|원)?`)
	countRegexp      = regexp.MustCompile(`^(B|b|지하\s*)?(-?\d+)\s*(층|대|개|세대)?$`)

	eok    = decimal.New(1, 8)
	cheonM = decimal.New(1, 7)
	man    = decimal.New(1, 4)
	cheon  = decimal.New(1, 3)

	pyeongToM2 = decimal.RequireFromString("3.305785")
)

// unitMultiplier scales a bare number in the given unit to won or m².
func unitMultiplier(unit string) (decimal.Decimal, error) {
	switch strings.ToLower(unit) {
	case "", "won", "m2":
		return decimal.NewFromInt(1), nil
	case "manwon":
		return man, nil
	case "eok":
		return eok, nil
	case "pyeong":
		return pyeongToM2, nil
	}
	return decimal.Decimal{}, fmt.Errorf("unknown unit %q", unit)
}

// hasKoreanMagnitude reports whether s uses 억/만/천 suffixes.
func hasKoreanMagnitude(s string) bool {
	return strings.ContainsAny(s, "억만천")
}

// parseKoreanMoney converts an amount written with Korean magnitude
// suffixes to won. A bare number following 억 is read in 만원, so
// "5억 3,000" is 530,000,000. The result is exact; callers round.
func parseKoreanMoney(s string) (decimal.Decimal, error) {
	s = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "원", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Decimal{}, errNoDigits
	}

	total := decimal.Zero
	afterEok := false
	for s != "" {
		m := moneyTokenRegexp.FindStringSubmatch(s)
		if m == nil {
			return decimal.Decimal{}, fmt.Errorf("%w %q", errTrailingText, s)
		}
		n, err := decimal.NewFromString(m[1])
		if err != nil {
			return decimal.Decimal{}, err
		}
		switch m[2] {
		case "억":
			n = n.Mul(eok)
			afterEok = true
		case "천만":
			n = n.Mul(cheonM)
		case "만":
			n = n.Mul(man)
		case "천":
			if afterEok {
				n = n.Mul(cheonM)
			} else {
				n = n.Mul(cheon)
			}
		default:
			if afterEok {
				n = n.Mul(man)
			}
		}
		total = total.Add(n)
		s = s[len(m[0]):]
	}
	return total, nil
}

// parseMoneyText reads a money string: Korean magnitudes are absolute,
// bare numbers are scaled by unit.
func parseMoneyText(s, unit string) (decimal.Decimal, error) {
	if hasKoreanMagnitude(s) {
		return parseKoreanMoney(s)
	}
	n, err := parseDecimalText(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	mult, err := unitMultiplier(unit)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return n.Mul(mult), nil
}

// parseDecimalText strips thousands separators and a trailing unit.
func parseDecimalText(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	for _, suffix := range []string{"㎡", "m²", "m2", "원", "°"} {
		s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
	}
	if s == "" {
		return decimal.Decimal{}, errNoDigits
	}
	return decimal.NewFromString(s)
}

// parseAreaText reads an area, converting a 평 suffix to m².
func parseAreaText(s, unit string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasSuffix(trimmed, "평") {
		unit = "pyeong"
		trimmed = strings.TrimSuffix(trimmed, "평")
	}
	n, err := parseDecimalText(trimmed)
	if err != nil {
		return decimal.Decimal{}, err
	}
	mult, err := unitMultiplier(unit)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return n.Mul(mult), nil
}

// parseCountText reads a whole number with an optional Korean counter.
// Basement floors ("B1", "지하2") are negative.
func parseCountText(s string) (decimal.Decimal, error) {
	m := countRegexp.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return decimal.Decimal{}, fmt.Errorf("not a count: %q", s)
	}
	n, err := decimal.NewFromString(m[2])
	if err != nil {
		return decimal.Decimal{}, err
	}
	if m[1] != "" {
		n = n.Abs().Neg()
	}
	return n, nil
}

// roundWon rounds to whole won with banker's rounding.
func roundWon(d decimal.Decimal) int64 {
	return d.RoundBank(0).IntPart()
}
