package wallet

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d{1,3})?$`)

var weiPerUnit = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// ParseAmount parses a positive decimal amount. Exponent notation is accepted.
func ParseAmount(amount string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	if !decimalPattern.MatchString(trimmed) {
		return nil, fmt.Errorf("amount %q is not a decimal number", amount)
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal number", amount)
	}
	if r.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be positive", amount)
	}
	return r, nil
}

// ToWei converts a decimal native-currency amount to wei, truncating below one wei.
// Amounts that truncate to zero are rejected.
func ToWei(amount string) (*big.Int, error) {
	r, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	scaled := new(big.Rat).Mul(r, weiPerUnit)
	wei := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if wei.Sign() == 0 {
		return nil, fmt.Errorf("amount %q is below 1 wei", amount)
	}
	return wei, nil
}

// FormatWei renders wei as a decimal amount without trailing zeros
func FormatWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	s := new(big.Rat).SetFrac(wei, weiPerUnit.Num()).FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// CompareAmounts compares two decimal amounts like big.Rat.Cmp
func CompareAmounts(a, b string) (int, error) {
	ra, err := ParseAmount(a)
	if err != nil {
		return 0, err
	}
	rb, err := ParseAmount(b)
	if err != nil {
		return 0, err
	}
	return ra.Cmp(rb), nil
}
