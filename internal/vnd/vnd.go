// Package vnd provides shared VND parsing and formatting utilities.
//
// Wallet amounts are fixed-point decimals with 2 decimal places. All
// arithmetic is done on big.Int in the smallest unit (1 VND = 100 units)
// so that ledger math never loses precision.
package vnd

import (
	"math/big"
	"strings"
)

const Decimals = 2

// rateDecimals is the precision used for deposit/commission rates ("0.05").
const rateDecimals = 6

// Parse converts a decimal string (e.g. "1500000" or "1500000.50") to its
// smallest-unit big.Int representation. Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - A single leading "-" is allowed (ledger entries are signed)
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, false
	}
	if neg {
		result.Neg(result)
	}
	return result, true
}

// ParsePositive parses an amount and additionally requires it to be > 0.
func ParsePositive(s string) (*big.Int, bool) {
	v, ok := Parse(s)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

// Format converts a smallest-unit big.Int to a decimal string with exactly
// 2 decimal places (e.g. "1500000.00", "-75000.00").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Neg returns the negated decimal string ("100.00" -> "-100.00").
// Ledger debits are recorded as negative amounts.
func Neg(s string) string {
	v, ok := Parse(s)
	if !ok {
		return s
	}
	return Format(new(big.Int).Neg(v))
}

// ApplyRate multiplies an amount by a decimal rate string (e.g. "0.05"),
// truncating toward zero. Returns (result, false) if either input is invalid.
// Used for commission and deposit fee math: rates never exceed 6 decimals.
func ApplyRate(amount, rate string) (string, bool) {
	amt, ok := Parse(amount)
	if !ok {
		return "", false
	}

	if strings.HasPrefix(rate, "-") {
		return "", false
	}
	parts := strings.Split(rate, ".")
	if len(parts) > 2 {
		return "", false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if len(frac) > rateDecimals {
		return "", false
	}
	for len(frac) < rateDecimals {
		frac += "0"
	}
	rateUnits, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return "", false
	}

	scale := big.NewInt(1_000_000) // 10^rateDecimals
	result := new(big.Int).Mul(amt, rateUnits)
	result.Quo(result, scale)
	return Format(result), true
}
