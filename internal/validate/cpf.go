// Package validate implements checksum validation and formatting for the two
// Brazilian national identifiers carried on patient records: the CPF (11-digit
// taxpayer registry number) and the CNS (15-digit national health card).
package validate

import (
	"fmt"
	"strings"
)

// DigitsOnly strips every non-digit character from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// CPF validates an 11-digit CPF number. Separators are stripped before
// validation. The returned error names the exact rule that failed.
func CPF(cpf string) error {
	digits := DigitsOnly(cpf)
	if len(digits) != 11 {
		return fmt.Errorf("cpf must have 11 digits, got %d", len(digits))
	}

	allSame := true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("cpf cannot have all digits the same")
	}

	if cpfCheckDigit(digits, 9) != int(digits[9]-'0') {
		return fmt.Errorf("cpf has invalid check digit")
	}
	if cpfCheckDigit(digits, 10) != int(digits[10]-'0') {
		return fmt.Errorf("cpf has invalid check digit")
	}
	return nil
}

// cpfCheckDigit computes the check digit over the first n digits, weighted
// n+1 down to 2. A remainder complement of 10 or 11 maps to 0.
func cpfCheckDigit(digits string, n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += int(digits[i]-'0') * (n + 1 - i)
	}
	check := 11 - sum%11
	if check >= 10 {
		return 0
	}
	return check
}

// FormatCPF renders a CPF as 000.000.000-00. Already-formatted input is
// re-stripped first, so formatting is idempotent. Input without 11 digits is
// returned unchanged.
func FormatCPF(cpf string) string {
	digits := DigitsOnly(cpf)
	if len(digits) != 11 {
		return cpf
	}
	return digits[0:3] + "." + digits[3:6] + "." + digits[6:9] + "-" + digits[9:11]
}
