package validate

import "fmt"

// CNS validates a 15-digit CNS number. Separators are stripped before
// validation. The first digit must be 1, 2, 7, 8 or 9, and the sum of all
// fifteen digits weighted 15 down to 1 must be divisible by 11.
func CNS(cns string) error {
	digits := DigitsOnly(cns)
	if len(digits) != 15 {
		return fmt.Errorf("cns must have 15 digits, got %d", len(digits))
	}

	switch digits[0] {
	case '1', '2', '7', '8', '9':
	default:
		return fmt.Errorf("cns must start with 1, 2, 7, 8 or 9")
	}

	sum := 0
	for i := 0; i < 15; i++ {
		sum += int(digits[i]-'0') * (15 - i)
	}
	if sum%11 != 0 {
		return fmt.Errorf("cns has invalid check digit")
	}
	return nil
}

// FormatCNS renders a CNS as "000 0000 0000 0000". Already-formatted input
// is re-stripped first, so formatting is idempotent. Input without 15 digits
// is returned unchanged.
func FormatCNS(cns string) string {
	digits := DigitsOnly(cns)
	if len(digits) != 15 {
		return cns
	}
	return digits[0:3] + " " + digits[3:7] + " " + digits[7:11] + " " + digits[11:15]
}
