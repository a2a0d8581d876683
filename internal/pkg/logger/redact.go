package logger

// RedactPhone masks a phone number for safe logging, keeping the country
// prefix and the last two digits.
// "201001234567" → "201*******67"
// Numbers of 5 digits or fewer are fully masked.
func RedactPhone(phone string) string {
	digits := phone
	if len(digits) > 0 && digits[0] == '+' {
		digits = digits[1:]
	}
	if len(digits) <= 5 {
		return "*****"
	}
	masked := make([]byte, len(digits))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[:3], digits[:3])
	copy(masked[len(masked)-2:], digits[len(digits)-2:])
	return string(masked)
}
