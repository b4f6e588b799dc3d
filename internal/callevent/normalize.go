package callevent

import "strings"

// maxDigits caps the canonical digit string; anything longer is not a
// dialable number and only bloats the index.
const maxDigits = 20

// NormalizeStatus folds a free-form PBX status label into the closed
// status set. Unrecognized or absent input defaults to "ringing";
// statuses are never a reason to reject a webhook.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "answered":
		return StatusAnswered
	case "missed", "no answer", "noanswer":
		return StatusMissed
	case "rejected":
		return StatusRejected
	default:
		return StatusRinging
	}
}

// SanitizePhone splits a raw phone value into a display form and a
// canonical digit-only form. A leading "+" survives into the display
// form; everything non-digit is dropped from digits. Both come back
// empty when the input carries no digits at all. Always succeeds.
func SanitizePhone(raw string) (display, digits string) {
	raw = strings.TrimSpace(raw)

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits = b.String()
	if len(digits) > maxDigits {
		digits = digits[:maxDigits]
	}
	if digits == "" {
		return "", ""
	}

	display = digits
	if strings.HasPrefix(raw, "+") {
		display = "+" + digits
	}
	return display, digits
}

// EscapeLike escapes the characters with special meaning in a SQL LIKE
// pattern so user search input cannot alter query semantics.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
