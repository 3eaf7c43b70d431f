package xlsximport

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Spreadsheet serial dates count days from this epoch.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var brDatePattern = regexp.MustCompile(`^(\d{1,2})[/\-](\d{1,2})[/\-](\d{2,4})$`)

// ParseAmount turns a raw cell value into a decimal. Accepts numeric types
// directly; strings are cleaned of currency symbols and pt-BR separators
// ("1.234,56" -> 1234.56, trailing minus moved to the front). ok=false means
// the row is unusable, not a fatal error.
func ParseAmount(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		return parseAmountString(v)
	default:
		return decimal.Zero, false
	}
}

func parseAmountString(raw string) (decimal.Decimal, bool) {
	str := strings.TrimSpace(raw)
	if str == "" {
		return decimal.Zero, false
	}

	var cleaned []byte
	for _, ch := range []byte(str) {
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == ',' || ch == '-' {
			cleaned = append(cleaned, ch)
		}
	}

	// A dot is a thousands separator only when followed by exactly three
	// digits and a non-digit (or end of string).
	var normalized []byte
	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] == '.' && isThousandsDot(cleaned, i) {
			continue
		}
		normalized = append(normalized, cleaned[i])
	}

	result := strings.ReplaceAll(string(normalized), ",", ".")
	if strings.HasSuffix(result, "-") {
		result = "-" + strings.TrimSuffix(result, "-")
	}

	parsed, err := decimal.NewFromString(result)
	if err != nil {
		return decimal.Zero, false
	}
	return parsed, true
}

// Exactly three digits after the dot, then a non-digit or the end. A longer
// digit run means the dot is a decimal point, not a grouping mark.
func isThousandsDot(s []byte, i int) bool {
	digits := 0
	for j := i + 1; j < len(s) && s[j] >= '0' && s[j] <= '9'; j++ {
		digits++
	}
	return digits == 3
}

// ParseDate turns a raw cell value into a date. Accepts time.Time directly,
// spreadsheet numeric serials (epoch 1899-12-30, day granularity), ISO
// strings, and D/M/Y or D-M-Y with 2- or 4-digit years (2-digit years are
// assumed to be in the 2000s).
func ParseDate(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v, true
	case int:
		return serialEpoch.AddDate(0, 0, v), true
	case int64:
		return serialEpoch.AddDate(0, 0, int(v)), true
	case float64:
		return serialEpoch.AddDate(0, 0, int(v)), true
	case string:
		return parseDateString(v)
	default:
		return time.Time{}, false
	}
}

func parseDateString(raw string) (time.Time, bool) {
	str := strings.TrimSpace(raw)
	if str == "" {
		return time.Time{}, false
	}

	isoLayouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t, true
		}
	}

	if match := brDatePattern.FindStringSubmatch(str); match != nil {
		day, _ := strconv.Atoi(match[1])
		month, _ := strconv.Atoi(match[2])
		year, _ := strconv.Atoi(match[3])
		if len(match[3]) == 2 {
			year += 2000
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || int(t.Month()) != month {
			return time.Time{}, false
		}
		return t, true
	}

	// Serials survive some spreadsheet readers as bare digit strings.
	if serial, err := strconv.ParseFloat(str, 64); err == nil && serial > 0 {
		return serialEpoch.AddDate(0, 0, int(serial)), true
	}

	return time.Time{}, false
}
