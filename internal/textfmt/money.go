package textfmt

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// rupiahFormat groups thousands with "." and shows no decimals
const rupiahFormat = "#.###,"

// FormatRupiah formats an IDR amount like "Rp 50.000"
func FormatRupiah(amount int64) string {
	if amount < 0 {
		return "-Rp " + humanize.FormatInteger(rupiahFormat, int(-amount))
	}
	return "Rp " + humanize.FormatInteger(rupiahFormat, int(amount))
}

// Countdown renders a remaining duration as mm:ss, rounding partial seconds
// up so "00:00" only shows once the deadline has actually passed.
func Countdown(remaining time.Duration) string {
	if remaining <= 0 {
		return "00:00"
	}
	secs := int64((remaining + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
