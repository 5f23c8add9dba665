// Package progress derives upload percentages from chunk counts.
package progress

// Percent returns floor(uploaded / total * 100), clamped to [0, 100].
// A session without chunks reports 0.
func Percent(uploaded, total int) int {
	if total <= 0 || uploaded <= 0 {
		return 0
	}
	if uploaded >= total {
		return 100
	}
	return int(int64(uploaded) * 100 / int64(total))
}
