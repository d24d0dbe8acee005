package ws

// allowWindow is a fixed-window counter: at most max events per window starting at start.
// Units are whatever the caller measures now in. A zero window or max allows everything.
func allowWindow(now, start int64, count int, window int64, max int) (newStart int64, newCount int, ok bool) {
	if window <= 0 || max <= 0 {
		return start, count, true
	}
	if now-start >= window || now < start {
		start = now
		count = 0
	}
	count++
	return start, count, count <= max
}
