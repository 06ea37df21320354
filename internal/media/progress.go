package media

import (
	"strconv"
	"strings"
	"time"
)

// progressTracker turns ffmpeg "-progress" key=value lines into percentages.
type progressTracker struct {
	total  time.Duration
	last   int
	report func(int)
}

func newProgressTracker(total time.Duration, report func(int)) *progressTracker {
	return &progressTracker{total: total, report: report}
}

// line consumes one line of ffmpeg progress output.
func (p *progressTracker) line(s string) {
	key, val, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return
	}

	switch key {
	// ffmpeg reports both in microseconds.
	case "out_time_us", "out_time_ms":
		totalUS := p.total.Microseconds()
		if totalUS <= 0 {
			return
		}
		us, err := strconv.ParseInt(val, 10, 64)
		if err != nil || us < 0 {
			return
		}
		p.update(int(us * 100 / totalUS))
	case "progress":
		if val == "end" {
			p.update(100)
		}
	}
}

// update reports pct if it moves forward. Values are clamped to 0..100.
func (p *progressTracker) update(pct int) {
	pct = min(max(pct, 0), 100)
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.report != nil {
		p.report(pct)
	}
}
