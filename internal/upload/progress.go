package upload

import "io"

// progressReader reports how far through the body the HTTP client has read.
// Percentages are floor(sent/total*100), clamped to [0, 100].
type progressReader struct {
	r      io.Reader
	total  int64
	sent   int64
	report func(int)
	last   int
}

func newProgressReader(r io.Reader, total int64, report func(int)) *progressReader {
	return &progressReader{r: r, total: total, report: report, last: -1}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		percent := 0
		if p.total > 0 {
			percent = int(p.sent * 100 / p.total)
		}
		if percent > 100 {
			percent = 100
		}
		if percent != p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}
