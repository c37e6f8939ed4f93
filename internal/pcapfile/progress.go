package pcapfile

import "io"

// Progress receives batch completion notices from a Reader. It runs on the
// goroutine calling Fill and must not block.
type Progress interface {
	Progress(filled int, fraction float64)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(filled int, fraction float64)

// Progress calls f(filled, fraction).
func (f ProgressFunc) Progress(filled int, fraction float64) {
	f(filled, fraction)
}

type nopProgress struct{}

func (nopProgress) Progress(int, float64) {}

// unknownSizeProgress is reported while the total input size is unknown.
const unknownSizeProgress = 0.5

// maxPendingProgress caps the estimate until the reader is done, so 1.0 is
// only ever seen once.
const maxPendingProgress = 0.99

// countingReader tracks how many bytes the parser has consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func estimate(consumed, size int64) float64 {
	if size <= 0 {
		return unknownSizeProgress
	}
	frac := float64(consumed) / float64(size)
	if frac > maxPendingProgress {
		return maxPendingProgress
	}
	if frac < 0 {
		return 0
	}
	return frac
}
