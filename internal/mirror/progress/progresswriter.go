package progress

import "io"

// Writer wraps an io.Writer and reports progress via a callback every
// reportInterval bytes. Listings carry no sizes, so there is no total.
type Writer struct {
	Writer         io.Writer
	OnProgress     func(written int64)
	written        int64 // cumulative total
	sinceReport    int64 // bytes since last report
	reportInterval int64 // bytes
}

func NewWriter(w io.Writer, interval int64, cb func(written int64)) *Writer {
	return &Writer{
		Writer:         w,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pw *Writer) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	if n > 0 {
		pw.written += int64(n)
		pw.sinceReport += int64(n)

		if pw.OnProgress != nil && pw.reportInterval > 0 && pw.sinceReport >= pw.reportInterval {
			pw.OnProgress(pw.written)
			pw.sinceReport = 0
		}
	}

	return n, err
}

// Written returns the number of bytes written so far.
func (pw *Writer) Written() int64 {
	return pw.written
}
