package main

import (
	"fmt"
	"io"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// latency collects round trip times of repeated requests
type latency struct {
	hist    *hdrhistogram.Histogram
	errors  int
	elapsed time.Duration
}

func newLatency() *latency {
	return &latency{hist: hdrhistogram.New(1, int64(time.Minute), 3)}
}

func (l *latency) record(d time.Duration, err error) {
	l.elapsed += d
	if err != nil {
		l.errors++
		return
	}
	l.hist.RecordValue(int64(d))
}

func (l *latency) print(w io.Writer) {
	n := l.hist.TotalCount()
	fmt.Fprintf(w, "requests: %d ok, %d failed in %s\n", n, l.errors, l.elapsed)
	if n == 0 {
		return
	}
	fmt.Fprintf(w, "latency: min %s, p50 %s, p95 %s, p99 %s, max %s, mean %s\n",
		time.Duration(l.hist.Min()),
		time.Duration(l.hist.ValueAtQuantile(50.)),
		time.Duration(l.hist.ValueAtQuantile(95.)),
		time.Duration(l.hist.ValueAtQuantile(99.)),
		time.Duration(l.hist.Max()),
		time.Duration(l.hist.Mean()))
}
