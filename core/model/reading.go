package model

import (
	"math"
	"time"
)

// Reading is one published demand measurement. It is immutable once
// published; the timestamp is the simulated instant the value was drawn at,
// not the broker receipt time.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Row is one line of subscriber output. Meter and Residual are NaN when no
// fresh meter reading was available for the tick; PV is always present.
type Row struct {
	Time     time.Time
	Meter    float64
	PV       float64
	Residual float64
}

// NewRow builds a Row for the given tick. The residual load is meter minus
// pv and inherits NaN from a missing meter value.
func NewRow(t time.Time, meter, pv float64) Row {
	residual := meter - pv
	if math.IsNaN(meter) {
		residual = math.NaN()
	}
	return Row{Time: t, Meter: meter, PV: pv, Residual: residual}
}

// MeterMissing reports whether the row was produced without a fresh reading.
func (r Row) MeterMissing() bool { return math.IsNaN(r.Meter) }
