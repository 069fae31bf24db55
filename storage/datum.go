package storage

import (
	"fmt"
	"strconv"
	"time"
)

// Datum boxes a single value of any dtype. It is the exchange format for
// literals, accumulator results and scalar folding; bulk data always stays in
// typed column buffers.
type Datum struct {
	TP   DType
	Null bool
	I    int64
	F    float64
	B    bool
	S    string
}

func NewIntDatum(v int64) Datum {
	return Datum{TP: Int64, I: v}
}

func NewFloatDatum(v float64) Datum {
	return Datum{TP: Float64, F: v}
}

func NewBoolDatum(v bool) Datum {
	return Datum{TP: Boolean, B: v}
}

func NewStrDatum(v string) Datum {
	return Datum{TP: Utf8, S: v}
}

// NewDateDatum builds a date datum from days since the unix epoch.
func NewDateDatum(days int64) Datum {
	return Datum{TP: Date, I: days}
}

func NewNullDatum(tp DType) Datum {
	return Datum{TP: tp, Null: true}
}

func (d Datum) String() string {
	if d.Null {
		return "null"
	}
	switch d.TP {
	case Int64:
		return strconv.FormatInt(d.I, 10)
	case Float64:
		return strconv.FormatFloat(d.F, 'g', -1, 64)
	case Boolean:
		return strconv.FormatBool(d.B)
	case Utf8:
		return d.S
	case Date:
		return FormatDate(d.I)
	default:
		return "?"
	}
}

// CompareValues orders two non-null datums of compatible dtypes. Numeric
// dtypes compare by value across Int64/Float64.
func CompareValues(a, b Datum) int {
	if a.TP.IsNumeric() && b.TP.IsNumeric() {
		if a.TP == Int64 && b.TP == Int64 {
			switch {
			case a.I < b.I:
				return -1
			case a.I > b.I:
				return 1
			}
			return 0
		}
		av, bv := a.asFloat(), b.asFloat()
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	}
	switch a.TP {
	case Boolean:
		switch {
		case !a.B && b.B:
			return -1
		case a.B && !b.B:
			return 1
		}
		return 0
	case Utf8:
		switch {
		case a.S < b.S:
			return -1
		case a.S > b.S:
			return 1
		}
		return 0
	case Date:
		switch {
		case a.I < b.I:
			return -1
		case a.I > b.I:
			return 1
		}
		return 0
	default:
		panic(fmt.Sprintf("uncomparable dtype %s", a.TP))
	}
}

func (d Datum) asFloat() float64 {
	if d.TP == Float64 {
		return d.F
	}
	return float64(d.I)
}

const secondsPerDay = 24 * 60 * 60

// FormatDate renders days-since-epoch in ISO form.
func FormatDate(days int64) string {
	return time.Unix(days*secondsPerDay, 0).UTC().Format("2006-01-02")
}

// ParseDate parses an ISO date into days-since-epoch.
func ParseDate(s string) (int64, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, err
	}
	return t.Unix() / secondsPerDay, nil
}
