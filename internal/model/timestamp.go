package model

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is stored as integer epoch seconds and marshals to JSON like time.Time.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Second)}
}

func Unix(sec int64) Timestamp {
	return Timestamp{Time: time.Unix(sec, 0)}
}

func (ts Timestamp) Value() (driver.Value, error) {
	return ts.Unix(), nil
}

func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		ts.Time = time.Unix(v, 0)
	case float64:
		ts.Time = time.Unix(int64(v), 0)
	case []byte:
		return ts.scanString(string(v))
	case string:
		return ts.scanString(v)
	default:
		return fmt.Errorf("timestamp: cannot scan %T", src)
	}
	return nil
}

func (ts *Timestamp) scanString(s string) error {
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	ts.Time = time.Unix(int64(sec), 0)
	return nil
}
