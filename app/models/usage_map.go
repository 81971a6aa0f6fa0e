package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// UsageMap stores sparse string-keyed usage counters (day or month buckets)
// as a JSON column. An absent key means zero.
type UsageMap map[string]int64

// Value implements the driver.Valuer interface
func (m UsageMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (m *UsageMap) Scan(value interface{}) error {
	if value == nil {
		*m = UsageMap{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("invalid scan source")
	}
	if len(bytes) == 0 {
		*m = UsageMap{}
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Add increments the counter for the given bucket, creating it at zero first.
func (m *UsageMap) Add(bucket string, n int64) {
	if *m == nil {
		*m = UsageMap{}
	}
	(*m)[bucket] += n
}

// Ensure creates the bucket at zero if it does not exist yet, so reports
// never show gaps for periods the key was alive.
func (m *UsageMap) Ensure(bucket string) {
	if *m == nil {
		*m = UsageMap{}
	}
	if _, ok := (*m)[bucket]; !ok {
		(*m)[bucket] = 0
	}
}

// Get returns the counter for the bucket, zero when absent.
func (m UsageMap) Get(bucket string) int64 {
	return m[bucket]
}

// Retain deletes every bucket that is not in the allowed set.
func (m UsageMap) Retain(allowed map[string]struct{}) {
	for k := range m {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
		}
	}
}

// DeviceList stores bound device identifiers as a JSON array column.
type DeviceList []string

// Value implements the driver.Valuer interface
func (d DeviceList) Value() (driver.Value, error) {
	if d == nil {
		return "[]", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (d *DeviceList) Scan(value interface{}) error {
	if value == nil {
		*d = DeviceList{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("invalid scan source")
	}
	if len(bytes) == 0 {
		*d = DeviceList{}
		return nil
	}
	return json.Unmarshal(bytes, d)
}

// Contains reports whether the device id is already bound.
func (d DeviceList) Contains(deviceID string) bool {
	for _, id := range d {
		if id == deviceID {
			return true
		}
	}
	return false
}
