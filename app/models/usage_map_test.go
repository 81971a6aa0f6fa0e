package models

import (
	"database/sql/driver"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageMapRoundTrip(t *testing.T) {
	m := UsageMap{"2024-01-01": 12, "2024-01-02": 0, "2024-02-29": 9007199254740991}

	v, err := m.Value()
	require.NoError(t, err)

	var loaded UsageMap
	require.NoError(t, loaded.Scan(v))
	assert.Equal(t, m, loaded)
}

func TestUsageMapScanNilAndEmpty(t *testing.T) {
	var m UsageMap
	require.NoError(t, m.Scan(nil))
	assert.NotNil(t, m)
	assert.Empty(t, m)

	require.NoError(t, m.Scan([]byte("")))
	assert.Empty(t, m)
}

func TestUsageMapNilValue(t *testing.T) {
	var m UsageMap
	v, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, driver.Value("{}"), v)
}

func TestUsageMapAddEnsureRetain(t *testing.T) {
	m := UsageMap{}
	m.Add("2024-01-01", 3)
	m.Add("2024-01-01", 2)
	m.Ensure("2024-01-02")
	m.Ensure("2024-01-01")

	assert.Equal(t, int64(5), m.Get("2024-01-01"))
	assert.Equal(t, int64(0), m.Get("2024-01-02"))
	assert.Equal(t, int64(0), m.Get("never-written"))

	m.Retain(map[string]struct{}{"2024-01-02": {}})
	assert.NotContains(t, m, "2024-01-01")
	assert.Contains(t, m, "2024-01-02")
}

func TestDeviceListRoundTrip(t *testing.T) {
	d := DeviceList{"android-9f2", "ios-11b"}

	v, err := d.Value()
	require.NoError(t, err)

	var loaded DeviceList
	require.NoError(t, loaded.Scan(v))
	assert.Equal(t, d, loaded)
	assert.True(t, loaded.Contains("ios-11b"))
	assert.False(t, loaded.Contains("ios-11c"))
}

func TestDeviceListScanNil(t *testing.T) {
	var d DeviceList
	require.NoError(t, d.Scan(nil))
	assert.NotNil(t, d)
	assert.Empty(t, d)
}
