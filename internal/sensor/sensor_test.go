package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/bchydro/pkg/models"
)

type staticProvider struct {
	usage *models.DailyUsage
}

func (p *staticProvider) Snapshot() *models.DailyUsage {
	return p.usage
}

var testAccount = models.Account{
	ID:           "12345",
	BillingStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
}

func interval(day int, kwh, cost float64) models.Interval {
	start := time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
	return models.Interval{
		Start:       start,
		End:         start.Add(24 * time.Hour),
		Consumption: kwh,
		Cost:        models.Float(cost),
	}
}

func viewsByKey(views []*View) map[string]*View {
	m := make(map[string]*View, len(views))
	for _, v := range views {
		m[v.Key] = v
	}
	return m
}

func TestNoSnapshot(t *testing.T) {
	for _, v := range NewAll(&staticProvider{}, testAccount) {
		_, known := v.Value()
		assert.False(t, known, v.Key)
		assert.Nil(t, v.Attributes(), v.Key)
		_, ok := v.LastReset()
		assert.False(t, ok, v.Key)
	}
}

func TestEmptySnapshot(t *testing.T) {
	for _, v := range NewAll(&staticProvider{usage: &models.DailyUsage{}}, testAccount) {
		_, known := v.Value()
		assert.False(t, known, v.Key)
		assert.Nil(t, v.Attributes(), v.Key)
	}
}

func TestLatestReadings(t *testing.T) {
	r3 := interval(3, 14.5, 1.87)
	usage := &models.DailyUsage{
		Electricity: []models.Interval{interval(1, 10, 1.2), interval(2, 12, 1.5), r3},
	}
	views := viewsByKey(NewAll(&staticProvider{usage: usage}, testAccount))

	t.Run("usage", func(t *testing.T) {
		v := views["latest_usage"]
		val, known := v.Value()
		require.True(t, known)
		assert.Equal(t, 14.5, val)

		attrs := v.Attributes()
		require.NotNil(t, attrs)
		assert.Equal(t, r3.Start, attrs.StartTime)
		assert.Equal(t, r3.End, attrs.EndTime)
	})

	t.Run("cost", func(t *testing.T) {
		v := views["latest_cost"]
		val, known := v.Value()
		require.True(t, known)
		assert.Equal(t, 1.87, val)
		require.NotNil(t, v.Attributes())
		assert.Equal(t, r3.End, v.Attributes().EndTime)
	})

	t.Run("estimates unknown without rates", func(t *testing.T) {
		for _, key := range []string{"estimated_usage", "estimated_cost"} {
			_, known := views[key].Value()
			assert.False(t, known, key)
			assert.Nil(t, views[key].Attributes(), key)
		}
	})
}

func TestEstimatedReadings(t *testing.T) {
	rates := &models.RateEstimate{EstimatedConsumption: models.Float(620.4), EstimatedCost: models.Float(81.02)}

	t.Run("no interval records", func(t *testing.T) {
		usage := &models.DailyUsage{Rates: rates}
		views := viewsByKey(NewAll(&staticProvider{usage: usage}, testAccount))

		val, known := views["estimated_usage"].Value()
		require.True(t, known)
		assert.Equal(t, 620.4, val)
		assert.Nil(t, views["estimated_usage"].Attributes())

		val, known = views["estimated_cost"].Value()
		require.True(t, known)
		assert.Equal(t, 81.02, val)
		assert.Nil(t, views["estimated_cost"].Attributes())

		_, known = views["latest_usage"].Value()
		assert.False(t, known)
	})

	t.Run("attributes from latest interval", func(t *testing.T) {
		last := interval(9, 20, 2.5)
		usage := &models.DailyUsage{
			Electricity: []models.Interval{interval(8, 19, 2.4), last},
			Rates:       rates,
		}
		v := New(&staticProvider{usage: usage}, testAccount, Descriptions[3])

		attrs := v.Attributes()
		require.NotNil(t, attrs)
		assert.Equal(t, last.Start, attrs.StartTime)
		assert.Equal(t, last.End, attrs.EndTime)
	})
}

func TestMissingAmountsAreUnknown(t *testing.T) {
	noCost := interval(6, 14, 0)
	noCost.Cost = nil
	usage := &models.DailyUsage{
		Electricity: []models.Interval{noCost},
		Rates:       &models.RateEstimate{EstimatedCost: models.Float(55.1)},
	}
	views := viewsByKey(NewAll(&staticProvider{usage: usage}, testAccount))

	val, known := views["latest_usage"].Value()
	require.True(t, known)
	assert.Equal(t, 14.0, val)

	_, known = views["latest_cost"].Value()
	assert.False(t, known, "interval without cost")

	_, known = views["estimated_usage"].Value()
	assert.False(t, known, "rates without estimated consumption")

	val, known = views["estimated_cost"].Value()
	require.True(t, known)
	assert.Equal(t, 55.1, val)
}

func TestLastReset(t *testing.T) {
	last := interval(5, 11, 1.4)
	usage := &models.DailyUsage{
		Electricity: []models.Interval{interval(4, 9, 1.1), last},
		Rates:       &models.RateEstimate{EstimatedConsumption: models.Float(300), EstimatedCost: models.Float(40)},
	}

	for _, v := range NewAll(&staticProvider{usage: usage}, testAccount) {
		reset, ok := v.LastReset()
		switch v.StateClass {
		case StateClassTotal:
			require.True(t, ok, v.Key)
			assert.Equal(t, last.End, reset, v.Key)
		case StateClassMeasurement:
			assert.False(t, ok, v.Key)
		}
	}
}

func TestUniqueIDs(t *testing.T) {
	views := NewAll(&staticProvider{}, testAccount)
	require.Len(t, views, 4)

	seen := make(map[string]bool)
	for _, v := range views {
		id := v.UniqueID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	assert.True(t, seen["12345_latest_usage"])
	assert.True(t, seen["12345_latest_cost"])
	assert.True(t, seen["12345_estimated_usage"])
	assert.True(t, seen["12345_estimated_cost"])

	again := NewAll(&staticProvider{}, testAccount)
	for i := range views {
		assert.Equal(t, views[i].UniqueID(), again[i].UniqueID())
	}
}

func TestDisplayMetadata(t *testing.T) {
	views := viewsByKey(NewAll(&staticProvider{}, testAccount))

	assert.Equal(t, "kWh", views["latest_usage"].Unit)
	assert.Equal(t, DeviceClassEnergy, views["latest_usage"].DeviceClass)
	assert.Equal(t, StateClassTotal, views["latest_usage"].StateClass)

	assert.Equal(t, "$", views["estimated_cost"].Unit)
	assert.Equal(t, "mdi:currency-usd", views["estimated_cost"].Icon)
	assert.Equal(t, DeviceClassMonetary, views["estimated_cost"].DeviceClass)
	assert.Equal(t, StateClassMeasurement, views["estimated_cost"].StateClass)
}

func TestSnapshotReplacement(t *testing.T) {
	p := &staticProvider{usage: &models.DailyUsage{
		Electricity: []models.Interval{interval(1, 10, 1)},
		Rates:       &models.RateEstimate{EstimatedConsumption: models.Float(100), EstimatedCost: models.Float(10)},
	}}
	views := viewsByKey(NewAll(p, testAccount))

	val, _ := views["latest_usage"].Value()
	assert.Equal(t, 10.0, val)

	// New snapshot without rates: nothing from the old one may leak through
	p.usage = &models.DailyUsage{
		Electricity: []models.Interval{interval(2, 22, 3)},
	}

	val, known := views["latest_usage"].Value()
	require.True(t, known)
	assert.Equal(t, 22.0, val)
	assert.Equal(t, interval(2, 22, 3).Start, views["latest_usage"].Attributes().StartTime)

	_, known = views["estimated_usage"].Value()
	assert.False(t, known)
	_, known = views["estimated_cost"].Value()
	assert.False(t, known)
}

func TestStateReadsOneSnapshot(t *testing.T) {
	last := interval(7, 13, 1.6)
	p := &staticProvider{usage: &models.DailyUsage{Electricity: []models.Interval{last}}}
	v := New(p, testAccount, Descriptions[0])

	s := v.State()
	assert.True(t, s.Known)
	assert.Equal(t, 13.0, s.Value)
	require.NotNil(t, s.Attributes)
	require.NotNil(t, s.LastReset)
	assert.Equal(t, last.End, *s.LastReset)
}
