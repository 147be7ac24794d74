// Package sensor exposes a BC Hydro usage snapshot as four read-only sensor views.
package sensor

import (
	"time"

	"github.com/jgoulah/bchydro/pkg/models"
)

// Device and state classes understood by Home Assistant
const (
	DeviceClassEnergy   = "energy"
	DeviceClassMonetary = "monetary"

	StateClassTotal       = "total"
	StateClassMeasurement = "measurement"
)

// SnapshotProvider returns the most recently fetched usage, or nil if nothing has been fetched yet
type SnapshotProvider interface {
	Snapshot() *models.DailyUsage
}

// Description is the static configuration of one view kind
type Description struct {
	Key         string // Suffix of the unique id, e.g. "latest_usage"
	Name        string
	Icon        string
	Unit        string
	DeviceClass string
	StateClass  string

	// value picks the reading out of a non-nil snapshot
	value func(u *models.DailyUsage) (float64, bool)
}

// HasReset reports whether the view accumulates since a reset point
func (d Description) HasReset() bool {
	return d.StateClass == StateClassTotal
}

func latestConsumption(u *models.DailyUsage) (float64, bool) {
	if r := u.Latest(); r != nil {
		return r.Consumption, true
	}
	return 0, false
}

func latestCost(u *models.DailyUsage) (float64, bool) {
	if r := u.Latest(); r != nil {
		return optional(r.Cost)
	}
	return 0, false
}

func estimatedConsumption(u *models.DailyUsage) (float64, bool) {
	if u.Rates == nil {
		return 0, false
	}
	return optional(u.Rates.EstimatedConsumption)
}

func estimatedCost(u *models.DailyUsage) (float64, bool) {
	if u.Rates == nil {
		return 0, false
	}
	return optional(u.Rates.EstimatedCost)
}

func optional(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Descriptions lists the four views in registration order
var Descriptions = []Description{
	{
		Key:         "latest_usage",
		Name:        "BCHydro Latest Usage Reading",
		Icon:        "mdi:flash",
		Unit:        "kWh",
		DeviceClass: DeviceClassEnergy,
		StateClass:  StateClassTotal,
		value:       latestConsumption,
	},
	{
		Key:         "latest_cost",
		Name:        "BCHydro Latest Cost Reading",
		Icon:        "mdi:currency-usd",
		Unit:        "$",
		DeviceClass: DeviceClassMonetary,
		StateClass:  StateClassTotal,
		value:       latestCost,
	},
	{
		Key:         "estimated_usage",
		Name:        "BCHydro Estimated Usage Reading",
		Icon:        "mdi:flash",
		Unit:        "kWh",
		DeviceClass: DeviceClassEnergy,
		StateClass:  StateClassMeasurement,
		value:       estimatedConsumption,
	},
	{
		Key:         "estimated_cost",
		Name:        "BCHydro Estimated Cost Reading",
		Icon:        "mdi:currency-usd",
		Unit:        "$",
		DeviceClass: DeviceClassMonetary,
		StateClass:  StateClassMeasurement,
		value:       estimatedCost,
	},
}

// Attributes are the auxiliary attributes shown alongside a reading
type Attributes struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// State is everything a view displays, read from a single snapshot
type State struct {
	Value      float64
	Known      bool
	Attributes *Attributes // nil when absent
	LastReset  *time.Time  // nil when absent or for measurement views
}

// View is one sensor over the coordinator's snapshot. It holds no data of its own.
type View struct {
	Description
	account  models.Account
	provider SnapshotProvider
}

// New builds a single view
func New(provider SnapshotProvider, account models.Account, desc Description) *View {
	return &View{
		Description: desc,
		account:     account,
		provider:    provider,
	}
}

// NewAll builds the four views for an account
func NewAll(provider SnapshotProvider, account models.Account) []*View {
	views := make([]*View, 0, len(Descriptions))
	for _, desc := range Descriptions {
		views = append(views, New(provider, account, desc))
	}
	return views
}

// UniqueID returns the stable identity key "{account_id}_{view_name}"
func (v *View) UniqueID() string {
	return v.account.ID + "_" + v.Key
}

// Account returns the account the view was built for
func (v *View) Account() models.Account {
	return v.account
}

// Value returns the current reading; false means unknown
func (v *View) Value() (float64, bool) {
	return v.stateOf(v.provider.Snapshot()).valueTuple()
}

// Attributes returns the start/end of the latest interval record, or nil
func (v *View) Attributes() *Attributes {
	return v.stateOf(v.provider.Snapshot()).Attributes
}

// LastReset returns the accumulation reset point for total views
func (v *View) LastReset() (time.Time, bool) {
	s := v.stateOf(v.provider.Snapshot())
	if s.LastReset == nil {
		return time.Time{}, false
	}
	return *s.LastReset, true
}

// State reads value, attributes and reset marker from one snapshot
func (v *View) State() State {
	return v.stateOf(v.provider.Snapshot())
}

func (s State) valueTuple() (float64, bool) {
	return s.Value, s.Known
}

func (v *View) stateOf(usage *models.DailyUsage) State {
	if usage == nil {
		return State{}
	}

	var s State
	s.Value, s.Known = v.value(usage)
	if !s.Known {
		return State{}
	}

	// Estimated views reuse the latest interval's timestamps rather than the rate period
	if latest := usage.Latest(); latest != nil {
		s.Attributes = &Attributes{
			StartTime: latest.Start,
			EndTime:   latest.End,
		}
		if v.HasReset() {
			end := latest.End
			s.LastReset = &end
		}
	}

	return s
}
