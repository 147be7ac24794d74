package models

import "time"

// Account identifies a BC Hydro account
type Account struct {
	ID           string    `json:"evpSlid"`         // Stable account identifier used in sensor keys
	Number       string    `json:"evpAccount"`      // Account number as printed on the bill
	BillingStart time.Time `json:"evpBillingStart"` // Start of the current billing period
	BillingEnd   time.Time `json:"evpBillingEnd"`
}

// Interval represents a single billing/reading interval
type Interval struct {
	Start       time.Time `json:"start_time"`
	End         time.Time `json:"end_time"`
	Consumption float64   `json:"consumption"`    // kWh
	Cost        *float64  `json:"cost,omitempty"` // $, nil when not reported
}

// RateEstimate holds the projection for the current, not yet billed period.
// Amounts the API did not report are nil.
type RateEstimate struct {
	PeriodStart          time.Time `json:"period_start"`
	PeriodEnd            time.Time `json:"period_end"`
	ConsumptionToDate    *float64  `json:"consumption_to_date,omitempty"`
	CostToDate           *float64  `json:"cost_to_date,omitempty"`
	EstimatedConsumption *float64  `json:"estimated_consumption,omitempty"`
	EstimatedCost        *float64  `json:"estimated_cost,omitempty"`
}

// DailyUsage is one fetched usage payload for an account.
// It is replaced wholesale on every refresh and must not be mutated after creation.
type DailyUsage struct {
	Electricity []Interval    `json:"electricity"` // Ordered oldest first
	Rates       *RateEstimate `json:"rates,omitempty"`
	FetchedAt   time.Time     `json:"fetched_at"`
}

// Latest returns the most recent interval record, or nil if there are none
func (u *DailyUsage) Latest() *Interval {
	if u == nil || len(u.Electricity) == 0 {
		return nil
	}
	return &u.Electricity[len(u.Electricity)-1]
}

// Float returns a pointer to v, for optional amounts
func Float(v float64) *float64 {
	return &v
}
