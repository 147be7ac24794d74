package bchydro

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"github.com/jgoulah/bchydro/pkg/models"
)

// BC Hydro reports local (Pacific) times
var pacific = func() *time.Location {
	loc, err := time.LoadLocation("America/Vancouver")
	if err != nil {
		panic(fmt.Errorf("failed to load pacific time location: %w", err))
	}
	return loc
}()

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05"

	pointTypeActual = "ACTUAL"
)

type consumptionXML struct {
	XMLName xml.Name    `xml:"Consumption"`
	Series  []seriesXML `xml:"Series"`
	Rates   *ratesXML   `xml:"Rates"`
}

type seriesXML struct {
	Name   string     `xml:"name,attr"`
	Points []pointXML `xml:"Point"`
}

type pointXML struct {
	Type     string `xml:"type,attr"`
	Quality  string `xml:"quality,attr"`
	DateTime string `xml:"dateTime,attr"`
	EndTime  string `xml:"endTime,attr"`
	Value    string `xml:"value,attr"`
	Cost     string `xml:"cost,attr"`
}

type ratesXML struct {
	BillingPeriodStart   string `xml:"billingPeriodStart,attr"`
	BillingPeriodEnd     string `xml:"billingPeriodEnd,attr"`
	ConsumptionToDate    string `xml:"consumptionToDate,attr"`
	CostToDate           string `xml:"costToDate,attr"`
	EstimatedConsumption string `xml:"estimatedConsumption,attr"`
	EstimatedCost        string `xml:"estimatedCost,attr"`
}

// parseUsage converts the consumption XML into a snapshot, keeping only actual readings
func parseUsage(data []byte, fetchedAt time.Time) (*models.DailyUsage, error) {
	var doc consumptionXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding usage xml: %w", err)
	}

	usage := &models.DailyUsage{FetchedAt: fetchedAt}

	for _, series := range doc.Series {
		for _, p := range series.Points {
			// A point without a value is not a reading
			if p.Type != pointTypeActual || strings.TrimSpace(p.Value) == "" {
				continue
			}

			interval, err := p.interval()
			if err != nil {
				return nil, fmt.Errorf("parsing point %s: %w", p.DateTime, err)
			}
			usage.Electricity = append(usage.Electricity, interval)
		}
	}

	sort.SliceStable(usage.Electricity, func(i, j int) bool {
		return usage.Electricity[i].Start.Before(usage.Electricity[j].Start)
	})

	if doc.Rates != nil && doc.Rates.hasEstimate() {
		rates, err := doc.Rates.estimate()
		if err != nil {
			return nil, fmt.Errorf("parsing rates: %w", err)
		}
		usage.Rates = rates
	}

	return usage, nil
}

func (p pointXML) interval() (models.Interval, error) {
	start, err := parseTime(p.DateTime)
	if err != nil {
		return models.Interval{}, fmt.Errorf("start time: %w", err)
	}

	var end time.Time
	if p.EndTime != "" {
		end, err = parseTime(p.EndTime)
		if err != nil {
			return models.Interval{}, fmt.Errorf("end time: %w", err)
		}
	} else {
		// Daily granularity when no end is reported
		end = start.AddDate(0, 0, 1)
	}

	consumption, err := parseAmount(p.Value)
	if err != nil {
		return models.Interval{}, fmt.Errorf("value: %w", err)
	}
	cost, err := parseOptionalAmount(p.Cost)
	if err != nil {
		return models.Interval{}, fmt.Errorf("cost: %w", err)
	}

	return models.Interval{
		Start:       start,
		End:         end,
		Consumption: consumption,
		Cost:        cost,
	}, nil
}

func (r ratesXML) hasEstimate() bool {
	return strings.TrimSpace(r.EstimatedConsumption) != "" || strings.TrimSpace(r.EstimatedCost) != ""
}

func (r ratesXML) estimate() (*models.RateEstimate, error) {
	var (
		est models.RateEstimate
		err error
	)

	if r.BillingPeriodStart != "" {
		if est.PeriodStart, err = parseTime(r.BillingPeriodStart); err != nil {
			return nil, fmt.Errorf("billing period start: %w", err)
		}
	}
	if r.BillingPeriodEnd != "" {
		if est.PeriodEnd, err = parseTime(r.BillingPeriodEnd); err != nil {
			return nil, fmt.Errorf("billing period end: %w", err)
		}
	}

	amounts := []struct {
		name string
		raw  string
		dst  **float64
	}{
		{"consumption to date", r.ConsumptionToDate, &est.ConsumptionToDate},
		{"cost to date", r.CostToDate, &est.CostToDate},
		{"estimated consumption", r.EstimatedConsumption, &est.EstimatedConsumption},
		{"estimated cost", r.EstimatedCost, &est.EstimatedCost},
	}
	for _, a := range amounts {
		if *a.dst, err = parseOptionalAmount(a.raw); err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
	}

	return &est, nil
}

// parseAmount accepts plain numbers and currency strings like "$1,234.56"
func parseAmount(s string) (float64, error) {
	v, err := parseOptionalAmount(s)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("missing amount")
	}
	return *v, nil
}

// parseOptionalAmount is parseAmount for attributes the API may leave out; empty is nil
func parseOptionalAmount(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return models.Float(d.Round(4).InexactFloat64()), nil
}

// parseTime accepts RFC3339, zone-less local timestamps and plain dates
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dateTimeLayout, s, pacific); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, pacific); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time format: %s", s)
}

// accountJSON is the account section of the global data endpoint
type accountJSON struct {
	Slid         string `json:"evpSlid"`
	Account      string `json:"evpAccount"`
	BillingStart string `json:"evpBillingStart"`
	BillingEnd   string `json:"evpBillingEnd"`
}

func parseAccount(data []byte) (models.Account, error) {
	var raw accountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Account{}, fmt.Errorf("decoding account json: %w", err)
	}
	if raw.Slid == "" {
		return models.Account{}, fmt.Errorf("account response has no evpSlid")
	}

	acc := models.Account{
		ID:     raw.Slid,
		Number: raw.Account,
	}

	var err error
	if raw.BillingStart != "" {
		if acc.BillingStart, err = parseTime(raw.BillingStart); err != nil {
			return models.Account{}, fmt.Errorf("billing start: %w", err)
		}
	}
	if raw.BillingEnd != "" {
		if acc.BillingEnd, err = parseTime(raw.BillingEnd); err != nil {
			return models.Account{}, fmt.Errorf("billing end: %w", err)
		}
	}

	return acc, nil
}
