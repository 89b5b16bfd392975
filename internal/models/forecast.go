package models

import (
	"fmt"
	"strings"
	"time"
)

// Condition is the weather category code shared by the service and the display client.
type Condition string

const (
	ConditionSnow    Condition = "snow"
	ConditionWind    Condition = "wind"
	ConditionRain    Condition = "rain"
	ConditionThunder Condition = "thunder"
	ConditionSun     Condition = "sun"
)

// Conditions lists every condition in the order the display client cycles through them.
// The forecast generator samples uniformly from this slice.
var Conditions = []Condition{
	ConditionSnow,
	ConditionWind,
	ConditionRain,
	ConditionThunder,
	ConditionSun,
}

var conditionLabels = map[Condition]string{
	ConditionSnow:    "Snow",
	ConditionWind:    "Windy",
	ConditionRain:    "Rain",
	ConditionThunder: "Storms",
	ConditionSun:     "Sunny",
}

// Label returns the human-readable name shown by the display client.
func (c Condition) Label() string {
	return conditionLabels[c]
}

// Valid reports whether c is one of the enumerated conditions.
func (c Condition) Valid() bool {
	_, ok := conditionLabels[c]
	return ok
}

// ConditionInfo is the wire form of one entry in the condition table.
type ConditionInfo struct {
	Code  Condition `json:"code"`
	Label string    `json:"label"`
}

// ConditionTable returns the code/label pairs in Conditions order.
func ConditionTable() []ConditionInfo {
	out := make([]ConditionInfo, 0, len(Conditions))
	for _, c := range Conditions {
		out = append(out, ConditionInfo{Code: c, Label: c.Label()})
	}
	return out
}

// Date is a calendar date without a time-of-day component. JSON form is "YYYY-MM-DD".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", s, err)
	}
	*d = DateOf(t)
	return nil
}

// ForecastReading is one randomly generated forecast. Built per request and never mutated.
type ForecastReading struct {
	Date               Date      `json:"date"`
	TemperatureCelsius int       `json:"temperatureCelsius"`
	ConditionCode      Condition `json:"conditionCode"`
}
