package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestConditionLabels_MatchClientTable(t *testing.T) {
	want := map[Condition]string{
		"snow":    "Snow",
		"wind":    "Windy",
		"rain":    "Rain",
		"thunder": "Storms",
		"sun":     "Sunny",
	}
	if len(Conditions) != len(want) {
		t.Fatalf("len(Conditions) = %d, want %d", len(Conditions), len(want))
	}
	for _, c := range Conditions {
		if got := c.Label(); got != want[c] {
			t.Errorf("%s.Label() = %q, want %q", c, got, want[c])
		}
	}
}

func TestCondition_Valid(t *testing.T) {
	for _, c := range Conditions {
		if !c.Valid() {
			t.Errorf("%s.Valid() = false, want true", c)
		}
	}
	for _, c := range []Condition{"hail", "Snow", ""} {
		if c.Valid() {
			t.Errorf("%q.Valid() = true, want false", c)
		}
	}
}

func TestForecastReading_JSONShape(t *testing.T) {
	r := ForecastReading{
		Date:               DateOf(time.Date(2026, time.March, 7, 23, 59, 0, 0, time.UTC)),
		TemperatureCelsius: 21,
		ConditionCode:      ConditionRain,
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"date":"2026-03-07","temperatureCelsius":21,"conditionCode":"rain"}`
	if string(b) != want {
		t.Errorf("Marshal = %s, want %s", b, want)
	}

	var back ForecastReading
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != r {
		t.Errorf("round trip = %+v, want %+v", back, r)
	}
}

func TestDate_UnmarshalRejectsTimestamps(t *testing.T) {
	var d Date
	if err := json.Unmarshal([]byte(`"2026-03-07T10:00:00Z"`), &d); err == nil {
		t.Error("Unmarshal accepted a timestamp, want date-only")
	}
}

func TestConditionTable_Order(t *testing.T) {
	table := ConditionTable()
	for i, info := range table {
		if info.Code != Conditions[i] {
			t.Errorf("table[%d].Code = %q, want %q", i, info.Code, Conditions[i])
		}
		if info.Label == "" {
			t.Errorf("table[%d].Label empty", i)
		}
	}
}
