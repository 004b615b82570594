package models

import (
	"errors"
	"testing"
	"time"
)

// TestCountdownMinutes verifies the countdown changes on wall-clock minute boundaries.
func TestCountdownMinutes(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	at := base.Add(5*time.Minute + 10*time.Second)
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"start of minute", base, 5},
		{"end of minute", base.Add(59 * time.Second), 5},
		{"next minute", base.Add(time.Minute), 4},
		{"same minute", at.Add(-5 * time.Second), 0},
		{"departed", at.Add(time.Minute), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountdownMinutes(at, tt.now); got != tt.want {
				t.Errorf("CountdownMinutes() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestArrivalEntry_Age verifies aging recomputes minutes from the scheduled time only.
func TestArrivalEntry_Age(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)
	a := ArrivalEntry{RouteID: "F", MinutesUntilArrival: 9, ScheduledTime: now.Add(3 * time.Minute)}
	if got := a.Age(now).MinutesUntilArrival; got != 3 {
		t.Errorf("Age() minutes = %d, want 3", got)
	}
	if a.MinutesUntilArrival != 9 {
		t.Error("Age() must not mutate the receiver")
	}
	unscheduled := ArrivalEntry{MinutesUntilArrival: 7}
	if got := unscheduled.Age(now).MinutesUntilArrival; got != 7 {
		t.Errorf("Age() without scheduled time = %d, want 7", got)
	}
}

// TestConditionFromWMO verifies representative WMO codes map to the expected condition.
func TestConditionFromWMO(t *testing.T) {
	tests := []struct {
		code int
		want Condition
	}{
		{0, ConditionClear},
		{1, ConditionMainlyClear},
		{2, ConditionPartlyCloudy},
		{3, ConditionOvercast},
		{48, ConditionFog},
		{53, ConditionDrizzle},
		{65, ConditionRain},
		{81, ConditionShowers},
		{86, ConditionSnow},
		{99, ConditionThunderstorm},
		{42, ConditionUnknown},
	}
	for _, tt := range tests {
		if got := ConditionFromWMO(tt.code); got != tt.want {
			t.Errorf("ConditionFromWMO(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if DescribeWMO(96) != "Thunderstorm with hail" {
		t.Errorf("DescribeWMO(96) = %q", DescribeWMO(96))
	}
	if DescribeWMO(1000) != "Unknown" {
		t.Errorf("DescribeWMO(1000) = %q, want Unknown", DescribeWMO(1000))
	}
}

func validSnapshot() WeatherSnapshot {
	return WeatherSnapshot{
		CurrentTemp: 61,
		Hourly: []HourlyForecast{
			{HourOffset: 0, PrecipitationProbability: 0.1},
			{HourOffset: 1, PrecipitationProbability: 0.4},
		},
		Daily: []DailyForecast{{DayOffset: 0}, {DayOffset: 1}, {DayOffset: 2}},
	}
}

// TestWeatherSnapshot_Validate checks each snapshot invariant is enforced.
func TestWeatherSnapshot_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WeatherSnapshot)
		wantErr error
	}{
		{"valid", func(*WeatherSnapshot) {}, nil},
		{"empty hourly", func(w *WeatherSnapshot) { w.Hourly = nil }, ErrNoHourlyForecast},
		{"repeated offset", func(w *WeatherSnapshot) { w.Hourly[1].HourOffset = 0 }, ErrHourlyOrder},
		{"precipitation above one", func(w *WeatherSnapshot) { w.Hourly[0].PrecipitationProbability = 40 }, ErrPrecipitationRange},
		{"negative current precipitation", func(w *WeatherSnapshot) { w.CurrentPrecipitation = -0.1 }, ErrCurrentPrecipitation},
		{"four days", func(w *WeatherSnapshot) { w.Daily = append(w.Daily, DailyForecast{DayOffset: 3}) }, ErrTooManyDailyForecasts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := validSnapshot()
			tt.mutate(&w)
			err := w.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestPrecipitationQuantized verifies 0/1-only hourly data is detected.
func TestPrecipitationQuantized(t *testing.T) {
	flags := []HourlyForecast{{HourOffset: 0}, {HourOffset: 1, PrecipitationProbability: 1}, {HourOffset: 2}}
	if !PrecipitationQuantized(flags) {
		t.Error("PrecipitationQuantized() = false for 0/1 data, want true")
	}
	if PrecipitationQuantized(validSnapshot().Hourly) {
		t.Error("PrecipitationQuantized() = true for continuous data, want false")
	}
	if PrecipitationQuantized(flags[:1]) {
		t.Error("PrecipitationQuantized() = true for a single hour, want false")
	}
}
