package models

import "time"

// TemperatureUnit selects the unit applied to a response copy.
// Stored records are always Celsius.
type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "C"
	Fahrenheit TemperatureUnit = "F"
)

// Weather is a fully assembled weather-plus-place observation for one
// location key. Temperature fields are canonical Celsius; conversion to
// other units happens only on response copies via InUnit.
type Weather struct {
	ID                       string    `json:"id"`
	Location                 string    `json:"location"`
	Temperature2m            float64   `json:"temperature_2m"`
	WindSpeed10m             float64   `json:"wind_speed_10m"`
	WeatherCode              int       `json:"weather_code"`
	RelativeHumidity2m       float64   `json:"relative_humidity_2m"`
	ApparentTemperature      float64   `json:"apparent_temperature"`
	PrecipitationProbability float64   `json:"precipitation_probability"`
	CreatedAt                time.Time `json:"created_at"`
}

// Age returns how long ago the record was created.
func (w Weather) Age(now time.Time) time.Duration {
	return now.Sub(w.CreatedAt)
}

// Fresh reports whether the record is younger than ttl at now.
func (w Weather) Fresh(now time.Time, ttl time.Duration) bool {
	return w.Age(now) < ttl
}

// InUnit returns a copy of the record with temperature_2m converted to
// the requested unit. Only that field converts; apparent_temperature
// stays Celsius. The receiver is never mutated; Celsius returns the
// record unchanged.
func (w Weather) InUnit(unit TemperatureUnit) Weather {
	if unit != Fahrenheit {
		return w
	}
	w.Temperature2m = CelsiusToFahrenheit(w.Temperature2m)
	return w
}

// CelsiusToFahrenheit converts a Celsius temperature to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// ParseUnit validates a unit query parameter value ("C" or "F").
func ParseUnit(s string) (TemperatureUnit, bool) {
	switch TemperatureUnit(s) {
	case Celsius:
		return Celsius, true
	case Fahrenheit:
		return Fahrenheit, true
	}
	return "", false
}
