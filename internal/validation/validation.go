package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// ErrLatitudeRequired is returned when the lat query parameter is missing.
var ErrLatitudeRequired = errors.New("lat is required")

// ErrLongitudeRequired is returned when the lon query parameter is missing.
var ErrLongitudeRequired = errors.New("lon is required")

// ErrUnitRequired is returned when the unit query parameter is missing.
var ErrUnitRequired = errors.New("unit is required")

// ErrLatitudeInvalid is returned when lat is not a finite number.
var ErrLatitudeInvalid = errors.New("lat must be a number")

// ErrLongitudeInvalid is returned when lon is not a finite number.
var ErrLongitudeInvalid = errors.New("lon must be a number")

// ErrLatitudeRange is returned when lat is outside [-90, 90].
var ErrLatitudeRange = errors.New("lat must be between -90 and 90")

// ErrLongitudeRange is returned when lon is outside [-180, 180].
var ErrLongitudeRange = errors.New("lon must be between -180 and 180")

// ErrUnitInvalid is returned when unit is neither "C" nor "F".
var ErrUnitInvalid = errors.New("unit must be C or F")

// ParseLatitude validates the lat query parameter. All input errors are
// rejected here, before any cache or network work begins.
func ParseLatitude(input string) (float64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, ErrLatitudeRequired
	}
	lat, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return 0, ErrLatitudeInvalid
	}
	if lat < -90 || lat > 90 {
		return 0, ErrLatitudeRange
	}
	return lat, nil
}

// ParseLongitude validates the lon query parameter.
func ParseLongitude(input string) (float64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, ErrLongitudeRequired
	}
	lon, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return 0, ErrLongitudeInvalid
	}
	if lon < -180 || lon > 180 {
		return 0, ErrLongitudeRange
	}
	return lon, nil
}

// ParseUnit validates the unit query parameter.
func ParseUnit(input string) (models.TemperatureUnit, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrUnitRequired
	}
	unit, ok := models.ParseUnit(s)
	if !ok {
		return "", ErrUnitInvalid
	}
	return unit, nil
}
