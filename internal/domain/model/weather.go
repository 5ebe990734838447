package model

import (
	"fmt"
	"strconv"
)

// WeatherReport is the decoded current-conditions answer for one city.
type WeatherReport struct {
	City        string
	Description string
	TempC       float64
}

// Summary renders the single-line text shown to users, e.g.
// "Weather in Mumbai: haze, Temperature: 30°C".
func (w WeatherReport) Summary() string {
	return fmt.Sprintf("Weather in %s: %s, Temperature: %s°C",
		w.City, w.Description, strconv.FormatFloat(w.TempC, 'f', -1, 64))
}
