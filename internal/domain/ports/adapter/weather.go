package adapter

import (
	"context"

	"telegram-weather-bot/internal/domain/model"
)

// WeatherProvider looks up current conditions for a city. Failures are
// reported as *domain.LookupError.
type WeatherProvider interface {
	Fetch(ctx context.Context, city string) (*model.WeatherReport, error)
}
