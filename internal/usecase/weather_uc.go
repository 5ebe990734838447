package usecase

import (
	"context"
	"errors"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/domain/ports/adapter"
	"telegram-weather-bot/internal/infra/i18n"
	"telegram-weather-bot/internal/infra/logging"

	"github.com/rs/zerolog"
)

var _ WeatherUseCase = (*weatherUC)(nil)

type WeatherUseCase interface {
	// Lookup returns the report or a *domain.LookupError.
	Lookup(ctx context.Context, city string) (*model.WeatherReport, error)
	// Describe always yields user-facing text: the summary, or the rendered
	// lookup failure.
	Describe(ctx context.Context, city string) string
	// DescribeAll runs Describe for each city in order.
	DescribeAll(ctx context.Context, cities []string) []string
}

type weatherUC struct {
	provider adapter.WeatherProvider
	tr       *i18n.Translator
	log      *zerolog.Logger
}

func NewWeatherUseCase(provider adapter.WeatherProvider, tr *i18n.Translator, logger *zerolog.Logger) *weatherUC {
	return &weatherUC{provider: provider, tr: tr, log: logger}
}

func (w *weatherUC) Lookup(ctx context.Context, city string) (*model.WeatherReport, error) {
	defer logging.TraceDuration(w.log, "WeatherUC.Lookup")()
	rep, err := w.provider.Fetch(ctx, city)
	if err != nil {
		var lerr *domain.LookupError
		if !errors.As(err, &lerr) {
			err = &domain.LookupError{City: city, Err: err}
		}
		return nil, err
	}
	return rep, nil
}

func (w *weatherUC) Describe(ctx context.Context, city string) string {
	rep, err := w.Lookup(ctx, city)
	if err != nil {
		return w.renderFailure(city, err)
	}
	return rep.Summary()
}

func (w *weatherUC) DescribeAll(ctx context.Context, cities []string) []string {
	out := make([]string, 0, len(cities))
	for _, c := range cities {
		out = append(out, w.Describe(ctx, c))
	}
	return out
}

func (w *weatherUC) renderFailure(city string, err error) string {
	var lerr *domain.LookupError
	if errors.As(err, &lerr) {
		if lerr.IsRejected() {
			return w.tr.T("lookup_rejected", city)
		}
		return w.tr.T("lookup_failed", lerr.Err.Error())
	}
	return w.tr.T("lookup_failed", err.Error())
}
