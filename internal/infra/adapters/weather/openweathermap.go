package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/domain/ports/adapter"
	"telegram-weather-bot/internal/infra/metrics"
)

var _ adapter.WeatherProvider = (*OpenWeatherMapClient)(nil)

// OpenWeatherMapClient calls the current-weather endpoint. The API key is
// resolved per call so a settings update applies to the next lookup.
type OpenWeatherMapClient struct {
	http    *http.Client
	baseURL string
	units   string
	apiKey  func() string
	log     *zerolog.Logger
}

func NewOpenWeatherMapClient(baseURL, units string, apiKey func() string, httpClient *http.Client, logger *zerolog.Logger) *OpenWeatherMapClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if units == "" {
		units = "metric"
	}
	l := logger.With().Str("component", "OpenWeatherMap").Logger()
	return &OpenWeatherMapClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		units:   units,
		apiKey:  apiKey,
		log:     &l,
	}
}

type owmResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
}

func (c *OpenWeatherMapClient) Fetch(ctx context.Context, city string) (*model.WeatherReport, error) {
	if strings.TrimSpace(city) == "" {
		return nil, &domain.LookupError{City: city, Err: errors.New("empty city name")}
	}
	start := time.Now()
	report, err := c.fetch(ctx, city)
	elapsed := time.Since(start)

	var lerr *domain.LookupError
	switch {
	case err == nil:
		metrics.ObserveWeatherLookup("ok", elapsed)
		c.log.Debug().Str("city", city).Str("description", report.Description).Float64("temp_c", report.TempC).Msg("weather fetched")
	case errors.As(err, &lerr) && lerr.IsRejected():
		metrics.ObserveWeatherLookup("rejected", elapsed)
		c.log.Warn().Str("city", city).Int("status", lerr.StatusCode).Msg("weather lookup rejected")
	default:
		metrics.ObserveWeatherLookup("failed", elapsed)
		c.log.Error().Err(err).Str("city", city).Msg("weather lookup failed")
	}
	return report, err
}

func (c *OpenWeatherMapClient) fetch(ctx context.Context, city string) (*model.WeatherReport, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey())
	q.Set("units", c.units)
	endpoint := c.baseURL + "/data/2.5/weather?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.LookupError{City: city, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.LookupError{City: city, Err: redactKey(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &domain.LookupError{City: city, StatusCode: resp.StatusCode}
	}

	var body owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &domain.LookupError{City: city, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(body.Weather) == 0 || body.Main.Temp == nil {
		return nil, &domain.LookupError{City: city, Err: errors.New("response is missing weather or main.temp")}
	}
	return &model.WeatherReport{
		City:        city,
		Description: body.Weather[0].Description,
		TempC:       *body.Main.Temp,
	}, nil
}

// redactKey strips the request URL (which carries appid) from transport
// errors before they reach users or logs.
func redactKey(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s request failed: %w", uerr.Op, uerr.Err)
	}
	return err
}
