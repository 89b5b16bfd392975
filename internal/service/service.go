package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
)

const (
	DefaultMinTemperatureC = 15
	DefaultMaxTemperatureC = 35
)

// ForecastService builds randomized forecast readings. It holds no per-request state;
// the random source is the only shared resource.
type ForecastService struct {
	rand    RandomSource
	now     func() time.Time
	minTemp int
	maxTemp int // exclusive
}

// Option configures a ForecastService.
type Option func(*ForecastService)

// WithClock overrides the time source used for the reading date.
func WithClock(now func() time.Time) Option {
	return func(s *ForecastService) { s.now = now }
}

// WithTemperatureRange sets the half-open range [minC, maxC) for sampled temperatures.
// Ignored when maxC <= minC.
func WithTemperatureRange(minC, maxC int) Option {
	return func(s *ForecastService) {
		if maxC > minC {
			s.minTemp, s.maxTemp = minC, maxC
		}
	}
}

// NewForecastService returns a ForecastService drawing from src. A nil src uses GlobalSource.
func NewForecastService(src RandomSource, opts ...Option) *ForecastService {
	if src == nil {
		src = GlobalSource{}
	}
	s := &ForecastService{
		rand:    src,
		now:     time.Now,
		minTemp: DefaultMinTemperatureC,
		maxTemp: DefaultMaxTemperatureC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// loggerFromContext extracts the request-scoped logger stored by CorrelationIDMiddleware.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// Forecast returns a new reading dated today (server local time). Returns ctx.Err()
// when the request was abandoned before generation.
func (s *ForecastService) Forecast(ctx context.Context) (models.ForecastReading, error) {
	if err := ctx.Err(); err != nil {
		return models.ForecastReading{}, err
	}
	reading := models.ForecastReading{
		Date:               models.DateOf(s.now()),
		TemperatureCelsius: s.minTemp + s.rand.IntN(s.maxTemp-s.minTemp),
		ConditionCode:      models.Conditions[s.rand.IntN(len(models.Conditions))],
	}
	observability.RecordForecastServed(string(reading.ConditionCode))
	if logger := loggerFromContext(ctx); logger != nil {
		logger.Debug("forecast generated",
			zap.Stringer("date", reading.Date),
			zap.Int("temperature_c", reading.TemperatureCelsius),
			zap.String("condition", string(reading.ConditionCode)))
	}
	return reading, nil
}

// TemperatureRange returns the configured [min, max) range in Celsius.
func (s *ForecastService) TemperatureRange() (minC, maxC int) {
	return s.minTemp, s.maxTemp
}
