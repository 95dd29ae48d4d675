package market_hours

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/database"
)

// Service answers the two clock questions the engine asks: is t inside
// today's trading window, and when does today's window close.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new market hours service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "market_hours").Logger(),
	}
}

// IsWithinWindow reports whether t falls inside the configured window
// for its weekday. Days with no row are closed. Bounds are inclusive.
func (s *Service) IsWithinWindow(q database.Querier, t time.Time) (bool, error) {
	wh, err := s.repo.Get(q, t.Weekday().String())
	if err != nil {
		return false, err
	}
	if wh == nil {
		return false, nil
	}

	openMin, err := parseClock(wh.OpenTime)
	if err != nil {
		return false, err
	}
	closeMin, err := parseClock(wh.CloseTime)
	if err != nil {
		return false, err
	}

	tod := t.Hour()*60 + t.Minute()
	return openMin <= tod && tod <= closeMin, nil
}

// CloseTime returns the closing instant for t's day. ok is false when
// the exchange does not open that day.
func (s *Service) CloseTime(q database.Querier, t time.Time) (closeAt time.Time, ok bool, err error) {
	wh, err := s.repo.Get(q, t.Weekday().String())
	if err != nil || wh == nil {
		return time.Time{}, false, err
	}

	closeMin, err := parseClock(wh.CloseTime)
	if err != nil {
		return time.Time{}, false, err
	}

	closeAt = time.Date(t.Year(), t.Month(), t.Day(), closeMin/60, closeMin%60, 0, 0, t.Location())
	return closeAt, true, nil
}
