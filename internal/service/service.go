package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/meridianpay/cardcore/internal/cardnum"
	"github.com/meridianpay/cardcore/internal/config"
	"github.com/meridianpay/cardcore/internal/models"
	"github.com/meridianpay/cardcore/internal/repository"
)

// RateSource supplies an exchange rate from one currency to another. The
// engine never fetches rates itself.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Notifier is told about statement lifecycle events. Delivery failures are
// logged, never fatal to the batch.
type Notifier interface {
	StatementClosed(ctx context.Context, profile *models.Profile, account *models.Account, statement *models.Statement) error
}

// Service handles business logic
type Service struct {
	store    repository.Store
	codec    *cardnum.Codec
	rates    RateSource
	notifier Notifier
	log      *logrus.Logger
	config   *config.Config
	now      func() time.Time

	// Per-account serialization of balance check-and-update. Two concurrent
	// authorizations against one account must not both pass the limit check.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService initializes a new service
func NewService(store repository.Store, codec *cardnum.Codec, rates RateSource, notifier Notifier, log *logrus.Logger, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		codec:    codec,
		rates:    rates,
		notifier: notifier,
		log:      log,
		config:   cfg,
		now:      time.Now,
		locks:    make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockAccount acquires the mutation lock for one account. Statement runs for
// different accounts proceed fully in parallel.
func (s *Service) lockAccount(id int64) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
