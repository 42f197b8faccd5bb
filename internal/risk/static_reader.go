package risk

import (
	"context"
	"sync"
	"time"
)

// StaticReader is a fixed-answer HistoryReader used in tests and local
// tooling. Zero values answer like a quiet, healthy account.
type StaticReader struct {
	mu sync.RWMutex

	Acct    *Account
	AcctErr error

	Method    *PayoutMethod
	MethodErr error

	FailedCount   int
	AttemptCount  int
	AverageCents  int64
	HeldToday     int64
	EventCount    int
	KnownIPs      []string
	ReadErr       error // returned by every history read when set
	ReadDelay     time.Duration
}

func (s *StaticReader) Account(ctx context.Context, _ string) (*Account, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.AcctErr != nil {
		return nil, s.AcctErr
	}
	if s.Acct == nil {
		return nil, ErrNotFound
	}
	return s.Acct, nil
}

func (s *StaticReader) PayoutMethod(ctx context.Context, _ string) (*PayoutMethod, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.MethodErr != nil {
		return nil, s.MethodErr
	}
	if s.Method == nil {
		return nil, ErrNotFound
	}
	return s.Method, nil
}

func (s *StaticReader) FailedWithdrawals(ctx context.Context, _ string, _ time.Time) (int, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FailedCount, s.ReadErr
}

func (s *StaticReader) WithdrawalAttempts(ctx context.Context, _ string, _ time.Time) (int, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AttemptCount, s.ReadErr
}

func (s *StaticReader) AverageWithdrawalCents(ctx context.Context, _ string) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AverageCents, s.ReadErr
}

func (s *StaticReader) HeldTodayCents(ctx context.Context, _ string, _ time.Time) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.HeldToday, s.ReadErr
}

func (s *StaticReader) AttemptEvents(ctx context.Context, _ string, _ time.Time) (int, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.EventCount, s.ReadErr
}

func (s *StaticReader) RecentSourceIPs(ctx context.Context, _ string, _ int) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.KnownIPs, s.ReadErr
}

// wait simulates read latency while honoring context cancellation.
func (s *StaticReader) wait(ctx context.Context) error {
	s.mu.RLock()
	delay := s.ReadDelay
	s.mu.RUnlock()
	if delay == 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
