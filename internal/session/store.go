package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"signaldesk/internal/logging"
)

// Listener is notified after every change of the stored pair. An empty pair
// means the session ended.
type Listener func(Pair)

type StoreOptions struct {
	Slot      Slot
	Logger    *zap.Logger
	Listeners []Listener
}

// Store owns the process-wide credential pair and mirrors it to a Slot.
type Store struct {
	slot   Slot
	logger *zap.Logger

	// writeMu orders slot writes; mu only guards the in-memory pair, so Get
	// never waits on slot I/O.
	writeMu sync.Mutex
	mu      sync.RWMutex
	pair    Pair

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewStore restores the pair from the slot. An unreadable or corrupt entry is
// logged and treated as "no stored credentials".
func NewStore(ctx context.Context, opts StoreOptions) (*Store, error) {
	if opts.Slot == nil {
		return nil, errors.New("credential slot is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Store{
		slot:      opts.Slot,
		logger:    opts.Logger,
		listeners: append([]Listener(nil), opts.Listeners...),
	}

	pair, err := s.slot.Load(ctx)
	if err != nil {
		s.logger.Warn("stored credentials ignored", zap.Error(err))
		pair = Pair{}
	}
	s.pair = pair

	s.logger.Debug("credentials restored",
		zap.Bool("authenticated", pair.Authenticated()),
		zap.Bool("refreshable", pair.CanRefresh()),
	)
	return s, nil
}

// Get returns the current snapshot.
func (s *Store) Get() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// Set replaces both tokens at once and persists them. The in-memory pair is
// updated even when persisting fails; the returned error reports the failure.
func (s *Store) Set(ctx context.Context, pair Pair) error {
	s.writeMu.Lock()
	s.swap(pair)
	err := s.slot.Save(ctx, pair)
	s.writeMu.Unlock()

	s.logChange("credentials updated", pair, err)
	s.notify(pair)
	return err
}

// Clear empties the pair and purges the durable entry.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	s.swap(Pair{})
	err := s.slot.Purge(ctx)
	s.writeMu.Unlock()

	s.logChange("credentials cleared", Pair{}, err)
	s.notify(Pair{})
	return err
}

// OnChange registers a listener for subsequent Set and Clear calls.
func (s *Store) OnChange(l Listener) {
	if l == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// replaceAccess swaps in a refreshed access token, but only while the store
// still holds the refresh token it was minted from. It reports whether the
// store was updated.
func (s *Store) replaceAccess(ctx context.Context, refreshToken, accessToken string) (bool, error) {
	s.writeMu.Lock()
	if s.Get().RefreshToken != refreshToken {
		s.writeMu.Unlock()
		return false, nil
	}
	pair := Pair{AccessToken: accessToken, RefreshToken: refreshToken}
	s.swap(pair)
	err := s.slot.Save(ctx, pair)
	s.writeMu.Unlock()

	s.logChange("access token refreshed", pair, err)
	s.notify(pair)
	return true, err
}

// expire clears the store if it still holds refreshToken. A session started
// after the failing call is left alone.
func (s *Store) expire(ctx context.Context, refreshToken string) (bool, error) {
	s.writeMu.Lock()
	if s.Get().RefreshToken != refreshToken {
		s.writeMu.Unlock()
		return false, nil
	}
	s.swap(Pair{})
	err := s.slot.Purge(ctx)
	s.writeMu.Unlock()

	s.logChange("session expired", Pair{}, err)
	s.notify(Pair{})
	return true, err
}

func (s *Store) swap(pair Pair) {
	s.mu.Lock()
	s.pair = pair
	s.mu.Unlock()
}

func (s *Store) notify(pair Pair) {
	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(pair)
	}
}

func (s *Store) logChange(msg string, pair Pair, err error) {
	if err != nil {
		s.logger.Warn("failed to persist credentials", zap.String("change", msg), zap.Error(err))
		return
	}
	s.logger.Debug(msg,
		zap.String("access_token", logging.MaskToken(pair.AccessToken)),
		zap.String("refresh_token", logging.MaskToken(pair.RefreshToken)),
	)
}
