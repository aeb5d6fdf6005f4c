package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"cardsync/internal/config"
	"cardsync/internal/logging"
	"cardsync/internal/services"
)

const (
	stageIdentity = "identity"

	slowDownStep       = 5 * time.Second
	defaultMaxInterval = 60 * time.Second
	refreshLeeway      = 30 * time.Second
)

// State is the device authorization state of a Session.
type State int

const (
	StateIdle State = iota
	StateAwaitingUserAction
	StatePolling
	StateAuthenticated
	StateExpired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUserAction:
		return "awaiting_user_action"
	case StatePolling:
		return "polling"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PollOutcome classifies a single token-exchange attempt.
type PollOutcome int

const (
	PollPending PollOutcome = iota
	PollSlowDown
	PollAuthenticated
	PollExpired
	PollFatal
)

// PollResult is the outcome of one PollOnce call. Token is set only for
// PollAuthenticated; Err is set for PollExpired and PollFatal, and carries the
// transport error when a pending outcome was caused by a failed request.
type PollResult struct {
	Outcome PollOutcome
	Token   Token
	Err     error
}

// SessionOption customises Session construction.
type SessionOption func(*Session)

// WithHTTPClient overrides the HTTP client used for identity provider calls.
func WithHTTPClient(client HTTPDoer) SessionOption {
	return func(s *Session) {
		s.httpClient = client
	}
}

// WithProvider injects a prebuilt identity provider.
func WithProvider(provider Provider) SessionOption {
	return func(s *Session) {
		s.provider = provider
	}
}

// WithTokenStore injects a custom persistence layer.
func WithTokenStore(store TokenStore) SessionOption {
	return func(s *Session) {
		s.store = store
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// WithSleep overrides how the poll loop waits between ticks.
func WithSleep(sleep func(context.Context, time.Duration) error) SessionOption {
	return func(s *Session) {
		s.sleep = sleep
	}
}

// Session drives the device authorization grant and hands out valid access
// tokens. One Session is shared by every operation in a process.
type Session struct {
	clientID    string
	maxInterval time.Duration

	httpClient HTTPDoer
	provider   Provider
	store      TokenStore
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error

	stateMu  sync.RWMutex
	state    State
	interval time.Duration
	token    Token

	refreshMu sync.Mutex
}

// NewSession builds a Session from configuration and loads any persisted
// tokens.
func NewSession(cfg *config.Config, opts ...SessionOption) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	s := &Session{
		clientID:    cfg.Identity.ClientID,
		maxInterval: cfg.MaxPollInterval(),
		now:         time.Now,
		sleep:       services.SleepWithContext,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.maxInterval <= 0 {
		s.maxInterval = defaultMaxInterval
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: cfg.IdentityTimeout()}
	}
	if s.provider == nil {
		s.provider = NewHTTPProvider(cfg.Identity.DeviceCodeURL, cfg.Identity.TokenURL, cfg.Identity.Audience, cfg.Identity.Scope, s.httpClient)
	}
	if s.store == nil {
		s.store = NewFileTokenStore(cfg.TokenPath())
	}
	s.logger = logging.NewComponentLogger(s.logger, stageIdentity)

	token, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	s.token = token
	return s, nil
}

// State returns the current device authorization state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Interval returns the current delay between poll ticks.
func (s *Session) Interval() time.Duration {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.interval
}

// HasToken reports whether credentials are available without contacting the
// provider.
func (s *Session) HasToken() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return !s.token.Empty()
}

// BeginDeviceAuth requests a device code and user code from the provider.
func (s *Session) BeginDeviceAuth(ctx context.Context) (*DeviceAuthorization, error) {
	if strings.TrimSpace(s.clientID) == "" {
		return nil, services.Wrap(services.ErrAuthStart, stageIdentity, "begin device auth", "client id is not configured", nil)
	}

	auth, err := s.provider.RequestDeviceCode(ctx, s.clientID)
	if err != nil {
		return nil, services.Wrap(services.ErrAuthStart, stageIdentity, "begin device auth", "device code request failed", err)
	}
	if auth.Interval <= 0 {
		auth.Interval = defaultPollInterval
	}
	if auth.ExpiresIn <= 0 {
		auth.ExpiresIn = defaultCodeLifetime
	}
	auth.IssuedAt = s.now()

	s.stateMu.Lock()
	s.state = StateAwaitingUserAction
	s.interval = min(auth.Interval, s.maxInterval)
	s.state = StatePolling
	s.stateMu.Unlock()

	s.logger.Info("device authorization started",
		logging.String(logging.FieldEventType, "device_auth_started"),
		logging.String("verification_uri", auth.VerificationURI),
		logging.Duration("interval", auth.Interval),
		logging.Duration("expires_in", auth.ExpiresIn),
	)
	return auth, nil
}

// PollOnce issues at most one token-exchange request for auth and applies the
// resulting state transition.
func (s *Session) PollOnce(ctx context.Context, auth *DeviceAuthorization) PollResult {
	if auth == nil {
		return PollResult{Outcome: PollFatal, Err: services.Wrap(services.ErrAuthStart, stageIdentity, "poll", "no device authorization in progress", nil)}
	}
	if s.expired(auth) {
		return s.expire("device code expired before approval")
	}

	token, err := s.provider.ExchangeDeviceCode(ctx, s.clientID, auth.DeviceCode)
	if err == nil {
		return s.authenticate(token)
	}

	var perr *ProviderError
	if !errors.As(err, &perr) {
		// No provider verdict; keep polling until expiry or cancellation.
		s.logger.Debug("token poll request failed", logging.Error(err))
		return PollResult{Outcome: PollPending, Err: err}
	}

	if perr.Code == "" && perr.StatusCode >= 500 {
		s.logger.Debug("token endpoint unavailable", logging.Int("status", perr.StatusCode))
		return PollResult{Outcome: PollPending, Err: err}
	}

	switch perr.Code {
	case CodeAuthorizationPending:
		return PollResult{Outcome: PollPending}
	case CodeSlowDown:
		s.stateMu.Lock()
		s.interval = min(s.interval+slowDownStep, s.maxInterval)
		next := s.interval
		s.stateMu.Unlock()
		s.logger.Debug("provider requested slower polling", logging.Duration("interval", next))
		return PollResult{Outcome: PollSlowDown}
	case CodeExpiredToken:
		return s.expire(perr.Description)
	default:
		s.setState(StateFailed)
		wrapped := services.Wrap(services.ErrAuthProvider, stageIdentity, "poll", perr.Description, perr)
		logging.ErrorWithContext(s.logger, "device authorization rejected", "device_auth_failed",
			logging.String("provider_code", perr.Code),
			logging.String(logging.FieldErrorHint, services.Hint(wrapped)),
			logging.Error(err),
		)
		return PollResult{Outcome: PollFatal, Err: wrapped}
	}
}

// WaitForAuthorization polls until the user approves, the code expires, the
// provider reports a fatal error, or ctx is cancelled. Cancellation returns
// the session to StateIdle without issuing further requests.
func (s *Session) WaitForAuthorization(ctx context.Context, auth *DeviceAuthorization, progress chan<- services.Progress) (Token, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Token{}, s.cancel(err)
		}
		if s.expired(auth) {
			result := s.expire("device code expired before approval")
			return Token{}, result.Err
		}
		services.Report(progress, services.Progress{
			Stage:   stageIdentity,
			Message: "waiting for approval",
			Percent: s.elapsedPercent(auth),
		})
		if err := s.sleep(ctx, s.Interval()); err != nil {
			return Token{}, s.cancel(err)
		}
		if err := ctx.Err(); err != nil {
			return Token{}, s.cancel(err)
		}

		result := s.PollOnce(ctx, auth)
		switch result.Outcome {
		case PollAuthenticated:
			services.Report(progress, services.Progress{Stage: stageIdentity, Message: "authorized", Percent: 100})
			return result.Token, nil
		case PollExpired, PollFatal:
			return Token{}, result.Err
		}
	}
}

// Task is a background device authorization poll started by Start.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	token  Token
	err    error
}

// Start runs WaitForAuthorization on a background goroutine.
func (s *Session) Start(ctx context.Context, auth *DeviceAuthorization, progress chan<- services.Progress) *Task {
	ctx, cancel := context.WithCancel(ctx)
	task := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(task.done)
		defer cancel()
		task.token, task.err = s.WaitForAuthorization(ctx, auth, progress)
	}()
	return task
}

// Cancel stops the poll loop at its next cancellation check.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its result.
func (t *Task) Wait() (Token, error) {
	<-t.done
	return t.token, t.err
}

func (s *Session) authenticate(token Token) PollResult {
	if err := s.store.Save(token); err != nil {
		s.setState(StateFailed)
		return PollResult{Outcome: PollFatal, Err: services.Wrap(services.ErrTransient, stageIdentity, "persist token", "", err)}
	}
	s.stateMu.Lock()
	s.token = token
	s.state = StateAuthenticated
	s.stateMu.Unlock()
	s.logger.Info("device authorized", logging.String(logging.FieldEventType, "device_auth_complete"))
	return PollResult{Outcome: PollAuthenticated, Token: token}
}

func (s *Session) expire(detail string) PollResult {
	s.setState(StateExpired)
	err := services.Wrap(services.ErrAuthExpired, stageIdentity, "poll", detail, nil)
	logging.WarnWithContext(s.logger, "device authorization expired", "device_auth_expired",
		logging.String(logging.FieldErrorHint, services.Hint(err)),
		logging.String(logging.FieldImpact, "device is not linked"),
	)
	return PollResult{Outcome: PollExpired, Err: err}
}

func (s *Session) cancel(err error) error {
	s.setState(StateIdle)
	s.logger.Info("device authorization cancelled", logging.String(logging.FieldEventType, "device_auth_cancelled"))
	return err
}

func (s *Session) expired(auth *DeviceAuthorization) bool {
	return !s.now().Before(auth.ExpiresAt())
}

func (s *Session) elapsedPercent(auth *DeviceAuthorization) float64 {
	if auth.ExpiresIn <= 0 {
		return -1
	}
	elapsed := s.now().Sub(auth.IssuedAt)
	return min(100, max(0, 100*float64(elapsed)/float64(auth.ExpiresIn)))
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}
