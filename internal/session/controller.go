package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/medimantra/telehealth/internal/domain"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

var (
	// ErrOperationInProgress is returned when a sign-in or registration is
	// started while another one has not finished.
	ErrOperationInProgress = errors.New("session: another sign-in is in progress")

	// ErrNotAuthenticated is returned when the session ended while a call
	// was waiting on a token exchange.
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// OpError is a failed controller operation. Message is the server's message
// when the server answered, otherwise a generic one for the operation.
type OpError struct {
	Op      string
	Message string
	Err     error
}

func (e *OpError) Error() string { return e.Op + ": " + e.Message }

func (e *OpError) Unwrap() error { return e.Err }

func newOpError(op, fallback string, err error) error {
	msg := fallback
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status != 0 && appErr.Message != "" {
		msg = appErr.Message
	}
	return &OpError{Op: op, Message: msg, Err: err}
}

// Navigator is told when the user has to sign in again.
type Navigator interface {
	RedirectToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) RedirectToLogin() { f() }

type nopNavigator struct{}

func (nopNavigator) RedirectToLogin() {}

// Option configures a Controller.
type Option func(*Controller)

// WithNavigator sets the redirect target used when a session ends.
func WithNavigator(n Navigator) Option {
	return func(c *Controller) { c.nav = n }
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller drives the session lifecycle: sign-in, lazy token refresh,
// logout and the one-time restore from storage.
type Controller struct {
	client  *Client
	storage Storage
	nav     Navigator
	logger  *slog.Logger

	// mu also guards storage writes. epoch advances on every sign-in,
	// establish and clear; a result computed under an older epoch is dropped.
	mu       sync.RWMutex
	session  Session
	inFlight bool
	epoch    uint64

	refresh  singleflight.Group
	bootOnce sync.Once
	ready    chan struct{}
}

// NewController creates a controller in the Anonymous state. The session is
// Loading until Bootstrap has run.
func NewController(client *Client, storage Storage, opts ...Option) *Controller {
	c := &Controller{
		client:  client,
		storage: storage,
		nav:     nopNavigator{},
		logger:  slog.New(slog.DiscardHandler),
		session: Session{Loading: true, State: Anonymous},
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.session
	if s.Tokens != nil {
		t := *s.Tokens
		s.Tokens = &t
	}
	return s
}

// Ready is closed once Bootstrap has resolved.
func (c *Controller) Ready() <-chan struct{} { return c.ready }

func bearerToken(token string) RequestDecorator {
	return func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

func (c *Controller) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session.Tokens == nil {
		return ""
	}
	return c.session.Tokens.AccessToken
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.session.State = s
	c.mu.Unlock()
}

// errSuperseded marks a result whose session was cleared or replaced while
// it was being fetched.
var errSuperseded = errors.New("session: superseded")

// establish persists tokens and identity and enters Authenticated, provided
// the session is still at epoch.
func (c *Controller) establish(epoch uint64, identity *domain.Identity, tokens Tokens) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return errSuperseded
	}

	values := map[string]string{
		KeyAccessToken:  tokens.AccessToken,
		KeyRefreshToken: tokens.RefreshToken,
		KeyUserID:       identity.ID,
	}
	if identity.IsDoctor() {
		values[KeyDoctorID] = identity.ID
	}
	if err := c.storage.SetMany(values); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if !identity.IsDoctor() {
		if err := c.storage.Remove(KeyDoctorID); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}

	c.epoch++
	c.session.Identity = identity
	c.session.Tokens = &tokens
	c.session.State = Authenticated
	return nil
}

// clear drops every persisted key and returns to Anonymous.
func (c *Controller) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// clearAt clears only if nothing changed the session since epoch.
func (c *Controller) clearAt(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.resetLocked()
	return true
}

func (c *Controller) resetLocked() {
	c.epoch++
	if err := c.storage.Remove(persistedKeys...); err != nil {
		c.logger.Warn("failed to clear session storage", slog.String("error", err.Error()))
	}
	c.session.Identity = nil
	c.session.Tokens = nil
	c.session.State = Anonymous
}

// --- Sign-in ---

func (c *Controller) begin() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return 0, ErrOperationInProgress
	}
	c.inFlight = true
	c.epoch++
	c.session.State = Authenticating
	return c.epoch, nil
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func (c *Controller) authenticate(ctx context.Context, op, fallback string, call func(context.Context) (*AuthPayload, error)) (*domain.Identity, error) {
	epoch, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer c.finish()

	payload, err := call(ctx)
	if err == nil && (payload.accessToken() == "" || payload.User == nil) {
		err = apperrors.Transport(fmt.Errorf("%s response without tokens or identity", op))
	}
	if err == nil {
		err = c.establish(epoch, payload.User, Tokens{AccessToken: payload.accessToken(), RefreshToken: payload.RefreshToken})
	}
	if err != nil {
		// A logout during the call already cleared the session.
		c.clearAt(epoch)
		c.logger.InfoContext(ctx, "sign-in failed", slog.String("op", op), slog.String("error", err.Error()))
		return nil, newOpError(op, fallback, err)
	}

	c.logger.InfoContext(ctx, "signed in",
		slog.String("op", op),
		slog.String("user_id", payload.User.ID),
		slog.String("role", string(payload.User.Role)),
	)
	return payload.User, nil
}

// Login signs a patient in.
func (c *Controller) Login(ctx context.Context, email, password string) (*domain.Identity, error) {
	return c.authenticate(ctx, "login", "Login failed", func(ctx context.Context) (*AuthPayload, error) {
		return c.client.Login(ctx, Credentials{Email: email, Password: password})
	})
}

// LoginDoctor signs a doctor in through the doctor portal.
func (c *Controller) LoginDoctor(ctx context.Context, email, password string) (*domain.Identity, error) {
	return c.authenticate(ctx, "doctor login", "Login failed", func(ctx context.Context) (*AuthPayload, error) {
		return c.client.LoginDoctor(ctx, Credentials{Email: email, Password: password})
	})
}

// Register creates a patient account and signs it in.
func (c *Controller) Register(ctx context.Context, reg Registration) (*domain.Identity, error) {
	return c.authenticate(ctx, "register", "Registration failed", func(ctx context.Context) (*AuthPayload, error) {
		return c.client.Register(ctx, reg)
	})
}

// RegisterDoctor creates a doctor account and signs it in.
func (c *Controller) RegisterDoctor(ctx context.Context, reg DoctorRegistration) (*domain.Identity, error) {
	return c.authenticate(ctx, "doctor register", "Registration failed", func(ctx context.Context) (*AuthPayload, error) {
		return c.client.RegisterDoctor(ctx, reg)
	})
}

// --- Protected calls ---

// Do sends an authenticated request. When the server reports an expired
// access token and a refresh token is held, the pair is exchanged once
// (shared with any concurrent callers) and the request is re-sent if its
// body can be replayed. A failed exchange ends the session.
func (c *Controller) Do(ctx context.Context, method, path string, body, out any) error {
	c.mu.RLock()
	epoch := c.epoch
	var used, refreshToken string
	if c.session.Tokens != nil {
		used, refreshToken = c.session.Tokens.AccessToken, c.session.Tokens.RefreshToken
	}
	c.mu.RUnlock()

	err := c.client.WithDecorator(bearerToken(used)).Call(ctx, method, path, body, out)
	if err == nil || apperrors.CodeOf(err) != apperrors.CodeTokenExpired {
		return err
	}

	if refreshToken == "" {
		c.logger.InfoContext(ctx, "access token expired without refresh token")
		if c.clearAt(epoch) {
			c.nav.RedirectToLogin()
		}
		return err
	}
	if rerr := c.exchange(ctx, used, true); rerr != nil {
		return rerr
	}
	if !replayable(body) {
		return err
	}
	return c.client.WithDecorator(bearerToken(c.accessToken())).Call(ctx, method, path, body, out)
}

// replayable rewinds body if needed and reports whether it can be sent again.
func replayable(body any) bool {
	switch b := body.(type) {
	case nil:
		return true
	case io.Seeker:
		_, err := b.Seek(0, io.SeekStart)
		return err == nil
	case io.Reader:
		return false
	default:
		return true
	}
}

// exchange trades the stored refresh token for a new pair. Callers that saw
// the same expired token share one exchange; a caller whose token was
// already replaced skips it. No exchange starts while a sign-in is running,
// and a pair arriving after a logout or sign-in is discarded. On failure
// the session is cleared, and the navigator is told when redirect is set.
func (c *Controller) exchange(ctx context.Context, used string, redirect bool) error {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		c.mu.Lock()
		current := ""
		if c.session.Tokens != nil {
			current = c.session.Tokens.AccessToken
		}
		switch {
		case c.inFlight || current == "":
			c.mu.Unlock()
			return nil, ErrNotAuthenticated
		case current != used:
			c.mu.Unlock()
			return nil, nil
		}
		epoch := c.epoch
		identity := c.session.Identity
		refreshToken := c.session.Tokens.RefreshToken
		c.session.State = Refreshing
		c.mu.Unlock()

		err := c.doExchange(ctx, epoch, identity, refreshToken)
		switch {
		case err == nil:
			return nil, nil
		case errors.Is(err, errSuperseded):
			c.logger.InfoContext(ctx, "discarded refreshed tokens for an ended session")
			return nil, ErrNotAuthenticated
		}

		c.logger.InfoContext(ctx, "token refresh failed", slog.String("error", err.Error()))
		if c.clearAt(epoch) && redirect {
			c.nav.RedirectToLogin()
		}
		return nil, newOpError("refresh", "Your session has expired", err)
	})
	return err
}

func (c *Controller) doExchange(ctx context.Context, epoch uint64, identity *domain.Identity, refreshToken string) error {
	if refreshToken == "" {
		return ErrNotAuthenticated
	}
	payload, err := c.client.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}
	if payload.User != nil {
		identity = payload.User
	}
	if payload.accessToken() == "" || identity == nil {
		return apperrors.Transport(errors.New("refresh response without token or identity"))
	}
	rotated := payload.RefreshToken
	if rotated == "" {
		rotated = refreshToken
	}
	return c.establish(epoch, identity, Tokens{AccessToken: payload.accessToken(), RefreshToken: rotated})
}

// CurrentUser fetches the signed-in identity and updates the session with it.
func (c *Controller) CurrentUser(ctx context.Context) (*domain.Identity, error) {
	var out currentUserPayload
	if err := c.Do(ctx, http.MethodGet, "/auth/current-user", nil, &out); err != nil {
		return nil, newOpError("current user", "Could not load your account", err)
	}
	identity := out.User
	if identity == nil {
		identity = out.Data
	}
	if identity == nil {
		return nil, newOpError("current user", "Could not load your account",
			apperrors.Transport(errors.New("current-user response without identity")))
	}

	c.mu.Lock()
	if c.session.State == Authenticated {
		c.session.Identity = identity
	}
	c.mu.Unlock()
	return identity, nil
}

// ChangePassword changes the signed-in user's password.
func (c *Controller) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	body := map[string]string{"currentPassword": currentPassword, "newPassword": newPassword}
	if err := c.Do(ctx, http.MethodPut, "/auth/change-password", body, nil); err != nil {
		return newOpError("change password", "Could not change password", err)
	}
	return nil
}

// CompleteDoctorProfile submits the signed-in doctor's profile for review.
func (c *Controller) CompleteDoctorProfile(ctx context.Context, update DoctorProfileUpdate) (*domain.DoctorProfile, error) {
	var out dataPayload[*domain.DoctorProfile]
	if err := c.Do(ctx, http.MethodPut, "/auth/doctor/complete-profile", update, &out); err != nil {
		return nil, newOpError("complete profile", "Could not update your profile", err)
	}
	return out.Data, nil
}

// --- Logout and bootstrap ---

// Logout ends the session and notifies the server. The local session is
// cleared first, so a refresh still in flight cannot bring it back. The
// notification is best effort: its failure is logged, never returned.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	var tokens Tokens
	if c.session.Tokens != nil {
		tokens = *c.session.Tokens
	}
	c.resetLocked()
	c.mu.Unlock()

	if tokens.AccessToken != "" {
		err := c.client.WithDecorator(bearerToken(tokens.AccessToken)).Logout(ctx, tokens.RefreshToken)
		if err != nil {
			c.logger.WarnContext(ctx, "logout notification failed", slog.String("error", err.Error()))
		}
	}
	c.nav.RedirectToLogin()
	c.logger.InfoContext(ctx, "signed out")
}

// Bootstrap restores the session from storage. It runs once per controller;
// later calls return the current snapshot. It never redirects.
func (c *Controller) Bootstrap(ctx context.Context) Session {
	c.bootOnce.Do(func() {
		c.restore(ctx)
		c.mu.Lock()
		c.session.Loading = false
		c.mu.Unlock()
		close(c.ready)
	})
	return c.Snapshot()
}

func (c *Controller) restore(ctx context.Context) {
	access, err := c.storage.Get(KeyAccessToken)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read session storage", slog.String("error", err.Error()))
		c.clear()
		return
	}
	if access == "" {
		c.setState(Anonymous)
		return
	}
	refresh, err := c.storage.Get(KeyRefreshToken)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read session storage", slog.String("error", err.Error()))
	}

	tokens := Tokens{AccessToken: access, RefreshToken: refresh}
	c.mu.Lock()
	c.session.Tokens = &tokens
	c.session.State = Authenticating
	epoch := c.epoch
	c.mu.Unlock()

	identity, err := c.client.WithDecorator(bearerToken(access)).CurrentUser(ctx)
	if err == nil {
		err = c.establish(epoch, identity, tokens)
		if err != nil && !errors.Is(err, errSuperseded) {
			c.logger.WarnContext(ctx, "failed to restore session", slog.String("error", err.Error()))
			c.clearAt(epoch)
		}
		return
	}

	c.logger.InfoContext(ctx, "stored session rejected", slog.String("error", err.Error()))
	if refresh == "" {
		c.clearAt(epoch)
		return
	}
	// The refresh response carries the identity, so no second current-user call.
	_ = c.exchange(ctx, access, false)
}

// --- Unauthenticated flows ---

func (c *Controller) send(ctx context.Context, op, fallback, method, path string, body any) error {
	if err := c.client.Call(ctx, method, path, body, nil); err != nil {
		return newOpError(op, fallback, err)
	}
	return nil
}

// ForgotPassword asks the server to mail reset instructions.
func (c *Controller) ForgotPassword(ctx context.Context, email string) error {
	return c.send(ctx, "forgot password", "Could not send reset instructions",
		http.MethodPost, "/auth/forgot-password", map[string]string{"email": email})
}

// ResetPassword sets a new password using a reset token.
func (c *Controller) ResetPassword(ctx context.Context, token, password string) error {
	return c.send(ctx, "reset password", "Could not reset password",
		http.MethodPost, "/auth/reset-password", map[string]string{"token": token, "password": password})
}

// VerifyEmail consumes an email verification token.
func (c *Controller) VerifyEmail(ctx context.Context, token string) error {
	return c.send(ctx, "verify email", "Could not verify email",
		http.MethodPost, "/auth/verify-email", map[string]string{"token": token})
}

// ResendVerificationEmail requests a new verification email.
func (c *Controller) ResendVerificationEmail(ctx context.Context, email string) error {
	return c.send(ctx, "resend verification email", "Could not send verification email",
		http.MethodPost, "/auth/resend-verification-email", map[string]string{"email": email})
}

// VerifyPhone confirms a phone number with the one-time code sent to it.
func (c *Controller) VerifyPhone(ctx context.Context, phone, otp string) error {
	return c.send(ctx, "verify phone", "Could not verify phone number",
		http.MethodPost, "/auth/verify-phone", map[string]string{"phone": phone, "otp": otp})
}

// ResendPhoneOTP requests a new one-time code for the account's phone.
func (c *Controller) ResendPhoneOTP(ctx context.Context, email string) error {
	return c.send(ctx, "resend phone code", "Could not send verification code",
		http.MethodPost, "/auth/resend-phone-otp", map[string]string{"email": email})
}
