// Package identity signs participants in with a phone one-time code or a
// Google account and issues the session tokens the gateway accepts.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/midlaj1055/live-chat/internal/metrics"
	"github.com/midlaj1055/live-chat/internal/models"
	"github.com/midlaj1055/live-chat/internal/store"
)

var (
	ErrInvalidPhone    = errors.New("identity: phone number must be in E.164 format")
	ErrInvalidCode     = errors.New("identity: invalid code")
	ErrCodeExpired     = errors.New("identity: code expired or never sent")
	ErrTooManyAttempts = errors.New("identity: too many attempts")
	ErrInvalidToken    = errors.New("identity: invalid token")
	ErrTokenExpired    = errors.New("identity: token expired")
	ErrGoogleDisabled  = errors.New("identity: google sign-in is not configured")
)

// EventSignedOut is published when a session token is revoked.
const EventSignedOut = "signed_out"

const (
	codeDigits      = 6
	maxCodeAttempts = 5
	googleUserInfo  = "https://www.googleapis.com/oauth2/v2/userinfo"
)

var phoneRegex = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// Config configures a Service.
type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
	OTPTTL    time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string
	// GoogleUserInfoURL overrides the profile endpoint.
	GoogleUserInfoURL string
	// GoogleEndpoint overrides google.Endpoint.
	GoogleEndpoint *oauth2.Endpoint

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

// SignIn is the result of a successful sign-in.
type SignIn struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Account   *models.Account `json:"account"`
}

// Service is the identity provider.
type Service struct {
	accounts store.DataStore
	codes    store.CodeStore
	sms      SMSSender
	tokens   *TokenIssuer
	google   *oauth2.Config
	userInfo string
	otpTTL   time.Duration
	cost     int
	logger   zerolog.Logger
}

// NewService creates a Service. Google sign-in is enabled when a client id
// and secret are configured.
func NewService(cfg Config, accounts store.DataStore, codes store.CodeStore, sms SMSSender, logger zerolog.Logger) *Service {
	s := &Service{
		accounts: accounts,
		codes:    codes,
		sms:      sms,
		tokens:   NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, cfg.Now),
		userInfo: cfg.GoogleUserInfoURL,
		otpTTL:   cfg.OTPTTL,
		cost:     cfg.BcryptCost,
		logger:   logger,
	}
	if s.sms == nil {
		s.sms = LogSender{Logger: logger}
	}
	if s.userInfo == "" {
		s.userInfo = googleUserInfo
	}
	if s.otpTTL <= 0 {
		s.otpTTL = 5 * time.Minute
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		endpoint := google.Endpoint
		if cfg.GoogleEndpoint != nil {
			endpoint = *cfg.GoogleEndpoint
		}
		s.google = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleCallbackURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: endpoint,
		}
	}
	return s
}

// StartPhoneSignIn sends a fresh one-time code to phone. A previous code
// for the same number stops working.
func (s *Service) StartPhoneSignIn(ctx context.Context, phone string) error {
	if !phoneRegex.MatchString(phone) {
		return ErrInvalidPhone
	}
	code, err := newCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return err
	}
	if err := s.codes.SaveCode(ctx, phone, string(hash), s.otpTTL); err != nil {
		return fmt.Errorf("save code: %w", err)
	}
	if err := s.sms.SendCode(ctx, phone, code); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	metrics.OTPsSent.Inc()
	return nil
}

// VerifyPhoneCode completes a phone sign-in.
func (s *Service) VerifyPhoneCode(ctx context.Context, phone, code string) (*SignIn, error) {
	in, err := s.verifyPhoneCode(ctx, phone, code)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SignIns.WithLabelValues(models.ProviderPhone, result).Inc()
	return in, err
}

func (s *Service) verifyPhoneCode(ctx context.Context, phone, code string) (*SignIn, error) {
	if !phoneRegex.MatchString(phone) {
		return nil, ErrInvalidPhone
	}
	hash, err := s.codes.GetCode(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCodeExpired
	}
	if err != nil {
		return nil, err
	}
	attempts, err := s.codes.IncrementCodeAttempts(ctx, phone, s.otpTTL)
	if err != nil {
		return nil, err
	}
	if attempts > maxCodeAttempts {
		_ = s.codes.DeleteCode(ctx, phone)
		return nil, ErrTooManyAttempts
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return nil, ErrInvalidCode
	}
	if err := s.codes.DeleteCode(ctx, phone); err != nil {
		s.logger.Warn().Err(err).Msg("failed to delete used code")
	}

	acct, err := s.findOrCreate(ctx, &models.Account{
		Provider: models.ProviderPhone,
		Subject:  phone,
		Phone:    phone,
	})
	if err != nil {
		return nil, err
	}
	return s.issue(acct)
}

// GoogleAuthURL returns the consent page URL carrying state.
func (s *Service) GoogleAuthURL(state string) (string, error) {
	if s.google == nil {
		return "", ErrGoogleDisabled
	}
	return s.google.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// GoogleEnabled reports whether Google sign-in is configured.
func (s *Service) GoogleEnabled() bool {
	return s.google != nil
}

type googleProfile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// CompleteGoogleSignIn exchanges an authorization code and signs the
// account in, refreshing its name and avatar from Google.
func (s *Service) CompleteGoogleSignIn(ctx context.Context, code string) (*SignIn, error) {
	in, err := s.completeGoogleSignIn(ctx, code)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SignIns.WithLabelValues(models.ProviderGoogle, result).Inc()
	return in, err
}

func (s *Service) completeGoogleSignIn(ctx context.Context, code string) (*SignIn, error) {
	if s.google == nil {
		return nil, ErrGoogleDisabled
	}
	tok, err := s.google.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfo, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.google.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch profile: status %d", resp.StatusCode)
	}
	var profile googleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if profile.ID == "" {
		return nil, errors.New("identity: google profile has no id")
	}

	acct, err := s.findOrCreate(ctx, &models.Account{
		Provider:    models.ProviderGoogle,
		Subject:     profile.ID,
		DisplayName: profile.Name,
		PhotoURL:    profile.Picture,
		Email:       profile.Email,
	})
	if err != nil {
		return nil, err
	}
	return s.issue(acct)
}

func (s *Service) findOrCreate(ctx context.Context, in *models.Account) (*models.Account, error) {
	acct, err := s.accounts.GetAccountBySubject(ctx, in.Provider, in.Subject)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return s.accounts.CreateAccount(ctx, in)
	}
	if in.DisplayName != "" && (acct.DisplayName != in.DisplayName || acct.PhotoURL != in.PhotoURL) {
		if err := s.accounts.UpdateAccountProfile(ctx, acct.ID, in.DisplayName, in.PhotoURL); err != nil {
			return nil, err
		}
		acct.DisplayName = in.DisplayName
		acct.PhotoURL = in.PhotoURL
	}
	return acct, nil
}

func (s *Service) issue(acct *models.Account) (*SignIn, error) {
	token, claims, err := s.tokens.Issue(acct.ID.String(), acct.Provider)
	if err != nil {
		return nil, err
	}
	return &SignIn{Token: token, ExpiresAt: claims.ExpiresAt.Time, Account: acct}, nil
}

// Authenticate resolves a session token to its account.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Account, *Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, nil, err
	}
	revoked, err := s.codes.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}
	acct, err := s.accounts.GetAccountByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		return nil, nil, ErrInvalidToken
	}
	return acct, claims, nil
}

// SignOut revokes token until it would have expired and tells the
// account's open sessions.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.tokens.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.codes.RevokeToken(ctx, claims.ID, ttl); err != nil {
		return err
	}
	return s.codes.PublishAuthEvent(ctx, claims.Subject, EventSignedOut)
}

// WatchAuthState calls fn with each login state change of accountID.
func (s *Service) WatchAuthState(ctx context.Context, accountID string, fn func(event string)) (store.Subscription, error) {
	return s.codes.WatchAuthEvents(ctx, accountID, fn)
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
