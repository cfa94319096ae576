package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/estate-auth/internal/auth"
	"github.com/spec-kit/estate-auth/internal/config"
	"github.com/spec-kit/estate-auth/internal/domain"
	"github.com/spec-kit/estate-auth/internal/events"
	"github.com/spec-kit/estate-auth/internal/observability"
	"github.com/spec-kit/estate-auth/internal/repository"
)

// recencyWindow is the number of checklist rows a presented pair is
// matched against: the latest access/refresh pair. A subject operates on
// one active session lineage at a time.
const recencyWindow = 2

// TokenPair bundles a linked access/refresh pair.
type TokenPair struct {
	Access           string
	Refresh          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenService owns the token lifecycle: issuance, validation, recency
// checks, rotation and logout.
type TokenService struct {
	codec            *auth.Codec
	tokens           repository.TokenRepository
	users            repository.UserRepository
	dispatcher       events.Dispatcher
	metrics          *observability.Metrics
	logger           *zap.Logger
	checkFingerprint bool
}

// TokenDependencies encapsulates collaborator requirements for the token service.
type TokenDependencies struct {
	TokenRepo  repository.TokenRepository
	UserRepo   repository.UserRepository
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewTokenService builds the service.
func NewTokenService(cfg config.Config, deps TokenDependencies) *TokenService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		codec:            auth.NewCodec(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL(), cfg.Auth.RefreshTokenTTL()),
		tokens:           deps.TokenRepo,
		users:            deps.UserRepo,
		dispatcher:       deps.Dispatcher,
		metrics:          deps.Metrics,
		logger:           logger,
		checkFingerprint: cfg.Auth.CheckPasswordFingerprint,
	}
}

// Codec exposes the codec for middleware and tests.
func (s *TokenService) Codec() *auth.Codec {
	return s.codec
}

// Issue mints a linked access/refresh pair for the user and records both
// in the checklist. Each token gets its own unique id; both embed the
// same subject and role claims. No partial pair survives a failure.
func (s *TokenService) Issue(ctx context.Context, user *domain.User) (*TokenPair, error) {
	fingerprint := ""
	if s.checkFingerprint {
		fingerprint = auth.PasswordFingerprint(user.PasswordHash)
	}

	refreshClaims := s.codec.NewClaims(user, domain.TokenKindRefresh, fingerprint)
	accessClaims := s.codec.NewClaims(user, domain.TokenKindAccess, fingerprint)

	refresh, err := s.codec.Encode(refreshClaims)
	if err != nil {
		return nil, err
	}
	access, err := s.codec.Encode(accessClaims)
	if err != nil {
		return nil, err
	}

	pair := []*domain.Token{
		checklistRow(&refreshClaims, refresh),
		checklistRow(&accessClaims, access),
	}
	if err := s.tokens.AddPairToChecklist(ctx, pair); err != nil {
		s.metrics.RecordTokenOp("issue", "error")
		return nil, err
	}

	s.metrics.RecordTokenOp("issue", "ok")
	s.publish(ctx, events.EventTokenPairIssued, user.ID, events.TokenPairIssuedPayload{
		AccessJTI:  accessClaims.JTI(),
		RefreshJTI: refreshClaims.JTI(),
		Role:       user.Role,
	})

	return &TokenPair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// ErrInvalidCredentials is returned when login credentials do not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticate verifies credentials and issues a fresh pair.
func (s *TokenService) Authenticate(ctx context.Context, email, password string) (*domain.User, *TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, nil, auth.ErrSubjectInactive
	}

	pair, err := s.Issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Validate turns a presented signed token into a verified user, or fails
// with a specific reason. Runs on every authenticated request, so the
// blacklist and subject lookups stay point queries.
func (s *TokenService) Validate(ctx context.Context, raw string, kind domain.TokenKind) (*domain.User, *auth.Claims, error) {
	claims, err := s.codec.Decode(raw, kind, true)
	if err != nil {
		return nil, nil, err
	}

	blacklisted, err := s.tokens.ExistsInBlacklist(ctx, claims.JTI())
	if err != nil {
		return nil, nil, err
	}
	if blacklisted {
		return nil, nil, auth.BlacklistedError(kind)
	}

	user, err := s.resolveSubject(ctx, claims)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

// Rotate exchanges a latest pair for a new one. The access token is
// expected to be expired, so it is decoded without expiry verification;
// the refresh token must still be live. The old pair is blacklisted
// before the new one is minted.
func (s *TokenService) Rotate(ctx context.Context, access, refresh string) (*TokenPair, error) {
	accessClaims, refreshClaims, err := s.decodePair(ctx, access, refresh)
	if err != nil {
		s.metrics.RecordTokenOp("rotate", "rejected")
		return nil, err
	}

	matched, err := s.verifyLatest(ctx, refreshClaims.SubjectID, accessClaims, refreshClaims)
	if err != nil {
		s.metrics.RecordTokenOp("rotate", "rejected")
		return nil, err
	}

	user, err := s.resolveSubject(ctx, refreshClaims)
	if err != nil {
		s.metrics.RecordTokenOp("rotate", "rejected")
		return nil, err
	}

	if err := s.blacklistAll(ctx, matched); err != nil {
		s.metrics.RecordTokenOp("rotate", "error")
		return nil, err
	}

	pair, err := s.Issue(ctx, user)
	if err != nil {
		s.metrics.RecordTokenOp("rotate", "error")
		return nil, err
	}

	newAccessClaims, _ := s.codec.Decode(pair.Access, domain.TokenKindAccess, false)
	newRefreshClaims, _ := s.codec.Decode(pair.Refresh, domain.TokenKindRefresh, false)
	payload := events.TokenPairRotatedPayload{
		OldAccessJTI:  accessClaims.JTI(),
		OldRefreshJTI: refreshClaims.JTI(),
	}
	if newAccessClaims != nil {
		payload.NewAccessJTI = newAccessClaims.JTI()
	}
	if newRefreshClaims != nil {
		payload.NewRefreshJTI = newRefreshClaims.JTI()
	}
	s.metrics.RecordTokenOp("rotate", "ok")
	s.publish(ctx, events.EventTokenPairRotated, user.ID, payload)

	return pair, nil
}

// Logout blacklists the user's latest pair. It accepts an expired access
// token; logging out must work after the access lifetime has passed.
func (s *TokenService) Logout(ctx context.Context, access, refresh string) error {
	accessClaims, refreshClaims, err := s.decodePair(ctx, access, refresh)
	if err != nil {
		s.metrics.RecordTokenOp("logout", "rejected")
		return err
	}

	matched, err := s.verifyLatest(ctx, refreshClaims.SubjectID, accessClaims, refreshClaims)
	if err != nil {
		s.metrics.RecordTokenOp("logout", "rejected")
		return err
	}

	if err := s.blacklistAll(ctx, matched); err != nil {
		s.metrics.RecordTokenOp("logout", "error")
		return err
	}

	jtis := make([]string, 0, len(matched))
	for _, token := range matched {
		jtis = append(jtis, token.JTI)
	}
	s.metrics.RecordTokenOp("logout", "ok")
	s.logger.Info("session closed", zap.String("subject_id", refreshClaims.SubjectID))
	s.publish(ctx, events.EventTokenPairRevoked, refreshClaims.SubjectID, events.TokenPairRevokedPayload{
		JTIs:   jtis,
		Reason: "logout",
	})
	return nil
}

// decodePair reads both tokens of a presented pair and rejects any that
// is already blacklisted. The access token may be expired.
func (s *TokenService) decodePair(ctx context.Context, access, refresh string) (*auth.Claims, *auth.Claims, error) {
	accessClaims, err := s.codec.Decode(access, domain.TokenKindAccess, false)
	if err != nil {
		return nil, nil, err
	}
	refreshClaims, err := s.codec.Decode(refresh, domain.TokenKindRefresh, true)
	if err != nil {
		return nil, nil, err
	}
	if accessClaims.SubjectID != refreshClaims.SubjectID {
		return nil, nil, auth.DecodeError(domain.TokenKindRefresh, nil)
	}

	for _, presented := range []*auth.Claims{accessClaims, refreshClaims} {
		blacklisted, err := s.tokens.ExistsInBlacklist(ctx, presented.JTI())
		if err != nil {
			return nil, nil, err
		}
		if blacklisted {
			return nil, nil, auth.BlacklistedError(presented.Kind)
		}
	}
	return accessClaims, refreshClaims, nil
}

// verifyLatest enforces the recency rule: the presented pair must match
// the subject's two most-recently-issued checklist entries. Any earlier
// pair is unusable for rotation or logout the moment a newer pair exists.
func (s *TokenService) verifyLatest(ctx context.Context, subjectID string, accessClaims, refreshClaims *auth.Claims) ([]domain.Token, error) {
	latest, err := s.tokens.LatestForSubject(ctx, subjectID, recencyWindow)
	if err != nil {
		return nil, err
	}
	if len(latest) < recencyWindow {
		return nil, auth.ErrTokensNotFound
	}

	latestByJTI := make(map[string]domain.Token, len(latest))
	for _, token := range latest {
		latestByJTI[token.JTI] = token
	}

	matched := make([]domain.Token, 0, recencyWindow)
	for _, presented := range []*auth.Claims{accessClaims, refreshClaims} {
		token, ok := latestByJTI[presented.JTI()]
		if !ok {
			return nil, auth.ErrRecencyMismatch
		}
		matched = append(matched, token)
	}
	return matched, nil
}

// blacklistAll revokes each matched token, re-reading the checklist row
// first so a revocation always references an outstanding token.
func (s *TokenService) blacklistAll(ctx context.Context, tokens []domain.Token) error {
	for i := range tokens {
		row, err := s.tokens.GetByJTI(ctx, tokens[i].JTI)
		if err != nil {
			return err
		}
		if err := s.tokens.AddToBlacklist(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *TokenService) resolveSubject(ctx context.Context, claims *auth.Claims) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrSubjectNotFound
		}
		return nil, err
	}
	if user == nil {
		return nil, auth.ErrSubjectNotFound
	}
	if !user.Active {
		return nil, auth.ErrSubjectInactive
	}
	if s.checkFingerprint && claims.Fingerprint != auth.PasswordFingerprint(user.PasswordHash) {
		return nil, auth.ErrCredentialsChanged
	}
	return user, nil
}

func (s *TokenService) publish(ctx context.Context, eventType events.EventType, subjectID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SubjectID: subjectID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func checklistRow(claims *auth.Claims, signed string) *domain.Token {
	return &domain.Token{
		JTI:       claims.JTI(),
		SubjectID: claims.SubjectID,
		Kind:      claims.Kind,
		Signed:    signed,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}
