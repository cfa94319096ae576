package service

import (
	"context"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/estate-auth/internal/auth"
	"github.com/spec-kit/estate-auth/internal/config"
	"github.com/spec-kit/estate-auth/internal/domain"
	"github.com/spec-kit/estate-auth/internal/events"
	"github.com/spec-kit/estate-auth/internal/observability"
)

// fakeTokenRepo is an in-memory revocation store used in place of the
// Postgres/Redis implementation.
type fakeTokenRepo struct {
	mu        sync.Mutex
	seq       int
	checklist []domain.Token
	revoked   map[string]bool
	failing   bool
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{revoked: make(map[string]bool)}
}

func (r *fakeTokenRepo) GetByJTI(_ context.Context, jti string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.checklist {
		if r.checklist[i].JTI == jti {
			token := r.checklist[i]
			return &token, nil
		}
	}
	return nil, auth.ErrTokensNotFound
}

func (r *fakeTokenRepo) LatestForSubject(_ context.Context, subjectID string, limit int) ([]domain.Token, error) {
	if r.failing {
		return nil, auth.StorageError(assert.AnError)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tokens := make([]domain.Token, 0, limit)
	for i := len(r.checklist) - 1; i >= 0 && len(tokens) < limit; i-- {
		if r.checklist[i].SubjectID == subjectID {
			tokens = append(tokens, r.checklist[i])
		}
	}
	return tokens, nil
}

func (r *fakeTokenRepo) AddPairToChecklist(_ context.Context, pair []*domain.Token) error {
	if r.failing {
		return auth.StorageError(assert.AnError)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range pair {
		r.seq++
		token.ID = uuid.NewString()
		token.CreatedAt = time.Unix(0, int64(r.seq))
		r.checklist = append(r.checklist, *token)
	}
	return nil
}

func (r *fakeTokenRepo) AddToBlacklist(_ context.Context, token *domain.Token) error {
	if r.failing {
		return auth.StorageError(assert.AnError)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revoked[token.ID] {
		return auth.ErrAlreadyBlacklisted
	}
	r.revoked[token.ID] = true
	return nil
}

func (r *fakeTokenRepo) ExistsInBlacklist(_ context.Context, jti string) (bool, error) {
	if r.failing {
		return false, auth.StorageError(assert.AnError)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.checklist {
		if r.checklist[i].JTI == jti {
			return r.revoked[r.checklist[i].ID], nil
		}
	}
	return false, nil
}

func (r *fakeTokenRepo) checklistLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.checklist)
}

func (r *fakeTokenRepo) revokedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.revoked {
		if v {
			n++
		}
	}
	return n
}

// fakeUserRepo is an in-memory subject provider.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = passwordHash
	return nil
}

func (r *fakeUserRepo) setActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		user.Active = active
	}
}

type eventRecorder struct {
	mu    sync.Mutex
	types []events.EventType
}

func (rec *eventRecorder) attach(dispatcher events.Dispatcher) {
	for _, eventType := range []events.EventType{
		events.EventTokenPairIssued,
		events.EventTokenPairRotated,
		events.EventTokenPairRevoked,
		events.EventUserRegistered,
		events.EventPasswordChanged,
	} {
		dispatcher.Subscribe(eventType, func(_ context.Context, event events.Event) error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.types = append(rec.types, event.Type)
			return nil
		})
	}
}

func (rec *eventRecorder) seen(eventType events.EventType) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, t := range rec.types {
		if t == eventType {
			return true
		}
	}
	return false
}

type testEnv struct {
	tokens   *TokenService
	accounts *AccountService
	repo     *fakeTokenRepo
	users    *fakeUserRepo
	metrics  *observability.Metrics
	recorder *eventRecorder
}

func newTestEnv(t *testing.T, checkFingerprint bool) *testEnv {
	t.Helper()

	cfg := config.Config{
		Auth: config.AuthConfig{
			JWTSecret:                "test-secret",
			AccessTokenTTLMinutes:    120,
			RefreshTokenTTLMinutes:   1440,
			CheckPasswordFingerprint: checkFingerprint,
			BcryptCost:               4,
		},
	}

	repo := newFakeTokenRepo()
	users := newFakeUserRepo()
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	recorder := &eventRecorder{}
	recorder.attach(dispatcher)

	tokens := NewTokenService(cfg, TokenDependencies{
		TokenRepo:  repo,
		UserRepo:   users,
		Dispatcher: dispatcher,
		Metrics:    metrics,
	})
	accounts := NewAccountService(cfg, AccountDependencies{
		UserRepo:   users,
		Dispatcher: dispatcher,
	})

	return &testEnv{tokens: tokens, accounts: accounts, repo: repo, users: users, metrics: metrics, recorder: recorder}
}

func (env *testEnv) registerUser(t *testing.T, email string, role domain.Role) *domain.User {
	t.Helper()
	user, err := env.accounts.Register(context.Background(), "Maria", email, "s3cret-pass", role)
	require.NoError(t, err)
	return user
}

func TestIssueAndValidate(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)
	require.NotEmpty(t, pair.Access)
	require.NotEmpty(t, pair.Refresh)
	assert.Equal(t, 2, env.repo.checklistLen())

	resolved, claims, err := env.tokens.Validate(ctx, pair.Access, domain.TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, domain.RoleSearcher, claims.Role)
	assert.True(t, env.recorder.seen(events.EventTokenPairIssued))
}

func TestIssueProducesDistinctJTIs(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		pair, err := env.tokens.Issue(ctx, user)
		require.NoError(t, err)

		access, err := env.tokens.Codec().Decode(pair.Access, domain.TokenKindAccess, false)
		require.NoError(t, err)
		refresh, err := env.tokens.Codec().Decode(pair.Refresh, domain.TokenKindRefresh, false)
		require.NoError(t, err)

		for _, jti := range []string{access.JTI(), refresh.JTI()} {
			assert.False(t, seen[jti])
			seen[jti] = true
		}
	}
	assert.Len(t, seen, 10)
}

func TestIssueLifetimes(t *testing.T) {
	env := newTestEnv(t, false)
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(context.Background(), user)
	require.NoError(t, err)

	access, err := env.tokens.Codec().Decode(pair.Access, domain.TokenKindAccess, false)
	require.NoError(t, err)
	refresh, err := env.tokens.Codec().Decode(pair.Refresh, domain.TokenKindRefresh, false)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, access.ExpiresAt.Sub(access.IssuedAt.Time))
	assert.Equal(t, 24*time.Hour, refresh.ExpiresAt.Sub(refresh.IssuedAt.Time))
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	env.registerUser(t, "maria@example.com", domain.RoleRealEstateEntity)

	user, pair, err := env.tokens.Authenticate(ctx, "maria@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRealEstateEntity, user.Role)
	assert.NotEmpty(t, pair.Refresh)

	_, _, err = env.tokens.Authenticate(ctx, "maria@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = env.tokens.Authenticate(ctx, "nobody@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)

	_, _, err = env.tokens.Validate(ctx, pair.Access+"x", domain.TokenKindAccess)
	assert.ErrorIs(t, err, auth.ErrDecode)
}

func TestValidateBlacklistedToken(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)

	claims, err := env.tokens.Codec().Decode(pair.Access, domain.TokenKindAccess, false)
	require.NoError(t, err)
	row, err := env.repo.GetByJTI(ctx, claims.JTI())
	require.NoError(t, err)
	require.NoError(t, env.repo.AddToBlacklist(ctx, row))

	_, _, err = env.tokens.Validate(ctx, pair.Access, domain.TokenKindAccess)
	assert.ErrorIs(t, err, auth.ErrBlacklisted)
}

func TestValidateInactiveSubject(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)

	env.users.setActive(user.ID, false)
	_, _, err = env.tokens.Validate(ctx, pair.Access, domain.TokenKindAccess)
	assert.ErrorIs(t, err, auth.ErrSubjectInactive)
}

func TestValidateAfterPasswordChange(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)

	_, _, err = env.tokens.Validate(ctx, pair.Access, domain.TokenKindAccess)
	require.NoError(t, err)

	require.NoError(t, env.accounts.ChangePassword(ctx, user.ID, "s3cret-pass", "new-pass"))
	_, _, err = env.tokens.Validate(ctx, pair.Access, domain.TokenKindAccess)
	assert.ErrorIs(t, err, auth.ErrCredentialsChanged)
	assert.True(t, env.recorder.seen(events.EventPasswordChanged))
}

func TestRotateLatestPair(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)

	rotated, err := env.tokens.Rotate(ctx, pair.Access, pair.Refresh)
	require.NoError(t, err)
	assert.NotEqual(t, pair.Access, rotated.Access)
	assert.Equal(t, 4, env.repo.checklistLen())
	assert.Equal(t, 2, env.repo.revokedCount())
	assert.True(t, env.recorder.seen(events.EventTokenPairRotated))

	// the old pair is now blacklisted
	_, _, err = env.tokens.Validate(ctx, pair.Access, domain.TokenKindAccess)
	assert.ErrorIs(t, err, auth.ErrBlacklisted)

	// the new pair validates
	_, _, err = env.tokens.Validate(ctx, rotated.Access, domain.TokenKindAccess)
	assert.NoError(t, err)
}

func TestRotateStalePair(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	p1, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)
	_, err = env.tokens.Issue(ctx, user)
	require.NoError(t, err)

	before := env.repo.checklistLen()
	_, err = env.tokens.Rotate(ctx, p1.Access, p1.Refresh)
	assert.ErrorIs(t, err, auth.ErrRecencyMismatch)
	assert.Equal(t, before, env.repo.checklistLen())
	assert.Equal(t, 0, env.repo.revokedCount())
}

func TestRotateWithExpiredAccess(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)
	codec := env.tokens.Codec()

	accessClaims := codec.NewClaims(user, domain.TokenKindAccess, "")
	accessClaims.IssuedAt = jwt.NewNumericDate(time.Now().Add(-3 * time.Hour))
	accessClaims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	refreshClaims := codec.NewClaims(user, domain.TokenKindRefresh, "")

	access, err := codec.Encode(accessClaims)
	require.NoError(t, err)
	refresh, err := codec.Encode(refreshClaims)
	require.NoError(t, err)

	pair := []*domain.Token{
		{JTI: accessClaims.JTI(), SubjectID: user.ID, Kind: domain.TokenKindAccess, Signed: access, IssuedAt: accessClaims.IssuedAt.Time, ExpiresAt: accessClaims.ExpiresAt.Time},
		{JTI: refreshClaims.JTI(), SubjectID: user.ID, Kind: domain.TokenKindRefresh, Signed: refresh, IssuedAt: refreshClaims.IssuedAt.Time, ExpiresAt: refreshClaims.ExpiresAt.Time},
	}
	require.NoError(t, env.repo.AddPairToChecklist(ctx, pair))

	rotated, err := env.tokens.Rotate(ctx, access, refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.Access)
}

func TestRotateNeverIssuedTokens(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)
	codec := env.tokens.Codec()

	// well formed, signed, but never recorded in the checklist
	access, err := codec.Encode(codec.NewClaims(user, domain.TokenKindAccess, ""))
	require.NoError(t, err)
	refresh, err := codec.Encode(codec.NewClaims(user, domain.TokenKindRefresh, ""))
	require.NoError(t, err)

	_, err = env.tokens.Rotate(ctx, access, refresh)
	assert.ErrorIs(t, err, auth.ErrTokensNotFound)
}

func TestLogoutThenReplay(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)

	require.NoError(t, env.tokens.Logout(ctx, pair.Access, pair.Refresh))
	assert.Equal(t, 2, env.repo.revokedCount())
	assert.True(t, env.recorder.seen(events.EventTokenPairRevoked))

	// replaying the same pair fails loudly, never a silent success
	err = env.tokens.Logout(ctx, pair.Access, pair.Refresh)
	assert.ErrorIs(t, err, auth.ErrBlacklisted)
	assert.Equal(t, 2, env.repo.revokedCount())
}

func TestDoubleBlacklistIsConflict(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)

	claims, err := env.tokens.Codec().Decode(pair.Refresh, domain.TokenKindRefresh, false)
	require.NoError(t, err)
	row, err := env.repo.GetByJTI(ctx, claims.JTI())
	require.NoError(t, err)

	require.NoError(t, env.repo.AddToBlacklist(ctx, row))
	err = env.repo.AddToBlacklist(ctx, row)
	assert.ErrorIs(t, err, auth.ErrAlreadyBlacklisted)
	assert.NotErrorIs(t, err, auth.ErrStorageUnavailable)
}

func TestStorageFaultPropagates(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	env.repo.failing = true
	_, err := env.tokens.Issue(ctx, user)
	assert.ErrorIs(t, err, auth.ErrStorageUnavailable)
	assert.Equal(t, 0, env.repo.checklistLen())
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	_, err := env.accounts.Register(ctx, "Maria", "maria@example.com", "s3cret-pass", "landlord")
	assert.Error(t, err)

	env.registerUser(t, "maria@example.com", domain.RoleSearcher)
	_, err = env.accounts.Register(ctx, "Other", "maria@example.com", "s3cret-pass", domain.RoleSearcher)
	assert.Error(t, err)
	assert.True(t, env.recorder.seen(events.EventUserRegistered))
}

func TestMetricsRecordOutcomes(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	user := env.registerUser(t, "maria@example.com", domain.RoleSearcher)

	pair, err := env.tokens.Issue(ctx, user)
	require.NoError(t, err)
	_, err = env.tokens.Rotate(ctx, pair.Access, pair.Refresh)
	require.NoError(t, err)

	assert.Equal(t, int64(2), env.metrics.TokenOpCount("issue", "ok"))
	assert.Equal(t, int64(1), env.metrics.TokenOpCount("rotate", "ok"))
}
