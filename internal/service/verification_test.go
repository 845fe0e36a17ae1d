package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/notify"
	"github.com/propnest/propnest-backend/internal/storage"
	"github.com/propnest/propnest-backend/internal/storage/memory"
	"github.com/propnest/propnest-backend/pkg/config"
)

func TestIssueChallenge_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		identity string
		purpose  string
		want     domain.IssueOutcome
	}{
		{"empty identity", "", "signup", domain.IssueMissingIdentity},
		{"blank identity", "   ", "signup", domain.IssueMissingIdentity},
		{"malformed identity", "not-an-email", "signup", domain.IssueInvalidIdentity},
		{"display name form", "Alice <alice@example.com>", "signup", domain.IssueInvalidIdentity},
		{"unknown purpose", "alice@example.com", "login", domain.IssueInvalidPurpose},
		{"empty purpose", "alice@example.com", "", domain.IssueInvalidPurpose},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.IssueChallenge(testContext(t), tt.identity, tt.purpose)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Outcome)
		})
	}
	assert.Zero(t, f.notifier.count(), "rejected requests must not queue deliveries")
}

func TestIssueChallenge_NormalizesIdentity(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.IssueChallenge(testContext(t), "  Alice@Example.COM ", "signup")
	require.NoError(t, err)
	assert.Equal(t, domain.IssueSuccess, result.Outcome)
	assert.Equal(t, "alice@example.com", result.Identity)
	assert.Equal(t, domain.PurposeSignup, result.Purpose)

	challenge, err := f.store.Challenges().Get(testContext(t), domain.ChallengeKey{Identity: "alice@example.com", Purpose: domain.PurposeSignup})
	require.NoError(t, err)
	assert.Len(t, challenge.Code, domain.CodeLength)
	assert.Zero(t, challenge.Attempts)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), challenge.ExpiresAt)

	require.Equal(t, 1, f.notifier.count())
	job := f.notifier.jobs[0]
	assert.Equal(t, "alice@example.com", job.Recipient)
	assert.Equal(t, challenge.Code, job.Code)
	assert.Equal(t, 5*time.Minute, job.ValidFor)
}

func TestIssueChallenge_ReissueInvalidatesPreviousCode(t *testing.T) {
	f := newFixture(t)
	codes := []string{"123456", "654321"}
	f.svc.generate = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	first := f.issue(t, "alice@example.com", domain.PurposeSignup)
	// Burn an attempt so the reissue can be seen resetting it.
	assert.Equal(t, domain.VerifyMismatch, f.verify(t, "alice@example.com", "999999", domain.PurposeSignup))
	second := f.issue(t, "alice@example.com", domain.PurposeSignup)
	require.NotEqual(t, first, second)

	challenge, err := f.store.Challenges().Get(testContext(t), domain.ChallengeKey{Identity: "alice@example.com", Purpose: domain.PurposeSignup})
	require.NoError(t, err)
	assert.Zero(t, challenge.Attempts)

	outcome := f.verify(t, "alice@example.com", first, domain.PurposeSignup)
	assert.NotEqual(t, domain.VerifySuccess, outcome)
	assert.Contains(t, []domain.VerifyOutcome{domain.VerifyNotFound, domain.VerifyMismatch}, outcome)

	assert.Equal(t, domain.VerifySuccess, f.verify(t, "alice@example.com", second, domain.PurposeSignup))
}

func TestIssueChallenge_UnknownAccountResetIsSilent(t *testing.T) {
	f := newFixture(t)
	f.register(t, "known@example.com")

	unknown, err := f.svc.IssueChallenge(testContext(t), "ghost@example.com", string(domain.PurposeCredentialReset))
	require.NoError(t, err)
	known, err := f.svc.IssueChallenge(testContext(t), "known@example.com", string(domain.PurposeCredentialReset))
	require.NoError(t, err)

	assert.Equal(t, known.Outcome, unknown.Outcome)
	assert.True(t, known.Created)
	assert.False(t, unknown.Created)
	assert.Equal(t, domain.IssueSuccess, unknown.Outcome)
	assert.Equal(t, "ghost@example.com", unknown.Identity)
	assert.Equal(t, domain.PurposeCredentialReset, unknown.Purpose)

	assert.Equal(t, 1, f.notifier.count(), "only the known account gets a delivery")
	assert.Equal(t, "known@example.com", f.notifier.jobs[0].Recipient)

	assert.Equal(t, domain.VerifyNotFound, f.verify(t, "ghost@example.com", "123456", domain.PurposeCredentialReset))
}

func TestIssueChallenge_QueueRefusalKeepsChallenge(t *testing.T) {
	f := newFixture(t)
	f.notifier.refuse = true
	f.svc.generate = func() (string, error) { return "424242", nil }

	result, err := f.svc.IssueChallenge(testContext(t), "alice@example.com", "signup")
	require.NoError(t, err)
	assert.Equal(t, domain.IssueSuccess, result.Outcome)

	assert.Equal(t, domain.VerifySuccess, f.verify(t, "alice@example.com", "424242", domain.PurposeSignup))
}

func TestIssueChallenge_GeneratorError(t *testing.T) {
	f := newFixture(t)
	f.svc.generate = func() (string, error) { return "", errors.New("entropy exhausted") }

	_, err := f.svc.IssueChallenge(testContext(t), "alice@example.com", "signup")
	require.Error(t, err)
	assert.Zero(t, f.notifier.count())
}

func TestVerifyChallenge_InputPriority(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		identity string
		code     string
		purpose  string
		want     domain.VerifyOutcome
	}{
		{"missing identity", "", "123456", "signup", domain.VerifyMissingParameters},
		{"missing code", "alice@example.com", "", "signup", domain.VerifyMissingParameters},
		{"missing both beats bad purpose", "", "", "bogus", domain.VerifyMissingParameters},
		{"short code", "alice@example.com", "12345", "signup", domain.VerifyInvalidCodeFormat},
		{"long code", "alice@example.com", "1234567", "signup", domain.VerifyInvalidCodeFormat},
		{"non digit code", "alice@example.com", "12a456", "signup", domain.VerifyInvalidCodeFormat},
		{"bad format beats bad purpose", "alice@example.com", "12a456", "bogus", domain.VerifyInvalidCodeFormat},
		{"bad purpose", "alice@example.com", "123456", "bogus", domain.VerifyInvalidPurpose},
		{"no challenge", "alice@example.com", "123456", "signup", domain.VerifyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.VerifyChallenge(testContext(t), tt.identity, tt.code, tt.purpose)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Outcome)
		})
	}
}

func TestVerifyChallenge_HappyPathSingleUse(t *testing.T) {
	f := newFixture(t)

	code := f.issue(t, "alice@example.com", domain.PurposeSignup)
	require.Len(t, code, 6)

	f.clock.Advance(time.Minute)
	assert.Equal(t, domain.VerifySuccess, f.verify(t, "alice@example.com", code, domain.PurposeSignup))
	assert.Equal(t, domain.VerifyNotFound, f.verify(t, "alice@example.com", code, domain.PurposeSignup))
}

func TestVerifyChallenge_AttemptsCapped(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, "alice@example.com", domain.PurposeSignup)
	wrong := wrongCode(code)

	first, err := f.svc.VerifyChallenge(testContext(t), "alice@example.com", wrong, "signup")
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyMismatch, first.Outcome)
	assert.Equal(t, 2, first.AttemptsRemaining)

	second, err := f.svc.VerifyChallenge(testContext(t), "alice@example.com", wrong, "signup")
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyMismatch, second.Outcome)
	assert.Equal(t, 1, second.AttemptsRemaining)

	assert.Equal(t, domain.VerifyTooManyAttempts, f.verify(t, "alice@example.com", wrong, domain.PurposeSignup))
	assert.Equal(t, domain.VerifyNotFound, f.verify(t, "alice@example.com", code, domain.PurposeSignup))
}

func TestVerifyChallenge_StoredAttemptsAtLimit(t *testing.T) {
	f := newFixture(t)
	challenge := domain.NewChallenge("alice@example.com", domain.PurposeSignup, "123456", f.clock.Now(), 5*time.Minute)
	challenge.Attempts = 3
	require.NoError(t, f.store.Challenges().Put(testContext(t), challenge))

	assert.Equal(t, domain.VerifyTooManyAttempts, f.verify(t, "alice@example.com", "123456", domain.PurposeSignup))
	assert.Equal(t, domain.VerifyNotFound, f.verify(t, "alice@example.com", "123456", domain.PurposeSignup))
}

func TestVerifyChallenge_Expired(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, "alice@example.com", domain.PurposeSignup)

	f.clock.Advance(5*time.Minute + time.Second)
	assert.Equal(t, domain.VerifyExpired, f.verify(t, "alice@example.com", code, domain.PurposeSignup))
	assert.Equal(t, domain.VerifyNotFound, f.verify(t, "alice@example.com", code, domain.PurposeSignup))
}

func TestVerifyChallenge_PurposesAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com")

	signup := f.issue(t, "alice@example.com", domain.PurposeSignup)
	reset := f.issue(t, "alice@example.com", domain.PurposeCredentialReset)

	if signup != reset {
		assert.NotEqual(t, domain.VerifySuccess, f.verify(t, "alice@example.com", reset, domain.PurposeSignup))
	}
	assert.Equal(t, domain.VerifySuccess, f.verify(t, "alice@example.com", reset, domain.PurposeCredentialReset))
	assert.Equal(t, domain.VerifySuccess, f.verify(t, "alice@example.com", signup, domain.PurposeSignup))
}

func TestVerifyChallenge_SignupMarksEmailVerified(t *testing.T) {
	f := newFixture(t)
	account := f.register(t, "alice@example.com")
	require.False(t, account.EmailVerified)

	code := f.issue(t, "Alice@example.com", domain.PurposeSignup)
	assert.Equal(t, domain.VerifySuccess, f.verify(t, "ALICE@example.com", code, domain.PurposeSignup))

	stored, err := f.accounts.GetByID(testContext(t), account.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
}

func TestVerifyChallenge_ConcurrentSubmissionsSucceedOnce(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, "alice@example.com", domain.PurposeSignup)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.VerifyChallenge(testContext(t), "alice@example.com", code, "signup")
			if err != nil {
				t.Errorf("VerifyChallenge() error = %v", err)
				return
			}
			if result.Outcome == domain.VerifySuccess {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestVerifyChallenge_ConcurrentMismatchesCountEveryAttempt(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Verification.MaxAttempts = 100
	f.svc = NewVerificationService(f.store.Challenges(), f.store.Authorizations(), f.accounts, f.notifier, cfg.Verification, zap.NewNop(), WithClock(f.clock.Now))

	code := f.issue(t, "alice@example.com", domain.PurposeSignup)
	wrong := wrongCode(code)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifyChallenge(testContext(t), "alice@example.com", wrong, "signup"); err != nil {
				t.Errorf("VerifyChallenge() error = %v", err)
			}
		}()
	}
	wg.Wait()

	challenge, err := f.store.Challenges().Get(testContext(t), domain.ChallengeKey{Identity: "alice@example.com", Purpose: domain.PurposeSignup})
	require.NoError(t, err)
	assert.Equal(t, workers, challenge.Attempts)
}

func TestResetCredential_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		identity   string
		credential string
		want       domain.ResetOutcome
	}{
		{"missing identity", "", "new-password", domain.ResetMissingParameters},
		{"missing credential", "alice@example.com", "", domain.ResetMissingParameters},
		{"short credential", "alice@example.com", "12345", domain.ResetCredentialTooShort},
		{"credential over bcrypt limit", "alice@example.com", strings.Repeat("x", MaxCredentialBytes+1), domain.ResetCredentialTooLong},
		{"not verified", "alice@example.com", "new-password", domain.ResetNotVerified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.ResetCredential(testContext(t), tt.identity, tt.credential)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Outcome)
		})
	}
}

func TestResetCredential_FullFlow(t *testing.T) {
	f := newFixture(t)
	account := f.register(t, "alice@example.com")

	code := f.issue(t, "alice@example.com", domain.PurposeCredentialReset)

	result, err := f.svc.ResetCredential(testContext(t), "alice@example.com", "brand-new-password")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetNotVerified, result.Outcome, "pending challenge must block the reset")

	assert.Equal(t, domain.VerifySuccess, f.verify(t, "alice@example.com", code, domain.PurposeCredentialReset))

	auth, err := f.store.Authorizations().Get(testContext(t), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), auth.ExpiresAt)

	f.clock.Advance(9 * time.Minute)
	result, err = f.svc.ResetCredential(testContext(t), "Alice@Example.com", "brand-new-password")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetSuccess, result.Outcome)

	stored, err := f.accounts.GetByID(testContext(t), account.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("brand-new-password")))

	result, err = f.svc.ResetCredential(testContext(t), "alice@example.com", "another-password")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetNotVerified, result.Outcome, "authorization is single use")

	_, _, err = f.accounts.Login(testContext(t), "alice@example.com", "brand-new-password")
	assert.NoError(t, err)
}

func TestResetCredential_RejectedCredentialKeepsAuthorization(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob@example.com")

	code := f.issue(t, "bob@example.com", domain.PurposeCredentialReset)
	require.Equal(t, domain.VerifySuccess, f.verify(t, "bob@example.com", code, domain.PurposeCredentialReset))

	result, err := f.svc.ResetCredential(testContext(t), "bob@example.com", strings.Repeat("x", 80))
	require.NoError(t, err)
	assert.Equal(t, domain.ResetCredentialTooLong, result.Outcome)

	result, err = f.svc.ResetCredential(testContext(t), "bob@example.com", "validpassword")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetSuccess, result.Outcome)
}

// failingDirectory fails credential updates.
type failingDirectory struct {
	*AccountService
	updateErr error
}

func (d *failingDirectory) UpdateCredential(ctx context.Context, id domain.AccountID, hash string) error {
	if d.updateErr != nil {
		return d.updateErr
	}
	return d.AccountService.UpdateCredential(ctx, id, hash)
}

func TestResetCredential_UpdateFailureRestoresAuthorization(t *testing.T) {
	f := newFixture(t)
	account := f.register(t, "bob@example.com")

	directory := &failingDirectory{AccountService: f.accounts, updateErr: errors.New("primary unavailable")}
	svc := NewVerificationService(
		f.store.Challenges(),
		f.store.Authorizations(),
		directory,
		f.notifier,
		testConfig().Verification,
		zap.NewNop(),
		WithClock(f.clock.Now),
	)

	code := f.issue(t, "bob@example.com", domain.PurposeCredentialReset)
	require.Equal(t, domain.VerifySuccess, f.verify(t, "bob@example.com", code, domain.PurposeCredentialReset))

	_, err := svc.ResetCredential(testContext(t), "bob@example.com", "validpassword")
	require.Error(t, err)

	_, err = f.store.Authorizations().Get(testContext(t), "bob@example.com")
	require.NoError(t, err, "authorization must survive a failed update")

	directory.updateErr = nil
	result, err := svc.ResetCredential(testContext(t), "bob@example.com", "validpassword")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetSuccess, result.Outcome)

	stored, err := f.accounts.GetByID(testContext(t), account.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("validpassword")))

	_, err = f.store.Authorizations().Get(testContext(t), "bob@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// racingChallengeStore replays an Update the way the optimistic stores do
// after losing a race: fn sees the original entry, interfere runs, and fn is
// invoked again against the new state.
type racingChallengeStore struct {
	storage.ChallengeStore
	interfere func()
}

func (s *racingChallengeStore) Update(ctx context.Context, key domain.ChallengeKey, fn storage.ChallengeFunc) error {
	if s.interfere != nil {
		current, err := s.ChallengeStore.Get(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if _, err := fn(current); err != nil {
			return err
		}
		s.interfere()
		s.interfere = nil
	}
	return s.ChallengeStore.Update(ctx, key, fn)
}

func TestVerifyChallenge_LostRaceLeavesNoAuthorization(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob@example.com")

	challenges := &racingChallengeStore{ChallengeStore: f.store.Challenges()}
	svc := NewVerificationService(
		challenges,
		f.store.Authorizations(),
		f.accounts,
		f.notifier,
		testConfig().Verification,
		zap.NewNop(),
		WithClock(f.clock.Now),
	)

	first, err := svc.IssueChallenge(testContext(t), "bob@example.com", string(domain.PurposeCredentialReset))
	require.NoError(t, err)
	require.True(t, first.Created)
	code := f.notifier.lastCode(t)

	// A reissue lands between the read and the conditional delete.
	challenges.interfere = func() {
		reissued := domain.NewChallenge("bob@example.com", domain.PurposeCredentialReset, wrongCode(code), f.clock.Now(), 5*time.Minute)
		require.NoError(t, f.store.Challenges().Put(testContext(t), reissued))
	}

	result, err := svc.VerifyChallenge(testContext(t), "bob@example.com", code, string(domain.PurposeCredentialReset))
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyMismatch, result.Outcome)

	_, err = f.store.Authorizations().Get(testContext(t), "bob@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound, "abandoned pass must not leave an authorization")

	f.clock.Advance(6 * time.Minute)
	reset, err := svc.ResetCredential(testContext(t), "bob@example.com", "validpassword")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetNotVerified, reset.Outcome)
}

func TestVerifyChallenge_LostRaceKeepsOtherAuthorization(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob@example.com")

	code := f.issue(t, "bob@example.com", domain.PurposeCredentialReset)
	other := domain.NewResetAuthorization("bob@example.com", f.clock.Now(), 10*time.Minute)

	challenges := &racingChallengeStore{ChallengeStore: f.store.Challenges()}
	svc := NewVerificationService(
		challenges,
		f.store.Authorizations(),
		f.accounts,
		f.notifier,
		testConfig().Verification,
		zap.NewNop(),
		WithClock(f.clock.Now),
	)

	// A concurrent verification wins: it stores its own authorization and
	// removes the challenge.
	challenges.interfere = func() {
		require.NoError(t, f.store.Authorizations().Put(testContext(t), other))
		require.NoError(t, f.store.Challenges().Delete(testContext(t), domain.ChallengeKey{Identity: "bob@example.com", Purpose: domain.PurposeCredentialReset}))
	}

	result, err := svc.VerifyChallenge(testContext(t), "bob@example.com", code, string(domain.PurposeCredentialReset))
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyNotFound, result.Outcome)

	stored, err := f.store.Authorizations().Get(testContext(t), "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, other.ID, stored.ID)
}

func TestResetCredential_AuthorizationExpired(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com")

	code := f.issue(t, "alice@example.com", domain.PurposeCredentialReset)
	require.Equal(t, domain.VerifySuccess, f.verify(t, "alice@example.com", code, domain.PurposeCredentialReset))

	f.clock.Advance(10*time.Minute + time.Second)
	result, err := f.svc.ResetCredential(testContext(t), "alice@example.com", "brand-new-password")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetVerificationExpired, result.Outcome)

	_, err = f.store.Authorizations().Get(testContext(t), "alice@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound, "expired authorization must be evicted")

	result, err = f.svc.ResetCredential(testContext(t), "alice@example.com", "brand-new-password")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetNotVerified, result.Outcome)
}

func TestResetCredential_ExpiredChallengeIsNotPending(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com")

	// A verified authorization plus a stale, never-verified reissue.
	code := f.issue(t, "alice@example.com", domain.PurposeCredentialReset)
	require.Equal(t, domain.VerifySuccess, f.verify(t, "alice@example.com", code, domain.PurposeCredentialReset))
	stale := domain.NewChallenge("alice@example.com", domain.PurposeCredentialReset, "111111", f.clock.Now().Add(-6*time.Minute), 5*time.Minute)
	require.NoError(t, f.store.Challenges().Put(testContext(t), stale))

	result, err := f.svc.ResetCredential(testContext(t), "alice@example.com", "brand-new-password")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetSuccess, result.Outcome)

	_, err = f.store.Challenges().Get(testContext(t), stale.Key())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResetCredential_SignupVerificationDoesNotAuthorize(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com")

	code := f.issue(t, "alice@example.com", domain.PurposeSignup)
	require.Equal(t, domain.VerifySuccess, f.verify(t, "alice@example.com", code, domain.PurposeSignup))

	result, err := f.svc.ResetCredential(testContext(t), "alice@example.com", "brand-new-password")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetNotVerified, result.Outcome)
}

func TestDeliveryFailureKeepsCode(t *testing.T) {
	cfg := testConfig()
	primary := &failingProvider{name: "smtp"}
	fallback := &failingProvider{name: "http-api"}
	dispatcher := notify.NewDispatcher(
		config.DispatcherConfig{Workers: 1, QueueSize: 4, MaxRetries: 2, BackoffSeconds: 1},
		primary, fallback, zap.NewNop(),
		notify.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)

	services := NewServicesWithDispatcher(memory.NewStore(), cfg, dispatcher, zap.NewNop())
	codes := make(chan string, 1)
	services.Verification.generate = func() (string, error) {
		code, err := GenerateCode()
		codes <- code
		return code, err
	}

	services.Start()
	result, err := services.Verification.IssueChallenge(testContext(t), "alice@example.com", "signup")
	require.NoError(t, err)
	require.Equal(t, domain.IssueSuccess, result.Outcome)
	services.Stop(testContext(t))

	assert.Equal(t, 3, primary.callCount())
	assert.Equal(t, 1, fallback.callCount())
	assert.Equal(t, uint64(1), dispatcher.Stats().Failed)

	key := domain.ChallengeKey{Identity: "alice@example.com", Purpose: domain.PurposeSignup}
	status, ok := services.Deliveries.Last(key)
	require.True(t, ok)
	assert.False(t, status.Delivered)

	info, err := services.Verification.InspectChallenge(testContext(t), "alice@example.com", "signup")
	require.NoError(t, err)
	require.NotNil(t, info.LastDelivery)
	assert.False(t, info.LastDelivery.Delivered)

	verified, err := services.Verification.VerifyChallenge(testContext(t), "alice@example.com", <-codes, "signup")
	require.NoError(t, err)
	assert.Equal(t, domain.VerifySuccess, verified.Outcome)
}

func TestInspectChallenge(t *testing.T) {
	f := newFixture(t)
	f.svc.generate = func() (string, error) { return "123456", nil }

	_, err := f.svc.InspectChallenge(testContext(t), "alice@example.com", "signup")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.svc.InspectChallenge(testContext(t), "alice@example.com", "bogus")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	f.issue(t, "alice@example.com", domain.PurposeSignup)
	f.verify(t, "alice@example.com", "999999", domain.PurposeSignup)

	info, err := f.svc.InspectChallenge(testContext(t), "Alice@example.com", "signup")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", info.Identity)
	assert.Equal(t, 1, info.Attempts)
	assert.Equal(t, 3, info.MaxAttempts)
	assert.False(t, info.Expired)
	assert.Nil(t, info.LastDelivery)

	f.clock.Advance(6 * time.Minute)
	info, err = f.svc.InspectChallenge(testContext(t), "alice@example.com", "signup")
	require.NoError(t, err)
	assert.True(t, info.Expired)
}
