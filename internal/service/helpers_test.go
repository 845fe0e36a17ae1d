package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/notify"
	"github.com/propnest/propnest-backend/internal/storage/memory"
	"github.com/propnest/propnest-backend/pkg/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:      "test-secret-key-for-testing-only",
			Issuer:      "test-issuer",
			ExpiryHours: 24,
		},
	}
	cfg.Verification.SetDefaults()
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier captures jobs instead of delivering them.
type recordingNotifier struct {
	mu     sync.Mutex
	jobs   []notify.Job
	refuse bool
}

func (n *recordingNotifier) Enqueue(job notify.Job) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.refuse {
		return false
	}
	n.jobs = append(n.jobs, job)
	return true
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs)
}

func (n *recordingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.jobs, "no delivery was queued")
	return n.jobs[len(n.jobs)-1].Code
}

// failingProvider rejects every send.
type failingProvider struct {
	name  string
	mu    sync.Mutex
	calls int
}

func (p *failingProvider) Name() string { return p.name }

func (p *failingProvider) Send(ctx context.Context, msg *notify.Message) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return &notify.DeliveryError{Provider: p.name, Code: notify.CodeTransport, Err: context.DeadlineExceeded}
}

func (p *failingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	store    *memory.Store
	accounts *AccountService
	notifier *recordingNotifier
	clock    *testClock
	svc      *VerificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	store := memory.NewStore()
	accounts := NewAccountService(store.Accounts(), NewTokenIssuer(cfg.JWT), cfg, zap.NewNop())
	notifier := &recordingNotifier{}
	clock := newTestClock()
	svc := NewVerificationService(
		store.Challenges(),
		store.Authorizations(),
		accounts,
		notifier,
		cfg.Verification,
		zap.NewNop(),
		WithClock(clock.Now),
	)
	return &fixture{store: store, accounts: accounts, notifier: notifier, clock: clock, svc: svc}
}

func (f *fixture) register(t *testing.T, email string) *domain.Account {
	t.Helper()
	account, err := f.accounts.Register(testContext(t), email, "original-password", "Test Account")
	require.NoError(t, err)
	return account
}

func (f *fixture) issue(t *testing.T, identity string, purpose domain.Purpose) string {
	t.Helper()
	result, err := f.svc.IssueChallenge(testContext(t), identity, string(purpose))
	require.NoError(t, err)
	require.Equal(t, domain.IssueSuccess, result.Outcome)
	return f.notifier.lastCode(t)
}

func (f *fixture) verify(t *testing.T, identity, code string, purpose domain.Purpose) domain.VerifyOutcome {
	t.Helper()
	result, err := f.svc.VerifyChallenge(testContext(t), identity, code, string(purpose))
	require.NoError(t, err)
	return result.Outcome
}

// wrongCode returns a well-formed code different from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
