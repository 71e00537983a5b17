package clinicauth

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/brightdent/clinicauth/ratelimit"
)

// memProvider is an in-memory AccountProvider with compare-and-swap
// versioning, mirroring what the real store enforces.
type memProvider struct {
	mu      sync.Mutex
	nextID  int
	byID    map[string]*Account
	byEmail map[string]string

	updateCalls int
}

func newMemProvider() *memProvider {
	return &memProvider{
		byID:    map[string]*Account{},
		byEmail: map[string]string{},
	}
}

func copyAccount(a *Account) *Account {
	out := *a
	out.PasswordHistory = append([]string(nil), a.PasswordHistory...)
	out.TwoFactorSecret = append([]byte(nil), a.TwoFactorSecret...)
	out.BackupCodes = append([]BackupCode(nil), a.BackupCodes...)
	out.Sessions = append([]Session(nil), a.Sessions...)
	out.SecurityEvents = append([]SecurityEvent(nil), a.SecurityEvents...)
	return &out
}

func (p *memProvider) FindByEmail(_ context.Context, email string) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(p.byID[id]), nil
}

func (p *memProvider) FindByID(_ context.Context, id string) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	account, ok := p.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (p *memProvider) Create(_ context.Context, account *Account) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	email := NormalizeEmail(account.Email)
	if _, exists := p.byEmail[email]; exists {
		return nil, ErrDuplicateIdentity
	}
	p.nextID++
	stored := copyAccount(account)
	stored.ID = "acc-" + strconv.Itoa(p.nextID)
	stored.Version = 1
	p.byID[stored.ID] = stored
	p.byEmail[email] = stored.ID
	return copyAccount(stored), nil
}

func (p *memProvider) Update(_ context.Context, account *Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateCalls++
	stored, ok := p.byID[account.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if stored.Version != account.Version {
		return ErrVersionConflict
	}
	updated := copyAccount(account)
	updated.Version++
	p.byID[account.ID] = updated
	account.Version = updated.Version
	return nil
}

// stored returns the provider's current copy for assertions, bypassing the
// engine.
func (p *memProvider) stored(t *testing.T, id string) *Account {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	account, ok := p.byID[id]
	if !ok {
		t.Fatalf("account %s not in provider", id)
	}
	return copyAccount(account)
}

// recordingMailer captures sends for assertions. Sends from the engine are
// asynchronous, so assertions go through waitForMail.
type recordingMailer struct {
	mu    sync.Mutex
	sent  []Email
	fired chan struct{}
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{fired: make(chan struct{}, 64)}
}

func (m *recordingMailer) Send(_ context.Context, msg Email) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	select {
	case m.fired <- struct{}{}:
	default:
	}
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) last(t *testing.T) Email {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) waitForMail(t *testing.T) {
	t.Helper()
	select {
	case <-m.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mail")
	}
}

// waitForSubject polls for a sent mail with the given subject. Sends are
// asynchronous and unordered relative to each other.
func (m *recordingMailer) waitForSubject(t *testing.T, subject string) Email {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		for i := len(m.sent) - 1; i >= 0; i-- {
			if m.sent[i].Subject == subject {
				msg := m.sent[i]
				m.mu.Unlock()
				return msg
			}
		}
		m.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for mail %q", subject)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Token.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	// bcrypt cost 12 makes the suite crawl; min cost keeps the semantics.
	cfg.Password.Cost = 4
	return cfg
}

func newTestEngine(t *testing.T, provider AccountProvider, opts ...func(*Builder)) *Engine {
	t.Helper()

	builder := New().
		WithConfig(testConfig()).
		WithAccountProvider(provider)
	for _, opt := range opts {
		opt(builder)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

const testPassword = "Str0ng!Passw0rd"

// seedAccount registers an account through the engine and returns its id.
func seedAccount(t *testing.T, engine *Engine, email string) string {
	t.Helper()

	profile, err := engine.Register(context.Background(), RegisterRequest{
		Email:    email,
		Name:     "Test User",
		Phone:    "555-0100",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return profile.ID
}

// conflictOnceProvider wraps memProvider and, once armed, fails the next
// Update with a version conflict without applying the write, simulating a
// lost compare-and-swap race against a concurrent writer.
type conflictOnceProvider struct {
	*memProvider
	armedMu sync.Mutex
	armed   bool
}

func (p *conflictOnceProvider) arm() {
	p.armedMu.Lock()
	p.armed = true
	p.armedMu.Unlock()
}

func (p *conflictOnceProvider) Update(ctx context.Context, account *Account) error {
	p.armedMu.Lock()
	fire := p.armed
	p.armed = false
	p.armedMu.Unlock()
	if fire {
		return ErrVersionConflict
	}
	return p.memProvider.Update(ctx, account)
}

// stubLimiter is a fixed-decision rate limiter for engine tests.
type stubLimiter struct {
	allowed bool
	checks  int
	resets  int
}

func (l *stubLimiter) Check(context.Context, string) (ratelimit.Decision, error) {
	l.checks++
	decision := ratelimit.Decision{Allowed: l.allowed}
	if !l.allowed {
		decision.RetryAfter = time.Minute
	}
	return decision, nil
}

func (l *stubLimiter) Reset(context.Context, string) error {
	l.resets++
	return nil
}

func loginCtx(ip, userAgent string) context.Context {
	ctx := WithClientIP(context.Background(), ip)
	return WithUserAgent(ctx, userAgent)
}
