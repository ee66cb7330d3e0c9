package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/trustgate/internal/identifier"
	"github.com/BradenHooton/trustgate/internal/models"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNormalizer() *identifier.Normalizer {
	n, err := identifier.NewNormalizer("977", 10, `^9[678]`)
	if err != nil {
		panic(err)
	}
	return n
}

// FakeOTPRepository is an in-memory OTPRepository. Its conditional updates
// hold one lock, mirroring the single-statement updates of the SQL store.
type FakeOTPRepository struct {
	mu      sync.Mutex
	records map[string]*models.OTPRecord
	seq     int
	now     func() time.Time

	CreateErr error
}

func NewFakeOTPRepository() *FakeOTPRepository {
	return &FakeOTPRepository{records: make(map[string]*models.OTPRecord), now: time.Now}
}

func (f *FakeOTPRepository) Create(ctx context.Context, identifier string, channel models.Channel, codeHash string, expiresAt time.Time) (*models.OTPRecord, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	rec := &models.OTPRecord{
		ID:         fmt.Sprintf("otp-%d", f.seq),
		Identifier: identifier,
		Channel:    channel,
		CodeHash:   codeHash,
		ExpiresAt:  expiresAt,
		CreatedAt:  f.now().Add(time.Duration(f.seq) * time.Microsecond),
	}
	f.records[rec.ID] = rec
	cp := *rec
	return &cp, nil
}

func (f *FakeOTPRepository) GetLatestUnconsumed(ctx context.Context, identifier string) (*models.OTPRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *models.OTPRecord
	for _, rec := range f.records {
		if rec.Identifier != identifier || rec.ConsumedAt != nil {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *FakeOTPRepository) IncrementAttempts(ctx context.Context, id string, maxAttempts int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok || rec.ConsumedAt != nil || rec.AttemptCount >= maxAttempts {
		return false, nil
	}
	rec.AttemptCount++
	return true, nil
}

func (f *FakeOTPRepository) Consume(ctx context.Context, id string, maxAttempts int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	now := f.now()
	if !ok || rec.ConsumedAt != nil || rec.AttemptCount >= maxAttempts || !now.Before(rec.ExpiresAt) {
		return false, nil
	}
	rec.ConsumedAt = &now
	return true, nil
}

func (f *FakeOTPRepository) Retire(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rec, ok := f.records[id]; ok && rec.ConsumedAt == nil {
		now := f.now()
		rec.ConsumedAt = &now
	}
	return nil
}

func (f *FakeOTPRepository) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.records, id)
	return nil
}

// Records returns copies of all records for an identifier, oldest first.
func (f *FakeOTPRepository) Records(identifier string) []models.OTPRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.OTPRecord, 0)
	for _, rec := range f.records {
		if rec.Identifier == identifier {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Expire moves a record's expiry into the past.
func (f *FakeOTPRepository) Expire(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records[id].ExpiresAt = f.now().Add(-time.Second)
}

// FakeCooldownStore is an in-memory CooldownStore
type FakeCooldownStore struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
	released []string
}

func NewFakeCooldownStore() *FakeCooldownStore {
	return &FakeCooldownStore{lastSent: make(map[string]time.Time), now: time.Now}
}

func (f *FakeCooldownStore) Acquire(ctx context.Context, identifier string, window time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if last, ok := f.lastSent[identifier]; ok && now.Sub(last) < window {
		return false, nil
	}
	f.lastSent[identifier] = now
	return true, nil
}

func (f *FakeCooldownStore) Release(ctx context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.lastSent, identifier)
	f.released = append(f.released, identifier)
	return nil
}

// MockProfileRepository implements ProfileRepository for testing
type MockProfileRepository struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile

	UpsertErr error
}

func NewMockProfileRepository(profiles ...*models.Profile) *MockProfileRepository {
	m := &MockProfileRepository{profiles: make(map[string]*models.Profile)}
	for _, p := range profiles {
		m.profiles[p.AuthUserID] = p
	}
	return m
}

func (m *MockProfileRepository) GetByID(ctx context.Context, authUserID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.profiles[authUserID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockProfileRepository) GetByPhone(ctx context.Context, phone string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.profiles {
		if p.Phone != "" && p.Phone == phone {
			cp := *p
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockProfileRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.profiles {
		if p.Email != "" && p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockProfileRepository) Upsert(ctx context.Context, authUserID, phone, email string) (*models.Profile, error) {
	if m.UpsertErr != nil {
		return nil, m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[authUserID]
	if !ok {
		p = &models.Profile{AuthUserID: authUserID}
		m.profiles[authUserID] = p
	}
	if p.Phone == "" {
		p.Phone = phone
	}
	if p.Email == "" {
		p.Email = email
	}
	cp := *p
	return &cp, nil
}

// MockIdentityProvider implements IdentityProvider for testing
type MockIdentityProvider struct {
	CreateUserFunc         func(ctx context.Context, email, phone string) (*models.IdentityUser, error)
	UpdatePasswordFunc     func(ctx context.Context, userID, password string) error
	SignInWithPasswordFunc func(ctx context.Context, email, password string) (*models.Session, error)
	SendEmailOTPFunc       func(ctx context.Context, email string) error
	VerifyEmailOTPFunc     func(ctx context.Context, email, code string) (*models.Session, error)
	IssueSessionFunc       func(ctx context.Context, user *models.IdentityUser) (*models.Session, error)
}

func (m *MockIdentityProvider) CreateUser(ctx context.Context, email, phone string) (*models.IdentityUser, error) {
	if m.CreateUserFunc != nil {
		return m.CreateUserFunc(ctx, email, phone)
	}
	return &models.IdentityUser{ID: "user-new", Email: email, Phone: phone}, nil
}

func (m *MockIdentityProvider) UpdatePassword(ctx context.Context, userID, password string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, userID, password)
	}
	return nil
}

func (m *MockIdentityProvider) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	if m.SignInWithPasswordFunc != nil {
		return m.SignInWithPasswordFunc(ctx, email, password)
	}
	return &models.Session{AccessToken: "access"}, nil
}

func (m *MockIdentityProvider) SendEmailOTP(ctx context.Context, email string) error {
	if m.SendEmailOTPFunc != nil {
		return m.SendEmailOTPFunc(ctx, email)
	}
	return nil
}

func (m *MockIdentityProvider) VerifyEmailOTP(ctx context.Context, email, code string) (*models.Session, error) {
	if m.VerifyEmailOTPFunc != nil {
		return m.VerifyEmailOTPFunc(ctx, email, code)
	}
	return nil, models.ErrInvalidCode
}

func (m *MockIdentityProvider) IssueSession(ctx context.Context, user *models.IdentityUser) (*models.Session, error) {
	if m.IssueSessionFunc != nil {
		return m.IssueSessionFunc(ctx, user)
	}
	return &models.Session{AccessToken: "access-" + user.ID, UserID: user.ID}, nil
}

func (m *MockIdentityProvider) SyntheticEmail(phone string) string {
	if len(phone) > 0 && phone[0] == '+' {
		phone = phone[1:]
	}
	return "p" + phone + "@phone.invalid"
}

// MockCodeSender records delivered codes
type MockCodeSender struct {
	mu   sync.Mutex
	sent map[string][]string

	SendCodeFunc func(ctx context.Context, to, code string, ttl time.Duration) error
}

func NewMockCodeSender() *MockCodeSender {
	return &MockCodeSender{sent: make(map[string][]string)}
}

func (m *MockCodeSender) SendCode(ctx context.Context, to, code string, ttl time.Duration) error {
	if m.SendCodeFunc != nil {
		if err := m.SendCodeFunc(ctx, to, code, ttl); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[to] = append(m.sent[to], code)
	return nil
}

// LastCode returns the most recent code delivered to a recipient.
func (m *MockCodeSender) LastCode(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.sent[to]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

// Count returns how many codes were delivered to a recipient.
func (m *MockCodeSender) Count(to string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent[to])
}

// FakePINRepository is an in-memory PINRepository
type FakePINRepository struct {
	mu      sync.Mutex
	factors map[string]*models.TrustedFactor
	creds   map[string]*models.PinCredential
	now     func() time.Time
}

func NewFakePINRepository() *FakePINRepository {
	return &FakePINRepository{
		factors: make(map[string]*models.TrustedFactor),
		creds:   make(map[string]*models.PinCredential),
		now:     time.Now,
	}
}

func (f *FakePINRepository) GetFactor(ctx context.Context, authUserID string) (*models.TrustedFactor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fac, ok := f.factors[authUserID]; ok {
		cp := *fac
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (f *FakePINRepository) GetCredential(ctx context.Context, authUserID string) (*models.PinCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[authUserID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (f *FakePINRepository) RecordFailure(ctx context.Context, authUserID string, maxAttempts int, lockout time.Duration) (*models.TrustedFactor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fac, ok := f.factors[authUserID]
	if !ok {
		return nil, models.ErrNotFound
	}
	now := f.now()
	lockExpired := fac.LockedUntil != nil && !now.Before(*fac.LockedUntil)
	if lockExpired {
		fac.FailedAttempts = 1
		fac.LockedUntil = nil
	} else {
		fac.FailedAttempts++
	}
	if fac.FailedAttempts >= maxAttempts {
		until := now.Add(lockout)
		fac.LockedUntil = &until
	}
	cp := *fac
	return &cp, nil
}

func (f *FakePINRepository) ResetFailures(ctx context.Context, authUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fac, ok := f.factors[authUserID]; ok {
		fac.FailedAttempts = 0
		fac.LockedUntil = nil
	}
	return nil
}

func (f *FakePINRepository) ReplacePin(ctx context.Context, authUserID, salt, pinHash string, commit func(context.Context) error) error {
	if err := commit(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[authUserID] = &models.PinCredential{AuthUserID: authUserID, Salt: salt, UpdatedAt: f.now()}
	f.factors[authUserID] = &models.TrustedFactor{
		AuthUserID: authUserID,
		FactorType: models.FactorTypePIN,
		PinHash:    pinHash,
		CreatedAt:  f.now(),
		UpdatedAt:  f.now(),
	}
	return nil
}

// noDelay skips the failure padding in tests
type noDelay struct{}

func (noDelay) WaitFrom(time.Time, bool) {}

// FakeWebAuthnRepository is an in-memory WebAuthnRepository
type FakeWebAuthnRepository struct {
	mu    sync.Mutex
	creds map[string]*models.WebAuthnCredential
	saves int
}

func NewFakeWebAuthnRepository() *FakeWebAuthnRepository {
	return &FakeWebAuthnRepository{creds: make(map[string]*models.WebAuthnCredential)}
}

func (f *FakeWebAuthnRepository) Get(ctx context.Context, credentialID string) (*models.WebAuthnCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[credentialID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (f *FakeWebAuthnRepository) ListByUser(ctx context.Context, authUserID string) ([]*models.WebAuthnCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.WebAuthnCredential, 0)
	for _, c := range f.creds {
		if c.AuthUserID == authUserID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *FakeWebAuthnRepository) SaveRegistration(ctx context.Context, cred *models.WebAuthnCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.creds[cred.CredentialID]; ok && existing.AuthUserID != cred.AuthUserID {
		return models.ErrConflict
	}
	cp := *cred
	f.creds[cred.CredentialID] = &cp
	f.saves++
	return nil
}

func (f *FakeWebAuthnRepository) RecordUse(ctx context.Context, credentialID string, signCount uint32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[credentialID]
	if !ok || c.CloneWarning {
		return false, nil
	}
	if c.SignCount < signCount || (c.SignCount == 0 && signCount == 0) {
		c.SignCount = signCount
		now := time.Now()
		c.LastUsedAt = &now
		return true, nil
	}
	return false, nil
}

func (f *FakeWebAuthnRepository) MarkCloneWarning(ctx context.Context, credentialID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[credentialID]; ok {
		c.CloneWarning = true
	}
	return nil
}

// Saves returns how many registrations were persisted.
func (f *FakeWebAuthnRepository) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}
