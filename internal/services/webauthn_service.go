package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/models"
)

// WebAuthnRepository defines the interface for passkey persistence
type WebAuthnRepository interface {
	Get(ctx context.Context, credentialID string) (*models.WebAuthnCredential, error)
	ListByUser(ctx context.Context, authUserID string) ([]*models.WebAuthnCredential, error)
	SaveRegistration(ctx context.Context, cred *models.WebAuthnCredential) error
	RecordUse(ctx context.Context, credentialID string, signCount uint32) (bool, error)
	MarkCloneWarning(ctx context.Context, credentialID string) error
}

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// credentialParameters are offered in preference order.
var credentialParameters = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgEdDSA},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
}

// WebAuthnConfig holds relying-party settings
type WebAuthnConfig struct {
	RPName          string
	CanonicalDomain string
	Origins         []string
}

// WebAuthnService registers passkeys and signs users in with them. The
// registration challenge lives only in the caller's cookie.
type WebAuthnService struct {
	creds    WebAuthnRepository
	profiles ProfileRepository
	identity IdentityProvider
	parser   passkeyParser
	cfg      WebAuthnConfig
	logger   *slog.Logger

	newProvider func(rpID string) (passkeyProvider, error)
	mu          sync.Mutex
	providers   map[string]passkeyProvider
	rpIDs       map[string]struct{}
}

// NewWebAuthnService creates a new WebAuthnService
func NewWebAuthnService(
	creds WebAuthnRepository,
	profiles ProfileRepository,
	identity IdentityProvider,
	cfg WebAuthnConfig,
	logger *slog.Logger,
) *WebAuthnService {
	s := &WebAuthnService{
		creds:     creds,
		profiles:  profiles,
		identity:  identity,
		parser:    defaultPasskeyParser{},
		cfg:       cfg,
		logger:    logger,
		providers: make(map[string]passkeyProvider),
		rpIDs:     allowedRPIDs(cfg),
	}
	s.newProvider = s.buildProvider
	return s
}

// allowedRPIDs is the canonical domain plus the RP id of every configured
// origin. Providers are only built for these.
func allowedRPIDs(cfg WebAuthnConfig) map[string]struct{} {
	ids := make(map[string]struct{}, len(cfg.Origins)+1)
	if cfg.CanonicalDomain != "" {
		ids[auth.RPID(cfg.CanonicalDomain, cfg.CanonicalDomain)] = struct{}{}
	}
	for _, origin := range cfg.Origins {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			continue
		}
		ids[auth.RPID(u.Host, cfg.CanonicalDomain)] = struct{}{}
	}
	return ids
}

func (s *WebAuthnService) buildProvider(rpID string) (passkeyProvider, error) {
	return webauthn.New(&webauthn.Config{
		RPDisplayName: s.cfg.RPName,
		RPID:          rpID,
		RPOrigins:     s.cfg.Origins,
	})
}

// providerFor returns the WebAuthn instance for an RP id, building it once.
// RP ids outside the configured origins are rejected before the cache.
func (s *WebAuthnService) providerFor(rpID string) (passkeyProvider, error) {
	if _, ok := s.rpIDs[rpID]; !ok {
		s.logger.Warn("webauthn request for unknown relying party", slog.String("rp_id", rpID))
		return nil, models.ErrUnknownRelyingParty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.providers[rpID]; ok {
		return p, nil
	}
	p, err := s.newProvider(rpID)
	if err != nil {
		s.logger.Error("invalid webauthn configuration", slog.String("rp_id", rpID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: webauthn config", models.ErrMisconfigured)
	}
	s.providers[rpID] = p
	return p, nil
}

// RPID returns the relying-party id used for a request host.
func (s *WebAuthnService) RPID(host string) string {
	return auth.RPID(host, s.cfg.CanonicalDomain)
}

// RegistrationOptions starts a passkey registration. The returned challenge
// must be handed back to Verify through the challenge cookie.
func (s *WebAuthnService) RegistrationOptions(ctx context.Context, userID, host string) (*protocol.CredentialCreation, string, error) {
	if userID == "" {
		return nil, "", models.ErrUnauthorized
	}

	provider, err := s.providerFor(s.RPID(host))
	if err != nil {
		return nil, "", err
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
		webauthn.WithCredentialParameters(credentialParameters),
	}
	if len(user.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, err := provider.BeginRegistration(user, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin registration: %w", err)
	}

	return creation, session.Challenge, nil
}

// VerifyRegistration checks an attestation against the cookie challenge and
// stores the credential. Returns the base64url credential id.
func (s *WebAuthnService) VerifyRegistration(ctx context.Context, userID, host, challenge string, body []byte) (string, error) {
	if userID == "" {
		return "", models.ErrUnauthorized
	}
	if challenge == "" {
		return "", models.ErrMissingChallenge
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		s.logger.Info("unparseable attestation", slog.String("user_id", userID), slog.Any("error", err))
		return "", models.ErrBadPayload
	}

	rpID := s.RPID(host)
	provider, err := s.providerFor(rpID)
	if err != nil {
		return "", err
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}

	session := webauthn.SessionData{
		Challenge:        challenge,
		RelyingPartyID:   rpID,
		UserID:           user.WebAuthnID(),
		UserVerification: protocol.VerificationPreferred,
		CredParams:       credentialParameters,
	}

	credential, err := provider.CreateCredential(user, session, parsed)
	if err != nil {
		s.logger.Warn("attestation rejected",
			slog.String("user_id", userID),
			slog.String("rp_id", rpID),
			slog.Any("error", err))
		return "", models.ErrVerificationFailed
	}

	model := credentialToModel(userID, credential)
	if err := s.creds.SaveRegistration(ctx, model); err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Warn("credential id owned by another user", slog.String("user_id", userID))
			return "", models.ErrConflict
		}
		return "", fmt.Errorf("failed to store credential: %w", err)
	}

	s.logger.Info("passkey registered",
		slog.String("user_id", userID),
		slog.String("device_type", model.DeviceType))
	return model.CredentialID, nil
}

// LoginOptions starts a discoverable passkey login.
func (s *WebAuthnService) LoginOptions(ctx context.Context, host string) (*protocol.CredentialAssertion, string, error) {
	provider, err := s.providerFor(s.RPID(host))
	if err != nil {
		return nil, "", err
	}

	assertion, session, err := provider.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin login: %w", err)
	}

	return assertion, session.Challenge, nil
}

// FinishLogin validates an assertion, advances the signature counter and
// returns a provider session for the credential owner.
func (s *WebAuthnService) FinishLogin(ctx context.Context, host, challenge string, body []byte) (string, *models.Session, error) {
	if challenge == "" {
		return "", nil, models.ErrMissingChallenge
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		return "", nil, models.ErrBadPayload
	}

	rpID := s.RPID(host)
	provider, err := s.providerFor(rpID)
	if err != nil {
		return "", nil, err
	}

	session := webauthn.SessionData{
		Challenge:        challenge,
		RelyingPartyID:   rpID,
		UserVerification: protocol.VerificationPreferred,
	}

	validated, credential, err := provider.ValidatePasskeyLogin(s.userHandler(ctx), session, parsed)
	if err != nil {
		s.logger.Warn("assertion rejected", slog.String("rp_id", rpID), slog.Any("error", err))
		return "", nil, models.ErrVerificationFailed
	}

	userID := string(validated.WebAuthnID())
	credentialID := encodeCredentialID(credential.ID)

	advanced, err := s.creds.RecordUse(context.WithoutCancel(ctx), credentialID, credential.Authenticator.SignCount)
	if err != nil {
		return "", nil, fmt.Errorf("failed to record credential use: %w", err)
	}
	if !advanced || credential.Authenticator.CloneWarning {
		if err := s.creds.MarkCloneWarning(context.WithoutCancel(ctx), credentialID); err != nil {
			s.logger.Error("failed to flag credential", slog.Any("error", err))
		}
		s.logger.Warn("signature counter did not advance",
			slog.String("user_id", userID),
			slog.String("credential_id", credentialID))
		return "", nil, models.ErrVerificationFailed
	}

	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load profile: %w", err)
	}

	sess, err := s.identity.IssueSession(ctx, &models.IdentityUser{
		ID:    profile.AuthUserID,
		Email: profile.Email,
		Phone: profile.Phone,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue session: %w", err)
	}

	return userID, sess, nil
}

func (s *WebAuthnService) userHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		stored, err := s.creds.Get(ctx, encodeCredentialID(rawID))
		if err != nil {
			return nil, fmt.Errorf("credential lookup: %w", err)
		}
		if stored.AuthUserID != string(userHandle) {
			return nil, fmt.Errorf("user handle does not own credential")
		}
		return s.loadUser(ctx, stored.AuthUserID)
	}
}

type passkeyUser struct {
	id          string
	name        string
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(u.id)
}

func (u *passkeyUser) WebAuthnName() string {
	return u.name
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.name
}

func (u *passkeyUser) WebAuthnIcon() string {
	return ""
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *WebAuthnService) loadUser(ctx context.Context, userID string) (*passkeyUser, error) {
	name := userID
	profile, err := s.profiles.GetByID(ctx, userID)
	switch {
	case err == nil && profile.Email != "":
		name = profile.Email
	case err == nil && profile.Phone != "":
		name = profile.Phone
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	stored, err := s.creds.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		cred, err := modelToCredential(c)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, cred)
	}

	return &passkeyUser{id: userID, name: name, credentials: credentials}, nil
}

func credentialToModel(userID string, c *webauthn.Credential) *models.WebAuthnCredential {
	deviceType := models.DeviceTypeSingle
	if c.Flags.BackupEligible {
		deviceType = models.DeviceTypeMulti
	}

	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}

	return &models.WebAuthnCredential{
		CredentialID:    encodeCredentialID(c.ID),
		AuthUserID:      userID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		AAGUID:          c.Authenticator.AAGUID,
		SignCount:       c.Authenticator.SignCount,
		DeviceType:      deviceType,
		BackedUp:        c.Flags.BackupState,
		Transports:      transports,
	}
}

func modelToCredential(m *models.WebAuthnCredential) (webauthn.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(m.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decode credential %s: %w", m.CredentialID, err)
	}

	transports := make([]protocol.AuthenticatorTransport, 0, len(m.Transports))
	for _, t := range m.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return webauthn.Credential{
		ID:              id,
		PublicKey:       m.PublicKey,
		AttestationType: m.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			BackupEligible: m.DeviceType == models.DeviceTypeMulti,
			BackupState:    m.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       m.AAGUID,
			SignCount:    m.SignCount,
			CloneWarning: m.CloneWarning,
		},
	}, nil
}

func encodeCredentialID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}
