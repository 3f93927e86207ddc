package services

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"chat-server/models"
)

// RevokeReason explains why a session is being terminated
type RevokeReason string

const (
	RevokeUserLogout RevokeReason = "user_logout"
	RevokeRisk       RevokeReason = "risk"
	RevokeSweep      RevokeReason = "sweep"
	RevokeAdmin      RevokeReason = "admin"
)

// PresenceController is the slice of the presence machine the lifecycle
// manager needs: forcing a user offline on explicit logout, bypassing the
// grace timer.
type PresenceController interface {
	ForceOffline(ctx context.Context, userID string)
}

// CreateOptions carries optional facts about the login that produced a
// session
type CreateOptions struct {
	StepUpUsed bool
}

// CreatedSession is the result of CreateSession. Both secrets are returned
// exactly once; only their hash/ciphertext is stored.
type CreatedSession struct {
	SessionSecret    string
	RefreshSecret    string
	Session          *models.Session
	IsExistingDevice bool
}

// ValidationResult is the typed outcome of validating a session secret.
// Reason is one of the session sentinel errors when Valid is false.
type ValidationResult struct {
	Valid   bool
	Reason  error
	Session *models.Session
}

// RefreshResult is the typed outcome of a refresh attempt
type RefreshResult struct {
	Success       bool
	Reason        error
	SessionSecret string
	ExpiresAt     time.Time
	Session       *models.Session
}

// SessionManager creates, validates, refreshes and revokes sessions
type SessionManager struct {
	store    SessionStore
	codec    *TokenCodec
	risk     RiskScorer
	presence PresenceController

	sessionTTL time.Duration
	refreshTTL time.Duration
}

func NewSessionManager(store SessionStore, codec *TokenCodec, risk RiskScorer, sessionTTL, refreshTTL time.Duration) *SessionManager {
	return &SessionManager{
		store:      store,
		codec:      codec,
		risk:       risk,
		sessionTTL: sessionTTL,
		refreshTTL: refreshTTL,
	}
}

// SetPresenceController wires the presence machine in after construction;
// presence itself depends on stores built alongside the manager.
func (m *SessionManager) SetPresenceController(p PresenceController) {
	m.presence = p
}

// CreateSession issues a session for an already-authenticated user. A login
// from a device matching an existing active session (fingerprint + browser +
// OS) rotates that session's secrets in place instead of creating a new row,
// which keeps frequent reconnects from growing the session set. New sessions
// never revoke the user's other active sessions; concurrent multi-device
// sessions are a first-class feature.
func (m *SessionManager) CreateSession(ctx context.Context, userID string, device models.DeviceInfo, location models.LocationInfo, opts CreateOptions) (*CreatedSession, error) {
	sessionSecret, err := m.codec.GenerateSecret()
	if err != nil {
		return nil, err
	}
	refreshSecret, err := m.codec.GenerateSecret()
	if err != nil {
		return nil, err
	}
	refreshCiphertext, err := m.codec.Encrypt(refreshSecret)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt := now.Add(m.sessionTTL)
	refreshExpiresAt := now.Add(m.refreshTTL)

	existing, err := m.store.FindActiveByDevice(ctx, userID, device.Fingerprint, device.BrowserName, device.OSName)
	if err != nil && err != ErrSessionNotFound {
		return nil, err
	}

	if existing != nil {
		if err := m.store.RotateSecrets(ctx, existing.ID, m.codec.Hash(sessionSecret), refreshCiphertext, expiresAt, refreshExpiresAt); err != nil {
			return nil, err
		}
		existing.SecretHash = m.codec.Hash(sessionSecret)
		existing.RefreshCiphertext = refreshCiphertext
		existing.ExpiresAt = expiresAt
		existing.RefreshExpiresAt = refreshExpiresAt
		existing.LastActivity = now

		slog.Info("Known device reconnected, session reused",
			"userID", userID,
			"sessionID", existing.ID.Hex())

		return &CreatedSession{
			SessionSecret:    sessionSecret,
			RefreshSecret:    refreshSecret,
			Session:          existing,
			IsExistingDevice: true,
		}, nil
	}

	// New device detection looks at all historical sessions, revoked
	// included, so a device seen months ago is still recognized
	seen, err := m.store.HasFingerprint(ctx, userID, device.Fingerprint)
	if err != nil {
		return nil, err
	}
	isNewDevice := !seen

	recent, err := m.store.ListRecentForUser(ctx, userID, 20)
	if err != nil {
		return nil, err
	}

	signal, err := m.risk.Score(ctx, DeviceFacts{
		Device:      device,
		Location:    location,
		IsNewDevice: isNewDevice,
	}, recent)
	if err != nil {
		// Scoring is advisory; a scorer outage must not block login
		slog.Error("Risk scoring failed", "error", err, "userID", userID)
		signal = RiskSignal{}
	}

	// A high score quarantines the new session until step-up verification
	// and revokes the user's other active sessions
	status := models.SessionActive
	if signal.Suspicious {
		status = models.SessionSuspicious
	}

	session := &models.Session{
		ID:                primitive.NewObjectID(),
		UserID:            userID,
		SecretHash:        m.codec.Hash(sessionSecret),
		RefreshCiphertext: refreshCiphertext,
		Device:            device,
		Location:          location,
		IsNewDevice:       isNewDevice,
		IsSuspicious:      signal.Suspicious,
		RiskScore:         signal.Score,
		RiskFactors:       signal.Factors,
		StepUpUsed:        opts.StepUpUsed,
		Status:            status,
		CreatedAt:         now,
		LastActivity:      now,
		ExpiresAt:         expiresAt,
		RefreshExpiresAt:  refreshExpiresAt,
	}
	if opts.StepUpUsed {
		session.VerifiedAt = &now
	}

	if err := m.store.Insert(ctx, session); err != nil {
		return nil, err
	}

	if signal.Suspicious {
		revoked, err := m.store.RevokeAllForUser(ctx, userID, session.ID)
		if err != nil {
			slog.Error("Failed to revoke sessions after suspicious login", "error", err, "userID", userID)
		}
		slog.Warn("Suspicious login, step-up required",
			"userID", userID,
			"riskScore", signal.Score,
			"factors", signal.Factors,
			"revokedSessions", revoked)
	}

	return &CreatedSession{
		SessionSecret: sessionSecret,
		RefreshSecret: refreshSecret,
		Session:       session,
	}, nil
}

// Validate checks a session secret and, on success, bumps last-activity and
// the activity counter. A row found in a terminal status is hard-deleted
// (fail-closed); a short-expired but otherwise active row is left in place
// so the caller can attempt the documented refresh recovery.
func (m *SessionManager) Validate(ctx context.Context, secret string) (*ValidationResult, error) {
	session, err := m.store.FindBySecretHash(ctx, m.codec.Hash(secret))
	if err != nil {
		if err == ErrSessionNotFound {
			return &ValidationResult{Reason: ErrSessionNotFound}, nil
		}
		return nil, err
	}

	switch session.Status {
	case models.SessionRevoked:
		m.deleteQuiet(ctx, session.ID)
		return &ValidationResult{Reason: ErrSessionRevoked}, nil
	case models.SessionExpired:
		m.deleteQuiet(ctx, session.ID)
		return &ValidationResult{Reason: ErrSessionExpired}, nil
	case models.SessionSuspicious:
		// Kept so the caller can demand step-up verification
		return &ValidationResult{Reason: ErrSessionSuspicious, Session: session}, nil
	}

	if time.Now().After(session.ExpiresAt) {
		return &ValidationResult{Reason: ErrSessionExpired}, nil
	}

	if err := m.store.TouchActivity(ctx, session.ID); err != nil && err != ErrSessionNotFound {
		slog.Error("Failed to bump session activity", "error", err, "sessionID", session.ID.Hex())
	}

	return &ValidationResult{Valid: true, Session: session}, nil
}

// Refresh mints a new session secret against a refresh secret. The lookup
// re-encrypts the inbound value and matches on ciphertext equality, which is
// why Encrypt must be deterministic. Failure never revokes the session: a
// race between two refresh attempts must not destroy a legitimate one.
func (m *SessionManager) Refresh(ctx context.Context, refreshSecret string) (*RefreshResult, error) {
	ciphertext, err := m.codec.Encrypt(refreshSecret)
	if err != nil {
		return nil, err
	}

	session, err := m.store.FindByRefreshCiphertext(ctx, ciphertext)
	if err != nil {
		if err == ErrSessionNotFound {
			return &RefreshResult{Reason: ErrSessionNotFound}, nil
		}
		return nil, err
	}

	if session.Status != models.SessionActive {
		return &RefreshResult{Reason: reasonForStatus(session.Status)}, nil
	}
	if time.Now().After(session.RefreshExpiresAt) {
		return &RefreshResult{Reason: ErrRefreshExpired}, nil
	}

	newSecret, err := m.codec.GenerateSecret()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(m.sessionTTL)

	if err := m.store.RotateSessionSecret(ctx, session.ID, m.codec.Hash(newSecret), expiresAt); err != nil {
		if err == ErrSessionNotFound {
			return &RefreshResult{Reason: ErrSessionNotFound}, nil
		}
		return nil, err
	}

	session.ExpiresAt = expiresAt
	return &RefreshResult{
		Success:       true,
		SessionSecret: newSecret,
		ExpiresAt:     expiresAt,
		Session:       session,
	}, nil
}

// ConfirmStepUp reactivates a suspicious session after the user passed
// step-up verification. Only a suspicious session can be confirmed.
func (m *SessionManager) ConfirmStepUp(ctx context.Context, session *models.Session) error {
	if session.Status != models.SessionSuspicious {
		return ErrSessionNotFound
	}
	if err := m.store.MarkStatus(ctx, session.ID, models.SessionActive); err != nil {
		return err
	}
	slog.Info("Step-up verification passed",
		"sessionID", session.ID.Hex(),
		"userID", session.UserID)
	return nil
}

// Revoke terminates a session with a hard delete. A user-initiated logout
// additionally forces the owner's presence to offline immediately, bypassing
// the grace timer; manual intent is trusted where network flakiness is not.
func (m *SessionManager) Revoke(ctx context.Context, session *models.Session, reason RevokeReason) error {
	if reason == RevokeUserLogout && m.presence != nil {
		m.presence.ForceOffline(ctx, session.UserID)
	}

	if err := m.store.Delete(ctx, session.ID); err != nil {
		return err
	}

	slog.Info("Session revoked",
		"sessionID", session.ID.Hex(),
		"userID", session.UserID,
		"reason", string(reason))
	return nil
}

// RevokeAll transitions every active session of the user to revoked, except
// the optionally-excepted one, and returns the count affected. The sweep
// deletes the rows after the retention window.
func (m *SessionManager) RevokeAll(ctx context.Context, userID string, exceptID primitive.ObjectID) (int64, error) {
	count, err := m.store.RevokeAllForUser(ctx, userID, exceptID)
	if err != nil {
		return 0, err
	}
	slog.Info("Bulk session revoke", "userID", userID, "count", count)
	return count, nil
}

// ListSessions returns redacted summaries of the user's active sessions with
// the current one flagged
func (m *SessionManager) ListSessions(ctx context.Context, userID string, currentID primitive.ObjectID) ([]models.SessionSummary, error) {
	sessions, err := m.store.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, models.SessionSummary{
			ID:           s.ID.Hex(),
			Device:       s.Device,
			Location:     s.Location,
			RiskScore:    s.RiskScore,
			IsSuspicious: s.IsSuspicious,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			IsCurrent:    s.ID == currentID,
		})
	}
	return summaries, nil
}

func (m *SessionManager) deleteQuiet(ctx context.Context, id primitive.ObjectID) {
	if err := m.store.Delete(ctx, id); err != nil {
		slog.Error("Failed to delete dead session", "error", err, "sessionID", id.Hex())
	}
}

func reasonForStatus(status models.SessionStatus) error {
	switch status {
	case models.SessionExpired:
		return ErrSessionExpired
	case models.SessionRevoked:
		return ErrSessionRevoked
	case models.SessionSuspicious:
		return ErrSessionSuspicious
	}
	return ErrSessionNotFound
}

// StartCleanup runs the expiry sweep on a fixed interval until ctx is
// cancelled
func (m *SessionManager) StartCleanup(ctx context.Context, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Session cleanup stopped")
				return
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				count, err := m.store.Sweep(sweepCtx, retention)
				cancel()
				if err != nil {
					slog.Error("Failed to sweep expired sessions", "error", err)
				} else if count > 0 {
					slog.Info("Swept expired sessions", "count", count)
				}
			}
		}
	}()

	slog.Info("Session cleanup started")
}
