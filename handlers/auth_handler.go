package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"chat-server/middleware"
	"chat-server/models"
	"chat-server/services"
)

type AuthHandler struct {
	sessions *services.SessionManager
	users    services.UserStore
	limiter  *services.LoginLimiter
}

func NewAuthHandler(sessions *services.SessionManager, users services.UserStore, limiter *services.LoginLimiter) *AuthHandler {
	return &AuthHandler{sessions: sessions, users: users, limiter: limiter}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	// Coarse location facts resolved upstream (gateway or client); the IP is
	// taken from the request itself
	Location models.LocationInfo `json:"location"`
}

type LoginResponse struct {
	SessionSecret    string    `json:"session_secret"`
	RefreshSecret    string    `json:"refresh_secret"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	IsNewDevice      bool      `json:"is_new_device"`
	IsExistingDevice bool      `json:"is_existing_device"`
	UserID           string    `json:"user_id"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Email and password are required",
		})
	}

	if !h.limiter.Allow(req.Email + "|" + c.IP()) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Too many attempts, try again later",
		})
	}

	user, err := h.users.GetByEmail(c.Context(), req.Email)
	if err != nil {
		slog.Info("Login with unknown email", "email", req.Email)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if !user.IsActive {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Account is disabled",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		slog.Info("Invalid password attempt", "email", req.Email)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	device := services.BuildDeviceInfo(c.Get("User-Agent"), c.Get("Accept-Language"))
	location := req.Location
	location.IPAddress = c.IP()

	created, err := h.sessions.CreateSession(c.Context(), user.UserID, device, location, services.CreateOptions{})
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}

	slog.Info("User logged in",
		"userID", user.UserID,
		"isNewDevice", created.Session.IsNewDevice,
		"isExistingDevice", created.IsExistingDevice)

	return c.Status(fiber.StatusOK).JSON(LoginResponse{
		SessionSecret:    created.SessionSecret,
		RefreshSecret:    created.RefreshSecret,
		ExpiresAt:        created.Session.ExpiresAt,
		RefreshExpiresAt: created.Session.RefreshExpiresAt,
		IsNewDevice:      created.Session.IsNewDevice,
		IsExistingDevice: created.IsExistingDevice,
		UserID:           user.UserID,
	})
}

type RefreshRequest struct {
	RefreshSecret string `json:"refresh_secret"`
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshSecret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "refresh_secret is required",
		})
	}

	result, err := h.sessions.Refresh(c.Context(), req.RefreshSecret)
	if err != nil {
		slog.Error("Refresh failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Refresh failed",
		})
	}

	if !result.Success {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid session, please sign in again",
			"code":  refreshCode(result.Reason),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"session_secret": result.SessionSecret,
		"expires_at":     result.ExpiresAt,
	})
}

func refreshCode(reason error) string {
	switch reason {
	case services.ErrRefreshExpired:
		return "refresh_expired"
	case services.ErrSessionRevoked:
		return "revoked"
	case services.ErrSessionSuspicious:
		return "step_up_required"
	default:
		return "not_found"
	}
}

type StepUpRequest struct {
	Password string `json:"password"`
}

// StepUp reactivates a suspicious session after the user re-proves the
// credential. The session secret arrives as a bearer token like any other
// call but is validated here directly, since the auth middleware rejects
// suspicious sessions.
func (h *AuthHandler) StepUp(c *fiber.Ctx) error {
	secret := middleware.BearerSecret(c)
	if secret == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req StepUpRequest
	if err := c.BodyParser(&req); err != nil || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "password is required",
		})
	}

	result, err := h.sessions.Validate(c.Context(), secret)
	if err != nil {
		slog.Error("Session validation failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Verification failed",
		})
	}
	if result.Valid {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Session already verified",
		})
	}
	if result.Reason != services.ErrSessionSuspicious || result.Session == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid session, please sign in again",
		})
	}

	session := result.Session
	if !h.limiter.Allow(session.UserID + "|" + c.IP()) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Too many attempts, try again later",
		})
	}

	user, err := h.users.GetByID(c.Context(), session.UserID)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid session, please sign in again",
		})
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		slog.Info("Step-up with invalid password", "userID", session.UserID)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if err := h.sessions.ConfirmStepUp(c.Context(), session); err != nil {
		slog.Error("Failed to confirm step-up", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Verification failed",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Session verified",
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	session := c.Locals("session").(*models.Session)

	if err := h.sessions.Revoke(c.Context(), session, services.RevokeUserLogout); err != nil {
		slog.Error("Failed to revoke session", "error", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Logged out successfully",
	})
}

type LogoutAllRequest struct {
	ExceptCurrent bool `json:"except_current"`
}

func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	session := c.Locals("session").(*models.Session)

	var req LogoutAllRequest
	// Empty body means "everywhere including here"
	_ = c.BodyParser(&req)

	exceptID := session.ID
	if !req.ExceptCurrent {
		exceptID = primitive.NilObjectID
	}

	count, err := h.sessions.RevokeAll(c.Context(), session.UserID, exceptID)
	if err != nil {
		slog.Error("Failed to revoke sessions", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to revoke sessions",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"revoked": count,
	})
}

func (h *AuthHandler) ListSessions(c *fiber.Ctx) error {
	session := c.Locals("session").(*models.Session)

	summaries, err := h.sessions.ListSessions(c.Context(), session.UserID, session.ID)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"sessions": summaries,
	})
}
