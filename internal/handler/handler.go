package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"faceapproval/internal/admin"
	"faceapproval/internal/approval"
	"faceapproval/internal/audit"
	"faceapproval/internal/store"
)

// sessionCookie carries the browser-session token. HttpOnly and
// SameSite-Lax; an absent cookie just means a token gets minted on the
// first write-capable call.
const sessionCookie = "session_id"

// Handler maps the HTTP surface onto the core services.
type Handler struct {
	svc   *approval.Service
	gate  *admin.Gate
	audit *audit.Logger
	store store.Store
	redis *store.Redis // nil when redis is not configured
}

// New creates a handler over the core collaborators.
func New(svc *approval.Service, gate *admin.Gate, a *audit.Logger, s store.Store, r *store.Redis) *Handler {
	return &Handler{svc: svc, gate: gate, audit: a, store: s, redis: r}
}

// Register wires all routes onto the router.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/capture-face", h.CaptureFace)
	api.POST("/register-entry", h.RegisterEntry)
	api.POST("/approve-face", h.ApproveFace)
	api.POST("/end-session", h.EndSession)
	api.POST("/admin-login", h.AdminLogin)
	api.POST("/admin-logout", h.AdminLogout)
	api.POST("/clear-face", h.ClearFace)
	api.GET("/admin-data", h.AdminData)
	api.POST("/delete-user", h.DeleteUser)
	api.POST("/edit-user", h.EditUser)
	r.GET("/health", h.Health)
}

// sessionToken returns the caller's browser-session token, minting one
// when the cookie is absent. Browser tokens and access-session ids are
// separate namespaces; this is always the former.
func sessionToken(c *gin.Context) string {
	if v, err := c.Cookie(sessionCookie); err == nil && v != "" {
		return v
	}
	return uuid.NewString()
}

func setSessionCookie(c *gin.Context, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// fail converts a domain error into the structured failure response. No
// error escapes uncaught past this boundary.
func (h *Handler) fail(c *gin.Context, err error) {
	var ve *approval.ValidationError
	var ce *approval.ConflictError
	var nfe *approval.NotFoundError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": ve.Message})
	case errors.As(err, &ce):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": ce.Message})
	case errors.As(err, &nfe):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": nfe.Message})
	case errors.Is(err, admin.ErrBadCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials. Please check username and password."})
	case errors.Is(err, admin.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Unauthorized. Admin access required."})
	default:
		h.audit.Recordf(c.Request.Context(), "ERROR: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal error: " + err.Error()})
	}
}

// CaptureFace stores a face payload against the caller's browser session.
func (h *Handler) CaptureFace(c *gin.Context) {
	var req struct {
		FaceImage string `json:"face_image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	token := sessionToken(c)
	if err := h.svc.Capture(c.Request.Context(), token, req.FaceImage); err != nil {
		h.fail(c, err)
		return
	}
	setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Face captured successfully"})
}

// RegisterEntry registers a new user from the form fields plus either an
// inline payload or the previously captured one.
func (h *Handler) RegisterEntry(c *gin.Context) {
	var req struct {
		Name      string `json:"name"`
		Class     string `json:"class"`
		Roll      string `json:"roll"`
		FaceImage string `json:"face_image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	token := sessionToken(c)
	code, err := h.svc.Register(c.Request.Context(), token, req.Name, req.Class, req.Roll, req.FaceImage)
	if err != nil {
		h.fail(c, err)
		return
	}
	setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"code":    code,
		"name":    req.Name,
		"message": "Registration successful!",
	})
}

// ApproveFace matches the payload and returns an access session.
func (h *Handler) ApproveFace(c *gin.Context) {
	var req struct {
		FaceImage string `json:"face_image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	token := sessionToken(c)
	result, err := h.svc.Approve(c.Request.Context(), token, req.FaceImage)
	if err != nil {
		h.fail(c, err)
		return
	}
	setSessionCookie(c, token)

	msg := "Face approved successfully!"
	if result.AlreadyActive {
		msg = "Session already active"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": result.SessionID,
		"name":       result.Name,
		"class":      result.Class,
		"roll":       result.Roll,
		"message":    msg,
	})
}

// EndSession ends the access session carrying session_id.
func (h *Handler) EndSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	if err := h.svc.EndSession(c.Request.Context(), req.SessionID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Session ended successfully"})
}

// AdminLogin authenticates the administrator and flags the caller's
// browser session.
func (h *Handler) AdminLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	token := sessionToken(c)
	if err := h.gate.Login(c.Request.Context(), token, req.Username, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Admin login successful"})
}

// AdminLogout drops the caller's admin standing and clears the cookie.
func (h *Handler) AdminLogout(c *gin.Context) {
	token := sessionToken(c)
	h.gate.Logout(c.Request.Context(), token)
	clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out successfully"})
}

// ClearFace drops any pending capture for the caller's browser session.
func (h *Handler) ClearFace(c *gin.Context) {
	token := sessionToken(c)
	h.svc.ClearCapture(c.Request.Context(), token)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Face data cleared"})
}

// AdminData returns the dashboard snapshot. Degraded backends yield the
// error marker inside a 200 body rather than failing the request.
func (h *Handler) AdminData(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Dashboard(c.Request.Context()))
}

// DeleteUser removes a registration; admin only.
func (h *Handler) DeleteUser(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	token := sessionToken(c)
	if err := h.gate.Authorize(c.Request.Context(), token); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.svc.Delete(c.Request.Context(), req.Name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "User \"" + req.Name + "\" deleted successfully"})
}

// EditUser updates a registration, re-keying on rename; admin only.
func (h *Handler) EditUser(c *gin.Context) {
	var req struct {
		OldName string `json:"old_name"`
		Name    string `json:"name"`
		Class   string `json:"class"`
		Roll    string `json:"roll"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	token := sessionToken(c)
	if err := h.gate.Authorize(c.Request.Context(), token); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.svc.Edit(c.Request.Context(), req.OldName, req.Name, req.Class, req.Roll); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "User updated successfully"})
}

// Health reports the active storage backend. It never hard-fails; a dead
// backend degrades the status instead.
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"storage":   h.store.Backend(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.store.Ping(c.Request.Context()); err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
	}
	if h.redis != nil {
		resp["redis"] = h.redis.Healthy(c.Request.Context())
	}
	c.JSON(http.StatusOK, resp)
}
