package handler

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/metrics"
	"qrattend/internal/roster"
	"qrattend/internal/session"
	"qrattend/internal/settings"
)

var adminDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// AdminLogin exchanges admin credentials for a bearer token.
func (h *Handler) AdminLogin(c *gin.Context) {
	var creds auth.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "username and password are required"})
		return
	}
	tok, expiresAt, err := auth.Login(creds, h.cfg.AdminUsername, h.cfg.AdminPassword,
		h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL)
	if errors.Is(err, auth.ErrBadCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid username or password"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "token": tok, "expiresAt": expiresAt})
}

// AdminMe confirms the bearer token is still good.
func (h *Handler) AdminMe(c *gin.Context) {
	claims := adminClaims(c)
	c.JSON(http.StatusOK, gin.H{"status": "success", "username": claims.Subject, "role": claims.Role})
}

func adminClaims(c *gin.Context) auth.Claims {
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(auth.Claims); ok {
			return claims
		}
	}
	return auth.Claims{}
}

func (h *Handler) AdminGetSettings(c *gin.Context) {
	cfg, err := h.settings.Current(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": cfg})
}

func (h *Handler) AdminUpdateSettings(c *gin.Context) {
	var u settings.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed settings update"})
		return
	}
	cfg, err := h.settings.Apply(c.Request.Context(), u)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": cfg})
}

// AdminCreateSession opens a session with an explicit policy and ttl.
func (h *Handler) AdminCreateSession(c *gin.Context) {
	var req struct {
		Title           string `json:"title"`
		Policy          string `json:"policy"`
		RequireLocation *bool  `json:"requireLocation"`
		TTLMinutes      int    `json:"ttlMinutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "session title is required"})
		return
	}
	requireLocation := true
	if req.RequireLocation != nil {
		requireLocation = *req.RequireLocation
	}
	sess, err := h.sessions.Create(c.Request.Context(), req.Title,
		session.ParsePolicy(req.Policy), requireLocation, req.TTLMinutes, adminClaims(c).Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.SessionsCreatedTotal.Inc()
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": sess})
}

func (h *Handler) AdminActiveSession(c *gin.Context) {
	sess, err := h.sessions.FindActive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": sess})
}

func (h *Handler) AdminCloseSession(c *gin.Context) {
	sess, err := h.sessions.Close(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "session not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": sess})
}

func (h *Handler) AdminListStudents(c *gin.Context) {
	students, err := h.students.List(c.Request.Context(), c.Query("section"), c.Query("search"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": students})
}

func (h *Handler) AdminCreateStudent(c *gin.Context) {
	var st roster.Student
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed student"})
		return
	}
	created, err := h.students.Create(c.Request.Context(), &st)
	switch {
	case errors.Is(err, roster.ErrBadRollNo):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "roll number must be a 9-digit number"})
	case errors.Is(err, roster.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "message": "student with this roll number already exists"})
	case err != nil:
		respondError(c, err)
	default:
		c.JSON(http.StatusCreated, gin.H{"status": "success", "data": created})
	}
}

func (h *Handler) AdminSections(c *gin.Context) {
	sections, err := h.students.Sections(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": sections})
}

// AdminImportStudents upserts a batch of roster rows. Rows with bad roll
// numbers are skipped and reported, not fatal.
func (h *Handler) AdminImportStudents(c *gin.Context) {
	var req struct {
		Students []roster.ImportRow `json:"students"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Students) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "students array is required"})
		return
	}
	written, rejected, err := h.students.Import(c.Request.Context(), req.Students)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "imported": written, "rejected": rejected})
}

func (h *Handler) AdminPurgeStudents(c *gin.Context) {
	if c.GetHeader("X-Confirm") != "PURGE" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "set X-Confirm: PURGE to wipe the roster"})
		return
	}
	n, err := h.students.Purge(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "deleted": n})
}

func (h *Handler) AdminGetStudent(c *gin.Context) {
	st, err := h.students.FindByRollNo(c.Request.Context(), c.Param("rollNo"))
	if errors.Is(err, roster.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "student not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": st})
}

func (h *Handler) AdminUpdateStudent(c *gin.Context) {
	var req struct {
		Name        *string `json:"name"`
		Section     *string `json:"section"`
		ClassRollNo *string `json:"classRollNo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed student update"})
		return
	}
	st, err := h.students.Update(c.Request.Context(), c.Param("rollNo"), req.Name, req.Section, req.ClassRollNo)
	if errors.Is(err, roster.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "student not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": st})
}

func (h *Handler) AdminDeleteStudent(c *gin.Context) {
	err := h.students.Delete(c.Request.Context(), c.Param("rollNo"))
	if errors.Is(err, roster.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "student not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) AdminListAttendance(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	records, err := h.ledger.List(c.Request.Context(), attendance.ListFilter{
		SessionID: c.Query("sessionId"),
		RollNo:    c.Query("rollNo"),
		Date:      c.Query("date"),
		Status:    c.Query("status"),
		Limit:     limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": records})
}

// AdminManualAttendance records attendance on a student's behalf, skipping
// the token and geofence checks.
func (h *Handler) AdminManualAttendance(c *gin.Context) {
	var req attendance.ManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed manual entry"})
		return
	}
	rec, err := h.coord.ManualEntry(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": rec})
}

func (h *Handler) AdminPurgeAttendance(c *gin.Context) {
	if c.GetHeader("X-Confirm") != "PURGE" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "set X-Confirm: PURGE to wipe attendance"})
		return
	}
	n, err := h.ledger.Purge(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "deleted": n})
}

func (h *Handler) AdminUpdateAttendance(c *gin.Context) {
	var u attendance.UpdateFields
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed attendance update"})
		return
	}
	if u.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "no fields to update"})
		return
	}
	if u.Date != nil && !adminDateRe.MatchString(*u.Date) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "date must be in YYYY-MM-DD format"})
		return
	}
	rec, err := h.ledger.Update(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": rec})
}

func (h *Handler) AdminDeleteAttendance(c *gin.Context) {
	err := h.ledger.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
