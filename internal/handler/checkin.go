package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"qrattend/internal/attendance"
	"qrattend/internal/metrics"
	"qrattend/internal/qr"
	"qrattend/internal/queue"
	"qrattend/internal/roster"
	"qrattend/internal/session"
)

// GenerateQR issues (or reuses) a scan token bound to the active session and
// returns the rendered QR image path. When no session is active, a default
// whitelist session is opened for the token's lifetime.
func (h *Handler) GenerateQR(c *gin.Context) {
	ttlMinutes, _ := strconv.Atoi(c.Query("ttlMinutes"))
	if ttlMinutes < 1 {
		ttlMinutes = int(h.cfg.QRDefaultTTL / time.Minute)
	}
	if ttlMinutes > 60 {
		ttlMinutes = 60
	}
	ttl := time.Duration(ttlMinutes) * time.Minute

	ctx := c.Request.Context()
	cfg, err := h.settings.Current(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	sess, err := h.sessions.FindActive(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	if sess == nil {
		title := fmt.Sprintf("%s %s", cfg.CourseTitle, time.Now().Format("02.01.2006"))
		sess, err = h.sessions.Create(ctx, title, session.PolicyWhitelist, cfg.RequireLocation, ttlMinutes, "system")
		if err != nil {
			respondError(c, err)
			return
		}
		metrics.SessionsCreatedTotal.Inc()
	}

	issued := h.registry.Issue(c.ClientIP(), ttl, sess.ID)
	if !issued.Reused {
		metrics.QRIssuedTotal.Inc()
	}

	payload := qr.PayloadAt(issued.Token, sess.ID, h.cfg.QRSecretKey, issued.IssuedAt)
	image, err := h.qrgen.Generate(payload)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"qrImage":   "/qrcodes/" + image,
		"qrToken":   issued.Token,
		"sessionId": sess.ID,
		"expiresIn": issued.ExpiresIn.Milliseconds(),
		"session": gin.H{
			"id":              sess.ID,
			"title":           sess.Title,
			"policy":          sess.Policy,
			"requireLocation": sess.RequireLocation,
			"expiresAt":       sess.ExpiresAt,
		},
	})
}

// VerifyAttendance is the endpoint QR codes point at. The payload hash is
// checked before the registry so forged codes fail even for live tokens.
func (h *Handler) VerifyAttendance(c *gin.Context) {
	payload, err := qr.ParsePayload(c.Query("data"))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid QR code data")
		return
	}
	if !payload.Verify(h.cfg.QRSecretKey) {
		c.String(http.StatusBadRequest, "invalid QR code: hash mismatch")
		return
	}
	if !h.registry.Validate(payload.QRToken) {
		c.String(http.StatusBadRequest, "QR code expired, scan a fresh one")
		return
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = h.registry.ResolveSession(payload.QRToken)
	}
	if sessionID == "" {
		sessionID = payload.QRToken
	}
	c.Redirect(http.StatusFound, "/index.html?sessionId="+sessionID+"&qrToken="+payload.QRToken)
}

// ValidateSession accepts either a scan token or a durable session id and
// reports whether it can still be checked in against.
func (h *Handler) ValidateSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
		QRToken   string `json:"qrToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "message": "session id or QR token required"})
		return
	}
	tok := req.QRToken
	if tok == "" {
		tok = req.SessionID
	}
	if tok == "" {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "message": "session id or QR token required"})
		return
	}

	if h.registry.Validate(tok) {
		c.JSON(http.StatusOK, gin.H{"valid": true, "message": "valid session", "dbSessionId": h.registry.ResolveSession(tok)})
		return
	}

	// The token may be a durable session id from an older client.
	if _, err := uuid.Parse(tok); err == nil {
		sess, err := h.sessions.Get(c.Request.Context(), tok)
		if err == nil && sess.Active(time.Now()) {
			c.JSON(http.StatusOK, gin.H{"valid": true, "message": "valid session", "dbSessionId": sess.ID})
			return
		}
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"valid": false, "message": "invalid or expired session"})
}

// MarkAttendance runs the check-in transaction and publishes an audit event
// on success.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req attendance.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed check-in request"})
		return
	}

	rec, err := h.coord.CheckIn(c.Request.Context(), req)
	if err != nil {
		kind := attendance.KindOf(err)
		if kind == "" {
			metrics.CheckinsTotal.WithLabelValues("error").Inc()
		} else {
			metrics.CheckinsTotal.WithLabelValues(string(kind)).Inc()
		}
		respondError(c, err)
		return
	}
	metrics.CheckinsTotal.WithLabelValues("ok").Inc()

	if err := h.queue.Publish(c.Request.Context(), queue.Message{Type: "checkin", Body: rec.ID}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "attendance recorded", "data": rec})
}

// PublicSettings exposes the display fields the check-in UI needs.
func (h *Handler) PublicSettings(c *gin.Context) {
	cfg, err := h.settings.Current(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": cfg})
}

// PublicSession exposes the policy fields the check-in UI needs.
func (h *Handler) PublicSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "session not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{
		"id":              sess.ID,
		"title":           sess.Title,
		"policy":          sess.Policy,
		"requireLocation": sess.RequireLocation,
		"expiresAt":       sess.ExpiresAt,
		"endAt":           sess.EndAt,
	}})
}

// StudentByRollNo returns roster info for the check-in form prefill.
func (h *Handler) StudentByRollNo(c *gin.Context) {
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

// StudentAttendance lists a student's records.
func (h *Handler) StudentAttendance(c *gin.Context) {
	rollNo := c.Query("rollNo")
	if rollNo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "rollNo query parameter is required"})
		return
	}
	st, err := h.students.FindByRollNo(c.Request.Context(), rollNo)
	if errors.Is(err, roster.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "student not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	records, err := h.ledger.List(c.Request.Context(), attendance.ListFilter{RollNo: rollNo})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "success",
		"name":             st.Name,
		"universityRollNo": st.UniversityRollNo,
		"attendance":       records,
	})
}

// AttendanceDates lists the distinct dates with any record.
func (h *Handler) AttendanceDates(c *gin.Context) {
	dates, err := h.ledger.Dates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": dates})
}

// AttendanceByDate lists present records for one date.
func (h *Handler) AttendanceByDate(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "date query parameter is required"})
		return
	}
	records, err := h.ledger.List(c.Request.Context(), attendance.ListFilter{Date: date, Status: "present"})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": records})
}
