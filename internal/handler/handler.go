// Package handler wires the HTTP surface to the core components.
package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/qr"
	"qrattend/internal/queue"
	"qrattend/internal/roster"
	"qrattend/internal/session"
	"qrattend/internal/settings"
	"qrattend/internal/token"
)

type Handler struct {
	cfg      config.App
	registry *token.Registry
	qrgen    *qr.Generator
	sessions *session.Store
	students *roster.Store
	settings *settings.Store
	ledger   *attendance.Ledger
	coord    *attendance.Coordinator
	queue    queue.Queue
}

func New(cfg config.App, registry *token.Registry, qrgen *qr.Generator, sessions *session.Store,
	students *roster.Store, cfgStore *settings.Store, ledger *attendance.Ledger,
	coord *attendance.Coordinator, q queue.Queue) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		qrgen:    qrgen,
		sessions: sessions,
		students: students,
		settings: cfgStore,
		ledger:   ledger,
		coord:    coord,
		queue:    q,
	}
}

// Register attaches all routes. qrLimiter and loginLimiter are per-IP rate
// limits for the QR poll and the admin login respectively.
func (h *Handler) Register(r *gin.Engine, qrLimiter, loginLimiter gin.HandlerFunc) {
	r.GET("/api/generate-qr", qrLimiter, h.GenerateQR)
	r.GET("/verify-attendance", h.VerifyAttendance)
	r.POST("/api/validate-session", h.ValidateSession)
	r.POST("/mark-attendance", h.MarkAttendance)

	r.GET("/api/public/settings", h.PublicSettings)
	r.GET("/api/sessions/:id/public", h.PublicSession)
	r.GET("/api/students/:rollNo", h.StudentByRollNo)
	r.GET("/api/attendance", h.StudentAttendance)
	r.GET("/api/attendance/dates", h.AttendanceDates)
	r.GET("/api/attendance/by-date", h.AttendanceByDate)

	r.POST("/api/admin/login", loginLimiter, h.AdminLogin)

	admin := r.Group("/api/admin", auth.AdminAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))
	admin.GET("/me", h.AdminMe)
	admin.GET("/settings", h.AdminGetSettings)
	admin.PUT("/settings", h.AdminUpdateSettings)

	admin.POST("/sessions", h.AdminCreateSession)
	admin.GET("/sessions/active", h.AdminActiveSession)
	admin.POST("/sessions/:id/close", h.AdminCloseSession)

	admin.GET("/students", h.AdminListStudents)
	admin.POST("/students", h.AdminCreateStudent)
	admin.GET("/students/sections", h.AdminSections)
	admin.POST("/students/import", h.AdminImportStudents)
	admin.DELETE("/students/purge", h.AdminPurgeStudents)
	admin.GET("/students/:rollNo", h.AdminGetStudent)
	admin.PUT("/students/:rollNo", h.AdminUpdateStudent)
	admin.DELETE("/students/:rollNo", h.AdminDeleteStudent)

	admin.GET("/attendance", h.AdminListAttendance)
	admin.POST("/attendance/manual", h.AdminManualAttendance)
	admin.DELETE("/attendance/purge", h.AdminPurgeAttendance)
	admin.PUT("/attendance/:id", h.AdminUpdateAttendance)
	admin.DELETE("/attendance/:id", h.AdminDeleteAttendance)
}

// respondError renders domain errors with their kind and hides everything
// else behind a generic message.
func respondError(c *gin.Context, err error) {
	var e *attendance.Error
	if errors.As(err, &e) {
		c.JSON(statusFor(e.Kind), gin.H{"status": "error", "kind": e.Kind, "message": e.Message})
		return
	}
	log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "server error, try again"})
}

func statusFor(kind attendance.Kind) int {
	switch kind {
	case attendance.KindTokenInvalid:
		return http.StatusUnauthorized
	case attendance.KindNotFound:
		return http.StatusNotFound
	case attendance.KindDuplicateCheckIn, attendance.KindDuplicateDevice, attendance.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
