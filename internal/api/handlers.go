package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendancedesk/internal/academy"
	"attendancedesk/internal/attendance"
	"attendancedesk/internal/auth"
	"attendancedesk/internal/export"
	"attendancedesk/internal/journal"
	"attendancedesk/internal/qrtoken"
)

func (s *Server) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Role {
	case "":
		req.Role = auth.RoleScanner
	case auth.RoleScanner, auth.RoleConsole:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be scanner or console"})
		return
	}

	if s.journal != nil {
		if err := s.journal.RegisterDevice(c.Request.Context(), req.DeviceID, req.Role); err != nil {
			s.log.Error("register device failed", zap.String("device_id", req.DeviceID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "device registration failed"})
			return
		}
	}

	s.issueTokens(c, http.StatusCreated, req.DeviceID, req.Role)
}

// refreshDevice trades a refresh token for a new pair. The old token is
// spent, so a replayed refresh token is refused.
func (s *Server) refreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal unavailable"})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, s.cfg.JWTSigningKey, s.cfg.JWTIssuer, auth.TypeRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err := s.journal.RedeemRefreshToken(c.Request.Context(), claims.DeviceID(), req.RefreshToken); err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token revoked or unknown"})
			return
		}
		s.log.Error("redeem refresh token failed", zap.String("device_id", claims.DeviceID()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token refresh failed"})
		return
	}
	s.issueTokens(c, http.StatusOK, claims.DeviceID(), claims.Role)
}

func (s *Server) issueTokens(c *gin.Context, status int, deviceID, role string) {
	tokens, err := auth.Issue(deviceID, role, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if s.journal != nil {
		if err := s.journal.SaveRefreshToken(c.Request.Context(), deviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
			s.log.Warn("save refresh token failed", zap.String("device_id", deviceID), zap.Error(err))
		}
	}

	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) upstreamLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := s.up.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		var se *academy.StatusError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusUnprocessableEntity) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		s.log.Warn("upstream login failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "academy backend unavailable"})
		return
	}
	s.creds.Set(token)

	body := gin.H{"status": "ok"}
	if exp := s.creds.ExpiresAt(); !exp.IsZero() {
		body["expires_at"] = exp.Unix()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) upstreamLogout(c *gin.Context) {
	s.creds.Clear()
	c.Status(http.StatusNoContent)
}

func (s *Server) pendingLessons(c *gin.Context) {
	lessons, err := s.desk.RefreshMissing(c.Request.Context())
	if err != nil {
		s.log.Warn("refresh missing sessions failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load lessons"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lessons": lessons})
}

func (s *Server) selectLesson(c *gin.Context) {
	var req struct {
		LessonID *int64 `json:"lesson_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.desk.SelectLesson(c.Request.Context(), *req.LessonID)
	s.loadResult(c, res, err)
}

func (s *Server) createSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := s.desk.CreateSession(c.Request.Context(), id)
	s.loadResult(c, res, err)
}

func (s *Server) loadResult(c *gin.Context, res attendance.RosterLoadResult, err error) {
	switch {
	case errors.Is(err, attendance.ErrNoLesson):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create attendance session", "result": res})
	case res.Stale:
		c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer selection", "result": res})
	default:
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) roster(c *gin.Context) {
	c.JSON(http.StatusOK, s.desk.View(c.Query("q")))
}

func (s *Server) exportRoster(c *gin.Context) {
	snap := s.desk.View(c.Query("q"))
	if snap.State != attendance.RosterReady {
		c.JSON(http.StatusConflict, gin.H{"error": "no roster loaded"})
		return
	}
	lesson, ok := s.desk.Lookup(snap.LessonID)
	if !ok {
		lesson = academy.Lesson{ID: snap.LessonID}
	}
	data, err := export.RosterXLSX(lesson, snap.Roster)
	if err != nil {
		s.log.Error("export roster failed", zap.Int64("lesson_id", snap.LessonID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(snap.LessonID)+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) openScanner(c *gin.Context) {
	var req struct {
		StudentID int64 `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.desk.OpenScanner(req.StudentID)
	c.JSON(http.StatusOK, s.desk.View("").Scanner)
}

func (s *Server) closeScanner(c *gin.Context) {
	s.desk.CloseScanner()
	c.Status(http.StatusNoContent)
}

func (s *Server) scan(c *gin.Context) {
	var req struct {
		Payload string `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := s.desk.HandleScan(s.deviceContext(c), req.Payload)
	c.JSON(markStatus(res), res)
}

func (s *Server) mark(c *gin.Context) {
	var req struct {
		RecordID  int64 `json:"record_id"`
		StudentID int64 `json:"student_id" binding:"required"`
		LessonID  int64 `json:"lesson_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := s.desk.MarkPresent(s.deviceContext(c), req.RecordID, req.StudentID, req.LessonID)
	c.JSON(markStatus(res), res)
}

// markStatus keeps skips at 200: a precondition miss is not an error.
func markStatus(res attendance.MarkResult) int {
	switch res.Outcome {
	case attendance.OutcomeFailed:
		return http.StatusBadGateway
	case attendance.OutcomeRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

func (s *Server) validateQR(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, ok := qrtoken.Claims(req.Token)
	body := gin.H{"valid": ok}
	if ok {
		body["claims"] = claims
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listScans(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal unavailable"})
		return
	}
	f := journal.Filter{
		LessonID:  queryInt64(c, "lesson_id"),
		StudentID: queryInt64(c, "student_id"),
		DeviceID:  c.Query("device_id"),
		Outcome:   c.Query("outcome"),
		Limit:     int(queryInt64(c, "limit")),
		Offset:    int(queryInt64(c, "offset")),
	}
	events, err := s.journal.List(c.Request.Context(), f)
	if err != nil {
		s.log.Error("list scans failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": events})
}

func (s *Server) getScan(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal unavailable"})
		return
	}
	evt, err := s.journal.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
			return
		}
		s.log.Error("get scan failed", zap.String("id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scan"})
		return
	}
	c.JSON(http.StatusOK, evt)
}

func (s *Server) deviceContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if claims, ok := auth.ClaimsFrom(c); ok {
		ctx = withDevice(ctx, claims.DeviceID())
	}
	return ctx
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryInt64(c *gin.Context, key string) int64 {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
