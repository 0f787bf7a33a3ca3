package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/best-technologies/embedded-door-lock/internal/access"
	"github.com/best-technologies/embedded-door-lock/internal/attendance"
	"github.com/best-technologies/embedded-door-lock/internal/auth"
	"github.com/best-technologies/embedded-door-lock/internal/config"
	"github.com/best-technologies/embedded-door-lock/internal/crypto"
	"github.com/best-technologies/embedded-door-lock/internal/db"
	"github.com/best-technologies/embedded-door-lock/internal/model"
)

var verificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "access_verifications_total",
	Help: "Verification outcomes by credential method.",
}, []string{"method", "outcome"})

func init() {
	prometheus.MustRegister(verificationsTotal)
}

type Server struct {
	cfg      config.Config
	store    *db.Store
	verifier *access.Verifier
	codes    *access.CodeStore
	engine   *attendance.Engine
}

func NewServer(cfg config.Config, store *db.Store, verifier *access.Verifier, codes *access.CodeStore, engine *attendance.Engine) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		codes:    codes,
		engine:   engine,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Device-facing endpoints: door controllers have no JWT.
	r.Post("/access/verify-rfid", s.handleVerifyRFID)
	r.Post("/access/verify-fingerprint", s.handleVerifyFingerprint)
	r.Post("/access/verify-temporary-code", s.handleVerifyTemporaryCode)
	r.Post("/access/logs", s.handleCreateAccessLog)

	r.Post("/identity/sign-in", s.handleSignIn)
	r.Post("/identity/register", s.handleRegister)
	r.With(s.authMiddleware).Get("/identity/me", s.handleMe)

	r.With(s.authMiddleware).Get("/access/logs", s.handleListAccessLogs)

	r.With(s.authMiddleware).Get("/attendance", s.handleListAttendance)
	r.With(s.authMiddleware, s.requireAdmin).Post("/attendance", s.handleCreateAttendance)
	r.With(s.authMiddleware).Get("/attendance/stats", s.handleAttendanceStats)
	r.With(s.authMiddleware).Get("/attendance/holidays", s.handleListHolidays)
	r.With(s.authMiddleware, s.requireAdmin).Post("/attendance/holidays", s.handleCreateHoliday)
	r.With(s.authMiddleware, s.requireAdmin).Delete("/attendance/holidays/{id}", s.handleDeleteHoliday)

	r.With(s.authMiddleware, s.requireAdmin).Get("/users", s.handleListUsers)
	r.With(s.authMiddleware, s.requireAdmin).Post("/users", s.handleCreateUser)
	r.With(s.authMiddleware, s.requireAdmin).Get("/users/{userId}", s.handleGetUser)
	r.With(s.authMiddleware, s.requireAdmin).Patch("/users/{userId}", s.handlePatchUser)
	r.With(s.authMiddleware, s.requireAdmin).Patch("/users/{userId}/role", s.handlePatchUserRole)
	r.With(s.authMiddleware, s.requireAdmin).Post("/users/{userId}/rfid-tags", s.handleAddRFIDTag)
	r.With(s.authMiddleware, s.requireAdmin).Post("/users/{userId}/fingerprints", s.handleAddFingerprint)
	r.With(s.authMiddleware, s.requireAdmin).Post("/users/{userId}/temporary-codes", s.handleIssueTemporaryCode)

	r.With(s.authMiddleware, s.requireAdmin).Get("/devices", s.handleListDevices)
	r.With(s.authMiddleware, s.requireAdmin).Post("/devices", s.handleCreateDevice)
	r.With(s.authMiddleware, s.requireAdmin).Get("/devices/{deviceId}", s.handleGetDevice)
	r.With(s.authMiddleware, s.requireAdmin).Patch("/devices/{deviceId}", s.handlePatchDevice)
	r.With(s.authMiddleware, s.requireAdmin).Delete("/devices/{deviceId}", s.handleDeleteDevice)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if claims.Role != string(model.UserRoleAdmin) {
			writeError(w, http.StatusForbidden, "admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Verification

type verifyRFIDRequest struct {
	RfidTag  string `json:"rfidTag"`
	DeviceID string `json:"deviceId,omitempty"`
}

func (s *Server) handleVerifyRFID(w http.ResponseWriter, r *http.Request) {
	var req verifyRFIDRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.RfidTag) == "" {
		writeError(w, http.StatusBadRequest, "rfidTag is required")
		return
	}
	decision, err := s.verifier.VerifyRFID(r.Context(), req.RfidTag)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.finishVerification(w, r, "rfid", req.DeviceID, decision)
}

type verifyFingerprintRequest struct {
	FingerprintID int    `json:"fingerprintId"`
	DeviceID      string `json:"deviceId,omitempty"`
}

func (s *Server) handleVerifyFingerprint(w http.ResponseWriter, r *http.Request) {
	var req verifyFingerprintRequest
	if err := decodeJSON(r, &req); err != nil || req.FingerprintID < 1 {
		writeError(w, http.StatusBadRequest, "fingerprintId must be a positive integer")
		return
	}
	decision, err := s.verifier.VerifyFingerprint(r.Context(), req.FingerprintID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.finishVerification(w, r, "fingerprint", req.DeviceID, decision)
}

type verifyCodeRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"deviceId,omitempty"`
}

func (s *Server) handleVerifyTemporaryCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Code) != 6 {
		writeError(w, http.StatusBadRequest, "code must be 6 characters")
		return
	}
	decision, err := s.verifier.VerifyTemporaryCode(r.Context(), req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.finishVerification(w, r, "temporary_code", req.DeviceID, decision)
}

// finishVerification records metrics and the device heartbeat. Denials are
// still HTTP 200: the door controller branches on data.authorized.
func (s *Server) finishVerification(w http.ResponseWriter, r *http.Request, method, deviceID string, decision access.Decision) {
	outcome := "denied"
	message := "Access denied"
	if decision.Authorized {
		outcome = "granted"
		message = "Access granted"
	}
	verificationsTotal.WithLabelValues(method, outcome).Inc()

	if deviceID != "" {
		if err := s.store.TouchDevice(r.Context(), deviceID, time.Now().UTC()); err != nil {
			log.Printf("http: touch device %s: %v", deviceID, err)
		}
	}
	writeSuccess(w, http.StatusOK, message, decision)
}

// Access logs

type createAccessLogRequest struct {
	DeviceID      string     `json:"deviceId"`
	UserID        string     `json:"userId"`
	Method        string     `json:"method"`
	RfidUID       *string    `json:"rfidUid,omitempty"`
	FingerprintID *int       `json:"fingerprintId,omitempty"`
	Status        string     `json:"status"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

func (s *Server) handleCreateAccessLog(w http.ResponseWriter, r *http.Request) {
	var req createAccessLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.DeviceID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "deviceId and userId are required")
		return
	}
	if req.Method != string(model.AccessMethodRFID) && req.Method != string(model.AccessMethodFingerprint) {
		writeError(w, http.StatusBadRequest, "method must be rfid or fingerprint")
		return
	}
	if req.Status != string(model.AccessStatusSuccess) && req.Status != string(model.AccessStatusFailed) {
		writeError(w, http.StatusBadRequest, "status must be success or failed")
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	entry := model.AccessLog{
		ID:        uuid.NewString(),
		LogID:     fmt.Sprintf("LOG-%s", strings.ToUpper(uuid.NewString()[:8])),
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		Method:    req.Method,
		Status:    model.AccessLogStatus(req.Status),
		Message:   accessLogMessage(req),
		Timestamp: ts,
	}
	if err := s.store.CreateAccessLog(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.store.TouchDevice(r.Context(), req.DeviceID, ts); err != nil {
		log.Printf("http: touch device %s: %v", req.DeviceID, err)
	}

	// The fold is asynchronous and best-effort: the log row above is the
	// source of truth and is already committed.
	if entry.Status == model.AccessStatusSuccess {
		s.engine.Notify(attendance.AccessGranted{UserID: entry.UserID, Timestamp: ts})
	}

	writeSuccess(w, http.StatusCreated, "Access log created", map[string]interface{}{
		"logId":     entry.LogID,
		"status":    entry.Status,
		"timestamp": entry.Timestamp,
	})
}

// accessLogMessage describes the attempt without echoing credential material.
func accessLogMessage(req createAccessLogRequest) string {
	if req.Status == string(model.AccessStatusSuccess) {
		return fmt.Sprintf("Access granted via %s", req.Method)
	}
	return fmt.Sprintf("Access denied via %s", req.Method)
}

func (s *Server) handleListAccessLogs(w http.ResponseWriter, r *http.Request) {
	filter := db.AccessLogFilter{}
	filter.Page, filter.Limit = pageParams(r)
	filter.DeviceID = queryString(r, "deviceId")
	filter.UserID = queryString(r, "userId")
	filter.Status = queryString(r, "status")
	filter.Method = queryString(r, "method")
	var err error
	if filter.From, filter.To, err = rangeParams(r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, total, err := s.store.ListAccessLogs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	views := make([]accessLogView, 0, len(logs))
	for _, entry := range logs {
		views = append(views, newAccessLogView(entry))
	}
	writeSuccess(w, http.StatusOK, "Access logs retrieved", map[string]interface{}{
		"logs":       views,
		"pagination": newPagination(filter.Page, filter.Limit, total),
	})
}

// Attendance

func (s *Server) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	filter := db.AttendanceFilter{}
	filter.Page, filter.Limit = pageParams(r)
	filter.UserID = queryString(r, "userId")
	filter.Status = queryString(r, "status")
	var err error
	if filter.From, filter.To, err = rangeParams(r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, total, err := s.store.ListAttendance(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	views := make([]attendanceView, 0, len(rows))
	for _, row := range rows {
		views = append(views, newAttendanceView(row))
	}
	writeSuccess(w, http.StatusOK, "Attendance retrieved", map[string]interface{}{
		"attendance": views,
		"pagination": newPagination(filter.Page, filter.Limit, total),
	})
}

type createAttendanceRequest struct {
	UserID   string     `json:"userId"`
	Date     string     `json:"date"`
	CheckIn  *time.Time `json:"checkIn,omitempty"`
	CheckOut *time.Time `json:"checkOut,omitempty"`
	Notes    *string    `json:"notes,omitempty"`
}

func (s *Server) handleCreateAttendance(w http.ResponseWriter, r *http.Request) {
	var req createAttendanceRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId and date are required")
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	att, err := s.engine.CreateOrUpdate(r.Context(), req.UserID, date, req.CheckIn, req.CheckOut, req.Notes)
	if errors.Is(err, attendance.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusOK, "Attendance saved", newAttendanceView(att))
}

func (s *Server) handleAttendanceStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := now
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		to = parsed
	}

	stats, err := s.engine.Stats(r.Context(), queryString(r, "userId"), from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, "Attendance stats retrieved", stats)
}

type createHolidayRequest struct {
	Name        string  `json:"name"`
	Date        string  `json:"date"`
	IsRecurring bool    `json:"isRecurring"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) handleCreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req createHolidayRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name and date are required")
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	holiday, err := s.engine.AddHoliday(r.Context(), req.Name, date, req.IsRecurring, req.Description)
	if errors.Is(err, attendance.ErrDuplicateHoliday) {
		writeError(w, http.StatusConflict, "holiday already exists on this date")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusCreated, "Holiday created", newHolidayView(holiday))
}

func (s *Server) handleListHolidays(w http.ResponseWriter, r *http.Request) {
	from, to, err := rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var holidays []model.Holiday
	if from != nil && to != nil {
		holidays, err = s.store.ListHolidaysInRange(r.Context(), *from, *to)
	} else {
		holidays, err = s.store.ListHolidays(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	views := make([]holidayView, 0, len(holidays))
	for _, holiday := range holidays {
		views = append(views, newHolidayView(holiday))
	}
	writeSuccess(w, http.StatusOK, "Holidays retrieved", views)
}

func (s *Server) handleDeleteHoliday(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid holiday id")
		return
	}
	err := s.store.DeleteHoliday(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "holiday_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusOK, "Holiday deleted", nil)
}

// Users

type createUserRequest struct {
	FirstName            string   `json:"firstName"`
	LastName             string   `json:"lastName"`
	Email                string   `json:"email"`
	Password             string   `json:"password"`
	KeypadPin            *string  `json:"keypadPin,omitempty"`
	Role                 string   `json:"role,omitempty"`
	Department           *string  `json:"department,omitempty"`
	AccessLevel          *int     `json:"accessLevel,omitempty"`
	AllowedAccessMethods []string `json:"allowedAccessMethods,omitempty"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "firstName, lastName, email and password are required")
		return
	}
	role := model.UserRoleEmployee
	if req.Role != "" {
		if !validRole(req.Role) {
			writeError(w, http.StatusBadRequest, "invalid role")
			return
		}
		role = model.UserRole(req.Role)
	}
	for _, method := range req.AllowedAccessMethods {
		if !validMethod(method) {
			writeError(w, http.StatusBadRequest, "invalid access method "+method)
			return
		}
	}

	user, err := s.buildUser(r.Context(), req, role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusCreated, "User created", newUserView(user))
}

func (s *Server) buildUser(ctx context.Context, req createUserRequest, role model.UserRole) (model.User, error) {
	userID, err := s.generateUserID(ctx, role)
	if err != nil {
		return model.User{}, err
	}
	passwordHash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return model.User{}, err
	}
	var pinHash *string
	if req.KeypadPin != nil {
		hash, err := crypto.HashPassword(*req.KeypadPin)
		if err != nil {
			return model.User{}, err
		}
		pinHash = &hash
	}
	accessLevel := 1
	if req.AccessLevel != nil {
		accessLevel = *req.AccessLevel
	}
	methods := req.AllowedAccessMethods
	if methods == nil {
		methods = []string{}
	}
	now := time.Now().UTC()
	return model.User{
		ID:                   uuid.NewString(),
		UserID:               userID,
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		Email:                strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:         passwordHash,
		KeypadPinHash:        pinHash,
		Status:               model.UserStatusActive,
		Role:                 role,
		Department:           req.Department,
		AccessLevel:          accessLevel,
		AllowedAccessMethods: methods,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// generateUserID builds the <prefix>-YY-MM-SS business key. The serial is
// the count of same-role users enrolled this month plus one, bumped until
// unused in case of concurrent enrollments.
func (s *Server) generateUserID(ctx context.Context, role model.UserRole) (string, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	count, err := s.store.CountUsersCreatedBetween(ctx, role, monthStart, now)
	if err != nil {
		return "", err
	}
	for serial := count + 1; serial < count+100; serial++ {
		candidate := fmt.Sprintf("%s-%02d-%02d-%02d", s.cfg.UserIDPrefix, now.Year()%100, int(now.Month()), serial)
		exists, err := s.store.UserIDExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.New("user id space exhausted for this month")
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	filter := db.UserFilter{}
	filter.Page, filter.Limit = pageParams(r)
	filter.Status = queryString(r, "status")
	filter.Role = queryString(r, "role")
	filter.Department = queryString(r, "department")
	filter.Search = queryString(r, "search")

	users, total, err := s.store.ListUsers(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	views := make([]userView, 0, len(users))
	for _, user := range users {
		views = append(views, newUserView(user))
	}
	writeSuccess(w, http.StatusOK, "Users retrieved", map[string]interface{}{
		"users":      views,
		"pagination": newPagination(filter.Page, filter.Limit, total),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	user, err := s.store.GetUserByUserID(r.Context(), userID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	tags, err := s.store.ListRFIDTagsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	fingerprints, err := s.store.ListFingerprintIDsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	view := newUserView(user)
	writeSuccess(w, http.StatusOK, "User retrieved", map[string]interface{}{
		"user":           view,
		"rfidTags":       tags,
		"fingerprintIds": fingerprints,
	})
}

type patchUserRequest struct {
	FirstName            *string  `json:"firstName,omitempty"`
	LastName             *string  `json:"lastName,omitempty"`
	Status               *string  `json:"status,omitempty"`
	Department           *string  `json:"department,omitempty"`
	AccessLevel          *int     `json:"accessLevel,omitempty"`
	AllowedAccessMethods []string `json:"allowedAccessMethods,omitempty"`
	KeypadPin            *string  `json:"keypadPin,omitempty"`
}

func (s *Server) handlePatchUser(w http.ResponseWriter, r *http.Request) {
	var req patchUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Status != nil && !validStatus(*req.Status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	for _, method := range req.AllowedAccessMethods {
		if !validMethod(method) {
			writeError(w, http.StatusBadRequest, "invalid access method "+method)
			return
		}
	}

	update := db.UserUpdate{
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		Status:               req.Status,
		Department:           req.Department,
		AccessLevel:          req.AccessLevel,
		AllowedAccessMethods: req.AllowedAccessMethods,
	}
	if req.KeypadPin != nil {
		hash, err := crypto.HashPassword(*req.KeypadPin)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		update.KeypadPinHash = &hash
	}

	err := s.store.UpdateUser(r.Context(), chi.URLParam(r, "userId"), update)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusOK, "User updated", nil)
}

func (s *Server) handlePatchUserRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil || !validRole(req.Role) {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	err := s.store.UpdateUserRole(r.Context(), chi.URLParam(r, "userId"), model.UserRole(req.Role))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusOK, "Role updated", nil)
}

func (s *Server) handleAddRFIDTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Tag) == "" {
		writeError(w, http.StatusBadRequest, "tag is required")
		return
	}
	userID := chi.URLParam(r, "userId")
	if exists, err := s.store.UserIDExists(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	} else if !exists {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}

	tag := model.RFIDTag{ID: uuid.NewString(), UserID: userID, Tag: req.Tag}
	err := s.store.AddRFIDTag(r.Context(), tag, access.NormalizeTag(req.Tag))
	if isUniqueViolation(err) {
		writeError(w, http.StatusConflict, "tag already registered")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusCreated, "RFID tag registered", map[string]string{"tag": tag.Tag})
}

func (s *Server) handleAddFingerprint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FingerprintID int `json:"fingerprintId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.FingerprintID < 1 {
		writeError(w, http.StatusBadRequest, "fingerprintId must be a positive integer")
		return
	}
	userID := chi.URLParam(r, "userId")
	if exists, err := s.store.UserIDExists(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	} else if !exists {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}

	fingerprint := model.Fingerprint{ID: uuid.NewString(), UserID: userID, FingerprintID: req.FingerprintID}
	err := s.store.AddFingerprint(r.Context(), fingerprint)
	if isUniqueViolation(err) {
		writeError(w, http.StatusConflict, "fingerprint id already registered")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusCreated, "Fingerprint registered", map[string]int{"fingerprintId": req.FingerprintID})
}

func (s *Server) handleIssueTemporaryCode(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if exists, err := s.store.UserIDExists(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	} else if !exists {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}

	code, record, err := s.codes.Issue(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusCreated, "Temporary code issued", map[string]interface{}{
		"code":      code,
		"expiresAt": time.Unix(record.ExpiresAt, 0).UTC().Format(time.RFC3339),
	})
}

// Devices

type deviceRequest struct {
	DeviceID string  `json:"deviceId"`
	Name     string  `json:"name"`
	Location *string `json:"location,omitempty"`
	Status   *string `json:"status,omitempty"`
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil || req.DeviceID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "deviceId and name are required")
		return
	}
	status := model.DeviceOffline
	if req.Status != nil {
		if !validDeviceStatus(*req.Status) {
			writeError(w, http.StatusBadRequest, "invalid device status")
			return
		}
		status = model.DeviceStatus(*req.Status)
	}

	device := model.Device{
		ID:        uuid.NewString(),
		DeviceID:  req.DeviceID,
		Name:      req.Name,
		Location:  req.Location,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	err := s.store.CreateDevice(r.Context(), device)
	if isUniqueViolation(err) {
		writeError(w, http.StatusConflict, "device already registered")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusCreated, "Device created", newDeviceView(device))
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, device := range devices {
		views = append(views, newDeviceView(device))
	}
	writeSuccess(w, http.StatusOK, "Devices retrieved", views)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.store.GetDeviceByDeviceID(r.Context(), chi.URLParam(r, "deviceId"))
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "device_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusOK, "Device retrieved", newDeviceView(device))
}

func (s *Server) handlePatchDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     *string `json:"name,omitempty"`
		Location *string `json:"location,omitempty"`
		Status   *string `json:"status,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Status != nil && !validDeviceStatus(*req.Status) {
		writeError(w, http.StatusBadRequest, "invalid device status")
		return
	}

	err := s.store.UpdateDevice(r.Context(), chi.URLParam(r, "deviceId"), db.DeviceUpdate{
		Name:     req.Name,
		Location: req.Location,
		Status:   req.Status,
	})
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusOK, "Device updated", nil)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteDevice(r.Context(), chi.URLParam(r, "deviceId"))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusOK, "Device deleted", nil)
}

// Identity

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if user.Status != model.UserStatusActive {
		writeError(w, http.StatusForbidden, "account_disabled")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: user.UserID,
		Email:  user.Email,
		Role:   string(user.Role),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusOK, "Signed in", map[string]interface{}{
		"token": token,
		"user":  newUserView(user),
	})
}

type registerRequest struct {
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	Department *string `json:"department,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "firstName, lastName, email and password are required")
		return
	}

	user, err := s.buildUser(r.Context(), createUserRequest{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		Password:   req.Password,
		Department: req.Department,
	}, model.UserRoleEmployee)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusCreated, "Registered", newUserView(user))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	user, err := s.store.GetUserByUserID(r.Context(), claims.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeSuccess(w, http.StatusOK, "Profile retrieved", newUserView(user))
}

// Views

type userView struct {
	UserID               string    `json:"userId"`
	FirstName            string    `json:"firstName"`
	LastName             string    `json:"lastName"`
	Email                string    `json:"email"`
	Status               string    `json:"status"`
	Role                 string    `json:"role"`
	Department           *string   `json:"department"`
	AccessLevel          int       `json:"accessLevel"`
	AllowedAccessMethods []string  `json:"allowedAccessMethods"`
	CreatedAt            time.Time `json:"createdAt"`
}

func newUserView(user model.User) userView {
	return userView{
		UserID:               user.UserID,
		FirstName:            user.FirstName,
		LastName:             user.LastName,
		Email:                user.Email,
		Status:               string(user.Status),
		Role:                 string(user.Role),
		Department:           user.Department,
		AccessLevel:          user.AccessLevel,
		AllowedAccessMethods: user.AllowedAccessMethods,
		CreatedAt:            user.CreatedAt,
	}
}

type accessLogView struct {
	LogID     string    `json:"logId"`
	UserID    string    `json:"userId"`
	DeviceID  string    `json:"deviceId"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func newAccessLogView(entry model.AccessLog) accessLogView {
	return accessLogView{
		LogID:     entry.LogID,
		UserID:    entry.UserID,
		DeviceID:  entry.DeviceID,
		Method:    entry.Method,
		Status:    string(entry.Status),
		Message:   entry.Message,
		Timestamp: entry.Timestamp,
	}
}

type attendanceView struct {
	AttendanceID string     `json:"attendanceId"`
	UserID       string     `json:"userId"`
	Date         string     `json:"date"`
	CheckIn      *time.Time `json:"checkIn"`
	CheckOut     *time.Time `json:"checkOut"`
	Status       string     `json:"status"`
	MinutesLate  *int       `json:"minutesLate"`
	MinutesEarly *int       `json:"minutesEarly"`
	TotalHours   *float64   `json:"totalHours"`
	IsWorkingDay bool       `json:"isWorkingDay"`
	IsHoliday    bool       `json:"isHoliday"`
	HolidayName  *string    `json:"holidayName"`
	Notes        *string    `json:"notes"`
}

func newAttendanceView(att model.Attendance) attendanceView {
	return attendanceView{
		AttendanceID: att.AttendanceID,
		UserID:       att.UserID,
		Date:         att.Date.Format("2006-01-02"),
		CheckIn:      att.CheckIn,
		CheckOut:     att.CheckOut,
		Status:       string(att.Status),
		MinutesLate:  att.MinutesLate,
		MinutesEarly: att.MinutesEarly,
		TotalHours:   att.TotalHours,
		IsWorkingDay: att.IsWorkingDay,
		IsHoliday:    att.IsHoliday,
		HolidayName:  att.HolidayName,
		Notes:        att.Notes,
	}
}

type holidayView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Date        string  `json:"date"`
	IsRecurring bool    `json:"isRecurring"`
	Description *string `json:"description"`
}

func newHolidayView(holiday model.Holiday) holidayView {
	return holidayView{
		ID:          holiday.ID,
		Name:        holiday.Name,
		Date:        holiday.Date.Format("2006-01-02"),
		IsRecurring: holiday.IsRecurring,
		Description: holiday.Description,
	}
}

type deviceView struct {
	DeviceID   string     `json:"deviceId"`
	Name       string     `json:"name"`
	Location   *string    `json:"location"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func newDeviceView(device model.Device) deviceView {
	return deviceView{
		DeviceID:   device.DeviceID,
		Name:       device.Name,
		Location:   device.Location,
		Status:     string(device.Status),
		LastSeenAt: device.LastSeenAt,
		CreatedAt:  device.CreatedAt,
	}
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPagination(page, limit, total int) pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// Utilities

func validRole(role string) bool {
	switch model.UserRole(role) {
	case model.UserRoleEmployee, model.UserRoleAdmin, model.UserRoleVisitor:
		return true
	}
	return false
}

func validStatus(status string) bool {
	switch model.UserStatus(status) {
	case model.UserStatusActive, model.UserStatusSuspended, model.UserStatusTerminated:
		return true
	}
	return false
}

func validMethod(method string) bool {
	switch model.AccessMethod(method) {
	case model.AccessMethodRFID, model.AccessMethodFingerprint, model.AccessMethodKeypad:
		return true
	}
	return false
}

func validDeviceStatus(status string) bool {
	switch model.DeviceStatus(status) {
	case model.DeviceOnline, model.DeviceOffline, model.DeviceMaintenance:
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func pageParams(r *http.Request) (int, int) {
	page := 1
	limit := 20
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return page, limit
}

func queryString(r *http.Request, key string) *string {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return nil
	}
	return &value
}

// rangeParams parses from/to filters, accepting RFC3339 or plain dates.
func rangeParams(r *http.Request) (*time.Time, *time.Time, error) {
	parse := func(key string) (*time.Time, error) {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			return nil, nil
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return &ts, nil
		}
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			return &ts, nil
		}
		return nil, fmt.Errorf("%s must be RFC3339 or YYYY-MM-DD", key)
	}
	from, err := parse("from")
	if err != nil {
		return nil, nil, err
	}
	to, err := parse("to")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}
