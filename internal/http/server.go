package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hossamadel7/centrny-sub000/internal/access"
	"github.com/hossamadel7/centrny-sub000/internal/auth"
	"github.com/hossamadel7/centrny-sub000/internal/config"
	"github.com/hossamadel7/centrny-sub000/internal/content"
	"github.com/hossamadel7/centrny-sub000/internal/token"
)

const sessionCookieName = "centrny_session"

// PinAdmin fronts the opaque pin batch generator and tenant-scoped listing.
type PinAdmin interface {
	Generate(ctx context.Context, rootID uuid.UUID, kind access.PinKind, uses, quantity int32) error
	List(ctx context.Context, rootID uuid.UUID, limit int32) ([]access.Pin, error)
}

type Server struct {
	cfg          config.Config
	resolver     *access.Resolver
	redeemer     *access.Redeemer
	gateway      *content.Gateway
	capabilities token.Store
	pins         PinAdmin
	sessions     *sessions.CookieStore
	validate     *validator.Validate
	metrics      *metrics
	log          zerolog.Logger
}

func NewServer(cfg config.Config, resolver *access.Resolver, redeemer *access.Redeemer, gateway *content.Gateway, capabilities token.Store, pins PinAdmin, log zerolog.Logger) *Server {
	cookieStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Server{
		cfg:          cfg,
		resolver:     resolver,
		redeemer:     redeemer,
		gateway:      gateway,
		capabilities: capabilities,
		pins:         pins,
		sessions:     cookieStore,
		validate:     validator.New(),
		metrics:      newMetrics(),
		log:          log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.With(s.authMiddleware).Get("/access/check", s.handleAccessCheck)
	r.With(s.authMiddleware).Post("/access/redeem", s.handleRedeem)
	r.With(s.authMiddleware).Post("/access/track", s.handleTrack)
	r.With(s.authMiddleware).Post("/access/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/content/view", s.handleContentView)
	r.With(s.authMiddleware).Get("/content/video-url", s.handleVideoURL)
	r.With(s.authMiddleware).Get("/content/download", s.handleDownload)
	r.With(s.authMiddleware).Post("/admin/pins/generate", s.handleGeneratePins)
	r.With(s.authMiddleware).Get("/admin/pins", s.handleListPins)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// sessionContext resolves the caller into the explicit session value the
// core components take. The server session id is minted on first use and
// carried in the signed session cookie.
func (s *Server) sessionContext(w http.ResponseWriter, r *http.Request, claims *auth.Claims) (access.SessionContext, bool) {
	studentID, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return access.SessionContext{}, false
	}
	rootID, err := uuid.Parse(claims.RootID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return access.SessionContext{}, false
	}

	session, _ := s.sessions.Get(r, sessionCookieName)
	sid, ok := session.Values["sid"].(string)
	if !ok || sid == "" {
		sid = uuid.NewString()
		session.Values["sid"] = sid
		if err := session.Save(r, w); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return access.SessionContext{}, false
		}
	}
	return access.SessionContext{SessionID: sid, StudentID: studentID, RootID: rootID}, true
}

// Models

type decisionResponse struct {
	Result       string `json:"result"`
	Message      string `json:"message,omitempty"`
	RedirectPath string `json:"redirectPath,omitempty"`
}

type redeemRequest struct {
	Pin    string `json:"pin" validate:"required"`
	Lesson string `json:"lesson" validate:"required,uuid"`
}

type redeemResponse struct {
	Result       string `json:"result"`
	RedirectPath string `json:"redirectPath"`
}

type trackRequest struct {
	Pin    string `json:"pin" validate:"required"`
	Lesson string `json:"lesson" validate:"required,uuid"`
}

type generatePinsRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=session exam"`
	Uses     int32  `json:"uses" validate:"required,min=1"`
	Quantity int32  `json:"quantity" validate:"required,min=1,max=1000"`
}

type pinResponse struct {
	Code          string `json:"code"`
	Watermark     string `json:"watermark"`
	Kind          string `json:"kind"`
	RemainingUses int32  `json:"remainingUses"`
	Status        int16  `json:"status"`
	IsActive      bool   `json:"isActive"`
	OwnerStudent  string `json:"ownerStudent,omitempty"`
}

// Handlers

func (s *Server) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != "student" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	lessonID, err := uuid.Parse(r.URL.Query().Get("lesson"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_lesson")
		return
	}
	session, ok := s.sessionContext(w, r, claims)
	if !ok {
		return
	}

	decision, err := s.resolver.Resolve(r.Context(), session, lessonID)
	if err != nil {
		s.log.Error().Err(err).Str("lesson_id", lessonID.String()).Msg("resolve failed")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.metrics.decisions.WithLabelValues(decision.Kind.String()).Inc()
	writeJSON(w, http.StatusOK, decisionResponse{
		Result:       decision.Kind.String(),
		Message:      decision.Message,
		RedirectPath: decision.RedirectPath,
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != "student" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.metrics.redemptions.WithLabelValues(string(access.ReasonInvalidInput)).Inc()
		writeError(w, http.StatusBadRequest, string(access.ReasonInvalidInput))
		return
	}
	lessonID, err := uuid.Parse(req.Lesson)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(access.ReasonInvalidInput))
		return
	}
	session, ok := s.sessionContext(w, r, claims)
	if !ok {
		return
	}

	result, err := s.redeemer.Redeem(r.Context(), session, req.Pin, lessonID)
	if err != nil {
		s.log.Error().Err(err).Str("lesson_id", lessonID.String()).Msg("redeem failed")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !result.Granted {
		s.metrics.redemptions.WithLabelValues(string(result.Reason)).Inc()
		writeError(w, statusForReason(result.Reason), string(result.Reason))
		return
	}
	s.metrics.redemptions.WithLabelValues("granted").Inc()
	writeJSON(w, http.StatusOK, redeemResponse{
		Result:       "granted",
		RedirectPath: result.RedirectPath,
	})
}

func (s *Server) handleContentView(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	lessonID, err := uuid.Parse(r.URL.Query().Get("lesson"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_lesson")
		return
	}
	watermark := r.URL.Query().Get("pin")
	if watermark == "" {
		writeError(w, http.StatusBadRequest, "missing_pin")
		return
	}
	session, ok := s.sessionContext(w, r, claims)
	if !ok {
		return
	}

	if err := s.gateway.Authorize(r.Context(), session, watermark, lessonID); err != nil {
		s.rejectContent(w, err, lessonID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"lesson":    lessonID.String(),
		"trackPath": "/access/track",
	})
}

func (s *Server) handleVideoURL(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	fileID, err := uuid.Parse(r.URL.Query().Get("file"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_file")
		return
	}
	lessonID, err := uuid.Parse(r.URL.Query().Get("lesson"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_lesson")
		return
	}
	watermark := r.URL.Query().Get("pin")
	if watermark == "" {
		writeError(w, http.StatusBadRequest, "missing_pin")
		return
	}
	session, ok := s.sessionContext(w, r, claims)
	if !ok {
		return
	}

	url, err := s.gateway.VideoURL(r.Context(), session, watermark, lessonID, fileID)
	if err != nil {
		s.rejectContent(w, err, lessonID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	fileID, err := uuid.Parse(r.URL.Query().Get("file"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_file")
		return
	}
	lessonID, err := uuid.Parse(r.URL.Query().Get("lesson"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_lesson")
		return
	}
	watermark := r.URL.Query().Get("pin")
	if watermark == "" {
		writeError(w, http.StatusBadRequest, "missing_pin")
		return
	}
	session, ok := s.sessionContext(w, r, claims)
	if !ok {
		return
	}

	file, err := s.gateway.Download(r.Context(), session, watermark, lessonID, fileID)
	if err != nil {
		s.rejectContent(w, err, lessonID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":   file.ID.String(),
		"name": file.Name,
		"path": file.Path,
	})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	var req trackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	lessonID, err := uuid.Parse(req.Lesson)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_lesson")
		return
	}
	session, ok := s.sessionContext(w, r, claims)
	if !ok {
		return
	}

	if err := s.gateway.TrackView(r.Context(), session, req.Pin, lessonID); err != nil {
		s.rejectContent(w, err, lessonID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	session, _ := s.sessions.Get(r, sessionCookieName)
	if sid, ok := session.Values["sid"].(string); ok && sid != "" {
		if err := s.capabilities.Revoke(r.Context(), sid); err != nil {
			s.log.Error().Err(err).Msg("capability revoke failed")
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
	}
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGeneratePins(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != "admin" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	rootID, err := uuid.Parse(claims.RootID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	var req generatePinsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := s.pins.Generate(r.Context(), rootID, access.PinKind(req.Kind), req.Uses, req.Quantity); err != nil {
		s.log.Error().Err(err).Msg("pin generation failed")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int32{"generated": req.Quantity})
}

func (s *Server) handleListPins(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != "admin" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	rootID, err := uuid.Parse(claims.RootID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	pins, err := s.pins.List(r.Context(), rootID, parseLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]pinResponse, 0, len(pins))
	for _, pin := range pins {
		item := pinResponse{
			Code:          pin.Code.String(),
			Watermark:     pin.Watermark,
			Kind:          string(pin.Kind),
			RemainingUses: pin.RemainingUses,
			Status:        int16(pin.Status),
			IsActive:      pin.IsActive,
		}
		if pin.OwnerStudent != nil {
			item.OwnerStudent = pin.OwnerStudent.String()
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// rejectContent maps a gateway failure: a capability mismatch redirects
// back to PIN entry, anything else is a server error.
func (s *Server) rejectContent(w http.ResponseWriter, err error, lessonID uuid.UUID) {
	if errors.Is(err, content.ErrSessionInvalid) {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":        "session_invalid",
			"redirectPath": "/access/check?lesson=" + lessonID.String(),
		})
		return
	}
	s.log.Error().Err(err).Str("lesson_id", lessonID.String()).Msg("content request failed")
	writeError(w, http.StatusInternalServerError, "server_error")
}

func statusForReason(reason access.Reason) int {
	switch reason {
	case access.ReasonInvalidInput:
		return http.StatusBadRequest
	case access.ReasonPinNotFound, access.ReasonLessonUnavailable:
		return http.StatusNotFound
	case access.ReasonOwnershipConflict:
		return http.StatusConflict
	default:
		return http.StatusForbidden
	}
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return ""
	}
	return header[len(prefix):]
}

func parseLimit(r *http.Request, fallback int32) int32 {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 32); err == nil && parsed > 0 {
			return int32(parsed)
		}
	}
	return fallback
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
