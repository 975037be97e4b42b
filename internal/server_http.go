package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"livechat/internal/chat"
	"livechat/internal/storage"
)

const (
	maxUsernameLength    = 32
	maxDisplayNameLength = 48
	minPasswordLength    = 6
)

type signupRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type meResponse struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type historyResponse struct {
	Channel  string              `json:"channel"`
	Messages []chat.MessageEvent `json:"messages"`
}

func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		s.metrics.IncRateLimited()
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	displayName := strings.TrimSpace(req.DisplayName)
	if err := validateAccount(username, password, displayName); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := s.store.CreateUser(r.Context(), username, displayName, hash); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusConflict, errors.New("username already taken"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncSignup()
	s.logger.Info("account created", "user", username)
	writeJSON(w, http.StatusCreated, map[string]string{"username": username})
}

// validateAccount checks signup input. Usernames become channel identities,
// so the direct channel separator is not allowed in them.
func validateAccount(username, password, displayName string) error {
	switch {
	case username == "" || password == "":
		return errors.New("username and password are required")
	case len(username) > maxUsernameLength:
		return errors.New("username is too long")
	case strings.ContainsAny(username, "_ \t/?#"):
		return errors.New("username may not contain spaces, underscores or URL characters")
	case len(password) < minPasswordLength:
		return errors.New("password is too short")
	case len(displayName) > maxDisplayNameLength:
		return errors.New("display name is too long")
	}
	return nil
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		s.metrics.IncRateLimited()
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	token := uuid.NewString()
	expiresAt := s.now().Add(s.tokenTTL)
	if err := s.store.CreateSession(r.Context(), user.ID, token, expiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, loginResponse{
		Token:       token,
		Username:    user.Username,
		DisplayName: user.Name(),
		ExpiresAt:   expiresAt,
	})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	auth, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSession(r.Context(), auth.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	auth, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Username: auth.Username, DisplayName: auth.DisplayName})
}

// HandleHistory returns the stored messages of a channel, oldest first. Direct
// conversations are readable by their two participants only.
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	auth, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing channel"))
		return
	}
	limit := defaultHistoryMax
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		if n < limit {
			limit = n
		}
	}
	stored, err := s.store.ListMessages(r.Context(), channel, limit)
	if err != nil {
		s.logger.Error("list history", "channel", channel, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if isDirectChannel(channel, stored) && !chat.IsParticipant(chat.KindDirect, channel, auth.Username) {
		writeError(w, http.StatusForbidden, errors.New("not a participant of this conversation"))
		return
	}
	resp := historyResponse{Channel: channel, Messages: make([]chat.MessageEvent, 0, len(stored))}
	for _, m := range stored {
		resp.Messages = append(resp.Messages, fromStored(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// isDirectChannel reports whether history of channel belongs to a direct
// conversation: the id is a pair, or any stored row says so.
func isDirectChannel(channel string, stored []storage.Message) bool {
	if _, _, ok := chat.ParsePair(channel); ok {
		return true
	}
	for _, m := range stored {
		if chat.Kind(m.Kind) == chat.KindDirect {
			return true
		}
	}
	return false
}

// HandleChannelExists reports whether a room is live or has history.
func (s *Server) HandleChannelExists(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	if !chat.ValidRoomID(room) {
		http.Error(w, errRoomName.Error(), http.StatusBadRequest)
		return
	}
	if s.hub.Exists(room) {
		writeJSON(w, http.StatusOK, map[string]bool{"exists": true})
		return
	}
	stored, err := s.store.ChannelExists(r.Context(), room)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !stored {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": true})
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (*authContext, bool) {
	auth, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		} else {
			s.logger.Error("authenticate", "err", err)
		}
		http.Error(w, http.StatusText(status), status)
		return nil, false
	}
	return auth, true
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
