// Package httpapi serves a document store backend over HTTP so several
// devices can share one store. Changes are streamed over a websocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// OriginHeader carries the writer origin id on write requests.
const OriginHeader = "X-Daybook-Origin"

type ServerConfig struct {
	// Token grants read-write access. Empty disables authentication.
	Token string
	// ReadToken grants read-only access.
	ReadToken    string
	MaxBodyBytes int64
}

type Server struct {
	backend docstore.Backend
	cfg     ServerConfig
	log     zerolog.Logger
}

var _ http.Handler = (*Server)(nil)

func NewServer(backend docstore.Backend, log zerolog.Logger, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		backend: backend,
		cfg:     cfg,
		log:     log.With().Str("component", "httpapi").Logger(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	correlationID := r.Header.Get("X-Correlation-Id")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/"), "/")
	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "namespaces" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	for i := range parts {
		unescaped, err := url.PathUnescape(parts[i])
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid path", correlationID)
			return
		}
		parts[i] = unescaped
	}

	ns := parts[2]
	if err := docstore.ValidateNamespace(ns); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}

	var (
		required docstore.Access
		route    string
	)
	switch {
	case len(parts) == 4 && parts[3] == "claim" && r.Method == http.MethodPost:
		required = docstore.AccessRead
		route = "claim"
	case len(parts) == 4 && parts[3] == "documents" && r.Method == http.MethodGet:
		required = docstore.AccessRead
		route = "list"
	case len(parts) == 4 && parts[3] == "changes" && r.Method == http.MethodGet:
		required = docstore.AccessRead
		route = "changes"
	case len(parts) == 5 && parts[3] == "documents" && r.Method == http.MethodGet:
		required = docstore.AccessRead
		route = "get"
	case len(parts) == 5 && parts[3] == "documents" && r.Method == http.MethodPut:
		required = docstore.AccessReadWrite
		route = "put"
	case len(parts) == 5 && parts[3] == "documents" && r.Method == http.MethodDelete:
		required = docstore.AccessReadWrite
		route = "delete"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	granted, authErr := s.authorize(r.Header.Get("Authorization"), required)
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}

	var key string
	if len(parts) == 5 {
		key = parts[4]
		if err := docstore.ValidateKey(key); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
	}

	log := s.log.With().
		Str("route", route).
		Str("namespace", ns).
		Str("correlation_id", correlationID).
		Logger()

	switch route {
	case "claim":
		s.handleClaim(w, r, log, ns, granted, correlationID)
	case "list":
		s.handleList(w, r, log, ns, correlationID)
	case "changes":
		s.handleChanges(w, r, log, ns)
	case "get":
		s.handleGet(w, r, log, ns, key, correlationID)
	case "put":
		s.handlePut(w, r, log, ns, key, correlationID)
	case "delete":
		s.handleDelete(w, r, log, ns, key, correlationID)
	}
}

type claimRequest struct {
	Access docstore.Access `json:"access"`
}

type claimResponse struct {
	Namespace string          `json:"namespace"`
	Access    docstore.Access `json:"access"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, log zerolog.Logger, ns string, granted docstore.Access, correlationID string) {
	var req claimRequest
	if err := decodeJSONBody(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}
	switch req.Access {
	case docstore.AccessRead, docstore.AccessReadWrite:
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unknown access level", correlationID)
		return
	}
	if req.Access.CanWrite() && !granted.CanWrite() {
		writeError(w, http.StatusForbidden, "forbidden", "token does not grant write access", correlationID)
		return
	}

	if err := s.backend.Claim(r.Context(), ns, req.Access); err != nil {
		s.backendError(w, log, err, correlationID)
		return
	}
	log.Debug().Str("access", string(req.Access)).Msg("namespace claimed")
	writeJSON(w, http.StatusOK, claimResponse{Namespace: ns, Access: req.Access})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, log zerolog.Logger, ns, correlationID string) {
	keys, err := s.backend.List(r.Context(), ns)
	if err != nil {
		s.backendError(w, log, err, correlationID)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, log zerolog.Logger, ns, key, correlationID string) {
	doc, ok, err := s.backend.Get(r.Context(), ns, key)
	if err != nil {
		s.backendError(w, log, err, correlationID)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "document not found", correlationID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, log zerolog.Logger, ns, key, correlationID string) {
	body, err := readRequestBody(w, r, s.cfg.MaxBodyBytes)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error(), correlationID)
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "bad_request", "document is not valid json", correlationID)
		return
	}

	ctx := docstore.WithOrigin(r.Context(), r.Header.Get(OriginHeader))
	if err := s.backend.Put(ctx, ns, key, body); err != nil {
		s.backendError(w, log, err, correlationID)
		return
	}
	log.Debug().Str("key", key).Msg("document written")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, log zerolog.Logger, ns, key, correlationID string) {
	ctx := docstore.WithOrigin(r.Context(), r.Header.Get(OriginHeader))
	if err := s.backend.Delete(ctx, ns, key); err != nil {
		s.backendError(w, log, err, correlationID)
		return
	}
	log.Debug().Str("key", key).Msg("document deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request, log zerolog.Logger, ns string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "") }()

	// The feed is write-only; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	changes, err := s.backend.Watch(ctx, ns)
	if err != nil {
		log.Error().Err(err).Msg("watch failed")
		_ = conn.Close(websocket.StatusInternalError, "watch failed")
		return
	}

	if err := wsjson.Write(ctx, conn, docstore.FeedFrame{Ready: true}); err != nil {
		return
	}
	log.Debug().Msg("change feed opened")
	for change := range changes {
		if err := wsjson.Write(ctx, conn, docstore.FeedFrame{Change: &change}); err != nil {
			log.Debug().Err(err).Msg("change feed closed")
			return
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) backendError(w http.ResponseWriter, log zerolog.Logger, err error, correlationID string) {
	switch {
	case errors.Is(err, docstore.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "forbidden", err.Error(), correlationID)
	case errors.Is(err, docstore.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), correlationID)
	default:
		log.Error().Err(err).Msg("backend request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func readRequestBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(r.Body)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, out any) error {
	body, err := readRequestBody(w, r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
