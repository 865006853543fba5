package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bundlex/internal/api"
	"bundlex/internal/bundle"
	"bundlex/internal/config"
	"bundlex/internal/logging"
	"bundlex/internal/queue"
	"bundlex/internal/storage"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	service *api.Service
	limiter *api.RateLimiter

	maxUploadBytes int64
	pollHint       int

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, service *api.Service, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:           strings.TrimSpace(cfg.Paths.APIBind),
		logger:         logging.NewComponentLogger(logger, "api-server"),
		service:        service,
		maxUploadBytes: cfg.Server.MaxUploadBytes,
		pollHint:       cfg.Queue.PollIntervalSeconds,
	}
	if cfg.Server.RateLimitEnabled {
		srv.limiter = api.NewRateLimiter(
			cfg.Server.RateLimitPerMinute,
			time.Duration(cfg.Server.RateLimitWindowSeconds)*time.Second,
		)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", srv.handleUpload)
	mux.HandleFunc("/api/status/", srv.handleStatus)
	mux.HandleFunc("/api/extract", srv.handleExtract)
	mux.HandleFunc("/api/extraction-status/", srv.handleExtractionStatus)
	mux.HandleFunc("/api/download/", srv.handleDownload)
	mux.HandleFunc("/api/queue/cancel", srv.handleCancel)
	mux.HandleFunc("/api/queue", srv.handleQueue)
	mux.HandleFunc("/api/health", srv.handleHealth)

	srv.server = &http.Server{
		Handler:           srv.withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Args(logging.Error(err))...)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.Args(logging.String("address", listener.Addr().String()))...)
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
	})
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	client := clientIP(r)
	if !s.limiter.Allow(client) {
		retry := int(s.limiter.RetryAfter(client).Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		s.writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}

	// Multipart framing adds overhead beyond the payload ceiling.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		s.writeError(w, http.StatusBadRequest, "malformed multipart upload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := api.UploadRequest{
		AllowRetention: formBool(r, "allow_storage"),
		KeepSessionLog: formBool(r, "send_log"),
	}
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			file, err := header.Open()
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "unreadable upload part")
				return
			}
			defer file.Close()
			req.Files = append(req.Files, api.UploadFile{Filename: header.Filename, Content: file})
		}
	}

	resp, err := s.service.Upload(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.handleSessionView(w, r, "/api/status/")
}

func (s *apiServer) handleExtractionStatus(w http.ResponseWriter, r *http.Request) {
	s.handleSessionView(w, r, "/api/extraction-status/")
}

func (s *apiServer) handleSessionView(w http.ResponseWriter, r *http.Request, prefix string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessionID, ok := sessionIDFromPath(r.URL.Path, prefix)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	resp, err := s.service.Status(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		SessionID      string   `json:"session_id"`
		SelectedAssets []int    `json:"selected_assets"`
		Classes        []string `json:"classes"`
		PathIDs        []int64  `json:"path_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	resp, err := s.service.Extract(r.Context(), payload.SessionID, bundle.Selection{
		Indices: payload.SelectedAssets,
		Classes: payload.Classes,
		PathIDs: payload.PathIDs,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	resp, err := s.service.Cancel(r.Context(), payload.SessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessionID, ok := sessionIDFromPath(r.URL.Path, "/api/download/")
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	handle, err := s.service.Download(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer handle.Release()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", handle.Filename))
	http.ServeFile(w, r, handle.Path)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	resp, err := s.service.Queue(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp, err := s.service.Health(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps service and queue sentinels onto HTTP statuses.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, queue.ErrQueueFull):
		w.Header().Set("Retry-After", strconv.Itoa(s.pollHint))
		s.writeError(w, http.StatusTooManyRequests, "queue is full, retry later")
	case errors.Is(err, storage.ErrUploadTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, api.ErrValidation), errors.Is(err, api.ErrNoBundleFile):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrPhaseNotReady), errors.Is(err, api.ErrNotReady),
		errors.Is(err, queue.ErrAlreadyQueued), errors.Is(err, queue.ErrAlreadyTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", logging.Args(logging.Error(err))...)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Args(logging.Error(err))...)
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func sessionIDFromPath(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func formBool(r *http.Request, field string) bool {
	value := strings.TrimSpace(r.FormValue(field))
	return value == "1" || strings.EqualFold(value, "true")
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
