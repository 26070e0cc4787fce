package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/v2/bson"

	"pqsession/internal/domain"
	"pqsession/internal/domain/interfaces"
)

// --- Flags ---

var (
	port          int
	enableLogging bool
)

const (
	defaultPort    = 8080
	maxRequestBody = 1 << 20 // 1 MiB cap for incoming BSON bodies
	maxInboxDepth  = 1000    // cap messages kept per recipient device
)

type deviceKey struct {
	secretName domain.SecretName
	deviceID   domain.DeviceID
}

type kindKey struct {
	deviceKey
	kind interfaces.KeysType
}

// inboxEntry pairs a queued envelope with its routing metadata: metadata is
// never encrypted, so a poller can read TransportInfo off it
// without touching the ratchet at all.
type inboxEntry struct {
	Message  domain.SignedRatchetMessage         `bson:"message"`
	Metadata domain.SignedRatchetMessageMetadata `bson:"metadata"`
}

// state holds every piece of routing data the relay fans requests through:
// published configurations, one-time key pools, rotated-key publications,
// and per-device inbox queues — the server-side counterpart of
// internal/relayclient.
type state struct {
	mu          sync.RWMutex
	configs     map[domain.SecretName]domain.UserConfiguration
	oneTimeKeys map[kindKey][][]byte
	rotatedKeys map[deviceKey]interfaces.RotatedPublicKeys
	inbox       map[deviceKey][]inboxEntry
	uploadSeq   uint64
}

func newState() *state {
	return &state{
		configs:     make(map[domain.SecretName]domain.UserConfiguration),
		oneTimeKeys: make(map[kindKey][][]byte),
		rotatedKeys: make(map[deviceKey]interfaces.RotatedPublicKeys),
		inbox:       make(map[deviceKey][]inboxEntry),
	}
}

// --- Middleware (adapted from cmd/relay's recover/reqid/logging chain) ---

type ctxKey string

const ctxKeyReqID ctxKey = "reqid"

func withRecover(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeErr(w, http.StatusInternalServerError, "internal error")
				slog.Error("panic", "err", rec)
			}
		}()
		h(w, r)
	}
}

func withReqID(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = genReqID()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxKeyReqID, id)
		h(w, r.WithContext(ctx))
	}
}

func withLogging(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !enableLogging {
			h(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w}
		h(lrw, r)
		slog.Info("access",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lrw.status,
			"bytes", lrw.bytes,
			"dur", time.Since(start),
			"reqid", r.Context().Value(ctxKeyReqID),
		)
	}
}

func chain(h http.HandlerFunc, mws ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(p []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(p)
	lrw.bytes += n
	return n, err
}

func genReqID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// --- BSON helpers ---

func writeBSON(w http.ResponseWriter, v any) {
	b, err := bson.Marshal(v)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "encode error")
		return
	}
	w.Header().Set("Content-Type", "application/bson")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/bson")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	b, _ := bson.Marshal(map[string]string{"error": msg})
	_, _ = w.Write(b)
}

func readBSON(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad request")
		return false
	}
	if err := bson.Unmarshal(data, out); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request")
		return false
	}
	return true
}

// --- Handlers ---

func kindFromPath(s string) (interfaces.KeysType, bool) {
	switch s {
	case "curve":
		return interfaces.KeysTypeCurve, true
	case "kyber":
		return interfaces.KeysTypeKyber, true
	default:
		return 0, false
	}
}

type publishConfigRequest struct {
	Configuration domain.UserConfiguration `bson:"configuration"`
	Recipient     uuid.UUID                `bson:"recipient"`
}

func (s *state) handlePublishConfig(w http.ResponseWriter, r *http.Request) {
	secretName := domain.SecretName(r.PathValue("secretName"))
	var req publishConfigRequest
	if !readBSON(w, r, &req) {
		return
	}
	if req.Configuration.SecretName != secretName {
		writeErr(w, http.StatusBadRequest, "secretName mismatch")
		return
	}
	s.mu.Lock()
	s.configs[secretName] = req.Configuration
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *state) handleFetchConfig(w http.ResponseWriter, r *http.Request) {
	secretName := domain.SecretName(r.PathValue("secretName"))
	s.mu.RLock()
	cfg, ok := s.configs[secretName]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeBSON(w, cfg)
}

func pathDeviceKey(r *http.Request) (deviceKey, error) {
	id, err := uuid.Parse(r.PathValue("deviceID"))
	if err != nil {
		return deviceKey{}, fmt.Errorf("bad deviceID: %w", err)
	}
	return deviceKey{secretName: domain.SecretName(r.PathValue("secretName")), deviceID: id}, nil
}

func (s *state) handleListOneTimeKeys(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(r.PathValue("kind"))
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad kind")
		return
	}
	dk, err := pathDeviceKey(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.RLock()
	keys := append([][]byte(nil), s.oneTimeKeys[kindKey{dk, kind}]...)
	s.mu.RUnlock()
	writeBSON(w, map[string][][]byte{"keys": keys})
}

func (s *state) handleFetchOneOneTimeKey(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(r.PathValue("kind"))
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad kind")
		return
	}
	dk, err := pathDeviceKey(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.RLock()
	keys := s.oneTimeKeys[kindKey{dk, kind}]
	var key []byte
	if len(keys) > 0 {
		key = keys[0]
	}
	s.mu.RUnlock()
	writeBSON(w, map[string][]byte{"key": key})
}

type updateKeysRequest struct {
	Keys [][]byte `bson:"keys"`
}

func (s *state) handleUpdateOneTimeKeys(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(r.PathValue("kind"))
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad kind")
		return
	}
	dk, err := pathDeviceKey(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateKeysRequest
	if !readBSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	s.oneTimeKeys[kindKey{dk, kind}] = req.Keys
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type keyIDDoc struct {
	ID uuid.UUID `bson:"id"`
}

func removeKeyByID(keys [][]byte, id uuid.UUID) [][]byte {
	out := make([][]byte, 0, len(keys))
	for _, raw := range keys {
		var doc keyIDDoc
		if err := bson.Unmarshal(raw, &doc); err == nil && doc.ID == id {
			continue
		}
		out = append(out, raw)
	}
	return out
}

func (s *state) handleDeleteOneTimeKey(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(r.PathValue("kind"))
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad kind")
		return
	}
	dk, err := pathDeviceKey(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad id")
		return
	}
	s.mu.Lock()
	key := kindKey{dk, kind}
	s.oneTimeKeys[key] = removeKeyByID(s.oneTimeKeys[key], id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type batchDeleteRequest struct {
	IDs []uuid.UUID `bson:"ids"`
}

func (s *state) handleBatchDeleteOneTimeKeys(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(r.PathValue("kind"))
	if !ok {
		writeErr(w, http.StatusBadRequest, "bad kind")
		return
	}
	dk, err := pathDeviceKey(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	var req batchDeleteRequest
	if !readBSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	key := kindKey{dk, kind}
	keys := s.oneTimeKeys[key]
	for _, id := range req.IDs {
		keys = removeKeyByID(keys, id)
	}
	s.oneTimeKeys[key] = keys
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *state) handlePublishRotatedKeys(w http.ResponseWriter, r *http.Request) {
	dk, err := pathDeviceKey(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	var req interfaces.RotatedPublicKeys
	if !readBSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	s.rotatedKeys[dk] = req
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Message  domain.SignedRatchetMessage         `bson:"message"`
	Metadata domain.SignedRatchetMessageMetadata `bson:"metadata"`
}

func (s *state) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	dk, err := pathDeviceKey(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	var req sendMessageRequest
	if !readBSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	queue := append(s.inbox[dk], inboxEntry{Message: req.Message, Metadata: req.Metadata})
	if len(queue) > maxInboxDepth {
		queue = queue[len(queue)-maxInboxDepth:]
	}
	s.inbox[dk] = queue
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *state) handleFetchInbox(w http.ResponseWriter, r *http.Request) {
	dk, err := pathDeviceKey(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := -1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "bad limit")
			return
		}
		limit = n
	}
	s.mu.RLock()
	queue := s.inbox[dk]
	if limit >= 0 && limit < len(queue) {
		queue = queue[:limit]
	}
	queue = append([]inboxEntry(nil), queue...)
	s.mu.RUnlock()
	writeBSON(w, map[string][]inboxEntry{"messages": queue})
}

type ackRequest struct {
	Count int `bson:"count"`
}

func (s *state) handleAckInbox(w http.ResponseWriter, r *http.Request) {
	dk, err := pathDeviceKey(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ackRequest
	if !readBSON(w, r, &req) {
		return
	}
	if req.Count < 0 {
		writeErr(w, http.StatusBadRequest, "negative count")
		return
	}
	s.mu.Lock()
	queue := s.inbox[dk]
	if req.Count > len(queue) {
		req.Count = len(queue)
	}
	s.inbox[dk] = queue[req.Count:]
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type uploadPacketRequest struct {
	Recipient uuid.UUID         `bson:"recipient"`
	Metadata  map[string]string `bson:"metadata"`
}

func (s *state) handleCreateUploadPacket(w http.ResponseWriter, r *http.Request) {
	if _, err := pathDeviceKey(r); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	var req uploadPacketRequest
	if !readBSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	s.uploadSeq++
	seq := s.uploadSeq
	s.mu.Unlock()
	writeBSON(w, interfaces.UploadPacket{ID: uuid.NewSHA1(req.Recipient, []byte(fmt.Sprintf("%d", seq))), Metadata: req.Metadata})
}

// --- Main ---

func main() {
	// Best-effort: a .env.local file in the working directory is convenient
	// for local development but never required. RELAY_PORT only moves the default;
	// an explicit --port still wins.
	_ = godotenv.Load(".env.local")
	defPort := defaultPort
	if raw := os.Getenv("RELAY_PORT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			defPort = n
		}
	}

	pflag.IntVarP(&port, "port", "p", defPort, "port to listen on")
	pflag.BoolVar(&enableLogging, "log", false, "enable access logging")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(log.Writer(), &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	s := newState()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /config/{secretName}", chain(s.handlePublishConfig, withRecover, withReqID, withLogging))
	mux.HandleFunc("GET /config/{secretName}", chain(s.handleFetchConfig, withRecover, withReqID, withLogging))

	mux.HandleFunc("GET /keys/{kind}/{secretName}/{deviceID}", chain(s.handleListOneTimeKeys, withRecover, withReqID, withLogging))
	mux.HandleFunc("GET /keys/{kind}/{secretName}/{deviceID}/one", chain(s.handleFetchOneOneTimeKey, withRecover, withReqID, withLogging))
	mux.HandleFunc("POST /keys/{kind}/{secretName}/{deviceID}", chain(s.handleUpdateOneTimeKeys, withRecover, withReqID, withLogging))
	mux.HandleFunc("DELETE /keys/{kind}/{secretName}/{deviceID}/{id}", chain(s.handleDeleteOneTimeKey, withRecover, withReqID, withLogging))
	mux.HandleFunc("POST /keys/{kind}/{secretName}/{deviceID}/batch-delete", chain(s.handleBatchDeleteOneTimeKeys, withRecover, withReqID, withLogging))
	mux.HandleFunc("POST /keys/rotated/{secretName}/{deviceID}", chain(s.handlePublishRotatedKeys, withRecover, withReqID, withLogging))

	mux.HandleFunc("POST /message/{secretName}/{deviceID}", chain(s.handleSendMessage, withRecover, withReqID, withLogging))
	mux.HandleFunc("GET /inbox/{secretName}/{deviceID}", chain(s.handleFetchInbox, withRecover, withReqID, withLogging))
	mux.HandleFunc("POST /inbox/{secretName}/{deviceID}/ack", chain(s.handleAckInbox, withRecover, withReqID, withLogging))

	mux.HandleFunc("POST /upload/{secretName}/{deviceID}", chain(s.handleCreateUploadPacket, withRecover, withReqID, withLogging))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("relay listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("relay failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
