// Package signingproxy runs the localhost HTTP server that mediates every
// signature the agent subprocess needs, so the private key never enters the
// agent's address space. Built on net/http in the teacher's internal/
// httputil style (thin handlers, explicit WriteJSON/WriteError helpers)
// rather than a router framework -- see DESIGN.md for why.
package signingproxy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/jinn-network/jinn-worker/internal/httpjson"
	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/profile"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// Dispatcher forwards a /dispatch request to the Safe Transaction Engine
// and returns its result. Defined here to avoid an import cycle between
// signingproxy and safetx; the concrete implementation is wired in at
// construction by the lifecycle engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (interface{}, error)
}

// DispatchRequest is the body accepted by POST /dispatch.
type DispatchRequest struct {
	Prompts          json.RawMessage `json:"prompts,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	IPFSJSONContents json.RawMessage `json:"ipfsJsonContents,omitempty"`
	PostOnly         bool            `json:"postOnly,omitempty"`
	ResponseTimeout  *uint64         `json:"responseTimeout,omitempty"`
	PriorityMech     string          `json:"priorityMech,omitempty"`
	ChainConfig      json.RawMessage `json:"chainConfig,omitempty"`
}

// Server is the localhost signing proxy.
type Server struct {
	profile    *profile.Profile
	dispatcher Dispatcher
	log        *logging.Logger

	secret string

	mu          sync.Mutex // serializes signing calls; reads (e.g. /address) are unaffected
	cachedAddr  string
	hasCached   bool

	httpServer *http.Server
	listener   net.Listener
}

// New constructs a Server. Call Start to bind and begin serving.
func New(prof *profile.Profile, dispatcher Dispatcher, log *logging.Logger) (*Server, error) {
	secret, err := randomSecret(32)
	if err != nil {
		return nil, svcerrors.Internal("generate signing proxy secret", err)
	}
	return &Server{profile: prof, dispatcher: dispatcher, log: log, secret: secret}, nil
}

// Start binds to 127.0.0.1:0 and begins serving in the background. It
// returns the bound URL and bearer secret for handoff to the agent
// subprocess via environment variables.
func (s *Server) Start(ctx context.Context) (url string, secret string, err error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", "", svcerrors.Internal("bind signing proxy", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/address", s.withAuth(s.handleAddress))
	mux.HandleFunc("/sign", s.withAuth(s.handleSign))
	mux.HandleFunc("/sign-raw", s.withAuth(s.handleSignRaw))
	mux.HandleFunc("/sign-typed-data", s.withAuth(s.handleSignTypedData))
	mux.HandleFunc("/dispatch", s.withAuth(s.handleDispatch))

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.log.WithError(serveErr).Error("signing proxy server stopped unexpectedly")
		}
	}()

	addr := listener.Addr().String()
	return fmt.Sprintf("http://%s", addr), s.secret, nil
}

// Stop gracefully shuts the server down and clears the cached address, per
// spec's "cache cleared on service rotation" note.
func (s *Server) Stop(ctx context.Context) error {
	s.ClearAddressCache()
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// ClearAddressCache invalidates the cached /address response.
func (s *Server) ClearAddressCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasCached = false
	s.cachedAddr = ""
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		expected := "Bearer " + s.secret
		if auth != expected {
			httpjson.WriteError(w, svcerrors.Unauthorized())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// decodeBody reads and decodes the request body with the 5-second timeout
// set up by withAuth, reporting a 408 rather than a generic 400 if the
// client stalls sending it.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	done := make(chan error, 1)
	go func() {
		defer r.Body.Close()
		done <- json.NewDecoder(r.Body).Decode(v)
	}()

	select {
	case err := <-done:
		if err != nil {
			httpjson.WriteError(w, svcerrors.InvalidInput("body", err.Error()))
			return false
		}
		return true
	case <-r.Context().Done():
		httpjson.WriteError(w, svcerrors.New(svcerrors.CodeTimeout, "timed out reading request body", http.StatusRequestTimeout))
		return false
	}
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.hasCached {
		key, err := s.profile.AgentPrivateKey()
		if err != nil {
			s.mu.Unlock()
			httpjson.WriteError(w, redactError(err))
			return
		}
		s.cachedAddr = strings.ToLower(gethcrypto.PubkeyToAddress(key.PublicKey).Hex())
		s.hasCached = true
	}
	addr := s.cachedAddr
	s.mu.Unlock()

	httpjson.WriteJSON(w, http.StatusOK, map[string]string{"address": addr})
}

type signRequest struct {
	Message string `json:"message"`
}

type signResponse struct {
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.signPersonal(w, []byte(req.Message))
}

func (s *Server) handleSignRaw(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if !decodeBody(w, r, &req) {
		return
	}
	raw, err := hexutil.Decode(req.Message)
	if err != nil {
		httpjson.WriteError(w, svcerrors.InvalidInput("message", "must be 0x-even-hex"))
		return
	}
	s.signPersonal(w, raw)
}

func (s *Server) signPersonal(w http.ResponseWriter, message []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.profile.AgentPrivateKey()
	if err != nil {
		httpjson.WriteError(w, redactError(err))
		return
	}

	hash := gethcrypto.Keccak256(append([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))), message...))
	sig, err := gethcrypto.Sign(hash, key)
	if err != nil {
		httpjson.WriteError(w, redactError(svcerrors.Internal("sign message", err)))
		return
	}
	sig[64] += 27

	httpjson.WriteJSON(w, http.StatusOK, signResponse{
		Signature: hexutil.Encode(sig),
		Address:   strings.ToLower(gethcrypto.PubkeyToAddress(key.PublicKey).Hex()),
	})
}

type signTypedDataRequest struct {
	Domain      apitypes.TypedDataDomain `json:"domain"`
	Types       apitypes.Types           `json:"types"`
	PrimaryType string                   `json:"primaryType"`
	Message     apitypes.TypedDataMessage `json:"message"`
}

func (s *Server) handleSignTypedData(w http.ResponseWriter, r *http.Request) {
	var req signTypedDataRequest
	if !decodeBody(w, r, &req) {
		return
	}

	typedData := apitypes.TypedData{
		Types:       req.Types,
		PrimaryType: req.PrimaryType,
		Domain:      req.Domain,
		Message:     req.Message,
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		httpjson.WriteError(w, redactError(svcerrors.InvalidInput("typedData", err.Error())))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.profile.AgentPrivateKey()
	if err != nil {
		httpjson.WriteError(w, redactError(err))
		return
	}
	sig, err := gethcrypto.Sign(digest, key)
	if err != nil {
		httpjson.WriteError(w, redactError(svcerrors.Internal("sign typed data", err)))
		return
	}
	sig[64] += 27

	httpjson.WriteJSON(w, http.StatusOK, signResponse{
		Signature: hexutil.Encode(sig),
		Address:   strings.ToLower(gethcrypto.PubkeyToAddress(key.PublicKey).Hex()),
	})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if s.dispatcher == nil {
		httpjson.WriteError(w, svcerrors.Internal("dispatcher not configured", nil))
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		httpjson.WriteError(w, redactError(err))
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, result)
}

var hexKeyPattern = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)

// redactError scrubs any 0x-prefixed 64-hex-char substring (the shape of a
// raw private key or digest) out of err's message before it can reach an
// HTTP response, per spec §4.2's "never echo key material" rule.
func redactError(err error) error {
	if err == nil {
		return nil
	}
	if se := svcerrors.As(err); se != nil {
		redacted := *se
		redacted.Message = hexKeyPattern.ReplaceAllString(se.Message, "[redacted]")
		return &redacted
	}
	return fmt.Errorf("%s", hexKeyPattern.ReplaceAllString(err.Error(), "[redacted]"))
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
