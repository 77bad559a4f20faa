package mcp

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerAgentID   = "x-agent-id"
	headerTS        = "x-ts"
	headerSignature = "x-signature"
	headerNonce     = "x-nonce"

	signatureWindow = 5 * time.Minute
	maxBody         = 4 << 20
)

func canonicalString(ts, method, pathname, agentID, nonce string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + strings.TrimSpace(agentID) + "\n" + strings.TrimSpace(nonce) + "\n" + string(rawBody)
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

type verifyResult struct {
	AgentID    string
	Signature  string
	HTTPStatus int
	Message    string
}

func verifyHMAC(r *http.Request, rawBody []byte, secret []byte, now time.Time) verifyResult {
	agentID := strings.TrimSpace(r.Header.Get(headerAgentID))
	if agentID == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-agent-id"}
	}
	tsStr := strings.TrimSpace(r.Header.Get(headerTS))
	if tsStr == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-ts"}
	}
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	if sig == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-signature"}
	}
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	if nonce == "" {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-nonce"}
	}
	tsMS, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "bad x-ts"}
	}
	if d := now.UnixMilli() - tsMS; d > signatureWindow.Milliseconds() || d < -signatureWindow.Milliseconds() {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "x-ts outside window"}
	}
	exp := signHMAC(secret, canonicalString(tsStr, r.Method, r.URL.Path, agentID, nonce, rawBody))
	if !hmac.Equal([]byte(sig), []byte(exp)) {
		return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: "bad signature"}
	}
	return verifyResult{AgentID: agentID, Signature: sig}
}

// authenticate checks the request signature when a secret is configured and
// rejects replays of an already seen signature.
func (s *Server) authenticate(next http.Handler) http.Handler {
	if len(s.hmacSecret) == 0 {
		return next
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			_, _ = rw.Write([]byte("bad body"))
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		now := s.now()
		vr := verifyHMAC(r, body, s.hmacSecret, now)
		if vr.HTTPStatus != 0 {
			s.logf("mcp auth rejected remote=%s msg=%s", r.RemoteAddr, vr.Message)
			rw.WriteHeader(vr.HTTPStatus)
			_, _ = rw.Write([]byte(vr.Message))
			return
		}
		if !s.replay.allow(vr.AgentID, vr.Signature, now) {
			s.logf("mcp auth replay agent=%s", vr.AgentID)
			rw.WriteHeader(http.StatusUnauthorized)
			_, _ = rw.Write([]byte("replayed request"))
			return
		}
		next.ServeHTTP(rw, r)
	})
}
