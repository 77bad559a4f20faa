package mcp

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func signedRequest(secret []byte, body []byte, ts, nonce string) *http.Request {
	req := httptest.NewRequest("POST", "http://example.invalid/mcp", bytes.NewReader(body))
	req.Header.Set(headerAgentID, "planner_1")
	req.Header.Set(headerTS, ts)
	req.Header.Set(headerNonce, nonce)
	req.Header.Set(headerSignature, signHMAC(secret, canonicalString(ts, "POST", "/mcp", "planner_1", nonce, body)))
	return req
}

func TestHMACVerify(t *testing.T) {
	secret := []byte("topsecret")
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	now := time.UnixMilli(1700000000000)

	vr := verifyHMAC(signedRequest(secret, body, "1700000000000", "n1"), body, secret, now)
	if vr.HTTPStatus != 0 || vr.AgentID != "planner_1" {
		t.Fatalf("expected ok, got status=%d msg=%s", vr.HTTPStatus, vr.Message)
	}

	vr = verifyHMAC(signedRequest(secret, body, "1700000000000", "n1"), body, secret, now.Add(301*time.Second))
	if vr.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("expired signature accepted")
	}

	vr = verifyHMAC(signedRequest([]byte("other"), body, "1700000000000", "n1"), body, secret, now)
	if vr.HTTPStatus != http.StatusUnauthorized || vr.Message != "bad signature" {
		t.Fatalf("wrong secret: %+v", vr)
	}

	req := signedRequest(secret, body, "1700000000000", "n1")
	req.Header.Del(headerNonce)
	if vr := verifyHMAC(req, body, secret, now); vr.Message != "missing x-nonce" {
		t.Fatalf("missing nonce: %+v", vr)
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	secret := []byte("topsecret")
	s, _, _ := newTestServer(t)
	s.hmacSecret = secret
	s.replay = newReplayGuard(time.Minute)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	var got []byte
	h := s.authenticate(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		rw.WriteHeader(http.StatusNoContent)
	}))
	body := []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/call"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(secret, body, "1700000000000", "n1"))
	if rec.Code != http.StatusNoContent || !bytes.Equal(got, body) {
		t.Fatalf("signed request: code=%d body=%q", rec.Code, got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(secret, body, "1700000000000", "n1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay accepted: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "http://example.invalid/mcp", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request accepted: %d", rec.Code)
	}
}
