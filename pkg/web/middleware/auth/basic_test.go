package auth

import (
	"encoding/base64"
	"testing"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/fluxorio/pongworker/pkg/web"
)

func newRequest(path, authorization string) *web.FastRequestContext {
	rc := &fasthttp.RequestCtx{}
	rc.Request.SetRequestURI(path)
	if authorization != "" {
		rc.Request.Header.Set("Authorization", authorization)
	}
	return &web.FastRequestContext{RequestCtx: rc, Params: map[string]string{}}
}

func basic(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	mw := BasicAuth(DefaultBasicAuthConfig("admin", string(hash)))

	var seenUser interface{}
	h := mw(func(ctx *web.FastRequestContext) error {
		seenUser = ctx.Get("user")
		return ctx.Text(200, "ok")
	})

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
	}{
		{"valid", "/stats", basic("admin", "s3cret"), 200},
		{"lowercase scheme", "/stats", "basic " + base64.StdEncoding.EncodeToString([]byte("admin:s3cret")), 200},
		{"wrong password", "/stats", basic("admin", "nope"), 401},
		{"wrong user", "/stats", basic("root", "s3cret"), 401},
		{"missing", "/metrics", "", 401},
		{"bearer", "/metrics", "Bearer abc", 401},
		{"bad base64", "/metrics", "Basic ***", 401},
		{"healthz skipped", "/healthz", "", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenUser = nil
			ctx := newRequest(tt.path, tt.auth)
			if err := h(ctx); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if got := ctx.RequestCtx.Response.StatusCode(); got != tt.status {
				t.Errorf("status = %d, want %d", got, tt.status)
			}
			if tt.status == 401 && len(ctx.RequestCtx.Response.Header.Peek("WWW-Authenticate")) == 0 {
				t.Error("WWW-Authenticate missing on 401")
			}
			if tt.status == 200 && tt.auth != "" && seenUser != "admin" {
				t.Errorf("user in context = %v, want admin", seenUser)
			}
		})
	}
}

func TestBasicAuth_InvalidHashPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a non-bcrypt hash")
		}
	}()
	BasicAuth(DefaultBasicAuthConfig("admin", "plaintext"))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")); err != nil {
		t.Errorf("hash does not match: %v", err)
	}
}
