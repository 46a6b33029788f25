package handler_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/registry/handler"
	"github.com/resolutionconsent/digipin/internal/users"
)

func setupAuthRouter(t *testing.T, svc *stubUserSvc) http.Handler {
	t.Helper()
	r, v1 := newRouter()
	handler.NewAuthHandler(svc, testIssuer(t), zap.NewNop()).Register(v1)
	return r
}

func TestSignup_201_issuesToken(t *testing.T) {
	router := setupAuthRouter(t, newStubUserSvc())

	w, resp := do(t, router, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"username":     "asha",
		"phone_number": "9876543210",
		"password":     "secret1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	tok, _ := resp["token"].(string)
	if tok == "" {
		t.Fatal("expected a token in the signup response")
	}
	claims, err := testIssuer(t).Verify(tok)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Username != "asha" {
		t.Errorf("username claim = %q, want asha", claims.Username)
	}
	if resp["token_type"] != "Bearer" {
		t.Errorf("token_type = %v", resp["token_type"])
	}
}

func TestSignup_errors(t *testing.T) {
	cases := map[string]struct {
		err  error
		body map[string]string
		want int
	}{
		"missing password": {body: map[string]string{"username": "asha", "phone_number": "9876543210"}, want: http.StatusBadRequest},
		"invalid input":    {err: users.ErrInvalidInput, want: http.StatusBadRequest},
		"duplicate phone":  {err: users.ErrDuplicatePhone, want: http.StatusConflict},
		"duplicate user":   {err: users.ErrDuplicateUsername, want: http.StatusConflict},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newStubUserSvc()
			svc.signupErr = tc.err
			body := tc.body
			if body == nil {
				body = map[string]string{"username": "asha", "phone_number": "9876543210", "password": "secret1"}
			}
			w, _ := do(t, setupAuthRouter(t, svc), http.MethodPost, "/api/v1/auth/signup", "", body)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestLogin(t *testing.T) {
	svc := newStubUserSvc()
	router := setupAuthRouter(t, svc)

	w, resp := do(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email_or_phone": "9876543210",
		"password":       "secret1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["expires_in"].(float64) != 3600 {
		t.Errorf("expires_in = %v, want 3600", resp["expires_in"])
	}

	svc.loginErr = users.ErrInvalidCredentials
	w, _ = do(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email_or_phone": "9876543210",
		"password":       "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestVerifyIdentity(t *testing.T) {
	svc := newStubUserSvc()
	router := setupAuthRouter(t, svc)
	body := map[string]string{"document_number": "123456789012", "date_of_birth": "1990-01-15"}

	w, _ := do(t, router, http.MethodPost, "/api/v1/auth/verify-identity", "", body)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}

	userID := uuid.New()
	w, resp := do(t, router, http.MethodPost, "/api/v1/auth/verify-identity", bearer(t, userID, "asha"), body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["masked_document"] != "********9012" {
		t.Errorf("masked_document = %v", resp["masked_document"])
	}
	if !svc.verified[userID] {
		t.Error("identity was not verified for the token's user")
	}

	svc.verifyErr = users.ErrDocumentClaimed
	w, _ = do(t, router, http.MethodPost, "/api/v1/auth/verify-identity", bearer(t, uuid.New(), "ravi"), body)
	if w.Code != http.StatusConflict {
		t.Errorf("claimed document: expected 409, got %d", w.Code)
	}
}

func TestResetPassword(t *testing.T) {
	svc := newStubUserSvc()
	router := setupAuthRouter(t, svc)
	body := map[string]string{
		"email_or_phone":   "9876543210",
		"document_number":  "123456789012",
		"date_of_birth":    "1990-01-15",
		"new_password":     "secret2",
		"confirm_password": "secret2",
	}

	w, _ := do(t, router, http.MethodPost, "/api/v1/auth/reset-password", "", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	svc.resetErr = users.ErrIdentityMismatch
	w, _ = do(t, router, http.MethodPost, "/api/v1/auth/reset-password", "", body)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("mismatch: expected 401, got %d", w.Code)
	}

	svc.resetErr = users.ErrIdentityRequired
	w, _ = do(t, router, http.MethodPost, "/api/v1/auth/reset-password", "", body)
	if w.Code != http.StatusForbidden {
		t.Errorf("unverified account: expected 403, got %d", w.Code)
	}
}

func TestMe(t *testing.T) {
	svc := newStubUserSvc()
	router := setupAuthRouter(t, svc)

	w, resp := do(t, router, http.MethodGet, "/api/v1/auth/me", bearer(t, svc.user.ID, "asha"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["username"] != "asha" {
		t.Errorf("username = %v", resp["username"])
	}

	w, _ = do(t, router, http.MethodGet, "/api/v1/auth/me", bearer(t, uuid.New(), "ghost"), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", w.Code)
	}
}
