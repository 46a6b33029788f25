// Package client provides the DigiPin Go SDK for encoding locations and
// resolving digital addresses against a DigiPin registry.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is matched by an *APIError with status 404.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is matched by an *APIError with status 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is matched by an *APIError with status 403.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is matched by an *APIError with status 429.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is returned for every non-2xx registry response.
// Failed resolutions also carry the outcome and the audit key of the
// ledger entry recording the attempt.
type APIError struct {
	StatusCode  int
	Message     string `json:"error"`
	Outcome     string `json:"outcome,omitempty"`
	AuditKey    string `json:"audit_key,omitempty"`
	AuditLogged bool   `json:"audit_logged,omitempty"`
	Tampered    bool   `json:"tampered,omitempty"`
}

func (e *APIError) Error() string {
	if e.Outcome != "" {
		return fmt.Sprintf("registry %d (%s): %s", e.StatusCode, e.Outcome, e.Message)
	}
	return fmt.Sprintf("registry %d: %s", e.StatusCode, e.Message)
}

// Is lets callers test errors with errors.Is(err, client.ErrNotFound).
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// Cell is the bounding box of a DigiPin grid cell.
type Cell struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Location is returned by Encode and Decode. Cell is set only by Decode.
type Location struct {
	DigiPin   string  `json:"digipin"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Cell      *Cell   `json:"cell,omitempty"`
}

// Resolution is a successful consent-gated lookup.
type Resolution struct {
	Handle      string     `json:"digital_address"`
	Outcome     string     `json:"outcome"`
	DigiPin     string     `json:"digipin,omitempty"`
	Latitude    float64    `json:"latitude,omitempty"`
	Longitude   float64    `json:"longitude,omitempty"`
	Address     string     `json:"address,omitempty"`
	ConsentType string     `json:"consent_type,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Confidence  float64    `json:"confidence_score,omitempty"`
	Tier        string     `json:"verification_tier,omitempty"`
	AuditKey    string     `json:"audit_key,omitempty"`
	AuditLogged bool       `json:"audit_logged"`
	ResolvedAt  time.Time  `json:"resolved_at"`
}

// ScoreChange describes one confidence-score update.
type ScoreChange struct {
	Handle            string  `json:"digital_address"`
	PreviousScore     float64 `json:"previous_score"`
	NewScore          float64 `json:"new_score"`
	PreviousTier      string  `json:"previous_tier"`
	NewTier           string  `json:"new_tier"`
	TotalFulfillments int     `json:"total_fulfillments"`
	Reason            string  `json:"reason"`
}

// FeedbackResult is returned by Feedback.
type FeedbackResult struct {
	Change      *ScoreChange `json:"change"`
	AuditLogged bool         `json:"audit_logged"`
}

// Eligibility is the confidence report for an address.
type Eligibility struct {
	Handle             string          `json:"digital_address"`
	ConfidenceScore    float64         `json:"confidence_score"`
	Tier               string          `json:"verification_tier"`
	Trusted            bool            `json:"is_trusted"`
	PhysicallyVerified bool            `json:"is_physically_verified"`
	NeedsVerification  bool            `json:"needs_verification"`
	Recommendation     string          `json:"recommendation"`
	UseCases           map[string]bool `json:"use_case_eligibility"`
}

// AuditEntry is one record of the registry's audit ledger.
type AuditEntry struct {
	Seq       int64           `json:"seq"`
	Key       string          `json:"key"`
	Type      string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Subject   string          `json:"subject"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	DataHash  string          `json:"data_hash"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// ChainStatus is returned by VerifyChain.
type ChainStatus struct {
	Valid    bool   `json:"valid"`
	Tampered bool   `json:"tampered,omitempty"`
	AuditKey string `json:"audit_key,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AuditStats summarizes the ledger.
type AuditStats struct {
	Backend    string    `json:"backend"`
	Entries    int       `json:"entries"`
	LastSeq    int64     `json:"last_seq"`
	Root       string    `json:"root"`
	LastAppend time.Time `json:"last_append"`
}

// User is the account returned by Signup, Login and Me.
type User struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Phone            string `json:"phone_number"`
	Email            string `json:"email,omitempty"`
	IdentityVerified bool   `json:"identity_verified"`
	MaskedDocument   string `json:"masked_document,omitempty"`
}

// Session holds a user token returned by Signup or Login.
type Session struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	User      *User  `json:"user"`
}

// SignupRequest is the payload for Signup.
type SignupRequest struct {
	Username string `json:"username"`
	Phone    string `json:"phone_number"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// CreateAddressRequest is the payload for CreateAddress.
type CreateAddressRequest struct {
	Suffix       string  `json:"suffix"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Address      string  `json:"address"`
	AddressName  string  `json:"address_name,omitempty"`
	PinCode      string  `json:"pin_code,omitempty"`
	Purpose      string  `json:"purpose,omitempty"`
	PIN          string  `json:"upi_pin"`
	ConsentType  string  `json:"consent_type,omitempty"`
	DurationDays int     `json:"consent_duration_days,omitempty"`
}

// Address is a registered digital address as seen by its owner.
type Address struct {
	ID                string    `json:"id"`
	Handle            string    `json:"digital_address"`
	Suffix            string    `json:"suffix"`
	DigiPin           string    `json:"digipin"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	Address           string    `json:"address"`
	ConfidenceScore   float64   `json:"confidence_score"`
	TotalFulfillments int       `json:"total_fulfillments"`
	Tier              string    `json:"verification_tier"`
	NeedsVerification bool      `json:"needs_verification"`
	CreatedAt         time.Time `json:"created_at"`
}

// Consent is the consent record issued alongside a new address.
// Token is the one-time-displayed consent token.
type Consent struct {
	ID        string     `json:"id"`
	Type      string     `json:"consent_type"`
	Token     string     `json:"consent_token"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// AddressResult is returned by CreateAddress.
type AddressResult struct {
	Address     *Address `json:"address"`
	Consent     *Consent `json:"consent,omitempty"`
	AuditLogged bool     `json:"audit_logged"`
}

// Client is the DigiPin SDK client.
type Client struct {
	registryBase string
	httpClient   *http.Client
	cache        *decodeCache

	mu          sync.RWMutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithCacheTTL enables in-memory caching of Decode results with the given TTL.
// Resolutions are never cached since consent can be revoked at any time.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl must be positive, got %s", ttl)
		}
		c.cache = newDecodeCache(ttl)
		return nil
	}
}

// WithBearerToken attaches a user token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed registry.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a new DigiPin SDK Client connected to registryBase.
//
//	c, err := client.New("https://registry.digipin.example",
//	    client.WithCacheTTL(10*time.Minute),
//	)
func New(registryBase string, opts ...Option) (*Client, error) {
	if registryBase == "" {
		return nil, errors.New("registry URL is required")
	}
	c := &Client{
		registryBase: strings.TrimRight(registryBase, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(registryBase string, opts ...Option) *Client {
	c, err := New(registryBase, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SetBearerToken replaces the token attached to subsequent requests.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearerToken = token
}

// Encode returns the DigiPin for a coordinate.
func (c *Client) Encode(ctx context.Context, lat, lon float64) (*Location, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	var out Location
	if err := c.getJSON(ctx, "/api/v1/digipin?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decode returns the center and bounding cell of a DigiPin.
// Separators and case are ignored.
func (c *Client) Decode(ctx context.Context, code string) (*Location, error) {
	key := strings.ToUpper(strings.ReplaceAll(code, "-", ""))
	if c.cache != nil {
		if loc, ok := c.cache.get(key); ok {
			return loc, nil
		}
	}

	var out Location
	if err := c.getJSON(ctx, "/api/v1/digipin/"+url.PathEscape(code), &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(key, &out)
	}
	return &out, nil
}

// Resolve looks up a digital address with the owner's UPI PIN.
// requester identifies the calling service in the audit ledger and may be empty.
func (c *Client) Resolve(ctx context.Context, handle, pin, requester string) (*Resolution, error) {
	var out Resolution
	err := c.postJSON(ctx, "/api/v1/resolve", map[string]string{
		"digital_address": handle,
		"upi_pin":         pin,
		"requester":       requester,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveToken looks up a digital address with a consent token.
func (c *Client) ResolveToken(ctx context.Context, handle, token, requester string) (*Resolution, error) {
	var out Resolution
	err := c.postJSON(ctx, "/api/v1/resolve/token", map[string]string{
		"digital_address": handle,
		"consent_token":   token,
		"requester":       requester,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Feedback reports a delivery outcome (SUCCESS, FAILURE or NEUTRAL).
func (c *Client) Feedback(ctx context.Context, handle, status, requester string) (*FeedbackResult, error) {
	var out FeedbackResult
	err := c.postJSON(ctx, "/api/v1/feedback", map[string]string{
		"digital_address":    handle,
		"fulfillment_status": status,
		"requester":          requester,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Confidence returns the trust report and use-case eligibility of an address.
func (c *Client) Confidence(ctx context.Context, handle string) (*Eligibility, error) {
	var out Eligibility
	if err := c.getJSON(ctx, "/api/v1/addresses/"+url.PathEscape(handle)+"/confidence", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyAuditEntry checks a single ledger entry. A tampered entry is
// reported as an *APIError with Tampered set.
func (c *Client) VerifyAuditEntry(ctx context.Context, auditKey string) (*AuditEntry, error) {
	var out struct {
		Entry *AuditEntry `json:"entry"`
	}
	if err := c.postJSON(ctx, "/api/v1/audit/verify", map[string]string{"audit_key": auditKey}, &out); err != nil {
		return nil, err
	}
	return out.Entry, nil
}

// VerifyChain walks the whole ledger on the registry.
func (c *Client) VerifyChain(ctx context.Context) (*ChainStatus, error) {
	var out ChainStatus
	if err := c.getJSON(ctx, "/api/v1/audit/verify-chain", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuditStats returns ledger statistics. Requires a bearer token.
func (c *Client) AuditStats(ctx context.Context) (*AuditStats, error) {
	var out AuditStats
	if err := c.getJSON(ctx, "/api/v1/audit/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the owner's audit trail for one address, newest first.
// Requires a bearer token.
func (c *Client) History(ctx context.Context, handle string) ([]*AuditEntry, error) {
	var out struct {
		Entries []*AuditEntry `json:"entries"`
	}
	if err := c.getJSON(ctx, "/api/v1/audit/history/"+url.PathEscape(handle), &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Signup creates an account and attaches the returned token to the client.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*Session, error) {
	var out Session
	if err := c.postJSON(ctx, "/api/v1/auth/signup", req, &out); err != nil {
		return nil, err
	}
	c.SetBearerToken(out.Token)
	return &out, nil
}

// Login authenticates by email or phone number and attaches the returned
// token to the client.
func (c *Client) Login(ctx context.Context, emailOrPhone, password string) (*Session, error) {
	var out Session
	err := c.postJSON(ctx, "/api/v1/auth/login", map[string]string{
		"email_or_phone": emailOrPhone,
		"password":       password,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.SetBearerToken(out.Token)
	return &out, nil
}

// Me returns the profile of the token's user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.getJSON(ctx, "/api/v1/auth/me", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAddress registers a new digital address for the token's user.
func (c *Client) CreateAddress(ctx context.Context, req CreateAddressRequest) (*AddressResult, error) {
	var out AddressResult
	if err := c.postJSON(ctx, "/api/v1/addresses", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAddresses returns the token user's addresses.
func (c *Client) ListAddresses(ctx context.Context) ([]*Address, error) {
	var out struct {
		Addresses []*Address `json:"addresses"`
	}
	if err := c.getJSON(ctx, "/api/v1/addresses", &out); err != nil {
		return nil, err
	}
	return out.Addresses, nil
}

// RevokeConsent revokes the active consent of one of the token user's addresses.
func (c *Client) RevokeConsent(ctx context.Context, handle string) error {
	return c.postJSON(ctx, "/api/v1/addresses/"+url.PathEscape(handle)+"/revoke-consent", nil, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.registryBase+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.registryBase+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

// do executes an HTTP request, attaching the Bearer token if present, and
// decodes a 2xx body into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	c.mu.RLock()
	token := c.bearerToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// --- simple in-memory decode cache ---

type cacheEntry struct {
	loc       *Location
	expiresAt time.Time
}

type decodeCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newDecodeCache(ttl time.Duration) *decodeCache {
	return &decodeCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (dc *decodeCache) get(key string) (*Location, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	e, ok := dc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.loc, true
}

func (dc *decodeCache) set(key string, loc *Location) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.entries[key] = &cacheEntry{loc: loc, expiresAt: time.Now().Add(dc.ttl)}
}
