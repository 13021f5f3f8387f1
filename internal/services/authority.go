package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthMode selects which question the gate puts to the role authority.
type AuthMode string

const (
	// ModeAllowed passes when the caller is on the allow-list.
	ModeAllowed AuthMode = "ALLOWED"
	// ModeBarred passes when the caller is confirmed not to be barred.
	ModeBarred  AuthMode = "BARRED"
)

// AuthorityQuery is the payload of a single role authority check.
type AuthorityQuery struct {
	Authority  string `json:"-"`
	LedgerID   string `json:"ledger_id"`
	LedgerName string `json:"ledger_name"`
	Operation  string `json:"operation"`
	Caller     string `json:"caller"`
}

// AuthorityClient talks to the external role authority. Both calls return the
// raw response code; interpretation is left to the Gate.
type AuthorityClient interface {
	IsAllowed(ctx context.Context, q AuthorityQuery) (int32, error)
	IsBarred(ctx context.Context, q AuthorityQuery) (int32, error)
}

// Gate decides whether a caller may run an operation.
type Gate struct {
	client      AuthorityClient
	authority   string
	affirmative int32
	negative    int32
	testMode    bool
}

func NewGate(client AuthorityClient, authority string, affirmative, negative int32, testMode bool) *Gate {
	return &Gate{
		client:      client,
		authority:   authority,
		affirmative: affirmative,
		negative:    negative,
		testMode:    testMode,
	}
}

// Authorize asks the authority exactly once. In test mode it always passes
// without calling out.
func (g *Gate) Authorize(ctx context.Context, mode AuthMode, q AuthorityQuery) error {
	if g.testMode {
		return nil
	}
	q.Authority = g.authority

	var (
		code int32
		err  error
		want int32
	)
	switch mode {
	case ModeAllowed:
		code, err = g.client.IsAllowed(ctx, q)
		want = g.affirmative
	case ModeBarred:
		code, err = g.client.IsBarred(ctx, q)
		want = g.negative
	default:
		return newError(q.Operation, ErrUnauthorized, "unknown mode %q", mode)
	}
	if err != nil {
		log.Printf("[AUTHORITY] %s check failed: authority=%s ledger=%s operation=%s caller=%s: %v",
			mode, g.authority, q.LedgerID, q.Operation, q.Caller, err)
		return wrapError(q.Operation, ErrAuthorityUnavailable, err, "authority %s caller %s", g.authority, q.Caller)
	}
	if code != want {
		return newError(q.Operation, ErrUnauthorized, "caller %s not %s (code %d)", q.Caller, strings.ToLower(string(mode)), code)
	}
	return nil
}

func (g *Gate) TestMode() bool {
	return g.testMode
}

// DisableTestMode turns the bypass off. It cannot be turned back on.
func (g *Gate) DisableTestMode() {
	g.testMode = false
}

func (g *Gate) Codes() (affirmative, negative int32) {
	return g.affirmative, g.negative
}

func (g *Gate) SetAffirmative(code int32) { g.affirmative = code }
func (g *Gate) SetNegative(code int32)    { g.negative = code }

func (g *Gate) Authority() string { return g.authority }

func (g *Gate) SetAuthority(id string) { g.authority = id }

// HTTPAuthorityClient calls a role authority exposed over HTTP:
//
//	POST {baseURL}/v1/roles/{authority}/is-allowed
//	POST {baseURL}/v1/roles/{authority}/is-barred
//
// with an AuthorityQuery body, answered by {"code": n}.
type HTTPAuthorityClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAuthorityClient(baseURL string, timeout time.Duration) *HTTPAuthorityClient {
	return &HTTPAuthorityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPAuthorityClient) IsAllowed(ctx context.Context, q AuthorityQuery) (int32, error) {
	return c.call(ctx, "is-allowed", q)
}

func (c *HTTPAuthorityClient) IsBarred(ctx context.Context, q AuthorityQuery) (int32, error) {
	return c.call(ctx, "is-barred", q)
}

func (c *HTTPAuthorityClient) call(ctx context.Context, check string, q AuthorityQuery) (int32, error) {
	endpoint := fmt.Sprintf("%s/v1/roles/%s/%s", c.baseURL, url.PathEscape(q.Authority), check)

	body, err := json.Marshal(q)
	if err != nil {
		return 0, fmt.Errorf("encode authority query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build authority request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[AUTHORITY] Calling %s for operation %s caller %s", endpoint, q.Operation, q.Caller)
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("authority request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("authority returned status %d", resp.StatusCode)
	}

	var result struct {
		Code *int32 `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode authority response: %w", err)
	}
	if result.Code == nil {
		return 0, fmt.Errorf("authority response missing code")
	}
	return *result.Code, nil
}
