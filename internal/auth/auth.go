// Package auth signs outgoing feed requests with an HMAC-SHA256 API key scheme.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/dexfeed/internal/clock"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/transport"
)

// Header names set by the signer. Every header with HeaderPrefix except the
// signature itself takes part in the signed payload.
const (
	HeaderPrefix     = "X-Dex-"
	HeaderAPIKey     = "X-Dex-Api-Key"
	HeaderExpiration = "X-Dex-Auth-Expiration"
	HeaderSignature  = "X-Dex-Auth"
)

// DefaultValidity is how long a signature stays valid after signing.
const DefaultValidity = 10 * time.Second

// Credentials holds the API key and its base64-encoded shared secret.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Signer adds API key, expiration and signature headers to a request.
type Signer struct {
	apiKey   string
	secret   []byte
	validity time.Duration
	clock    clock.Clock
}

// NewSigner validates creds and returns a Signer. A zero validity uses
// DefaultValidity; a nil clock uses real time.
func NewSigner(creds Credentials, validity time.Duration, clk clock.Clock) (*Signer, error) {
	if creds.APIKey == "" {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("api key is required"))
	}
	if creds.APISecret == "" {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("api secret is required"))
	}
	secret, err := base64.StdEncoding.DecodeString(creds.APISecret)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("api secret is not base64: %w", err))
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Signer{apiKey: creds.APIKey, secret: secret, validity: validity, clock: clk}, nil
}

// Sign returns a copy of req carrying fresh auth headers. It is called on
// every send so the expiration always moves forward.
func (s *Signer) Sign(req transport.Request) (transport.Request, error) {
	out := req.Clone()
	u, err := url.Parse(out.URL)
	if err != nil {
		return req, core.WrapError(core.ErrAuth, fmt.Errorf("parse url: %w", err))
	}

	expires := s.clock.Now().Add(s.validity).UnixMilli()
	out.Header.Set(HeaderAPIKey, s.apiKey)
	out.Header.Set(HeaderExpiration, strconv.FormatInt(expires, 10))
	out.Header.Del(HeaderSignature)

	out.Header.Set(HeaderSignature, s.signature(u.Path, out))
	return out, nil
}

// Verify recomputes the signature of a signed request. Used by tests and
// local mocks of upstream APIs.
func (s *Signer) Verify(req transport.Request) bool {
	u, err := url.Parse(req.URL)
	if err != nil {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(req.Header.Get(HeaderSignature))
	if err != nil {
		return false
	}
	want, _ := base64.StdEncoding.DecodeString(s.signature(u.Path, req))
	return hmac.Equal(got, want)
}

// signature computes base64(HMAC(path + sorted signed headers + body)).
func (s *Signer) signature(path string, req transport.Request) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(path))

	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		if strings.HasPrefix(name, HeaderPrefix) && name != HeaderSignature {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		mac.Write([]byte(strings.ToLower(name)))
		mac.Write([]byte(req.Header.Get(name)))
	}

	mac.Write(req.Body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
