package auth

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/newthinker/dexfeed/internal/clock/fake"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

func newTestSigner(t *testing.T, clk *fake.Clock) *Signer {
	t.Helper()
	s, err := NewSigner(Credentials{APIKey: "key-1", APISecret: testSecret}, 5*time.Second, clk)
	require.NoError(t, err)
	return s
}

func TestNewSigner_Validation(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		code  *core.Error
	}{
		{"missing key", Credentials{APISecret: testSecret}, core.ErrConfigMissing},
		{"missing secret", Credentials{APIKey: "k"}, core.ErrConfigMissing},
		{"bad secret", Credentials{APIKey: "k", APISecret: "%%%"}, core.ErrConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.creds, 0, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.code)
		})
	}
}

func TestSigner_Sign(t *testing.T) {
	clk := fake.New(time.UnixMilli(1_000_000))
	s := newTestSigner(t, clk)

	req := transport.Request{
		Method: http.MethodGet,
		URL:    "https://api.example.com/v0/order_book/depth?pair=WETH",
		Header: http.Header{"Accept": {"application/json"}},
	}
	signed, err := s.Sign(req)
	require.NoError(t, err)

	assert.Equal(t, "key-1", signed.Header.Get(HeaderAPIKey))
	assert.Equal(t, strconv.FormatInt(1_005_000, 10), signed.Header.Get(HeaderExpiration))
	assert.NotEmpty(t, signed.Header.Get(HeaderSignature))
	assert.True(t, s.Verify(signed))

	// The template is untouched.
	assert.Empty(t, req.Header.Get(HeaderSignature))
}

func TestSigner_ResignsWithFreshExpiration(t *testing.T) {
	clk := fake.New(time.UnixMilli(0))
	s := newTestSigner(t, clk)
	req := transport.Request{Method: http.MethodGet, URL: "https://api.example.com/levels"}

	first, err := s.Sign(req)
	require.NoError(t, err)
	clk.Advance(time.Second)
	second, err := s.Sign(first)
	require.NoError(t, err)

	assert.NotEqual(t, first.Header.Get(HeaderExpiration), second.Header.Get(HeaderExpiration))
	assert.NotEqual(t, first.Header.Get(HeaderSignature), second.Header.Get(HeaderSignature))
	assert.True(t, s.Verify(second))
}

func TestSigner_VerifyDetectsTampering(t *testing.T) {
	s := newTestSigner(t, fake.New(time.Time{}))
	signed, err := s.Sign(transport.Request{
		Method: http.MethodPost,
		URL:    "https://api.example.com/quote",
		Body:   []byte(`{"amount":"1"}`),
	})
	require.NoError(t, err)

	tampered := signed.Clone()
	tampered.Body = []byte(`{"amount":"2"}`)
	assert.False(t, s.Verify(tampered))

	moved := signed.Clone()
	moved.URL = "https://api.example.com/other"
	assert.False(t, s.Verify(moved))
}

func TestSigner_BadURL(t *testing.T) {
	s := newTestSigner(t, fake.New(time.Time{}))
	_, err := s.Sign(transport.Request{URL: "://bad"})
	assert.ErrorIs(t, err, core.ErrAuth)
}
