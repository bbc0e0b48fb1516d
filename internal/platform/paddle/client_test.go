package paddle

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/pkg/config"
)

func sign(secret string, body []byte, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix + ":"))
	mac.Write(body)
	return fmt.Sprintf("ts=%s;h1=%s", unix, hex.EncodeToString(mac.Sum(nil)))
}

func newRequest(body []byte, sig string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if sig != "" {
		r.Header.Set(SignatureHeader, sig)
	}
	return r
}

func TestVerifier(t *testing.T) {
	cfg := config.Defaults()
	cfg.Processor.WebhookSecret = "pdl_ntfset_secret"
	v := NewVerifier(cfg)
	body := []byte(`{"event_id":"evt_1","event_type":"transaction.completed"}`)

	ok, err := v.Verify(newRequest(body, sign("pdl_ntfset_secret", body, time.Now())))
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = v.Verify(newRequest(body, sign("other", body, time.Now())))
	require.False(t, ok)

	tampered := append([]byte{}, body...)
	tampered[2] = 'X'
	ok, _ = v.Verify(newRequest(tampered, sign("pdl_ntfset_secret", body, time.Now())))
	require.False(t, ok)
}

func TestVerifier_NoSecretRejects(t *testing.T) {
	v := NewVerifier(config.Defaults())
	body := []byte(`{}`)
	ok, err := v.Verify(newRequest(body, sign("", body, time.Now())))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClient_DisabledWithoutAPIKey(t *testing.T) {
	c, err := NewClient(config.Defaults(), zap.NewNop().Sugar(), nil)
	require.NoError(t, err)

	_, err = c.CreateCheckout(context.Background(), CheckoutRequest{PriceID: "pri_1"})
	require.ErrorIs(t, err, ErrProcessorDisabled)
}
