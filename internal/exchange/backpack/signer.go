package backpack

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Request instructions understood by the venue's signature scheme.
const (
	instructionOrderExecute  = "orderExecute"
	instructionOrderCancel   = "orderCancel"
	instructionOrderQueryAll = "orderQueryAll"
	instructionPositionQuery = "positionQuery"
	instructionSubscribe     = "subscribe"
)

// Signer produces ED25519 signatures over the venue's canonical
// "instruction=...&<sorted params>&timestamp=...&window=..." string.
type Signer struct {
	apiKey string
	key    ed25519.PrivateKey
	window time.Duration
	now    func() time.Time
}

// NewSigner decodes a base64 ED25519 seed. The API key is the base64 public key.
func NewSigner(apiKey, secret string, window time.Duration) (*Signer, error) {
	seed, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("secret key must be a %d byte seed, got %d", ed25519.SeedSize, len(seed))
	}
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Signer{
		apiKey: apiKey,
		key:    ed25519.NewKeyFromSeed(seed),
		window: window,
		now:    time.Now,
	}, nil
}

// PublicKey returns the base64 encoded verifying key.
func (s *Signer) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// Payload builds the canonical string for instruction and params at timestamp ts (ms).
func (s *Signer) Payload(instruction string, params map[string]string, ts int64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("instruction=")
	b.WriteString(instruction)
	for _, k := range keys {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	b.WriteString("&timestamp=")
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteString("&window=")
	b.WriteString(s.windowMillis())
	return b.String()
}

// Sign returns the base64 signature of the canonical payload.
func (s *Signer) Sign(instruction string, params map[string]string, ts int64) string {
	sig := ed25519.Sign(s.key, []byte(s.Payload(instruction, params, ts)))
	return base64.StdEncoding.EncodeToString(sig)
}

// For returns a request signer bound to instruction, suitable for pkg/http.WithSigner.
func (s *Signer) For(instruction string) func(req *http.Request, body []byte) error {
	return func(req *http.Request, body []byte) error {
		params, err := requestParams(req, body)
		if err != nil {
			return err
		}
		ts := s.now().UnixMilli()
		req.Header.Set("X-API-Key", s.apiKey)
		req.Header.Set("X-Signature", s.Sign(instruction, params, ts))
		req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Window", s.windowMillis())
		return nil
	}
}

// SubscribeSignature returns the [key, signature, timestamp, window] tuple for a WS subscription.
func (s *Signer) SubscribeSignature() []string {
	ts := s.now().UnixMilli()
	return []string{
		s.apiKey,
		s.Sign(instructionSubscribe, nil, ts),
		strconv.FormatInt(ts, 10),
		s.windowMillis(),
	}
}

func (s *Signer) windowMillis() string {
	return strconv.FormatInt(s.window.Milliseconds(), 10)
}

// requestParams flattens the query string or JSON body into signable key/value pairs.
func requestParams(req *http.Request, body []byte) (map[string]string, error) {
	params := make(map[string]string)
	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	if len(body) == 0 {
		return params, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode body for signing: %w", err)
	}
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			params[k] = val
		case bool:
			params[k] = strconv.FormatBool(val)
		case json.Number:
			params[k] = val.String()
		case nil:
		default:
			params[k] = fmt.Sprint(val)
		}
	}
	return params, nil
}
