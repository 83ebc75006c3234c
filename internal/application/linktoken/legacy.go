package linktoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

// legacyPayload is the body of pre-JWT links: base64url(json) "." hex(hmac-sha256)
type legacyPayload struct {
	RequestID int64  `json:"rid"`
	ActorID   string `json:"aid"`
	Action    string `json:"act"`
	Expires   int64  `json:"exp"`
}

// isLegacy distinguishes the two-part legacy format from a three-part JWT
func isLegacy(token string) bool {
	return strings.Count(token, ".") == 1
}

func (s *Service) verifyLegacy(token string) (*Grant, error) {
	now := s.now()
	if s.cfg.LegacySecret == "" || s.cfg.LegacySunset.IsZero() || !now.Before(s.cfg.LegacySunset) {
		return nil, errors.New("legacy links are no longer accepted")
	}

	body, sig, _ := strings.Cut(token, ".")
	want, err := hex.DecodeString(sig)
	if err != nil {
		return nil, errors.New("malformed legacy signature")
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.LegacySecret))
	mac.Write([]byte(body))
	if !hmac.Equal(mac.Sum(nil), want) {
		return nil, errors.New("legacy signature mismatch")
	}

	p, err := decodeLegacyPayload(token)
	if err != nil {
		return nil, err
	}

	expires := time.Unix(p.Expires, 0)
	if !now.Before(expires) {
		return nil, errors.New("legacy link expired")
	}
	// Legacy links carry no issue time, so bound the remaining lifetime instead
	if expires.Sub(now) > MaxTTL {
		return nil, errors.New("legacy link lifetime exceeds maximum")
	}
	action := workflow.Action(p.Action)
	if !action.IsValid() || p.RequestID <= 0 || p.ActorID == "" {
		return nil, errors.New("incomplete legacy claims")
	}

	return &Grant{
		RequestID: p.RequestID,
		ActorID:   p.ActorID,
		Action:    action,
		ExpiresAt: expires,
		Legacy:    true,
	}, nil
}

func decodeLegacyPayload(token string) (*legacyPayload, error) {
	body, _, _ := strings.Cut(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, errors.New("malformed legacy payload")
	}

	var p legacyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.New("malformed legacy payload")
	}
	return &p, nil
}
