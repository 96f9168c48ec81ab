// Package e2ee is the public-key directory that lets chat peers set up
// end-to-end encrypted sessions. The server only stores public material.
package e2ee

import (
	"encoding/json"
	"strings"
	"time"
)

// PreKey is a one-time public prekey.
type PreKey struct {
	ID        int64  `json:"id"`
	PublicKey string `json:"publicKey"`
}

// SignedPreKey is the medium-term prekey signed by the identity key.
type SignedPreKey struct {
	ID        int64  `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// Bundle is everything a peer needs to open a session with a user.
type Bundle struct {
	UserID         string       `json:"userId"`
	RegistrationID int64        `json:"registrationId"`
	IdentityKey    string       `json:"identityKey"`
	SignedPreKey   SignedPreKey `json:"signedPreKey"`
	PreKeys        []PreKey     `json:"preKeys"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// BundleRequest is the client payload for PUT /e2ee/me/bundle. Numeric ids
// may arrive as numbers or numeric strings.
type BundleRequest struct {
	RegistrationID json.Number `json:"registrationId"`
	IdentityKey    string      `json:"identityKey"`
	SignedPreKey   struct {
		ID        json.Number `json:"id"`
		PublicKey string      `json:"publicKey"`
		Signature string      `json:"signature"`
	} `json:"signedPreKey"`
	PreKeys []struct {
		ID        json.Number `json:"id"`
		PublicKey string      `json:"publicKey"`
	} `json:"preKeys"`
}

// Normalize trims the request into a bundle and returns the first
// validation problem, if any. Malformed prekeys are dropped, not rejected.
func (req BundleRequest) Normalize(userID string) (*Bundle, string) {
	b := &Bundle{
		UserID:      userID,
		IdentityKey: strings.TrimSpace(req.IdentityKey),
		SignedPreKey: SignedPreKey{
			PublicKey: strings.TrimSpace(req.SignedPreKey.PublicKey),
			Signature: strings.TrimSpace(req.SignedPreKey.Signature),
		},
		PreKeys: []PreKey{},
	}
	for _, p := range req.PreKeys {
		id, ok := parseID(p.ID)
		key := strings.TrimSpace(p.PublicKey)
		if !ok || key == "" {
			continue
		}
		b.PreKeys = append(b.PreKeys, PreKey{ID: id, PublicKey: key})
	}

	var ok bool
	if b.RegistrationID, ok = parseID(req.RegistrationID); !ok {
		return nil, "registrationId is required"
	}
	if b.IdentityKey == "" {
		return nil, "identityKey is required"
	}
	if b.SignedPreKey.ID, ok = parseID(req.SignedPreKey.ID); !ok {
		return nil, "signedPreKey.id is required"
	}
	if b.SignedPreKey.PublicKey == "" {
		return nil, "signedPreKey.publicKey is required"
	}
	if b.SignedPreKey.Signature == "" {
		return nil, "signedPreKey.signature is required"
	}
	return b, ""
}

func parseID(n json.Number) (int64, bool) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, false
	}
	if id, err := json.Number(s).Int64(); err == nil {
		return id, true
	}
	f, err := json.Number(s).Float64()
	if err != nil || f > 1<<53 || f < -(1<<53) {
		return 0, false
	}
	return int64(f), true
}
