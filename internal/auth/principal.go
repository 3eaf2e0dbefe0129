package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// CredentialKind distinguishes the two verification paths a bearer
// credential can take.
type CredentialKind int

const (
	// KindOpaque is a provider-issued token verified remotely as-is.
	KindOpaque CredentialKind = iota
	// KindStructured is a locally-signed token verified here first, then
	// confirmed against the provider by subject.
	KindStructured
)

func (k CredentialKind) String() string {
	if k == KindStructured {
		return "structured"
	}
	return "opaque"
}

// legacyLengthThreshold is the predecessor system's heuristic: bearer tokens
// longer than 100 characters were assumed to be locally-signed. Kept as a
// compatibility fallback when structural parsing is inconclusive.
const legacyLengthThreshold = 100

// Classify determines the verification path for a raw credential. It first
// attempts a structural parse (three dot-separated segments whose header
// decodes to a JSON object with an "alg" field); the length heuristic only
// breaks ties for three-segment tokens with an undecodable header.
func Classify(raw string) CredentialKind {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return KindOpaque
	}
	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		if len(raw) > legacyLengthThreshold {
			return KindStructured
		}
		return KindOpaque
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if json.Unmarshal(header, &hdr) != nil || hdr.Alg == "" {
		return KindOpaque
	}
	return KindStructured
}
