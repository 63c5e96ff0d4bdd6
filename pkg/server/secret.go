package server

import (
	"crypto/rand"
	"encoding/base64"
)

// generateClientID mints a fresh opaque client id for a join that didn't
// supply one, per spec.md §4.4 ("If client_id is absent, mint a fresh
// opaque id"). Same crypto/rand + base64 technique as the teacher's OTP
// generator, repurposed: an OTP has no role in this spec, but the
// technique for handing a client an unguessable opaque token is exactly
// what minting a client id needs.
func generateClientID() string {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
