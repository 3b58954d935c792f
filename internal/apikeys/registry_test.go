package apikeys

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestAuthenticate_Success(t *testing.T) {
	hash := HashSecret("s3cret", SHA256)
	reg := NewFromString(fmt.Sprintf(`{"keys":[{"id":"k1","secretHash":"%s","algorithm":"sha256","scopes":["graph:read"]}]}`, hash))

	res, err := reg.Authenticate(EncodePresented("k1", "s3cret"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if _, ok := res.Scopes["graph:read"]; !ok {
		t.Fatalf("expected graph:read scope, got %v", res.Scopes)
	}
}

func TestAuthenticate_UnknownID(t *testing.T) {
	reg := NewFromString(`{"keys":[]}`)
	_, err := reg.Authenticate(EncodePresented("missing", "x"))
	var af *AuthFailure
	if err == nil || !asAuthFailure(err, &af) || af.Code != FailInvalidKey {
		t.Fatalf("expected INVALID_API_KEY, got %v", err)
	}
}

func TestAuthenticate_WrongSecret(t *testing.T) {
	hash := HashSecret("correct", SHA256)
	reg := NewFromString(fmt.Sprintf(`{"keys":[{"id":"k1","secretHash":"%s","algorithm":"sha256"}]}`, hash))

	_, err := reg.Authenticate(EncodePresented("k1", "wrong"))
	var af *AuthFailure
	if err == nil || !asAuthFailure(err, &af) || af.Code != FailInvalidKey {
		t.Fatalf("expected INVALID_API_KEY, got %v", err)
	}
}

func TestAuthenticate_ChecksumMismatch(t *testing.T) {
	hash := HashSecret("s3cret", SHA256)
	reg := NewFromString(fmt.Sprintf(`{"keys":[{"id":"k1","secretHash":"%s","algorithm":"sha256","checksum":"wrong","scopes":["graph:read"]}]}`, hash))

	_, err := reg.Authenticate(EncodePresented("k1", "s3cret"))
	var af *AuthFailure
	if err == nil || !asAuthFailure(err, &af) || af.Code != FailChecksumMismatch {
		t.Fatalf("expected CHECKSUM_MISMATCH, got %v", err)
	}
}

func TestAuthenticate_ChecksumValid(t *testing.T) {
	hash := HashSecret("s3cret", SHA256)
	checksum := ComputeChecksum("k1", hash, SHA256)
	reg := NewFromString(fmt.Sprintf(`{"keys":[{"id":"k1","secretHash":"%s","algorithm":"sha256","checksum":"%s","scopes":["graph:read"]}]}`, hash, checksum))

	if _, err := reg.Authenticate(EncodePresented("k1", "s3cret")); err != nil {
		t.Fatalf("expected success with valid checksum, got %v", err)
	}
}

func TestAuthenticate_MalformedBase64(t *testing.T) {
	reg := NewFromString(`{"keys":[]}`)
	_, err := reg.Authenticate("not-valid-base64!!!")
	var af *AuthFailure
	if err == nil || !asAuthFailure(err, &af) || af.Code != FailInvalidKey {
		t.Fatalf("expected INVALID_API_KEY, got %v", err)
	}
}

func TestAuthenticate_FiltersRecordsMissingFields(t *testing.T) {
	reg := NewFromString(`{"keys":[{"id":"","secretHash":"x"},{"id":"k2","secretHash":""}]}`)
	_, err := reg.Authenticate(EncodePresented("k2", "anything"))
	var af *AuthFailure
	if err == nil || !asAuthFailure(err, &af) || af.Code != FailInvalidKey {
		t.Fatalf("expected filtered records to be absent from registry, got %v", err)
	}
}

func TestRegistry_BareArraySource(t *testing.T) {
	hash := HashSecret("s3cret", SHA256)
	reg := NewFromString(fmt.Sprintf(`[{"id":"k1","secretHash":"%s","algorithm":"sha256","scopes":["graph:read"]}]`, hash))

	if _, err := reg.Authenticate(EncodePresented("k1", "s3cret")); err != nil {
		t.Fatalf("expected bare-array source to parse, got %v", err)
	}
}

func TestRegistry_ProviderPrecedence(t *testing.T) {
	hash := HashSecret("from-provider", SHA256)
	reg := NewFromString(`{"keys":[]}`)
	reg.SetProvider(func() (string, error) {
		return fmt.Sprintf(`{"keys":[{"id":"k1","secretHash":"%s","algorithm":"sha256"}]}`, hash), nil
	})

	if _, err := reg.Authenticate(EncodePresented("k1", "from-provider")); err != nil {
		t.Fatalf("expected provider source to take precedence, got %v", err)
	}
}

func TestRegistry_CacheInvalidatesOnSignatureChange(t *testing.T) {
	hash1 := HashSecret("first", SHA256)
	hash2 := HashSecret("second", SHA256)
	src := fmt.Sprintf(`{"keys":[{"id":"k1","secretHash":"%s","algorithm":"sha256"}]}`, hash1)

	reg := NewFromString(src)
	if _, err := reg.Authenticate(EncodePresented("k1", "first")); err != nil {
		t.Fatalf("expected initial load to succeed, got %v", err)
	}

	reg.rawSrc = fmt.Sprintf(`{"keys":[{"id":"k1","secretHash":"%s","algorithm":"sha256"}]}`, hash2)
	if _, err := reg.Authenticate(EncodePresented("k1", "second")); err != nil {
		t.Fatalf("expected cache to invalidate on signature change, got %v", err)
	}
}

func TestRegistry_RoundTrip(t *testing.T) {
	hash := HashSecret("s3cret", SHA256)
	checksum := ComputeChecksum("k1", hash, SHA256)
	rec := Record{ID: "k1", SecretHash: hash, Algorithm: SHA256, Scopes: []string{"graph:read"}, Checksum: checksum}

	reg1 := NewFromString(`{"keys":[]}`)
	reg1.rawSrc = marshalKeys(t, rec)

	if _, err := reg1.Authenticate(EncodePresented("k1", "s3cret")); err != nil {
		t.Fatalf("round trip authenticate failed: %v", err)
	}
}

func marshalKeys(t *testing.T, recs ...Record) string {
	t.Helper()
	doc := documentEnvelope{Keys: recs}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func asAuthFailure(err error, target **AuthFailure) bool {
	af, ok := err.(*AuthFailure)
	if !ok {
		return false
	}
	*target = af
	return true
}
