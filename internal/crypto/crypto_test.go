package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("gateway-secret", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if strings.Contains(string(blob), "gateway-secret") {
		t.Fatal("plaintext leaked into encrypted blob")
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != "gateway-secret" {
		t.Fatalf("got %q", got)
	}

	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestEncryptSecretRejectsEmpty(t *testing.T) {
	if _, err := EncryptSecret("s", ""); err == nil {
		t.Fatal("expected error for empty password")
	}
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestDecryptSecretBadInput(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"not json", "nope"},
		{"bad version", `{"version":9,"salt":"","nonce":"","ciphertext":""}`},
		{"bad salt", `{"version":1,"salt":"%%%","nonce":"","ciphertext":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptSecret([]byte(tt.blob), "pw"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: "raw", EncryptedPath: "/does/not/exist"})
	if err != nil || got != "raw" {
		t.Fatalf("raw: got %q, %v", got, err)
	}

	got, err = LoadSecret(SecretConfig{})
	if err != nil || got != "" {
		t.Fatalf("empty: got %q, %v", got, err)
	}

	blob, err := EncryptSecret("from-file", "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	if err != nil || got != "from-file" {
		t.Fatalf("file: got %q, %v", got, err)
	}

	if _, err := LoadSecret(SecretConfig{EncryptedPath: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestHMACHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "secret"}
	a := auth.HeadersAt("POST", "/positions/open", `{"market_id":"m"}`, 1700000000)
	b := auth.HeadersAt("POST", "/positions/open", `{"market_id":"m"}`, 1700000000)

	if a[HeaderSignature] != b[HeaderSignature] {
		t.Fatal("signature not deterministic")
	}
	if a[HeaderAPIKey] != "key-1" || a[HeaderTimestamp] != "1700000000" {
		t.Fatalf("headers = %v", a)
	}
	if !Verify("secret", "1700000000", "POST", "/positions/open", `{"market_id":"m"}`, a[HeaderSignature]) {
		t.Fatal("signature does not verify")
	}

	c := auth.HeadersAt("POST", "/positions/close", `{"market_id":"m"}`, 1700000000)
	if c[HeaderSignature] == a[HeaderSignature] {
		t.Fatal("different paths produced the same signature")
	}
	if Verify("other", "1700000000", "POST", "/positions/open", `{"market_id":"m"}`, a[HeaderSignature]) {
		t.Fatal("signature verified with the wrong secret")
	}
	if Verify("secret", "1", "GET", "/", "", "not base64!") {
		t.Fatal("malformed signature verified")
	}
}

func TestHMACStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdefgh", Secret: "xyz"}
	s := auth.String()
	if strings.Contains(s, "efgh") || strings.Contains(s, "xyz") {
		t.Fatalf("String leaked credentials: %s", s)
	}
}
