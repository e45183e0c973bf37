package github

import "testing"

func TestVerifySignature(t *testing.T) {
	secret := "topsecret"
	body := []byte(`{"ref":"refs/heads/main"}`)
	header := Sign(secret, body)

	if !VerifySignature(secret, body, header) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	header := Sign("topsecret", body)

	if VerifySignature("other", body, header) {
		t.Fatal("expected signature with wrong secret to fail")
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := "topsecret"
	header := Sign(secret, []byte(`{"a":1}`))

	if VerifySignature(secret, []byte(`{"a":2}`), header) {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerifySignature_BadHeader(t *testing.T) {
	secret := "topsecret"
	body := []byte("payload")

	cases := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"missing prefix", "deadbeef"},
		{"wrong algorithm", "sha1=deadbeef"},
		{"not hex", "sha256=zzzz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if VerifySignature(secret, body, tc.header) {
				t.Errorf("expected header %q to be rejected", tc.header)
			}
		})
	}
}
