package objectclient

import "testing"

func TestSessionKey(t *testing.T) {
	cases := map[string]string{
		"claim.pdf":            "sessions/s1/claim.pdf",
		"../../etc/passwd":     "sessions/s1/passwd",
		"Loss Notice (v2).pdf": "sessions/s1/Loss_Notice_v2_.pdf",
		"":                     "sessions/s1/document.pdf",
	}
	for in, want := range cases {
		if got := SessionKey("s1", in); got != want {
			t.Errorf("SessionKey(%q) = %q, want %q", in, got, want)
		}
	}
}
