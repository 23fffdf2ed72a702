package sanitizer

import "testing"

func TestSanitizeRedactsCredentials(t *testing.T) {
	in := "password 7 094F471A1A0A\nsnmp-server community PUBLIC\n"
	want := "password 7 ***REDACTED***\nsnmp-server community ***REDACTED***\n"
	if got := Sanitize(in); got != want {
		t.Fatalf("Sanitize() = %q, want %q", got, want)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"password 7 094F471A1A0A\n",
		"secret 5 $1$abc$def\n",
		"secret 8 abcdef0123456789\n",
		"secret 9 abcdef0123456789\n",
		"snmp-server community PUBLIC\n",
		"pre-shared-key s3cr3tvalue\n",
		"key-string anothersecret\n",
		"server-private 10.0.0.1 key abc123\n",
		"key 7 02050D480809\n",
		"ntp authentication-key 1 md5 07343E1D0A1013\n",
		"username admin password 7 02050D480809\n",
		"username admin secret 5 $1$xyz$abc\n",
		"enable secret 5 $1$xyz$abc\n",
		"password plaintextpassword\n",
		"interface Gi0/1\n description uplink\n",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Fatalf("Sanitize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestSanitizeSpecificBeforeGeneric(t *testing.T) {
	in := "password 7 ABCDEF\n"
	got := Sanitize(in)
	want := "password 7 ***REDACTED***\n"
	if got != want {
		t.Fatalf("Sanitize() = %q, want %q", got, want)
	}
}

func TestSanitizePreservesStructure(t *testing.T) {
	in := "interface Gi0/1\n description old\n!\n"
	if got := Sanitize(in); got != in {
		t.Fatalf("Sanitize altered non-credential text: got %q want %q", got, in)
	}
}

func TestSanitizeUsernamePasswordLevel(t *testing.T) {
	in := "username bob password 7 SECRETVAL\n"
	want := "username bob password 7 ***REDACTED***\n"
	if got := Sanitize(in); got != want {
		t.Fatalf("Sanitize() = %q, want %q", got, want)
	}
}
