// Package sanitizer implements the output sanitizer (spec section 4.6):
// a pure, idempotent function that redacts device-configuration
// credential material before it is stored in audit/execution logs or
// returned over the API.
//
// Modeled on the teacher's privacy.StandardPrivacyManager.Scrub —
// a compiled-regexp redaction pass over free text — generalized from a
// single email pattern to the ordered set of network-device credential
// directives this spec requires.
package sanitizer

import (
	"regexp"
	"strings"
)

// Redacted is the literal token substituted for a matched credential.
const Redacted = "***REDACTED***"

// rule captures a directive prefix (group 1, preserved verbatim) and a
// credential token (group 2, replaced with Redacted). Rules are
// anchored to the whole line so a multi-token directive (e.g.
// "password 7 <token>") can never also satisfy a single-token rule
// (the end-of-line catch-all) on the same line — this is what keeps
// the catch-all from double-redacting an already-handled line.
type rule struct {
	name string
	re   *regexp.Regexp
}

var rules = []rule{
	{"username_password_secret", regexp.MustCompile(`(?i)^(\s*username\s+\S+\s+(?:password|secret)\s+\d+\s+)(\S+)\s*$`)},
	{"enable_secret", regexp.MustCompile(`(?i)^(\s*enable\s+secret\s+\d+\s+)(\S+)\s*$`)},
	{"password_7", regexp.MustCompile(`(?i)^(\s*password\s+7\s+)(\S+)\s*$`)},
	{"secret_level", regexp.MustCompile(`(?i)^(\s*secret\s+[589]\s+)(\S+)\s*$`)},
	{"snmp_community", regexp.MustCompile(`(?i)^(\s*snmp-server\s+community\s+)(\S+)\s*$`)},
	{"pre_shared_key", regexp.MustCompile(`(?i)^(\s*pre-shared-key\s+)(\S+)\s*$`)},
	{"key_string", regexp.MustCompile(`(?i)^(\s*key-string\s+)(\S+)\s*$`)},
	{"server_private", regexp.MustCompile(`(?i)^(\s*server-private\s+\S+\s+key\s+)(\S+)\s*$`)},
	{"key_7", regexp.MustCompile(`(?i)^(\s*key\s+7\s+)(\S+)\s*$`)},
	{"ntp_authentication_key", regexp.MustCompile(`(?i)^(\s*ntp\s+authentication-key\s+\d+\s+md5\s+)(\S+)\s*$`)},
	// Catch-all: "password <token>" with nothing else on the line.
	// Lines already handled by password_7 or username_password_secret
	// have a second token (the level) between "password" and the
	// credential, so this anchored, single-token pattern cannot match
	// them — idempotence holds without needing a "seen" flag.
	{"password_eol", regexp.MustCompile(`(?i)^(\s*password\s+)(\S+)\s*$`)},
}

// Sanitize redacts every credential substring matched by the rules
// above, replacing only the token — never the directive keyword — and
// never altering line boundaries or non-credential whitespace.
//
// Sanitize is idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = sanitizeLine(line)
	}
	return strings.Join(lines, "\n")
}

func sanitizeLine(line string) string {
	// Match against the line without its trailing whitespace (including
	// a CRLF "\r") and re-attach it afterwards, so redaction never eats it.
	body := strings.TrimRight(line, " \t\r")
	trailing := line[len(body):]
	for _, r := range rules {
		if r.re.MatchString(body) {
			return r.re.ReplaceAllString(body, "${1}"+Redacted) + trailing
		}
	}
	return line
}
