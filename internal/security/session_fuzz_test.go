package security

import (
	"strings"
	"testing"
)

// FuzzValidateSessionID checks that validation never panics and that
// accepted ids always have the exact wire shape.
func FuzzValidateSessionID(f *testing.F) {
	seeds := []string{
		"sess_0a1b2c3d",
		"sess_00000000",
		"sess_ffffffff",
		"sess_0A1B2C3D",
		"sess_0a1b2c3",
		"sess_0a1b2c3d4",
		"sess_",
		"sess",
		"",
		"0a1b2c3d",
		"sess_zzzzzzzz",
		"../etc/passwd",
		"sess_0a1b\x002c",
		"sess_日本語abc",
		"' OR '1'='1",
		"<script>alert(1)</script>",
		strings.Repeat("sess_", 20),
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, id string) {
		msg := ValidateSessionID(id)
		valid := IsValidSessionID(id)

		if id == "" && msg == "" {
			t.Error("empty id was accepted")
		}
		if (msg == "") != valid {
			t.Errorf("ValidateSessionID and IsValidSessionID disagree on %q", id)
		}
		if !valid {
			return
		}

		if len(id) != len(SessionIDPrefix)+8 {
			t.Errorf("accepted id %q has wrong length %d", id, len(id))
		}
		if !strings.HasPrefix(id, SessionIDPrefix) {
			t.Errorf("accepted id %q lacks the %q prefix", id, SessionIDPrefix)
		}
		for _, r := range id[len(SessionIDPrefix):] {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				t.Errorf("accepted id %q contains non-hex rune %q", id, r)
			}
		}
	})
}
