package session

import (
	"regexp"
	"testing"
)

func TestGenerateRoomCode_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{4}$`)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateRoomCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("code %q does not match [A-Z0-9]{4}", code)
		}
		seen[code] = true
	}
	// 200 draws from a 36^4 space colliding into one value would be absurd
	if len(seen) < 2 {
		t.Fatalf("expected varied codes, got %d distinct", len(seen))
	}
}
