package cipher_test

import (
	"strings"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/cipher"
	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// TestCaesarShift checks the shift on both letter cases and that other
// characters pass through.
func TestCaesarShift(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc", "def"},
		{"xyz", "abc"},
		{"Hello, World!", "Khoor, Zruog!"},
		{"123 #?", "123 #?"},
		{"héllo", "kéoor"},
	}

	for _, tt := range tests {
		if got := cipher.Default.Encrypt(tt.in); got != tt.want {
			t.Errorf("Encrypt(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if got := cipher.Default.Decrypt(tt.want); got != tt.in {
			t.Errorf("Decrypt(%q) = %q, want %q", tt.want, got, tt.in)
		}
	}
}

// TestSealOpenRoundTrip verifies that the transform plus marker is removed
// completely before display.
func TestSealOpenRoundTrip(t *testing.T) {
	for _, text := range []string{"", "hello there", "#already marked", "MiXeD 42!"} {
		sealed := cipher.Seal(cipher.Default, text)
		if !strings.HasPrefix(sealed, string(cipher.Marker)) {
			t.Errorf("Seal(%q) = %q, missing marker", text, sealed)
		}
		if got := cipher.Open(cipher.Default, sealed); got != text {
			t.Errorf("Open(Seal(%q)) = %q", text, got)
		}
	}
}

// TestSealFitsContentSlot verifies the marker never pushes content past the frame slot.
func TestSealFitsContentSlot(t *testing.T) {
	sealed := cipher.Seal(cipher.Default, strings.Repeat("a", protocol.ContentWidth))
	if len(sealed) != protocol.ContentWidth-1 {
		t.Errorf("sealed length = %d, want %d", len(sealed), protocol.ContentWidth-1)
	}
}

// TestSealOpenKeepsNonUTF8Bytes verifies bytes outside ASCII letters pass
// through untouched, including single-byte code page text that is not UTF-8.
func TestSealOpenKeepsNonUTF8Bytes(t *testing.T) {
	for _, text := range []string{"caf\xe9 na\xefve", "\x80\xffx", "Gr\xfc\xdfe", "naïve café"} {
		if got := cipher.Open(cipher.Default, cipher.Seal(cipher.Default, text)); got != text {
			t.Errorf("Open(Seal(%q)) = %q", text, got)
		}
	}
	if got := cipher.Default.Encrypt("\xe9a"); got != "\xe9d" {
		t.Errorf("Encrypt = %q, want %q", got, "\xe9d")
	}
}

// TestFitKeepsLastByte verifies fitted content survives Seal and Open whole,
// even when it fills the slot.
func TestFitKeepsLastByte(t *testing.T) {
	long := strings.Repeat("a", protocol.ContentWidth-2) + "Z"

	fitted := cipher.Fit(long)
	if len(fitted) != cipher.MaxPlain {
		t.Fatalf("len(Fit()) = %d, want %d", len(fitted), cipher.MaxPlain)
	}
	if got := cipher.Open(cipher.Default, cipher.Seal(cipher.Default, fitted)); got != fitted {
		t.Errorf("round trip lost bytes: got %d bytes ending %q", len(got), got[len(got)-3:])
	}

	exact := strings.Repeat("b", cipher.MaxPlain-1) + "Z"
	if got := cipher.Open(cipher.Default, cipher.Seal(cipher.Default, exact)); got != exact {
		t.Errorf("content of exactly MaxPlain bytes was cut to %d", len(got))
	}
}

// TestCaesarLargeShift verifies shifts outside 0..25 wrap around.
func TestCaesarLargeShift(t *testing.T) {
	c := cipher.Caesar{Shift: 29}
	if got := c.Encrypt("abc"); got != "def" {
		t.Errorf("Encrypt = %q", got)
	}
	if got := c.Decrypt("def"); got != "abc" {
		t.Errorf("Decrypt = %q", got)
	}
}

// TestReveal verifies server text is shown verbatim and user payloads are opened.
func TestReveal(t *testing.T) {
	server := protocol.NewServerMessage(protocol.TypeChat, "bob has joined the chat")
	if got := cipher.Reveal(cipher.Default, server); got != "bob has joined the chat" {
		t.Errorf("Reveal(server) = %q", got)
	}

	user := protocol.Message{Type: protocol.TypePrivate, Sender: "alice", Content: cipher.Seal(cipher.Default, "psst")}
	if got := cipher.Reveal(cipher.Default, user); got != "psst" {
		t.Errorf("Reveal(user) = %q", got)
	}
}
