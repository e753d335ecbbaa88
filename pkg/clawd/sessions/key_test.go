package sessions

import "testing"

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want Key
	}{
		{"channel and chat", "whatsapp:5511999", Key{Channel: "whatsapp", ChatID: "5511999"}},
		{"with branch", "discord:guild/chan:topic", Key{Channel: "discord", ChatID: "guild/chan", Branch: "topic"}},
		{"bare id", "loose-id", Key{ChatID: "loose-id"}},
		{"subagent form", "subagent:ab12cd34", Key{Channel: "subagent", ChatID: "ab12cd34"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if tt.want.Channel != "" && got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestHashStableAndShort(t *testing.T) {
	t.Parallel()
	k := Key{Channel: "telegram", ChatID: "42"}
	h1, h2 := k.Hash(), k.Hash()
	if h1 != h2 {
		t.Error("Hash not stable")
	}
	if len(h1) != 16 {
		t.Errorf("Hash length = %d, want 16 hex chars", len(h1))
	}
	if other := (Key{Channel: "telegram", ChatID: "43"}).Hash(); other == h1 {
		t.Error("distinct keys hash equal")
	}
}

func TestIsZero(t *testing.T) {
	t.Parallel()
	if !(Key{}).IsZero() {
		t.Error("empty key should be zero")
	}
	if (Key{ChatID: "x"}).IsZero() {
		t.Error("non-empty key reported zero")
	}
}

func TestSubagentDerivation(t *testing.T) {
	t.Parallel()
	parent := Key{Channel: "whatsapp", ChatID: "5511999"}
	child := parent.Subagent("run123")
	if child.Channel != "subagent" || child.ChatID != "run123" {
		t.Errorf("Subagent = %+v", child)
	}
	if child.String() != "subagent:run123" {
		t.Errorf("child String() = %q", child.String())
	}
}
