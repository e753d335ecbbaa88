// Package sessions defines the session key format shared by the gateway,
// the lane scheduler, and the subagent registry. A session key binds a
// conversation ("whatsapp:5511999" or "discord:guild/chan:topic") to its
// dedicated lane and run records.
package sessions

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key is a structured session identifier that preserves the original
// channel/chat/branch parts of the "channel:chatID[:branch]" string form.
type Key struct {
	// Channel is the source channel name (e.g. "whatsapp", "webchat").
	Channel string

	// ChatID is the chat/group/user identifier within the channel.
	ChatID string

	// Branch is an optional sub-conversation (thread, topic, subagent run).
	Branch string
}

// String renders the key back to its canonical "channel:chatID[:branch]" form.
func (k Key) String() string {
	if k.Branch != "" {
		return k.Channel + ":" + k.ChatID + ":" + k.Branch
	}
	return k.Channel + ":" + k.ChatID
}

// Hash returns a short stable hash of the key, safe for use in file names
// and storage identifiers.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:8])
}

// IsZero reports whether the key has no content at all.
func (k Key) IsZero() bool {
	return k.Channel == "" && k.ChatID == "" && k.Branch == ""
}

// Parse parses a "channel:chatID" or "channel:chatID:branch" string.
// A bare string without separators is treated as a chat ID only, so callers
// can accept loose identifiers from config files and CLI flags.
func Parse(s string) Key {
	parts := strings.SplitN(s, ":", 3)
	switch len(parts) {
	case 3:
		return Key{Channel: parts[0], ChatID: parts[1], Branch: parts[2]}
	case 2:
		return Key{Channel: parts[0], ChatID: parts[1]}
	default:
		return Key{ChatID: s}
	}
}

// Subagent derives the child session key for a spawned run of this session.
func (k Key) Subagent(runID string) Key {
	return Key{Channel: "subagent", ChatID: runID}
}
