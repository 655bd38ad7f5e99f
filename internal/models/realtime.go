package models

// Chat modes are the pairing partition: two clients only ever rendezvous
// within the same mode.
const (
	ModeConfession = "confession"
	ModeSpicy      = "spicy"
	ModeFree       = "free"
)

// Roles are the stable labels assigned by pairing order. The client that was
// already waiting becomes user1; the client that created the session becomes
// user2. The labels exist only to disambiguate self-echoes on the message
// stream.
const (
	RoleUser1 = "user1"
	RoleUser2 = "user2"
)

// UI-facing sender tags. Store rows always carry user1/user2; the session
// channel remaps them for display.
const (
	SenderYou      = "you"
	SenderStranger = "stranger"
	SenderSystem   = "system"
)

// ValidMode reports whether m is one of the wire mode strings.
func ValidMode(m string) bool {
	switch m {
	case ModeConfession, ModeSpicy, ModeFree:
		return true
	}
	return false
}
