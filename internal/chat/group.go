package chat

import (
	"slices"
	"time"
)

// Group is a named membership set. The creator is always a member.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

// HasMember reports whether identity belongs to the group.
func (g Group) HasMember(identity string) bool {
	return slices.Contains(g.Members, identity)
}

// Clone returns a copy whose member slice does not alias g's.
func (g Group) Clone() Group {
	g.Members = slices.Clone(g.Members)
	return g
}
