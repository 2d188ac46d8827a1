// Package groups implements the group directory: named membership sets that
// only ever grow, readable by their members.
package groups

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Accounts reports whether an account identity exists.
type Accounts interface {
	Exists(id string) bool
}

// Directory stores groups by ID. Every read returns a copy taken under the
// lock, so readers see a membership set either before or after a mutation.
type Directory struct {
	mu       sync.RWMutex
	groups   map[string]*chat.Group
	accounts Accounts
	log      *slog.Logger
	now      func() time.Time
}

// NewDirectory returns an empty directory. When accounts is non-nil, member
// identities are checked against it before any mutation.
func NewDirectory(accounts Accounts, log *slog.Logger) *Directory {
	return &Directory{
		groups:   make(map[string]*chat.Group),
		accounts: accounts,
		log:      log,
		now:      time.Now,
	}
}

// Create makes a new group. Members are deduplicated and the creator is always
// included.
func (d *Directory) Create(creatorID, name, description string, memberIDs []string) (chat.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return chat.Group{}, fmt.Errorf("%w: group name is required", chat.ErrValidation)
	}
	if creatorID == "" {
		return chat.Group{}, fmt.Errorf("%w: creator is required", chat.ErrValidation)
	}

	members := lo.Uniq(lo.Compact(append([]string{creatorID}, memberIDs...)))
	if err := d.checkAccounts(members); err != nil {
		return chat.Group{}, err
	}

	group := &chat.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Members:     members,
		CreatedAt:   d.now().UTC(),
		CreatedBy:   creatorID,
	}

	d.mu.Lock()
	d.groups[group.ID] = group
	d.mu.Unlock()

	d.log.Info("group created", "group_id", group.ID, "created_by", creatorID, "members", len(members))
	return group.Clone(), nil
}

// AddMembers adds identities to a group the acting identity belongs to.
// Identities already present are skipped.
func (d *Directory) AddMembers(groupID, actingID string, newMembers []string) (chat.Group, error) {
	candidates := lo.Uniq(lo.Compact(newMembers))
	if err := d.checkAccounts(candidates); err != nil {
		return chat.Group{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	group, err := d.lookup(groupID, actingID)
	if err != nil {
		return chat.Group{}, err
	}

	added := lo.Without(candidates, group.Members...)
	if len(added) > 0 {
		// Copy on write: snapshots handed out earlier keep their own slice.
		group.Members = append(slices.Clone(group.Members), added...)
		d.log.Info("group members added", "group_id", groupID, "added", len(added), "by", actingID)
	}
	return group.Clone(), nil
}

// Get returns a group the acting identity is a member of.
func (d *Directory) Get(groupID, actingID string) (chat.Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	group, err := d.lookup(groupID, actingID)
	if err != nil {
		return chat.Group{}, err
	}
	return group.Clone(), nil
}

// Members returns a snapshot of the membership set without an authorization
// check. It is meant for audience resolution.
func (d *Directory) Members(groupID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	group, ok := d.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %s", chat.ErrNotFound, groupID)
	}
	return slices.Clone(group.Members), nil
}

// ListFor returns every group containing identity, oldest first.
func (d *Directory) ListFor(identity string) []chat.Group {
	d.mu.RLock()
	result := make([]chat.Group, 0)
	for _, group := range d.groups {
		if group.HasMember(identity) {
			result = append(result, group.Clone())
		}
	}
	d.mu.RUnlock()

	slices.SortFunc(result, func(a, b chat.Group) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

// Count returns the number of groups.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.groups)
}

// lookup must be called with d.mu held.
func (d *Directory) lookup(groupID, actingID string) (*chat.Group, error) {
	group, ok := d.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %s", chat.ErrNotFound, groupID)
	}
	if !group.HasMember(actingID) {
		return nil, fmt.Errorf("%w: not a member of group %s", chat.ErrForbidden, groupID)
	}
	return group, nil
}

func (d *Directory) checkAccounts(ids []string) error {
	if d.accounts == nil {
		return nil
	}
	for _, id := range ids {
		if !d.accounts.Exists(id) {
			return fmt.Errorf("%w: user %s", chat.ErrNotFound, id)
		}
	}
	return nil
}
