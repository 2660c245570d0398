package perms

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/harun/openbot/pkg/configtree"
	"github.com/rs/zerolog"
)

// ErrUnknownGroup is returned when a mutation names a group that does not exist.
var ErrUnknownGroup = errors.New("unknown permission group")

// OwnerResolver reports whether a user is the platform owner. Groups with the
// owner flag implicitly contain such users.
type OwnerResolver interface {
	IsOwner(userID string) bool
}

// OwnerFunc adapts a func to OwnerResolver.
type OwnerFunc func(userID string) bool

// IsOwner calls f.
func (f OwnerFunc) IsOwner(userID string) bool { return f(userID) }

// Resolver answers permission queries against the groups of the
// configuration store. Reads use a published snapshot; mutations go through
// the store's single writer and republish.
type Resolver struct {
	logger zerolog.Logger
	store  *configtree.Store
	owners OwnerResolver
	groups atomic.Pointer[[]Group]
}

// NewResolver creates a resolver and reads the current groups.
func NewResolver(logger zerolog.Logger, store *configtree.Store, owners OwnerResolver) *Resolver {
	r := &Resolver{
		logger: logger.With().Str("component", "perms").Logger(),
		store:  store,
		owners: owners,
	}
	if err := r.Refresh(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to read permission groups, denying everything")
	}
	return r
}

// Refresh re-reads the groups from the store. On a decode error the resolver
// holds no groups and so denies every key.
func (r *Resolver) Refresh() error {
	groups, err := DecodeGroups(r.store.Snapshot().Sub(TreeKey))
	if err != nil {
		groups = nil
	}
	r.groups.Store(&groups)
	return err
}

// Groups returns the current groups ordered by name.
func (r *Resolver) Groups() []Group {
	if g := r.groups.Load(); g != nil {
		return slices.Clone(*g)
	}
	return nil
}

// Group returns the named group.
func (r *Resolver) Group(name string) (Group, bool) {
	for _, g := range r.Groups() {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// MemberOf returns the names of the groups userID belongs to.
func (r *Resolver) MemberOf(userID string) []string {
	var names []string
	owner := r.isOwner(userID)
	for _, g := range r.Groups() {
		if g.HasMember(userID) || (g.Owner && owner) {
			names = append(names, g.Name)
		}
	}
	return names
}

// HasPermission reports whether any group of userID allows key. A user in
// no group is denied.
func (r *Resolver) HasPermission(userID, key string) bool {
	owner := r.isOwner(userID)
	for _, g := range r.Groups() {
		if !g.HasMember(userID) && !(g.Owner && owner) {
			continue
		}
		if g.Decide(key) == Allow {
			return true
		}
	}
	return false
}

// Grant whitelists key in group and lifts any blacklist entry for it.
func (r *Resolver) Grant(group, key string) error {
	return r.mutate(group, func(g *Group) {
		g.Whitelist = addUnique(g.Whitelist, key)
		g.Blacklist = remove(g.Blacklist, key)
	})
}

// Revoke blacklists key in group, which also overrides full_access.
func (r *Resolver) Revoke(group, key string) error {
	return r.mutate(group, func(g *Group) {
		g.Whitelist = remove(g.Whitelist, key)
		g.Blacklist = addUnique(g.Blacklist, key)
	})
}

// AddMember puts userID into group.
func (r *Resolver) AddMember(group, userID string) error {
	return r.mutate(group, func(g *Group) {
		g.Members = addUnique(g.Members, userID)
	})
}

// RemoveMember takes userID out of group.
func (r *Resolver) RemoveMember(group, userID string) error {
	return r.mutate(group, func(g *Group) {
		g.Members = remove(g.Members, userID)
	})
}

func (r *Resolver) mutate(name string, fn func(*Group)) error {
	err := r.store.Update(func(t configtree.Tree) error {
		raw, ok := t.Get(TreeKey + "." + name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, name)
		}
		decoded, err := DecodeGroups(configtree.Tree{name: raw})
		if err != nil {
			return err
		}
		g := decoded[0]
		fn(&g)
		t.Set(TreeKey+"."+name, g.encode())
		return nil
	})
	if errors.Is(err, ErrUnknownGroup) {
		return err
	}

	if refreshErr := r.Refresh(); refreshErr != nil {
		return errors.Join(err, refreshErr)
	}
	if err == nil {
		r.logger.Info().Str("group", name).Msg("Permission group updated")
	}
	return err
}

func (r *Resolver) isOwner(userID string) bool {
	return r.owners != nil && r.owners.IsOwner(userID)
}

func addUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	return slices.DeleteFunc(slices.Clone(list), func(s string) bool { return s == v })
}
