// Package perms resolves caller permissions from the user_perms groups of the
// configuration tree.
package perms

import (
	"fmt"
	"slices"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/harun/openbot/pkg/configtree"
)

// TreeKey is the configuration subtree holding the groups.
const TreeKey = "user_perms"

// Group is a named bundle of allow/deny rules and members.
type Group struct {
	Name       string   `mapstructure:"-"`
	FullAccess bool     `mapstructure:"full_access"`
	Owner      bool     `mapstructure:"owner"`
	Whitelist  []string `mapstructure:"whitelist"`
	Blacklist  []string `mapstructure:"blacklist"`
	Members    []string `mapstructure:"members"`
}

// Decision is a group's verdict on one permission key.
type Decision int

const (
	Undecided Decision = iota
	Allow
	Deny
)

// Decide applies the group rules to key: owner groups and whitelisted keys
// not also blacklisted are allowed, blacklisted keys are denied, and
// full_access allows whatever is left undecided.
func (g Group) Decide(key string) Decision {
	if g.Owner {
		return Allow
	}
	listed, barred := slices.Contains(g.Whitelist, key), slices.Contains(g.Blacklist, key)
	switch {
	case listed && !barred:
		return Allow
	case barred:
		return Deny
	case g.FullAccess:
		return Allow
	default:
		return Undecided
	}
}

// HasMember reports explicit membership.
func (g Group) HasMember(userID string) bool {
	return slices.Contains(g.Members, userID)
}

// DecodeGroups reads the groups from a user_perms subtree, ordered by name.
func DecodeGroups(sub configtree.Tree) ([]Group, error) {
	names := make([]string, 0, len(sub))
	for name := range sub {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]Group, 0, len(names))
	for _, name := range names {
		var g Group
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &g,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(sub[name]); err != nil {
			return nil, fmt.Errorf("decode group %s: %w", name, err)
		}
		g.Name = name
		groups = append(groups, g)
	}
	return groups, nil
}

// encode is the tree form of g.
func (g Group) encode() map[string]any {
	return map[string]any{
		"full_access": g.FullAccess,
		"owner":       g.Owner,
		"whitelist":   toList(g.Whitelist),
		"blacklist":   toList(g.Blacklist),
		"members":     toList(g.Members),
	}
}

func toList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// DefaultGroups is the user_perms subtree seeded into a fresh configuration:
// an owner group for the platform owner and an empty admin group.
func DefaultGroups() map[string]any {
	return map[string]any{
		"owner": Group{Owner: true}.encode(),
		"admin": Group{FullAccess: true}.encode(),
	}
}
