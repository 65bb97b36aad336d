package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/orientation-ops/lessonsync/internal/cache"
)

// Directory resolves instructor display names to remote user ids.
type Directory interface {
	Resolve(ctx context.Context, displayName string) (string, error)
}

func directoryKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// StaticDirectory is a fixed name to user id table, matched
// case-insensitively.
type StaticDirectory map[string]string

// NewStaticDirectory normalizes the keys of m.
func NewStaticDirectory(m map[string]string) StaticDirectory {
	d := make(StaticDirectory, len(m))
	for name, id := range m {
		d[directoryKey(name)] = id
	}
	return d
}

func (d StaticDirectory) Resolve(_ context.Context, displayName string) (string, error) {
	if id, ok := d[directoryKey(displayName)]; ok && id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%q: %w", displayName, ErrUnknownUser)
}

// MemberDirectory resolves names against the remote team's members by
// username or email. The member table is cached.
type MemberDirectory struct {
	client Client
	teamID string
	cache  *cache.Cache[map[string]string]
}

// NewMemberDirectory creates a directory over teamID's members.
func NewMemberDirectory(client Client, teamID string, c *cache.Cache[map[string]string]) *MemberDirectory {
	if c == nil {
		c = cache.New[map[string]string](cache.Options{MaxEntries: 4})
	}
	return &MemberDirectory{client: client, teamID: teamID, cache: c}
}

func (d *MemberDirectory) Resolve(ctx context.Context, displayName string) (string, error) {
	members, ok := d.cache.Get(d.teamID)
	if !ok {
		list, err := d.client.ListMembers(ctx, d.teamID)
		if err != nil {
			if stale, _, ok := d.cache.GetStale(d.teamID); ok {
				members = stale
			} else {
				return "", fmt.Errorf("failed to list team members: %w", err)
			}
		} else {
			members = make(map[string]string, 2*len(list))
			for _, m := range list {
				if m.Username != "" {
					members[directoryKey(m.Username)] = m.ID
				}
				if m.Email != "" {
					members[directoryKey(m.Email)] = m.ID
				}
			}
			d.cache.Put(d.teamID, members)
		}
	}

	if id, ok := members[directoryKey(displayName)]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%q: %w", displayName, ErrUnknownUser)
}

// ChainDirectory tries each directory in order. Only ErrUnknownUser moves on
// to the next one; any other error is returned.
type ChainDirectory []Directory

func (c ChainDirectory) Resolve(ctx context.Context, displayName string) (string, error) {
	for _, d := range c {
		id, err := d.Resolve(ctx, displayName)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUnknownUser) {
			return "", err
		}
	}
	return "", fmt.Errorf("%q: %w", displayName, ErrUnknownUser)
}
