// Package identity joins Asana users to Clubhouse members by email and
// exposes the lookups needed to resolve owners, followers and inline
// mentions. The map is built once before the worker pool starts and is
// read-only afterwards, so it is shared across workers without locking.
package identity

import (
	"strconv"
	"strings"

	"example.com/asana-importer/internal/migrator/model"
)

// MentionPrefixLen is the number of leading decimal characters of an Asana
// user id used as the mention lookup key. The task-list id embedded in
// mention URLs differs from the user id in its low digits (by one to two
// million), so only this prefix is comparable. The prefix is not unique:
// collisions between users are possible and deliberately left unresolved.
const MentionPrefixLen = 8

// MentionEntry is the result of a mention-prefix lookup. Member is nil when
// the Asana user has no Clubhouse counterpart.
type MentionEntry struct {
	User   *model.User
	Member *model.Member
}

// Map holds both identity lookups.
type Map struct {
	ignoreEmailDomain bool
	byUserID          map[int64]*model.Member
	byMention         map[string]MentionEntry
}

// Build joins users to members on normalized email. When ignoreEmailDomain
// is set, only the local part of each address is compared.
func Build(users []model.User, members []model.Member, ignoreEmailDomain bool) *Map {
	m := &Map{
		ignoreEmailDomain: ignoreEmailDomain,
		byUserID:          make(map[int64]*model.Member, len(users)),
		byMention:         make(map[string]MentionEntry, len(users)),
	}

	byEmail := make(map[string]*model.Member, len(members))
	for i := range members {
		byEmail[m.normalizeEmail(members[i].Profile.EmailAddress)] = &members[i]
	}

	for i := range users {
		u := &users[i]
		member := byEmail[m.normalizeEmail(u.Email)]
		if member != nil {
			m.byUserID[u.ID] = member
		}
		m.byMention[MentionPrefix(u.ID)] = MentionEntry{User: u, Member: member}
	}
	return m
}

// MemberFor resolves an Asana user to its Clubhouse member. A miss is
// non-fatal; the caller logs a warning and omits the dependent field.
func (m *Map) MemberFor(u *model.User) (*model.Member, bool) {
	if u == nil {
		return nil, false
	}
	member, ok := m.byUserID[u.ID]
	return member, ok
}

// Mention looks up a mention-prefix extracted from an inline task-list URL.
func (m *Map) Mention(prefix string) (MentionEntry, bool) {
	e, ok := m.byMention[prefix]
	return e, ok
}

// MentionPrefix returns the mention lookup key for an Asana user id.
func MentionPrefix(id int64) string {
	s := strconv.FormatInt(id, 10)
	if len(s) > MentionPrefixLen {
		s = s[:MentionPrefixLen]
	}
	return s
}

func (m *Map) normalizeEmail(email string) string {
	if m.ignoreEmailDomain {
		if i := strings.IndexByte(email, '@'); i >= 0 {
			email = email[:i]
		}
	}
	return strings.TrimSpace(email)
}
