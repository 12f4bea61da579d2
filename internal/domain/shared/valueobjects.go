// Package shared contains common domain types, errors, and events used across
// all domain packages.
package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Discord snowflake IDs are decimal strings, 15-20 digits to cover the
// oldest accounts.
var snowflakeRegex = regexp.MustCompile(`^[0-9]{15,20}$`)

// UserID represents a unique Discord user identifier.
type UserID string

// IsValid checks if the user ID looks like a snowflake.
func (u UserID) IsValid() bool {
	return snowflakeRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "invalid user ID")
	}
	return uid, nil
}

// CommunityID represents an isolated tenant (a Discord guild) within which
// all user aggregates are scoped.
type CommunityID string

// IsValid checks if the community ID looks like a snowflake.
func (c CommunityID) IsValid() bool {
	return snowflakeRegex.MatchString(string(c))
}

// String returns the string representation.
func (c CommunityID) String() string {
	return string(c)
}

// NewCommunityID creates a new CommunityID with validation.
func NewCommunityID(id string) (CommunityID, error) {
	cid := CommunityID(strings.TrimSpace(id))
	if !cid.IsValid() {
		return "", NewDomainError("shared", "NewCommunityID", ErrInvalidID, "invalid community ID")
	}
	return cid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Player Key
// ═══════════════════════════════════════════════════════════════════════════

// PlayerKey identifies a (user, community) pair. All session and aggregate
// state is keyed by it, and all tracker transitions are serialized per key.
type PlayerKey struct {
	UserID      UserID
	CommunityID CommunityID
}

// NewPlayerKey builds a PlayerKey from raw IDs with validation.
func NewPlayerKey(userID, communityID string) (PlayerKey, error) {
	uid, err := NewUserID(userID)
	if err != nil {
		return PlayerKey{}, err
	}
	cid, err := NewCommunityID(communityID)
	if err != nil {
		return PlayerKey{}, err
	}
	return PlayerKey{UserID: uid, CommunityID: cid}, nil
}

// IsValid checks both components.
func (k PlayerKey) IsValid() bool {
	return k.UserID.IsValid() && k.CommunityID.IsValid()
}

// String returns "community:user", usable as a lock or cache key.
func (k PlayerKey) String() string {
	return string(k.CommunityID) + ":" + string(k.UserID)
}

// ═══════════════════════════════════════════════════════════════════════════
// Activity
// ═══════════════════════════════════════════════════════════════════════════

// Activity is one entry of an activity observation snapshot. The transport
// layer reports polymorphic activity shapes (playing, streaming, listening);
// they are flattened into a label plus a game-type tag.
type Activity struct {
	Label  string
	IsGame bool
}

// CurrentGame selects the game label from a reported activity set. Only
// activities explicitly tagged as game-type count; untyped activity labels
// never start a session. Returns "" when no game is reported.
func CurrentGame(activities []Activity) string {
	for _, a := range activities {
		if a.IsGame && a.Label != "" {
			return a.Label
		}
	}
	return ""
}
