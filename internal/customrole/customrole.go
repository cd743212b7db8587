// Package customrole manages the custom roles that server boosters can claim,
// as well as short-lived preview roles that delete themselves.
package customrole

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/utils/httputil"
)

// errUnknownRole is the Discord error code for a role that does not exist.
const errUnknownRole httputil.ErrorCode = 10011

// MaxNameLength is the longest role name Discord accepts.
const MaxNameLength = 100

var (
	ErrInvalidName  = errors.New("role name must be between 1 and 100 characters")
	ErrInvalidColor = errors.New("role color must be a hex color like #ff8800")
	ErrNoCustomRole = errors.New("member has no custom role")
	ErrNoTestRole   = errors.New("member has no test role")
)

// Record is the persisted custom role of a member.
type Record struct {
	GuildID   discord.GuildID
	RoleID    discord.RoleID
	Name      string
	Color     discord.Color
	UpdatedAt time.Time
}

// Store persists a Record per member. *persist.Map satisfies it.
type Store interface {
	Load(userID discord.UserID) (Record, bool, error)
	Store(userID discord.UserID, record Record) error
	Delete(userID discord.UserID) error
}

// RoleClient is the subset of the Discord API used to manage roles.
// *api.Client satisfies it.
type RoleClient interface {
	CreateRole(guildID discord.GuildID, data api.CreateRoleData) (*discord.Role, error)
	ModifyRole(guildID discord.GuildID, roleID discord.RoleID, data api.ModifyRoleData) (*discord.Role, error)
	DeleteRole(guildID discord.GuildID, roleID discord.RoleID, reason api.AuditLogReason) error
	AddRole(guildID discord.GuildID, userID discord.UserID, roleID discord.RoleID, data api.AddRoleData) error
}

// isUnknownRole returns true if err says that the role no longer exists, which
// happens when it was deleted by hand.
func isUnknownRole(err error) bool {
	var httpErr *httputil.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.Code == errUnknownRole || httpErr.Status == 404
}

// ValidateName checks that name can be used as a role name.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n == 0 || n > MaxNameLength {
		return ErrInvalidName
	}
	return nil
}

// ParseColor parses a color written as "#rrggbb" or "rrggbb". An empty string
// is the default (zero) color.
func ParseColor(s string) (discord.Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return 0, nil
	}
	if len(s) != 6 {
		return 0, ErrInvalidColor
	}

	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidColor, err)
	}

	return discord.Color(v), nil
}

// FormatColor formats c as "#rrggbb".
func FormatColor(c discord.Color) string {
	return fmt.Sprintf("#%06x", uint32(c))
}
