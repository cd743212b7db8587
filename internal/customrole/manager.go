package customrole

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/utils/json/option"
	"github.com/jonboulle/clockwork"

	"libdb.so/boost-roles/internal/ephemeral"
)

// TestRoleKey returns the scheduler key of the cleanup task for the test role
// of userID.
func TestRoleKey(userID discord.UserID) string {
	return "user:" + userID.String() + ":testrole"
}

type testRole struct {
	guildID discord.GuildID
	roleID  discord.RoleID
	gen     uint64
}

// Manager creates, edits and deletes custom roles and test roles.
type Manager struct {
	client RoleClient
	store  Store
	sched  *ephemeral.Scheduler
	audit  ephemeral.Logger
	clock  clockwork.Clock

	mu    sync.Mutex
	tests map[discord.UserID]testRole
	gen   uint64
}

// NewManager creates a new Manager. Test role cleanups are scheduled on sched
// and every change is reported to audit. If c is nil, the real clock is used.
func NewManager(client RoleClient, store Store, sched *ephemeral.Scheduler, audit ephemeral.Logger, c clockwork.Clock) *Manager {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Manager{
		client: client,
		store:  store,
		sched:  sched,
		audit:  audit,
		clock:  c,
		tests:  make(map[discord.UserID]testRole),
	}
}

// Lookup returns the custom role of userID. The boolean is false if the member
// has none.
func (m *Manager) Lookup(userID discord.UserID) (Record, bool, error) {
	rec, ok, err := m.store.Load(userID)
	if err != nil {
		return Record{}, false, fmt.Errorf("cannot load custom role: %w", err)
	}
	if !ok {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Claim gives userID a custom role with the given name and color. If the
// member already has one in guildID, it is edited instead. The returned
// boolean is true if a new role was created.
func (m *Manager) Claim(guildID discord.GuildID, userID discord.UserID, name string, color discord.Color) (Record, bool, error) {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return Record{}, false, err
	}

	rec, ok, err := m.Lookup(userID)
	if err != nil {
		return Record{}, false, err
	}

	if ok && rec.GuildID == guildID {
		_, err := m.client.ModifyRole(guildID, rec.RoleID, editRoleData(name, color, "custom role edited by "+userID.String()))
		switch {
		case err == nil:
			rec.Name = name
			rec.Color = color
			rec.UpdatedAt = m.clock.Now()

			if err := m.store.Store(userID, rec); err != nil {
				return Record{}, false, fmt.Errorf("cannot save custom role: %w", err)
			}

			m.log("custom_role_updated", userID, rec)
			return rec, false, nil

		case !isUnknownRole(err):
			return Record{}, false, fmt.Errorf("cannot edit role: %w", err)
		}

		// The role was deleted by hand, so the member gets a new one.
		m.log("custom_role_missing", userID, rec)
	}

	role, err := m.createAndAssign(guildID, userID, name, color, "custom role claimed by "+userID.String())
	if err != nil {
		return Record{}, false, err
	}

	rec = Record{
		GuildID:   guildID,
		RoleID:    role.ID,
		Name:      name,
		Color:     color,
		UpdatedAt: m.clock.Now(),
	}

	if err := m.store.Store(userID, rec); err != nil {
		return Record{}, false, fmt.Errorf("cannot save custom role: %w", err)
	}

	m.log("custom_role_created", userID, rec)
	return rec, true, nil
}

// Revoke deletes the custom role of userID.
func (m *Manager) Revoke(userID discord.UserID, reason string) error {
	rec, ok, err := m.Lookup(userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoCustomRole
	}

	// A role that is already gone only needs to be forgotten.
	err = m.client.DeleteRole(rec.GuildID, rec.RoleID, api.AuditLogReason(reason))
	if err != nil && !isUnknownRole(err) {
		return fmt.Errorf("cannot delete role: %w", err)
	}

	if err := m.store.Delete(userID); err != nil {
		return fmt.Errorf("cannot forget custom role: %w", err)
	}

	m.audit.Log("custom_role_revoked", map[string]any{
		"user_id": userID,
		"role_id": rec.RoleID,
		"name":    rec.Name,
		"reason":  reason,
	})
	return nil
}

// GrantTest gives userID a preview role that is deleted after d. Granting
// again before then edits the same role and restarts the countdown.
func (m *Manager) GrantTest(guildID discord.GuildID, userID discord.UserID, name string, color discord.Color, d time.Duration) (*ephemeral.Handle, error) {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	test, ok := m.tests[userID]
	if ok && test.guildID == guildID {
		_, err := m.client.ModifyRole(guildID, test.roleID, editRoleData(name, color, "test role edited by "+userID.String()))
		if err != nil {
			if !isUnknownRole(err) {
				return nil, fmt.Errorf("cannot edit test role: %w", err)
			}
			ok = false
		}
	}
	if !ok || test.guildID != guildID {
		role, err := m.createAndAssign(guildID, userID, name, color, "test role requested by "+userID.String())
		if err != nil {
			return nil, err
		}
		test = testRole{guildID: guildID, roleID: role.ID}
	}

	m.gen++
	test.gen = m.gen

	h, err := m.sched.Schedule(TestRoleKey(userID), d, m.expireTest(userID, test))
	if err != nil {
		// Without a cleanup task the role would linger forever.
		if err := m.client.DeleteRole(guildID, test.roleID, "test role could not be scheduled for removal"); err != nil {
			m.audit.Log("role_action_failed", map[string]any{
				"user_id": userID,
				"role_id": test.roleID,
				"err":     err.Error(),
			})
		}
		delete(m.tests, userID)
		return nil, fmt.Errorf("cannot schedule test role removal: %w", err)
	}

	m.tests[userID] = test

	m.audit.Log("test_role_granted", map[string]any{
		"user_id":    userID,
		"role_id":    test.roleID,
		"name":       name,
		"color":      FormatColor(color),
		"expires_at": h.DueAt(),
		"task_id":    h.ID(),
	})
	return h, nil
}

// CancelTest deletes the test role of userID right away.
func (m *Manager) CancelTest(userID discord.UserID) error {
	m.mu.Lock()
	test, ok := m.tests[userID]
	if ok {
		m.sched.Cancel(TestRoleKey(userID))
		delete(m.tests, userID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNoTestRole
	}

	if err := m.client.DeleteRole(test.guildID, test.roleID, "test role removed early"); err != nil {
		return fmt.Errorf("cannot delete test role: %w", err)
	}

	m.audit.Log("test_role_cancelled", map[string]any{
		"user_id": userID,
		"role_id": test.roleID,
	})
	return nil
}

// HasTest returns true if userID currently has a test role.
func (m *Manager) HasTest(userID discord.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tests[userID]
	return ok
}

func (m *Manager) expireTest(userID discord.UserID, test testRole) ephemeral.Action {
	return func(ctx context.Context) error {
		m.mu.Lock()
		current, ok := m.tests[userID]
		if !ok || current.gen != test.gen {
			// Superseded by a newer grant that now owns the role.
			m.mu.Unlock()
			return nil
		}
		delete(m.tests, userID)
		m.mu.Unlock()

		if err := m.client.DeleteRole(test.guildID, test.roleID, "test role expired"); err != nil {
			return fmt.Errorf("cannot delete expired test role %v: %w", test.roleID, err)
		}

		m.audit.Log("test_role_expired", map[string]any{
			"user_id": userID,
			"role_id": test.roleID,
		})
		return nil
	}
}

func (m *Manager) createAndAssign(guildID discord.GuildID, userID discord.UserID, name string, color discord.Color, reason string) (*discord.Role, error) {
	role, err := m.client.CreateRole(guildID, api.CreateRoleData{
		Name:        name,
		Color:       color,
		AddRoleData: api.AddRoleData{AuditLogReason: api.AuditLogReason(reason)},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create role: %w", err)
	}

	if err := m.client.AddRole(guildID, userID, role.ID, api.AddRoleData{
		AuditLogReason: api.AuditLogReason(reason),
	}); err != nil {
		if err := m.client.DeleteRole(guildID, role.ID, "role could not be assigned"); err != nil {
			m.audit.Log("role_action_failed", map[string]any{
				"user_id": userID,
				"role_id": role.ID,
				"err":     err.Error(),
			})
		}
		return nil, fmt.Errorf("cannot assign role: %w", err)
	}

	return role, nil
}

func editRoleData(name string, color discord.Color, reason string) api.ModifyRoleData {
	return api.ModifyRoleData{
		Name:        option.NewNullableString(name),
		Color:       color,
		AddRoleData: api.AddRoleData{AuditLogReason: api.AuditLogReason(reason)},
	}
}

func (m *Manager) log(eventType string, userID discord.UserID, rec Record) {
	m.audit.Log(eventType, map[string]any{
		"user_id": userID,
		"role_id": rec.RoleID,
		"name":    rec.Name,
		"color":   FormatColor(rec.Color),
	})
}
