package main

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"

	"libdb.so/boost-roles/internal/customrole"
)

const selfID discord.UserID = 555

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		content string
		want    *parsedCommand
	}{
		{"hello", nil},
		{"<@555>", nil},
		{"<@556> role", nil},
		{"role <@555>", nil},
		{
			"<@555> ROLE #ff8800\nMy Role",
			&parsedCommand{Command: "role", Args: []string{"#ff8800"}, Body: "My Role"},
		},
		{
			"<@!555>   boosters 2",
			&parsedCommand{Command: "boosters", Args: []string{"2"}},
		},
		{
			"<@555>help",
			&parsedCommand{Command: "help", Args: []string{}},
		},
	}

	for _, test := range tests {
		got := splitCommand(selfID, test.content)
		if test.want == nil {
			if got != nil {
				t.Errorf("%q: expected no command, got %+v", test.content, got)
			}
			continue
		}
		if got == nil {
			t.Errorf("%q: expected a command", test.content)
			continue
		}
		if got.Command != test.want.Command || got.Body != test.want.Body || !slices.Equal(got.Args, test.want.Args) {
			t.Errorf("%q: expected %+v, got %+v", test.content, test.want, got)
		}
	}
}

func TestParseUserMention(t *testing.T) {
	tests := []struct {
		in string
		id discord.UserID
		ok bool
	}{
		{"<@42>", 42, true},
		{"<@!42>", 42, true},
		{"42", 42, true},
		{"<@&42>", 0, false},
		{"someone", 0, false},
		{"<@0>", 0, false},
	}

	for _, test := range tests {
		id, ok := parseUserMention(test.in)
		if id != test.id || ok != test.ok {
			t.Errorf("%q: expected (%v, %v), got (%v, %v)", test.in, test.id, test.ok, id, ok)
		}
	}
}

func TestParseRoleArgs(t *testing.T) {
	tests := []struct {
		cmd   parsedCommand
		name  string
		color discord.Color
		err   error
	}{
		{
			cmd:  parsedCommand{Command: "role", Body: "My Role"},
			name: "My Role",
		},
		{
			cmd:   parsedCommand{Command: "role", Args: []string{"#00ff00", "Green", "Thing"}},
			name:  "Green Thing",
			color: 0x00ff00,
		},
		{
			cmd:   parsedCommand{Command: "role", Args: []string{"#00ff00", "ignored"}, Body: "Body Name"},
			name:  "Body Name",
			color: 0x00ff00,
		},
		{
			cmd: parsedCommand{Command: "role", Args: []string{"#00ff00"}},
			err: customrole.ErrInvalidName,
		},
		{
			cmd: parsedCommand{Command: "role", Args: []string{"#nope", "Name"}},
			err: customrole.ErrInvalidColor,
		},
	}

	for _, test := range tests {
		name, color, err := parseRoleArgs(&test.cmd)
		if test.err != nil {
			if !errors.Is(err, test.err) {
				t.Errorf("%+v: expected %v, got %v", test.cmd, test.err, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%+v: unexpected error %v", test.cmd, err)
			continue
		}
		if name != test.name || color != test.color {
			t.Errorf("%+v: expected (%q, %06x), got (%q, %06x)", test.cmd, test.name, test.color, name, color)
		}
	}
}

func TestMemberChecks(t *testing.T) {
	admin := discord.RoleID(808121046028779602)

	booster := &discord.Member{BoostedSince: discord.NewTimestamp(time.Now())}
	member := &discord.Member{RoleIDs: []discord.RoleID{1, admin}}

	if !isBooster(booster) || isBooster(member) || isBooster(nil) {
		t.Fatalf("isBooster gave the wrong answer")
	}
	if !hasAnyRole(member, []discord.RoleID{admin}) || hasAnyRole(booster, []discord.RoleID{admin}) || hasAnyRole(nil, nil) {
		t.Fatalf("hasAnyRole gave the wrong answer")
	}
}
