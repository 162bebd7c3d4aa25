package perm

import (
	"context"
	"errors"
	"testing"

	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/transport"
)

type metaConn struct {
	transport.Conn

	self string
	meta *transport.GroupMetadata
	err  error
}

func (c *metaConn) SelfID() string { return c.self }

func (c *metaConn) GroupMetadata(_ context.Context, _ string) (*transport.GroupMetadata, error) {
	return c.meta, c.err
}

func groupMeta() *transport.GroupMetadata {
	return &transport.GroupMetadata{
		ID: "g@g.us",
		Participants: []transport.Participant{
			{ID: "member@s.whatsapp.net"},
			{ID: "admin@s.whatsapp.net", Role: transport.RoleAdmin},
			{ID: "owner@s.whatsapp.net", Role: transport.RoleSuperAdmin},
			{ID: "bot@s.whatsapp.net", Role: transport.RoleAdmin},
		},
	}
}

func TestResolve_DirectChatUsesConfigOnly(t *testing.T) {
	conn := &metaConn{self: "bot@s.whatsapp.net", err: errors.New("must not be called")}
	cfg := model.BotConfig{AdminNumbers: []string{"491511234"}}

	facts, err := NewResolver(conn).Resolve(context.Background(), cfg, "peer@s.whatsapp.net", "491511234@s.whatsapp.net")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !facts.IsAdmin {
		t.Error("configured number should be admin in direct chat")
	}
	if facts.IsBotAdmin {
		t.Error("bot admin is meaningless in direct chat")
	}
	if facts.Group != nil {
		t.Error("direct chat must not carry group metadata")
	}

	facts, err = NewResolver(conn).Resolve(context.Background(), model.BotConfig{}, "peer@s.whatsapp.net", "someone@s.whatsapp.net")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if facts.IsAdmin {
		t.Error("unlisted sender should not be admin")
	}
}

func TestResolve_GroupRoles(t *testing.T) {
	conn := &metaConn{self: "bot@s.whatsapp.net", meta: groupMeta()}
	resolver := NewResolver(conn)
	ctx := context.Background()

	cases := []struct {
		sender string
		admin  bool
	}{
		{"member@s.whatsapp.net", false},
		{"admin@s.whatsapp.net", true},
		{"owner@s.whatsapp.net", true},
		{"stranger@s.whatsapp.net", false},
	}
	for _, tc := range cases {
		facts, err := resolver.Resolve(ctx, model.BotConfig{}, "g@g.us", tc.sender)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.sender, err)
		}
		if facts.IsAdmin != tc.admin {
			t.Errorf("%s: expected admin=%v", tc.sender, tc.admin)
		}
		if !facts.IsBotAdmin {
			t.Errorf("%s: bot should be admin in this group", tc.sender)
		}
		if facts.Group == nil {
			t.Errorf("%s: expected group metadata", tc.sender)
		}
	}
}

func TestResolve_ConfigListOverridesGroupRole(t *testing.T) {
	conn := &metaConn{self: "bot@s.whatsapp.net", meta: groupMeta()}
	cfg := model.BotConfig{AdminNumbers: []string{"777"}}

	facts, err := NewResolver(conn).Resolve(context.Background(), cfg, "g@g.us", "777@s.whatsapp.net")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !facts.IsAdmin {
		t.Error("configured number should be admin regardless of group role")
	}
}

func TestResolve_BotNotAdmin(t *testing.T) {
	meta := groupMeta()
	meta.Participants[3].Role = transport.RoleMember
	conn := &metaConn{self: "bot@s.whatsapp.net", meta: meta}

	facts, err := NewResolver(conn).Resolve(context.Background(), model.BotConfig{}, "g@g.us", "member@s.whatsapp.net")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if facts.IsBotAdmin {
		t.Error("bot without admin role must not report bot admin")
	}
}

func TestResolve_MetadataErrorPropagates(t *testing.T) {
	conn := &metaConn{self: "bot@s.whatsapp.net", err: errors.New("network down")}

	_, err := NewResolver(conn).Resolve(context.Background(), model.BotConfig{}, "g@g.us", "member@s.whatsapp.net")
	if err == nil {
		t.Fatal("expected error")
	}
}
