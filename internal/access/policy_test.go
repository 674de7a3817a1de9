package access

import (
	"testing"

	"github.com/memvault/mcp-memvault/pkg/types"
)

func activeMemory(userID, appID string) *types.Memory {
	return &types.Memory{
		ID:     "m1",
		UserID: userID,
		AppID:  appID,
		Text:   "prefers dark mode",
		State:  types.StateActive,
	}
}

func TestCanAccess(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		mem    *types.Memory
		userID string
		appID  string
		want   bool
	}{
		{"owner same app", Policy{}, activeMemory("alice", "cli"), "alice", "cli", true},
		{"other user", Policy{}, activeMemory("alice", "cli"), "bob", "cli", false},
		{"other user sharing on", Policy{ShareAcrossApps: true}, activeMemory("alice", "cli"), "bob", "cli", false},
		{"same user other app", Policy{}, activeMemory("alice", "cli"), "alice", "ide", false},
		{"same user other app sharing on", Policy{ShareAcrossApps: true}, activeMemory("alice", "cli"), "alice", "ide", true},
		{"blank user", Policy{}, activeMemory("alice", "cli"), "", "cli", false},
		{"blank app", Policy{}, activeMemory("alice", "cli"), "alice", "", false},
		{"whitespace user", Policy{}, activeMemory("alice", "cli"), "   ", "cli", false},
		{"nil memory", Policy{}, nil, "alice", "cli", false},
		{"memory missing owner", Policy{}, activeMemory("", "cli"), "alice", "cli", false},
		{"memory missing app", Policy{}, activeMemory("alice", ""), "alice", "cli", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.CanAccess(tt.mem, tt.userID, tt.appID); got != tt.want {
				t.Errorf("CanAccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanAccessDeleted(t *testing.T) {
	mem := activeMemory("alice", "cli")
	mem.State = types.StateDeleted

	if (Policy{}).CanAccess(mem, "alice", "cli") {
		t.Error("deleted memory must not be readable, even by its owner")
	}
	if (Policy{ShareAcrossApps: true}).CanAccess(mem, "alice", "ide") {
		t.Error("deleted memory must not be readable through the sharing rule")
	}
}

func TestCanWriteIgnoresSharing(t *testing.T) {
	mem := activeMemory("alice", "cli")

	if !(Policy{}).CanWrite(mem, "alice", "cli") {
		t.Error("owner must be able to write own memory")
	}
	if (Policy{ShareAcrossApps: true}).CanWrite(mem, "alice", "ide") {
		t.Error("sharing rule must not grant write access across apps")
	}
	if (Policy{}).CanWrite(mem, "bob", "cli") {
		t.Error("other users must never write")
	}
	if (Policy{}).CanWrite(mem, "", "") {
		t.Error("blank identity must never write")
	}
}

func TestValidIdentity(t *testing.T) {
	tests := []struct {
		userID, appID string
		want          bool
	}{
		{"alice", "cli", true},
		{"", "cli", false},
		{"alice", "", false},
		{" ", "cli", false},
		{"alice", "\t", false},
		{"", "", false},
	}

	for _, tt := range tests {
		if got := ValidIdentity(tt.userID, tt.appID); got != tt.want {
			t.Errorf("ValidIdentity(%q, %q) = %v, want %v", tt.userID, tt.appID, got, tt.want)
		}
	}
}
