package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	userdomain "github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

func newEvaluator(t *testing.T, extra map[string]string) *OPAEvaluator {
	t.Helper()
	e, err := NewOPAEvaluator(context.Background(), extra)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e := newEvaluator(t, nil)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_Evaluate(t *testing.T) {
	var (
		user  = userdomain.RoleUser
		admin = userdomain.RoleAdmin
		super = userdomain.RoleSuperAdmin
	)
	tests := []struct {
		name       string
		in         Input
		wantAllow  bool
		wantReason string
	}{
		{"user deletes self", Input{Action: ActionDeleteUser, Actor: Subject{"u1", user}, Target: Subject{"u1", user}}, true, ""},
		{"user deletes other", Input{Action: ActionDeleteUser, Actor: Subject{"u1", user}, Target: Subject{"u2", user}}, false, "You can only delete your own account"},
		{"admin deletes user", Input{Action: ActionDeleteUser, Actor: Subject{"a1", admin}, Target: Subject{"u1", user}}, true, ""},
		{"admin deletes admin", Input{Action: ActionDeleteUser, Actor: Subject{"a1", admin}, Target: Subject{"a2", admin}}, false, "Admins can only delete regular users"},
		{"admin deletes self", Input{Action: ActionDeleteUser, Actor: Subject{"a1", admin}, Target: Subject{"a1", admin}}, false, "Admins can only delete regular users"},
		{"super deletes admin", Input{Action: ActionDeleteUser, Actor: Subject{"s1", super}, Target: Subject{"a1", admin}}, true, ""},
		{"super deletes super", Input{Action: ActionDeleteUser, Actor: Subject{"s1", super}, Target: Subject{"s2", super}}, true, ""},

		{"user logs out self", Input{Action: ActionForceLogout, Actor: Subject{"u1", user}, Target: Subject{"u1", user}}, true, ""},
		{"user logs out other", Input{Action: ActionForceLogout, Actor: Subject{"u1", user}, Target: Subject{"u2", user}}, false, "You can only log out your own sessions"},
		{"admin logs out user", Input{Action: ActionForceLogout, Actor: Subject{"a1", admin}, Target: Subject{"u1", user}}, true, ""},
		{"admin logs out self", Input{Action: ActionForceLogout, Actor: Subject{"a1", admin}, Target: Subject{"a1", admin}}, true, ""},
		{"admin logs out super", Input{Action: ActionForceLogout, Actor: Subject{"a1", admin}, Target: Subject{"s1", super}}, false, "Admins can only log out regular users"},

		{"user changes role", Input{Action: ActionUpdateRole, Actor: Subject{"u1", user}, Target: Subject{"u2", user}, NewRole: admin}, false, "Insufficient permissions"},
		{"admin promotes user", Input{Action: ActionUpdateRole, Actor: Subject{"a1", admin}, Target: Subject{"u1", user}, NewRole: admin}, true, ""},
		{"admin grants super", Input{Action: ActionUpdateRole, Actor: Subject{"a1", admin}, Target: Subject{"u1", user}, NewRole: super}, false, "Only SUPER_ADMIN can grant SUPER_ADMIN"},
		{"super grants super", Input{Action: ActionUpdateRole, Actor: Subject{"s1", super}, Target: Subject{"u1", user}, NewRole: super}, true, ""},

		{"unknown action", Input{Action: "rename", Actor: Subject{"s1", super}, Target: Subject{"u1", user}}, false, "Unknown action"},
	}
	e := newEvaluator(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Evaluate(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if d.Allowed != tt.wantAllow || d.Reason != tt.wantReason {
				t.Errorf("Evaluate = %+v, want allowed=%v reason=%q", d, tt.wantAllow, tt.wantReason)
			}
		})
	}
}

func TestOPAEvaluator_ExtraModule(t *testing.T) {
	extra := map[string]string{"freeze.rego": `package formbuilder.users

deny contains "Accounts are frozen" if {
	input.action == "delete"
	input.target.id == "frozen"
}
`}
	e := newEvaluator(t, extra)
	d, err := e.Evaluate(context.Background(), Input{
		Action: ActionDeleteUser,
		Actor:  Subject{"s1", userdomain.RoleSuperAdmin},
		Target: Subject{"frozen", userdomain.RoleUser},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Allowed || d.Reason != "Accounts are frozen" {
		t.Errorf("Evaluate = %+v, want frozen denial", d)
	}
}

func TestNewOPAEvaluator_InvalidModule(t *testing.T) {
	_, err := NewOPAEvaluator(context.Background(), map[string]string{"bad.rego": "package x\n\nthis is not rego"})
	if err == nil {
		t.Fatal("NewOPAEvaluator with invalid module: want error")
	}
}

func TestLoadModules(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "extra.rego"), []byte("package formbuilder.users\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	mods, err := LoadModules(dir)
	if err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if len(mods) != 1 || mods["extra.rego"] == "" {
		t.Errorf("modules = %v", mods)
	}
	if mods, err := LoadModules(""); err != nil || mods != nil {
		t.Errorf("LoadModules(\"\") = %v, %v", mods, err)
	}
	if _, err := LoadModules(filepath.Join(dir, "missing")); err == nil {
		t.Error("LoadModules on missing dir: want error")
	}
}
