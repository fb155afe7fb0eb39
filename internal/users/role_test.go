package users

import "testing"

func TestParseRoleCanonicalNames(t *testing.T) {
	cases := map[string]Role{
		"PrimaryOwner": RolePrimaryOwner,
		"Owner":        RoleOwner,
		"Admin":        RoleAdmin,
		"User":         RoleUser,
	}

	for name, want := range cases {
		got, err := ParseRole(name)
		if err != nil {
			t.Fatalf("ParseRole(%q) returned error: %v", name, err)
		}
		if got != want {
			t.Fatalf("ParseRole(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParseRoleIsCaseInsensitive(t *testing.T) {
	got, err := ParseRole("primaryowner")
	if err != nil {
		t.Fatalf("ParseRole returned error: %v", err)
	}
	if got != RolePrimaryOwner {
		t.Fatalf("ParseRole(\"primaryowner\") = %v, want RolePrimaryOwner", got)
	}
}

func TestParseRoleRejectsUnknownNames(t *testing.T) {
	if _, err := ParseRole("SuperAdmin"); err == nil {
		t.Fatal("expected error for unknown role name")
	}
	if _, err := ParseRole(""); err == nil {
		t.Fatal("expected error for empty role name")
	}
}

func TestRoleRankOrdering(t *testing.T) {
	if !(RolePrimaryOwner.Rank() < RoleOwner.Rank() &&
		RoleOwner.Rank() < RoleAdmin.Rank() &&
		RoleAdmin.Rank() < RoleUser.Rank()) {
		t.Fatal("role ranks are not in privilege order")
	}
}

func TestRoleStringRoundTrip(t *testing.T) {
	for _, role := range []Role{RolePrimaryOwner, RoleOwner, RoleAdmin, RoleUser} {
		parsed, err := ParseRole(role.String())
		if err != nil {
			t.Fatalf("ParseRole(%q) returned error: %v", role.String(), err)
		}
		if parsed != role {
			t.Fatalf("round trip for %v produced %v", role, parsed)
		}
	}
}

func TestOnlyPrimaryOwnerIsApex(t *testing.T) {
	if !RolePrimaryOwner.IsApex() {
		t.Fatal("RolePrimaryOwner should be apex")
	}
	for _, role := range []Role{RoleOwner, RoleAdmin, RoleUser} {
		if role.IsApex() {
			t.Fatalf("%v should not be apex", role)
		}
	}
}
