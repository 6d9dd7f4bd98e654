package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "observer read", role: RoleObserver, action: ActionRead, allow: true},
		{name: "observer vote", role: RoleObserver, action: ActionVote, allow: false},
		{name: "observer comment", role: RoleObserver, action: ActionComment, allow: false},
		{name: "participant vote", role: RoleParticipant, action: ActionVote, allow: true},
		{name: "participant comment", role: RoleParticipant, action: ActionComment, allow: true},
		{name: "participant facilitate", role: RoleParticipant, action: ActionFacilitate, allow: false},
		{name: "facilitator facilitate", role: RoleFacilitator, action: ActionFacilitate, allow: true},
		{name: "unknown role", role: Role("stranger"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]Role{
		"Facilitator": RoleFacilitator,
		" moderator ": RoleFacilitator,
		"viewer":      RoleObserver,
		"":            RoleParticipant,
		"qa-lead":     RoleParticipant,
	}
	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}
