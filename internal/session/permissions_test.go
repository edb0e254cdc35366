package session

import "testing"

func TestCanMutate(t *testing.T) {
	base := func(policy EditPolicy, allowChat bool) *Session {
		s, err := New("host", "alice", CreateParams{Title: "T"})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		s.Settings.AllowEdit = policy
		s.Settings.AllowChat = allowChat
		return s
	}

	cases := []struct {
		name   string
		sess   *Session
		userID string
		action Action
		want   bool
	}{
		{"edit all-participants guest", base(EditAllParticipants, true), "guest", ActionEditCode, true},
		{"edit host-only guest", base(EditHostOnly, true), "guest", ActionEditCode, false},
		{"edit host-only host", base(EditHostOnly, true), "host", ActionEditCode, true},
		{"edit invited-only guest", base(EditInvitedOnly, true), "guest", ActionEditCode, true},
		{"language guest", base(EditAllParticipants, true), "guest", ActionChangeLanguage, false},
		{"language host", base(EditHostOnly, true), "host", ActionChangeLanguage, true},
		{"settings guest", base(EditAllParticipants, true), "guest", ActionChangeSettings, false},
		{"settings host", base(EditAllParticipants, true), "host", ActionChangeSettings, true},
		{"chat allowed", base(EditHostOnly, true), "guest", ActionChat, true},
		{"chat disabled host", base(EditHostOnly, false), "host", ActionChat, false},
		{"unknown action", base(EditAllParticipants, true), "host", Action("drop-tables"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanMutate(tc.sess, tc.userID, tc.action); got != tc.want {
				t.Fatalf("CanMutate(%q, %q) = %v, want %v", tc.userID, tc.action, got, tc.want)
			}
		})
	}
}
