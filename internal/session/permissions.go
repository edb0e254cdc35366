package session

// Action is a mutating operation subject to permission checks.
type Action string

const (
	ActionEditCode       Action = "edit-code"
	ActionChangeLanguage Action = "change-language"
	ActionChangeSettings Action = "change-settings"
	ActionChat           Action = "chat"
)

// CanMutate decides whether userID may perform action against s.
// Pure function of the session record; every mutating inbound event is
// checked here before it touches session state.
func CanMutate(s *Session, userID string, action Action) bool {
	switch action {
	case ActionEditCode:
		switch s.Settings.AllowEdit {
		case EditHostOnly:
			return userID == s.OwnerID
		case EditAllParticipants, EditInvitedOnly:
			return true
		default:
			return false
		}
	case ActionChangeLanguage, ActionChangeSettings:
		// Host-only regardless of the edit policy.
		return userID == s.OwnerID
	case ActionChat:
		return s.Settings.AllowChat
	default:
		return false
	}
}
