// Package rbac maps roster role labels onto the actions a participant may take
// inside a review session.
package rbac

import "strings"

type Role string
type Action string

const (
	RoleObserver    Role = "observer"
	RoleParticipant Role = "participant"
	RoleFacilitator Role = "facilitator"
)

const (
	ActionRead       Action = "read"
	ActionComment    Action = "comment"
	ActionVote       Action = "vote"
	ActionFacilitate Action = "facilitate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleFacilitator:
		return true
	case RoleParticipant:
		return action == ActionRead || action == ActionComment || action == ActionVote
	case RoleObserver:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize folds free-form role labels from the roster collaborator onto the
// three session roles. Unknown labels become participants.
func Normalize(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "facilitator", "moderator", "owner", "admin":
		return RoleFacilitator
	case "observer", "viewer", "guest":
		return RoleObserver
	default:
		return RoleParticipant
	}
}
