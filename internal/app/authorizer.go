package app

import (
	"reviewroom/api/internal/rbac"
	"reviewroom/api/internal/store"
)

// Authorizer decides who may drive a session: start, pause, resume, move the
// cursor, complete and record decisions.
type Authorizer interface {
	CanFacilitate(session store.Session, userID string) bool
}

// RosterAuthorizer allows the session creator and any roster participant
// whose role label normalizes to facilitator.
type RosterAuthorizer struct{}

func (RosterAuthorizer) CanFacilitate(session store.Session, userID string) bool {
	if userID == "" {
		return false
	}
	if session.CreatedBy == userID {
		return true
	}
	participant, ok := session.Participant(userID)
	if !ok {
		return false
	}
	return rbac.Can(rbac.Normalize(participant.Role), rbac.ActionFacilitate)
}

func rosterCan(session store.Session, userID string, action rbac.Action) (bool, bool) {
	participant, ok := session.Participant(userID)
	if !ok {
		return false, false
	}
	return true, rbac.Can(rbac.Normalize(participant.Role), action)
}

// votingRosterSize counts roster members whose role may vote. Observers and a
// creator who is not on the roster are left out.
func votingRosterSize(session store.Session) int {
	n := 0
	for _, p := range session.Participants {
		if rbac.Can(rbac.Normalize(p.Role), rbac.ActionVote) {
			n++
		}
	}
	return n
}
