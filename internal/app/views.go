package app

import (
	"time"

	"reviewroom/api/internal/store"
)

type ParticipantView struct {
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName"`
	Role        string     `json:"role"`
	Online      bool       `json:"online"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
}

type SessionView struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	ProjectID          string            `json:"projectId,omitempty"`
	Status             store.Status      `json:"status"`
	RequirementRefs    []string          `json:"requirementRefs"`
	Index              *int              `json:"index,omitempty"`
	CurrentRequirement string            `json:"currentRequirement,omitempty"`
	CreatedBy          string            `json:"createdBy"`
	Participants       []ParticipantView `json:"participants"`
	RosterSizeAtStart  int               `json:"rosterSizeAtStart,omitempty"`
	ScheduledAt        *time.Time        `json:"scheduledAt,omitempty"`
	StartedAt          *time.Time        `json:"startedAt,omitempty"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
}

// NewSessionView omits the cursor index when it is not meaningful.
func NewSessionView(session store.Session) SessionView {
	view := SessionView{
		ID:                 session.ID,
		Name:               session.Name,
		Description:        session.Description,
		ProjectID:          session.ProjectID,
		Status:             session.Status,
		RequirementRefs:    session.RequirementRefs,
		CurrentRequirement: session.CurrentRequirement(),
		CreatedBy:          session.CreatedBy,
		Participants:       make([]ParticipantView, 0, len(session.Participants)),
		RosterSizeAtStart:  session.RosterSizeAtStart,
		ScheduledAt:        session.ScheduledAt,
		StartedAt:          session.StartedAt,
		CompletedAt:        session.CompletedAt,
		CreatedAt:          session.CreatedAt,
	}
	if view.CurrentRequirement != "" {
		index := session.Cursor
		view.Index = &index
	}
	for _, p := range session.Participants {
		view.Participants = append(view.Participants, ParticipantView{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Role:        p.Role,
			Online:      p.Online,
			LastSeenAt:  p.LastSeenAt,
		})
	}
	return view
}
