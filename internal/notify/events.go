// Package notify maps domain events to per-recipient notifications and hands
// their persistence to the detached queue.
package notify

import "fmt"

type EventType string

const (
	TaskAssigned       EventType = "TASK_ASSIGNED"
	TaskCompleted      EventType = "TASK_COMPLETED"
	CommentAdded       EventType = "COMMENT_ADDED"
	Mentioned          EventType = "MENTIONED"
	ProjectMemberAdded EventType = "PROJECT_MEMBER_ADDED"
	SpaceMemberAdded   EventType = "SPACE_MEMBER_ADDED"
)

// Event carries what recipient selection and message rendering need. Only
// the fields relevant to Type are read.
type Event struct {
	Type      EventType
	ActorID   string
	ActorName string

	TaskID    string
	TaskTitle string
	ProjectID string
	SpaceID   string
	// ScopeName names the project or space a member was added to.
	ScopeName string

	// AssigneeID is the new assignee for TaskAssigned and the current one
	// for CommentAdded.
	AssigneeID string
	// PreviousAssigneeID is the assignee before the mutation that completed
	// the task.
	PreviousAssigneeID string
	CreatorID          string
	MentionedUserIDs   []string
	AddedUserID        string
}

// Recipients returns the users event notifies, in a stable order and
// without duplicates. The actor is never a recipient.
func Recipients(event Event) []string {
	var candidates []string
	switch event.Type {
	case TaskAssigned:
		candidates = []string{event.AssigneeID}
	case TaskCompleted:
		candidates = []string{event.PreviousAssigneeID, event.CreatorID}
	case CommentAdded:
		candidates = []string{event.AssigneeID, event.CreatorID}
	case Mentioned:
		candidates = event.MentionedUserIDs
	case ProjectMemberAdded, SpaceMemberAdded:
		candidates = []string{event.AddedUserID}
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == "" || id == event.ActorID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type message struct {
	title string
	body  string
	link  string
}

func render(event Event) message {
	actor := event.ActorName
	if actor == "" {
		actor = "Someone"
	}
	taskLink := fmt.Sprintf("/projects/%s/tasks/%s", event.ProjectID, event.TaskID)

	switch event.Type {
	case TaskAssigned:
		return message{"Task assigned", fmt.Sprintf("%s assigned you to %q", actor, event.TaskTitle), taskLink}
	case TaskCompleted:
		return message{"Task completed", fmt.Sprintf("%s completed %q", actor, event.TaskTitle), taskLink}
	case CommentAdded:
		return message{"New comment", fmt.Sprintf("%s commented on %q", actor, event.TaskTitle), taskLink}
	case Mentioned:
		return message{"You were mentioned", fmt.Sprintf("%s mentioned you in %q", actor, event.TaskTitle), taskLink}
	case ProjectMemberAdded:
		return message{"Added to project", fmt.Sprintf("%s added you to the project %s", actor, event.ScopeName), "/projects/" + event.ProjectID}
	case SpaceMemberAdded:
		return message{"Added to space", fmt.Sprintf("%s added you to the space %s", actor, event.ScopeName), "/spaces/" + event.SpaceID}
	default:
		return message{title: string(event.Type)}
	}
}
