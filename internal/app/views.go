package app

import (
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/store"
)

func decisionView(d rbac.Decision) map[string]any {
	view := map[string]any{
		"allowed":  d.Allowed,
		"override": d.Override,
	}
	if d.Reason != "" {
		view["reason"] = d.Reason
	}
	if d.Role != "" {
		view["role"] = d.Role
	}
	return view
}

func spaceView(space store.Space) map[string]any {
	return map[string]any{
		"id":             space.ID,
		"organizationId": space.OrganizationID,
		"name":           space.Name,
		"description":    space.Description,
		"isPublic":       space.IsPublic,
		"createdById":    space.CreatedByID,
		"createdAt":      space.CreatedAt,
		"updatedAt":      space.UpdatedAt,
	}
}

func projectView(project store.Project) map[string]any {
	return map[string]any{
		"id":                 project.ID,
		"spaceId":            project.SpaceID,
		"organizationId":     project.OrganizationID,
		"name":               project.Name,
		"description":        project.Description,
		"workflowTemplateId": project.WorkflowTemplateID,
		"createdById":        project.CreatedByID,
		"createdAt":          project.CreatedAt,
		"updatedAt":          project.UpdatedAt,
	}
}

func taskView(task store.Task) map[string]any {
	return map[string]any{
		"id":          task.ID,
		"projectId":   task.ProjectID,
		"title":       task.Title,
		"description": task.Description,
		"status":      task.Status,
		"priority":    task.Priority,
		"assigneeId":  task.AssigneeID,
		"epicId":      task.EpicID,
		"sprintId":    task.SprintID,
		"dueDate":     task.DueDate,
		"createdById": task.CreatedByID,
		"createdAt":   task.CreatedAt,
		"updatedAt":   task.UpdatedAt,
	}
}

// invitationView never exposes the token hash.
func invitationView(inv store.Invitation) map[string]any {
	return map[string]any{
		"id":             inv.ID,
		"email":          inv.Email,
		"type":           inv.Type,
		"role":           inv.Role,
		"organizationId": inv.OrganizationID,
		"spaceId":        inv.SpaceID,
		"projectId":      inv.ProjectID,
		"status":         inv.Status,
		"invitedById":    inv.InvitedByID,
		"expiresAt":      inv.ExpiresAt,
		"createdAt":      inv.CreatedAt,
	}
}
