// Package story assembles the canonical Clubhouse story payload for one
// migrated task: labels, story type, sub-items, comments and timestamps.
package story

import (
	"context"
	"fmt"
	"strings"

	"example.com/asana-importer/internal/log"
	"example.com/asana-importer/internal/migrator/compose"
	"example.com/asana-importer/internal/migrator/identity"
	"example.com/asana-importer/internal/migrator/model"
)

// MoveMessage prefixes the comment left on a migrated source task. Activity
// entries starting with it are self-referential and excluded from migration.
const MoveMessage = "The task moved to "

const provenanceLabel = "From Asana"

// Builder assembles one story payload per root task.
type Builder struct {
	src                model.SourceClient
	ids                *identity.Map
	composer           *compose.Composer
	projectID          int64
	completeWorkflowID int64
}

// NewBuilder returns a Builder targeting the given Clubhouse project.
// completeWorkflowID is the workflow state applied to completed tasks.
func NewBuilder(src model.SourceClient, ids *identity.Map, composer *compose.Composer, projectID, completeWorkflowID int64) *Builder {
	return &Builder{
		src:                src,
		ids:                ids,
		composer:           composer,
		projectID:          projectID,
		completeWorkflowID: completeWorkflowID,
	}
}

// Build assembles the compacted story payload for a task, its flattened
// subtasks and the already-migrated file ids.
func (b *Builder) Build(ctx context.Context, task *model.Task, subtasks []*model.Task, fileIDs []string) (map[string]any, error) {
	rootActivities, err := b.src.ActivitiesByTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("activities for task %d: %w", task.ID, err)
	}

	comments := b.comments(task, rootActivities)
	for _, st := range subtasks {
		acts, err := b.src.ActivitiesByTask(ctx, st.ID)
		if err != nil {
			return nil, fmt.Errorf("activities for subtask %d: %w", st.ID, err)
		}
		comments = append(comments, b.comments(st, acts)...)
	}

	items := make([]map[string]any, 0, len(subtasks))
	for _, st := range subtasks {
		items = append(items, b.subtaskItem(st))
	}

	var workflowID int64
	if task.Completed {
		workflowID = b.completeWorkflowID
	}

	requester, _ := b.requesterID(rootActivities)

	return Compact(map[string]any{
		"archived":              task.CompletedAt != "",
		"comments":              comments,
		"completed_at_override": task.CompletedAt,
		"created_at":            task.CreatedAt,
		"deadline":              Deadline(task),
		"story_type":            StoryType(task),
		"description":           b.composer.Description(task),
		"external_id":           b.composer.TaskURL(task.ID),
		"labels":                b.labels(task),
		"file_ids":              fileIDs,
		"follower_ids":          b.followerIDs(task),
		"name":                  strings.TrimSpace(task.Name),
		"owner_ids":             b.ownerIDs(task),
		"project_id":            b.projectID,
		"requested_by_id":       requester,
		"tasks":                 items,
		"updated_at":            task.ModifiedAt,
		"workflow_state_id":     workflowID,
	}), nil
}

// comments converts a task's activity feed into story comments, dropping
// system entries and migration notices left by earlier runs.
func (b *Builder) comments(task *model.Task, activities []model.Activity) []map[string]any {
	out := make([]map[string]any, 0, len(activities))
	for i := range activities {
		act := &activities[i]
		if act.Type == "system" || strings.HasPrefix(act.Text, MoveMessage) {
			continue
		}
		authorID, found := b.memberID(act.CreatedBy)
		out = append(out, Compact(map[string]any{
			"author_id":   authorID,
			"created_at":  act.CreatedAt,
			"external_id": b.composer.TaskURL(task.ID),
			"text":        b.composer.Comment(task, act, found),
		}))
	}
	return out
}

// subtaskItem builds one destination sub-item. Nested subtasks get a
// markdown bullet so the flattened hierarchy stays readable.
func (b *Builder) subtaskItem(st *model.Task) map[string]any {
	prefix := ""
	if st.Depth > 1 {
		prefix = " * "
	}
	url := b.composer.TaskURL(st.ID)
	return Compact(map[string]any{
		"description": fmt.Sprintf("%s[%s](%s)\n%s", prefix, st.Name, url, st.Notes),
		"complete":    st.Completed,
		"created_at":  st.CreatedAt,
		"external_id": url,
		"owner_ids":   b.ownerIDs(st),
	})
}

func (b *Builder) labels(t *model.Task) []model.Label {
	labels := []model.Label{{Name: provenanceLabel}}
	for _, tag := range t.Tags {
		labels = append(labels, model.Label{Name: tag.Name})
	}
	for _, p := range t.Projects {
		labels = append(labels, model.Label{
			Name:       p.Name,
			ExternalID: fmt.Sprintf("https://app.asana.com/0/%d", p.ID),
		})
	}
	for _, cf := range t.CustomFields {
		if cf.EnumValue != nil {
			labels = append(labels, model.Label{Name: cf.EnumValue.Name})
		}
	}
	if sec, ok := sectionLabel(t); ok {
		labels = append(labels, sec)
	}

	out := labels[:0]
	for _, l := range labels {
		if l != (model.Label{}) {
			out = append(out, l)
		}
	}
	return out
}

// sectionLabel derives a label from the task's first section membership.
func sectionLabel(t *model.Task) (model.Label, bool) {
	for _, m := range t.Memberships {
		if m.Section == nil || m.Project == nil {
			continue
		}
		return model.Label{
			Name:       strings.TrimSpace(strings.ReplaceAll(m.Section.Name, ":", "")),
			ExternalID: fmt.Sprintf("https://app.asana.com/0/%d/%d", m.Project.ID, m.Section.ID),
		}, true
	}
	return model.Label{}, false
}

// StoryType classifies a task. A project named "bug" wins over a "type"
// custom field; everything else is a chore.
func StoryType(t *model.Task) string {
	for _, p := range t.Projects {
		if strings.EqualFold(strings.TrimSpace(p.Name), "bug") {
			return "bug"
		}
	}
	for _, f := range t.CustomFields {
		if !strings.EqualFold(strings.TrimSpace(f.Name), "type") || f.EnumValue == nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(f.EnumValue.Name)) {
		case "bug":
			return "bug"
		case "feature":
			return "feature"
		}
	}
	return "chore"
}

// Deadline converts a date-only due_on into an end-of-day UTC timestamp so
// the destination does not shift the due date across timezones.
func Deadline(t *model.Task) string {
	if t.DueOn == "" {
		return ""
	}
	return t.DueOn + "T23:59:59Z"
}

// requesterID resolves the author of the task's first activity entry.
func (b *Builder) requesterID(activities []model.Activity) (string, bool) {
	if len(activities) == 0 {
		return "", false
	}
	return b.memberID(activities[0].CreatedBy)
}

func (b *Builder) ownerIDs(t *model.Task) []string {
	id, ok := b.memberID(t.Assignee)
	if !ok {
		return nil
	}
	return []string{id}
}

func (b *Builder) followerIDs(t *model.Task) []string {
	out := make([]string, 0, len(t.Followers))
	for i := range t.Followers {
		if id, ok := b.memberID(&t.Followers[i]); ok {
			out = append(out, id)
		}
	}
	return out
}

// memberID resolves an Asana user to a Clubhouse member id. A miss is logged
// and the field is omitted by the caller.
func (b *Builder) memberID(u *model.User) (string, bool) {
	if u == nil {
		return "", false
	}
	member, ok := b.ids.MemberFor(u)
	if !ok {
		log.Warn("asana user does not exist in clubhouse", "email", u.Email)
		return "", false
	}
	return member.ID, true
}
