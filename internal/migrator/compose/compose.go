// Package compose renders the destination-side text of a migration:
// story descriptions, comments, and inline mention rewriting.
package compose

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"example.com/asana-importer/internal/migrator/identity"
	"example.com/asana-importer/internal/migrator/model"
)

const descriptionText = `{{.Notes}}

> Imported from [Asana](https://app.asana.com/0/{{.ProjectID}}/{{.TaskID}}/f)`

const commentText = `{{if .ShowAuthor}}> Posted by: {{.AuthorName}}{{end}}{{if .Edited}} (Edited){{end}}
{{if .OnSubtask}}> Posted on: [{{.TaskName}}]({{.TaskURL}})
{{end}}
{{.Text}}`

// Mentions in Asana free text link to the mentioned user's task list. The
// captured id shares only its leading digits with the user id; see
// identity.MentionPrefixLen.
var mentionPattern = regexp.MustCompile(`https://app\.asana\.com/0/(\d+)/list`)

// Composer renders descriptions and comments. The templates are parsed once
// at construction and never mutated, so a single Composer is safe to share
// across workers.
type Composer struct {
	desc      *template.Template
	comment   *template.Template
	ids       *identity.Map
	projectID int64
}

// New builds a Composer for the given source project. The project id feeds
// the back-link URLs attached to comments and sub-items.
func New(ids *identity.Map, sourceProjectID int64) *Composer {
	return &Composer{
		desc:      template.Must(template.New("description").Parse(descriptionText)),
		comment:   template.Must(template.New("comment").Parse(commentText)),
		ids:       ids,
		projectID: sourceProjectID,
	}
}

// TaskURL returns the canonical Asana URL of a task within the source project.
func (c *Composer) TaskURL(taskID int64) string {
	return fmt.Sprintf("https://app.asana.com/0/%d/%d/f", c.projectID, taskID)
}

type descriptionData struct {
	Notes     string
	ProjectID int64
	TaskID    int64
}

// Description renders the story description: the task's trimmed notes plus a
// back-link referencing the task's first project.
func (c *Composer) Description(t *model.Task) string {
	data := descriptionData{Notes: strings.TrimSpace(t.Notes), TaskID: t.ID}
	if len(t.Projects) > 0 {
		data.ProjectID = t.Projects[0].ID
	}
	return c.render(c.desc, data)
}

type commentData struct {
	ShowAuthor bool
	AuthorName string
	Edited     bool
	OnSubtask  bool
	TaskName   string
	TaskURL    string
	Text       string
}

// Comment renders one activity entry posted on the given task. authorFound
// reports whether the author resolved to a Clubhouse member; when it did not,
// the author's display name is kept as a header line instead. Comments on
// subtasks (depth > 0) get a link back to the subtask they were posted on.
func (c *Composer) Comment(task *model.Task, act *model.Activity, authorFound bool) string {
	data := commentData{
		ShowAuthor: !authorFound,
		Edited:     act.ResourceSubtype == "comment_edited",
		OnSubtask:  task.Depth > 0,
		TaskName:   strings.TrimSpace(task.Name),
		TaskURL:    c.TaskURL(task.ID),
		Text:       strings.TrimSpace(act.Text),
	}
	if act.CreatedBy != nil {
		data.AuthorName = act.CreatedBy.Name
	}
	return c.RewriteMentions(c.render(c.comment, data))
}

// RewriteMentions replaces Asana task-list mention URLs with Clubhouse
// mention markup. A resolved member becomes an @mention, a source-only user
// keeps their display name linked to the original URL, and an unknown prefix
// becomes a placeholder.
func (c *Composer) RewriteMentions(text string) string {
	return mentionPattern.ReplaceAllStringFunc(text, func(match string) string {
		id := mentionPattern.FindStringSubmatch(match)[1]
		if len(id) > identity.MentionPrefixLen {
			id = id[:identity.MentionPrefixLen]
		}
		entry, ok := c.ids.Mention(id)
		if !ok {
			return fmt.Sprintf("[User unknown](%s)", match)
		}
		if entry.Member == nil {
			return fmt.Sprintf("[%s](%s)", entry.User.Name, match)
		}
		return fmt.Sprintf("[@%s](clubhouse://members/%s)", entry.Member.Profile.MentionName, entry.Member.Profile.ID)
	})
}

func (c *Composer) render(tmpl *template.Template, data any) string {
	var buf strings.Builder
	// the templates cannot fail on these data shapes
	_ = tmpl.Execute(&buf, data)
	return strings.TrimSpace(buf.String())
}
