package model

import (
	"context"
	"io"
)

// User is an Asana user as returned by the workspace users listing.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Profile carries the identity fields of a Clubhouse member.
type Profile struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	MentionName  string `json:"mention_name"`
	Name         string `json:"name"`
}

// Member is a Clubhouse organization member.
type Member struct {
	ID      string  `json:"id"`
	Profile Profile `json:"profile"`
}

// TaskRef is a thin task entry as returned by listings and subtask queries.
type TaskRef struct {
	ID int64 `json:"id"`
}

// NamedRef is an id+name pair used for tags, projects and sections.
type NamedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type EnumValue struct {
	Name string `json:"name"`
}

type CustomField struct {
	Name      string     `json:"name"`
	EnumValue *EnumValue `json:"enum_value"`
}

// Membership ties a task to a project and, optionally, a section within it.
type Membership struct {
	Project *NamedRef `json:"project"`
	Section *NamedRef `json:"section"`
}

// Task is a fully fetched Asana task.
type Task struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Notes           string        `json:"notes"`
	ResourceSubtype string        `json:"resource_subtype"`
	Tags            []NamedRef    `json:"tags"`
	Projects        []NamedRef    `json:"projects"`
	CustomFields    []CustomField `json:"custom_fields"`
	Assignee        *User         `json:"assignee"`
	Followers       []User        `json:"followers"`
	Completed       bool          `json:"completed"`
	CompletedAt     string        `json:"completed_at"`
	DueOn           string        `json:"due_on"`
	CreatedAt       string        `json:"created_at"`
	ModifiedAt      string        `json:"modified_at"`
	Memberships     []Membership  `json:"memberships"`

	// Depth is assigned during flattening: 0 for a root task, parent+1 for
	// every direct subtask. It is the only field mutated after fetch.
	Depth int `json:"-"`
}

// Activity is one entry of a task's activity feed: a user comment, an edited
// comment, or a system-generated event.
type Activity struct {
	Type            string `json:"type"`
	ResourceSubtype string `json:"resource_subtype"`
	Text            string `json:"text"`
	CreatedBy       *User  `json:"created_by"`
	CreatedAt       string `json:"created_at"`
}

// Attachment is a file attached to a task. The download URL is transient.
type Attachment struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
}

// Label is a Clubhouse story label. Duplicate names are permitted; the
// destination deduplicates on its side, not ours.
type Label struct {
	Name       string `json:"name"`
	ExternalID string `json:"external_id,omitempty"`
}

// File is a destination-assigned reference to an uploaded attachment.
type File struct {
	ID string `json:"id"`
}

// CreatedStory is the destination's response to a story creation.
type CreatedStory struct {
	ID     int64  `json:"id"`
	AppURL string `json:"app_url"`
}

// SourceClient reads tasks, users and attachments from Asana and applies the
// moved marker. Write operations are only invoked in commit mode.
type SourceClient interface {
	UsersInWorkspace(ctx context.Context) ([]User, error)
	ForEachTaskInProject(ctx context.Context, projectID int64, fn func(TaskRef) error) error
	TaskByID(ctx context.Context, id int64) (*Task, error)
	Subtasks(ctx context.Context, id int64) ([]TaskRef, error)
	Attachments(ctx context.Context, id int64) ([]Attachment, error)
	ActivitiesByTask(ctx context.Context, id int64) ([]Activity, error)
	DownloadAttachment(ctx context.Context, url string) (io.ReadCloser, error)
	AddComment(ctx context.Context, taskID int64, text string) error
	AddTag(ctx context.Context, taskID, tagID int64) error
}

// DestinationClient creates stories and files in Clubhouse.
type DestinationClient interface {
	Members(ctx context.Context) ([]Member, error)
	CreateStory(ctx context.Context, payload map[string]any) (*CreatedStory, error)
	UploadFile(ctx context.Context, filename, contentType string, r io.Reader) (*File, error)
}
