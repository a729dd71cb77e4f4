// Package migrator drives the per-task migration pipeline: fetch, idempotency
// guard, flatten, file transfer, story assembly, submission and marking.
package migrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"example.com/asana-importer/internal/log"
	"example.com/asana-importer/internal/migrator/compose"
	"example.com/asana-importer/internal/migrator/files"
	"example.com/asana-importer/internal/migrator/identity"
	"example.com/asana-importer/internal/migrator/model"
	"example.com/asana-importer/internal/migrator/story"
	"example.com/asana-importer/internal/queue"
)

// Config carries the migration parameters shared by all tasks of a run.
type Config struct {
	AsanaProjectID     int64
	MovedTagID         int64
	SkipMovedTag       bool
	ClubhouseProjectID int64
	CompleteWorkflowID int64
	Commit             bool
}

// Status is the terminal state of one task's pipeline.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusPreviewed Status = "previewed"
	StatusMigrated  Status = "migrated"
)

// Result reports one task's outcome. StoryID and StoryURL are only set for
// migrated tasks; previewed tasks return no destination identifier.
type Result struct {
	TaskID   int64
	Status   Status
	StoryID  int64
	StoryURL string
}

// Orchestrator runs the migration of one Asana project into one Clubhouse
// project. It is safe for concurrent use: all shared state is read-only
// after construction.
type Orchestrator struct {
	cfg      Config
	src      model.SourceClient
	dst      model.DestinationClient
	composer *compose.Composer
	files    *files.Migrator
	stories  *story.Builder
}

func NewOrchestrator(cfg Config, src model.SourceClient, dst model.DestinationClient, ids *identity.Map) *Orchestrator {
	composer := compose.New(ids, cfg.AsanaProjectID)
	return &Orchestrator{
		cfg:      cfg,
		src:      src,
		dst:      dst,
		composer: composer,
		files:    files.NewMigrator(src, dst, cfg.Commit),
		stories:  story.NewBuilder(src, ids, composer, cfg.ClubhouseProjectID, cfg.CompleteWorkflowID),
	}
}

// PublishTasks lists the source project's tasks and fans their ids out on
// the queue, then closes the send side. On an in-process queue workers drain
// the backlog and stop; on a broker queue the backlog stays for worker
// processes.
func PublishTasks(ctx context.Context, src model.SourceClient, projectID int64, q queue.Client) error {
	defer q.CloseSend()
	err := src.ForEachTaskInProject(ctx, projectID, func(ref model.TaskRef) error {
		return q.Publish(ctx, strconv.FormatInt(ref.ID, 10))
	})
	if err != nil {
		return fmt.Errorf("list tasks in project %d: %w", projectID, err)
	}
	return nil
}

// Publish fans this run's task ids out on the queue.
func (o *Orchestrator) Publish(ctx context.Context, q queue.Client) error {
	return PublishTasks(ctx, o.src, o.cfg.AsanaProjectID, q)
}

// MigrateTask runs the full pipeline for one task id. The steps are strictly
// sequential; any error is terminal for the task and, by the worker pool's
// policy, for the whole run.
func (o *Orchestrator) MigrateTask(ctx context.Context, id string) (*Result, error) {
	taskID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", id, err)
	}

	task, err := o.src.TaskByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("fetch task %d: %w", taskID, err)
	}

	// idempotency guard: observed before any destination-side work
	for _, tag := range task.Tags {
		if tag.ID == o.cfg.MovedTagID {
			log.Info("task already migrated", "task", task.ID, "name", task.Name, "moved_tag", tag.ID)
			return &Result{TaskID: task.ID, Status: StatusSkipped}, nil
		}
	}
	if strings.TrimSpace(task.Name) == "" {
		log.Info("skipping task with no name", "task", task.ID)
		return &Result{TaskID: task.ID, Status: StatusSkipped}, nil
	}
	if task.ResourceSubtype == "section" {
		log.Info("skipping section", "task", task.ID)
		return &Result{TaskID: task.ID, Status: StatusSkipped}, nil
	}

	subtasks, err := flattenSubtasks(ctx, o.src, task)
	if err != nil {
		return nil, fmt.Errorf("flatten task %d: %w", task.ID, err)
	}

	fileIDs, err := o.files.MigrateAll(ctx, task, subtasks)
	if err != nil {
		return nil, fmt.Errorf("migrate files for task %d: %w", task.ID, err)
	}

	payload, err := o.stories.Build(ctx, task, subtasks, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("build story for task %d: %w", task.ID, err)
	}

	if !o.cfg.Commit {
		if blob, err := json.MarshalIndent(payload, "", "  "); err == nil {
			log.Debug("story preview", "task", task.ID, "story", string(blob))
		}
		log.Info("previewed task", "task", task.ID, "name", task.Name)
		return &Result{TaskID: task.ID, Status: StatusPreviewed}, nil
	}

	created, err := o.dst.CreateStory(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("create story for task %d: %w", task.ID, err)
	}
	log.Info("story created", "task", task.ID, "url", created.AppURL)

	if err := o.markMigrated(ctx, task, created); err != nil {
		return nil, err
	}

	return &Result{TaskID: task.ID, Status: StatusMigrated, StoryID: created.ID, StoryURL: created.AppURL}, nil
}

// markMigrated leaves a comment pointing at the created story and applies
// the moved tag, making re-runs skip the task.
func (o *Orchestrator) markMigrated(ctx context.Context, task *model.Task, created *model.CreatedStory) error {
	if o.cfg.SkipMovedTag {
		log.Debug("skipping moved-tag update", "task", task.ID)
		return nil
	}
	if err := o.src.AddComment(ctx, task.ID, story.MoveMessage+created.AppURL); err != nil {
		return fmt.Errorf("add moved comment to task %d: %w", task.ID, err)
	}
	if err := o.src.AddTag(ctx, task.ID, o.cfg.MovedTagID); err != nil {
		return fmt.Errorf("tag task %d as moved: %w", task.ID, err)
	}
	return nil
}
