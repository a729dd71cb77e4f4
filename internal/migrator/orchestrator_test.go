package migrator

import (
	"context"
	"io"
	"strings"
	"testing"

	"example.com/asana-importer/internal/migrator/identity"
	"example.com/asana-importer/internal/migrator/model"
	"example.com/asana-importer/internal/queue"
)

// countingSource tracks which source operations a pipeline run reaches.
type countingSource struct {
	*treeSource
	subtaskCalls  int
	commentTexts  []string
	taggedWith    []int64
	activityCalls int
}

func (s *countingSource) Subtasks(ctx context.Context, id int64) ([]model.TaskRef, error) {
	s.subtaskCalls++
	return s.treeSource.Subtasks(ctx, id)
}

func (s *countingSource) ActivitiesByTask(ctx context.Context, id int64) ([]model.Activity, error) {
	s.activityCalls++
	return nil, nil
}

func (s *countingSource) AddComment(ctx context.Context, taskID int64, text string) error {
	s.commentTexts = append(s.commentTexts, text)
	return nil
}

func (s *countingSource) AddTag(ctx context.Context, taskID, tagID int64) error {
	s.taggedWith = append(s.taggedWith, tagID)
	return nil
}

type countingDest struct {
	created []map[string]any
	uploads int
	story   model.CreatedStory
}

func (d *countingDest) Members(ctx context.Context) ([]model.Member, error) { return nil, nil }

func (d *countingDest) CreateStory(ctx context.Context, payload map[string]any) (*model.CreatedStory, error) {
	d.created = append(d.created, payload)
	cp := d.story
	return &cp, nil
}

func (d *countingDest) UploadFile(ctx context.Context, filename, contentType string, r io.Reader) (*model.File, error) {
	d.uploads++
	return &model.File{ID: "f-1"}, nil
}

func newOrchestrator(cfg Config, src model.SourceClient, dst model.DestinationClient) *Orchestrator {
	ids := identity.Build(nil, nil, false)
	return NewOrchestrator(cfg, src, dst, ids)
}

func TestMigrateTaskSkipsAlreadyMoved(t *testing.T) {
	src := &countingSource{treeSource: newTreeSource()}
	task := src.add(10, "done already", 0)
	task.Tags = []model.NamedRef{{ID: 555, Name: "moved"}}
	dst := &countingDest{}

	o := newOrchestrator(Config{AsanaProjectID: 1, MovedTagID: 555, Commit: true}, src, dst)
	res, err := o.MigrateTask(context.Background(), "10")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.Status != StatusSkipped {
		t.Fatalf("status: %s", res.Status)
	}
	// the guard runs before any flattening or destination work
	if src.subtaskCalls != 0 || len(dst.created) != 0 {
		t.Fatalf("moved task reached pipeline: subtasks=%d created=%d", src.subtaskCalls, len(dst.created))
	}
}

func TestMigrateTaskSkipsInvalid(t *testing.T) {
	src := &countingSource{treeSource: newTreeSource()}
	src.add(11, "   ", 0)
	section := src.add(12, "Backlog:", 0)
	section.ResourceSubtype = "section"
	dst := &countingDest{}
	o := newOrchestrator(Config{Commit: true}, src, dst)

	for _, id := range []string{"11", "12"} {
		res, err := o.MigrateTask(context.Background(), id)
		if err != nil {
			t.Fatalf("migrate %s: %v", id, err)
		}
		if res.Status != StatusSkipped {
			t.Fatalf("task %s: status %s", id, res.Status)
		}
	}
	if len(dst.created) != 0 {
		t.Fatalf("excluded tasks reached destination")
	}
}

func TestMigrateTaskPreviewWritesNothing(t *testing.T) {
	src := &countingSource{treeSource: newTreeSource()}
	src.add(20, "a task", 0)
	dst := &countingDest{}

	o := newOrchestrator(Config{MovedTagID: 555, Commit: false}, src, dst)
	res, err := o.MigrateTask(context.Background(), "20")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.Status != StatusPreviewed {
		t.Fatalf("status: %s", res.Status)
	}
	if res.StoryID != 0 || res.StoryURL != "" {
		t.Fatalf("preview reported a story: %+v", res)
	}
	if len(dst.created) != 0 || dst.uploads != 0 {
		t.Fatalf("preview performed destination writes")
	}
	if len(src.commentTexts) != 0 || len(src.taggedWith) != 0 {
		t.Fatalf("preview wrote back to the source")
	}
}

func TestMigrateTaskCommitMarksSource(t *testing.T) {
	src := &countingSource{treeSource: newTreeSource()}
	src.add(30, "real work", 0)
	dst := &countingDest{story: model.CreatedStory{ID: 99, AppURL: "https://app.clubhouse.io/story/99"}}

	o := newOrchestrator(Config{MovedTagID: 555, ClubhouseProjectID: 7, Commit: true}, src, dst)
	res, err := o.MigrateTask(context.Background(), "30")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.Status != StatusMigrated || res.StoryID != 99 {
		t.Fatalf("result: %+v", res)
	}
	if len(dst.created) != 1 {
		t.Fatalf("expected one story, got %d", len(dst.created))
	}
	if got := dst.created[0]["name"]; got != "real work" {
		t.Fatalf("story name: %v", got)
	}
	if len(src.commentTexts) != 1 || !strings.HasPrefix(src.commentTexts[0], "The task moved to ") {
		t.Fatalf("moved comment: %v", src.commentTexts)
	}
	if !strings.HasSuffix(src.commentTexts[0], "https://app.clubhouse.io/story/99") {
		t.Fatalf("moved comment missing story url: %v", src.commentTexts)
	}
	if len(src.taggedWith) != 1 || src.taggedWith[0] != 555 {
		t.Fatalf("moved tag: %v", src.taggedWith)
	}
}

func TestMigrateTaskSkipMovedTagFlag(t *testing.T) {
	src := &countingSource{treeSource: newTreeSource()}
	src.add(40, "untagged run", 0)
	dst := &countingDest{story: model.CreatedStory{ID: 5, AppURL: "https://app.clubhouse.io/story/5"}}

	o := newOrchestrator(Config{MovedTagID: 555, SkipMovedTag: true, Commit: true}, src, dst)
	res, err := o.MigrateTask(context.Background(), "40")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.Status != StatusMigrated {
		t.Fatalf("status: %s", res.Status)
	}
	if len(src.commentTexts) != 0 || len(src.taggedWith) != 0 {
		t.Fatalf("source marked despite skip flag")
	}
}

func TestMigrateTaskRejectsBadID(t *testing.T) {
	o := newOrchestrator(Config{}, newTreeSource(), &countingDest{})
	if _, err := o.MigrateTask(context.Background(), "not-a-number"); err == nil {
		t.Fatalf("expected parse error")
	}
}

type listingSource struct {
	*treeSource
	ids []int64
}

func (s *listingSource) ForEachTaskInProject(ctx context.Context, projectID int64, fn func(model.TaskRef) error) error {
	for _, id := range s.ids {
		if err := fn(model.TaskRef{ID: id}); err != nil {
			return err
		}
	}
	return nil
}

func TestPublishFansOutAndClosesQueue(t *testing.T) {
	ctx := context.Background()
	src := &listingSource{treeSource: newTreeSource(), ids: []int64{1, 2, 3}}
	q := queue.NewMemoryClient(8)

	o := newOrchestrator(Config{AsanaProjectID: 1}, src, &countingDest{})
	if err := o.Publish(ctx, q); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	var got []string
	for id := range msgs {
		got = append(got, id)
	}
	if strings.Join(got, ",") != "1,2,3" {
		t.Fatalf("queued ids: %v", got)
	}
}
