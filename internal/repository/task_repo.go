package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supoclip/api/internal/model"
)

// ErrTaskNotFound is returned when the task id does not exist
var ErrTaskNotFound = errors.New("task not found")

// TaskRepo is the durable task store. All writes are single-row and
// atomic; progress updates are guarded so stale or duplicate events
// can never move a task backwards.
type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// Create inserts a new task row with status=queued, progress=0
func (r *TaskRepo) Create(ctx context.Context, t *model.Task) error {
	source, err := json.Marshal(t.Source)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	fontOptions, err := json.Marshal(t.FontOptions)
	if err != nil {
		return fmt.Errorf("marshal font options: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
insert into tasks (id, status, progress, progress_message, source, font_options)
values ($1, $2, $3, $4, $5, $6)
`, t.ID, string(t.Status), t.Progress, t.ProgressMessage, source, fontOptions)
	return err
}

// Get returns the task or ErrTaskNotFound
func (r *TaskRepo) Get(ctx context.Context, taskID string) (*model.Task, error) {
	row := r.pool.QueryRow(ctx, `
select id, status, progress, progress_message, source, font_options, media_path, transcript, highlights, created_at, updated_at
from tasks
where id = $1
`, taskID)

	var (
		t           model.Task
		status      string
		source      []byte
		fontOptions []byte
		highlights  []byte
	)
	if err := row.Scan(&t.ID, &status, &t.Progress, &t.ProgressMessage, &source, &fontOptions, &t.MediaPath, &t.Transcript, &highlights, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	if err := json.Unmarshal(source, &t.Source); err != nil {
		return nil, fmt.Errorf("unmarshal source: %w", err)
	}
	if err := json.Unmarshal(fontOptions, &t.FontOptions); err != nil {
		return nil, fmt.Errorf("unmarshal font options: %w", err)
	}
	if err := json.Unmarshal(highlights, &t.Highlights); err != nil {
		return nil, fmt.Errorf("unmarshal highlights: %w", err)
	}
	return &t, nil
}

// UpdateProgress moves a task to the given status/progress. The guard
// clause enforces the state machine in a single atomic statement:
//   - a terminal task is frozen (no transitions out of completed/failed)
//   - progress never regresses, except when moving into failed
//   - an identical duplicate write matches no rows, so retried events
//     are no-ops
//
// Returns changed=false when the write was suppressed by the guard,
// which callers use to skip re-broadcasting the event.
func (r *TaskRepo) UpdateProgress(ctx context.Context, taskID string, status model.TaskStatus, progress int, message string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
update tasks
set status = $2, progress = $3, progress_message = $4, updated_at = now()
where id = $1
  and status not in ('completed', 'failed')
  and ($2 = 'failed' or $3 > progress or ($3 = progress and status <> $2))
`, taskID, string(status), progress, message)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// No row changed: either the task is missing or the guard suppressed
	// a stale/duplicate/terminal write.
	var exists bool
	if err := r.pool.QueryRow(ctx, `select exists(select 1 from tasks where id = $1)`, taskID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrTaskNotFound
	}
	return false, nil
}

// SetArtifacts records stage outputs on the task row so a redelivered
// job can resume without redoing completed stages. Empty arguments
// leave the stored value untouched.
func (r *TaskRepo) SetArtifacts(ctx context.Context, taskID, mediaPath, transcript string) error {
	tag, err := r.pool.Exec(ctx, `
update tasks
set media_path = case when $2 = '' then media_path else $2 end,
    transcript = case when $3 = '' then transcript else $3 end,
    updated_at = now()
where id = $1
`, taskID, mediaPath, transcript)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SetHighlights records the analyzer output so a job redelivered during
// clip generation does not re-run the analysis stage
func (r *TaskRepo) SetHighlights(ctx context.Context, taskID string, highlights []model.Highlight) error {
	data, err := json.Marshal(highlights)
	if err != nil {
		return fmt.Errorf("marshal highlights: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
update tasks set highlights = $2, updated_at = now() where id = $1
`, taskID, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// AppendClips inserts the generated clips. The (task_id, seq) unique
// constraint makes this safe under at-least-once job redelivery: clips
// already written by an earlier attempt are skipped.
func (r *TaskRepo) AppendClips(ctx context.Context, taskID string, clips []model.Clip) error {
	for _, c := range clips {
		_, err := r.pool.Exec(ctx, `
insert into clips (id, task_id, seq, file_path, start_time, end_time, caption, relevance)
values ($1, $2, $3, $4, $5, $6, $7, $8)
on conflict (task_id, seq) do nothing
`, c.ID, taskID, c.Seq, c.FilePath, c.StartTime, c.EndTime, c.Caption, c.Relevance)
		if err != nil {
			return fmt.Errorf("insert clip %d: %w", c.Seq, err)
		}
	}
	return nil
}

// ListClips returns the clips for a task in sequence order
func (r *TaskRepo) ListClips(ctx context.Context, taskID string) ([]model.Clip, error) {
	rows, err := r.pool.Query(ctx, `
select id, task_id, seq, file_path, start_time, end_time, caption, relevance, created_at
from clips
where task_id = $1
order by seq
`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Clip
	for rows.Next() {
		var c model.Clip
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Seq, &c.FilePath, &c.StartTime, &c.EndTime, &c.Caption, &c.Relevance, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
