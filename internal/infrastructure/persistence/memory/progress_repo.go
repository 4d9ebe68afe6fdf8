package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/progress"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

type contentKey struct {
	user    shared.UserID
	content shared.ContentID
}

// ProgressRepository implements progress.Repository and
// progress.CompletionSource. Content rows and assignments have separate
// locks, so an assignment update may read content rows.
type ProgressRepository struct {
	contentMu sync.Mutex
	content   map[contentKey]*progress.ContentProgress

	assignmentMu sync.Mutex
	assignments  map[progress.AssignmentKey]*progress.CourseAssignment
}

// NewProgressRepository creates an empty progress repository.
func NewProgressRepository() *ProgressRepository {
	return &ProgressRepository{
		content:     make(map[contentKey]*progress.ContentProgress),
		assignments: make(map[progress.AssignmentKey]*progress.CourseAssignment),
	}
}

var (
	_ progress.Repository       = (*ProgressRepository)(nil)
	_ progress.CompletionSource = (*ProgressRepository)(nil)
)

// ApplyContent initializes the row when missing and applies fn to a copy.
func (r *ProgressRepository) ApplyContent(
	_ context.Context,
	user shared.UserID,
	course shared.CourseID,
	content shared.ContentID,
	fn func(p *progress.ContentProgress) error,
) (*progress.ContentProgress, error) {
	r.contentMu.Lock()
	defer r.contentMu.Unlock()

	key := contentKey{user: user, content: content}
	p := progress.NewContentProgress(user, course, content)
	if current, ok := r.content[key]; ok {
		p = cloneContent(current)
	}

	if err := fn(p); err != nil {
		return nil, err
	}
	r.content[key] = p
	return cloneContent(p), nil
}

// GetContent returns one row.
func (r *ProgressRepository) GetContent(_ context.Context, user shared.UserID, content shared.ContentID) (*progress.ContentProgress, error) {
	r.contentMu.Lock()
	defer r.contentMu.Unlock()

	p, ok := r.content[contentKey{user: user, content: content}]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return cloneContent(p), nil
}

// ListContent returns every row the user has in a course.
func (r *ProgressRepository) ListContent(_ context.Context, user shared.UserID, course shared.CourseID) ([]*progress.ContentProgress, error) {
	r.contentMu.Lock()
	defer r.contentMu.Unlock()

	var out []*progress.ContentProgress
	for k, p := range r.content {
		if k.user == user && p.CourseID == course {
			out = append(out, cloneContent(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out, nil
}

// CompletionOf returns the completion-backup record of a content item.
func (r *ProgressRepository) CompletionOf(_ context.Context, user shared.UserID, content shared.ContentID) (progress.Completion, error) {
	r.contentMu.Lock()
	defer r.contentMu.Unlock()

	p, ok := r.content[contentKey{user: user, content: content}]
	if !ok {
		return progress.Completion{}, nil
	}
	return progress.Completion{IsCompleted: p.IsCompleted, CompletedAt: cloneTime(p.CompletedAt)}, nil
}

// PutContent stores a row as is. It stands in for writers outside the
// engagement core, such as administrative completion overrides.
func (r *ProgressRepository) PutContent(p progress.ContentProgress) {
	r.contentMu.Lock()
	defer r.contentMu.Unlock()

	r.content[contentKey{user: p.UserID, content: p.ContentID}] = cloneContent(&p)
}

// UpdateAssignment initializes the assignment as assigned when missing and
// applies fn to a copy.
func (r *ProgressRepository) UpdateAssignment(
	_ context.Context,
	user shared.UserID,
	course shared.CourseID,
	now time.Time,
	fn func(a *progress.CourseAssignment) error,
) (*progress.CourseAssignment, error) {
	r.assignmentMu.Lock()
	defer r.assignmentMu.Unlock()

	key := progress.AssignmentKey{UserID: user, CourseID: course}
	a := progress.NewCourseAssignment(user, course, now)
	if current, ok := r.assignments[key]; ok {
		a = cloneAssignment(current)
	}

	if err := fn(a); err != nil {
		return nil, err
	}
	r.assignments[key] = a
	return cloneAssignment(a), nil
}

// GetAssignment returns one assignment.
func (r *ProgressRepository) GetAssignment(_ context.Context, user shared.UserID, course shared.CourseID) (*progress.CourseAssignment, error) {
	r.assignmentMu.Lock()
	defer r.assignmentMu.Unlock()

	a, ok := r.assignments[progress.AssignmentKey{UserID: user, CourseID: course}]
	if !ok {
		return nil, shared.ErrAssignmentNotFound
	}
	return cloneAssignment(a), nil
}

// ListAssignmentKeys pages through assignment keys in (user, course) order.
func (r *ProgressRepository) ListAssignmentKeys(_ context.Context, after progress.AssignmentKey, limit int) ([]progress.AssignmentKey, error) {
	r.assignmentMu.Lock()
	defer r.assignmentMu.Unlock()

	var keys []progress.AssignmentKey
	for k := range r.assignments {
		if keyLess(after, k) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func keyLess(a, b progress.AssignmentKey) bool {
	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}
	return a.CourseID < b.CourseID
}

func cloneContent(p *progress.ContentProgress) *progress.ContentProgress {
	c := *p
	c.CompletedAt = cloneTime(p.CompletedAt)
	if p.TotalDuration != nil {
		v := *p.TotalDuration
		c.TotalDuration = &v
	}
	return &c
}

func cloneAssignment(a *progress.CourseAssignment) *progress.CourseAssignment {
	c := *a
	c.StartedAt = cloneTime(a.StartedAt)
	c.CompletedAt = cloneTime(a.CompletedAt)
	return &c
}
