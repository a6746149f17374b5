package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicockpit/cockpit/internal/notification"
)

type scanTask struct {
	OpenTask
	done bool
}

type memRepo struct {
	rules    []DeadlineRule
	tasks    []scanTask
	rulesErr error
}

func (m *memRepo) DeadlineRules(context.Context) ([]DeadlineRule, error) {
	return m.rules, m.rulesErr
}

func (m *memRepo) TasksDueBetween(_ context.Context, ownerID string, from, to time.Time) ([]OpenTask, error) {
	var out []OpenTask
	for _, t := range m.tasks {
		if !t.done && t.OwnerID == ownerID && !t.DueDate.Before(from) && t.DueDate.Before(to) {
			out = append(out, t.OpenTask)
		}
	}
	return out, nil
}

func (m *memRepo) OverdueTasks(_ context.Context, before time.Time) ([]OpenTask, error) {
	var out []OpenTask
	for _, t := range m.tasks {
		if !t.done && t.DueDate.Before(before) {
			out = append(out, t.OpenTask)
		}
	}
	return out, nil
}

func (m *memRepo) add(owner, title string, due time.Time) string {
	id := uuid.NewString()
	m.tasks = append(m.tasks, scanTask{OpenTask: OpenTask{ID: id, Title: title, OwnerID: owner, DueDate: due}})
	return id
}

// memNotes mimics the partial unique index on unread notifications.
type memNotes struct {
	mu     sync.Mutex
	rows   []*notification.Notification
	failOn string
}

func (m *memNotes) InsertIfAbsent(_ context.Context, in notification.NewNotification) (*notification.Notification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.TaskID == m.failOn {
		return nil, false, errors.New("insert failed")
	}
	for _, n := range m.rows {
		if n.UserID == in.UserID && n.TaskID == in.TaskID && n.Type == in.Type && !n.IsRead {
			return nil, false, nil
		}
	}
	n := &notification.Notification{
		ID: uuid.NewString(), UserID: in.UserID, TaskID: in.TaskID, Type: in.Type,
		Title: in.Title, Message: in.Message,
	}
	m.rows = append(m.rows, n)
	return n, true, nil
}

func (m *memNotes) ofType(typ string) []*notification.Notification {
	var out []*notification.Notification
	for _, n := range m.rows {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type sent struct {
	userID, eventType string
}

type fakePublisher struct {
	events []sent
}

func (p *fakePublisher) Send(userID, eventType string, _ any) {
	p.events = append(p.events, sent{userID, eventType})
}

type fakeRecorder struct {
	created map[string]int
	scans   map[string]error
}

func (r *fakeRecorder) RecordNotificationCreated(typ string) {
	r.created[typ]++
}

func (r *fakeRecorder) RecordScan(pass string, _ time.Duration, err error) {
	r.scans[pass] = err
}

type fakeLocker struct {
	held     bool
	released int
}

func (l *fakeLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

// 2026-03-10 09:30 UTC
var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func newScanner(repo *memRepo, notes *memNotes, opts Options) *Scanner {
	s := NewScanner(repo, notes, opts)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestCheckDeadlines_DueTomorrow(t *testing.T) {
	repo := &memRepo{rules: []DeadlineRule{{UserID: "a", AdvanceDays: 1}}}
	tomorrow := repo.add("a", "Board deck", time.Date(2026, 3, 11, 17, 45, 0, 0, time.UTC))
	repo.add("a", "Due today", time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC))
	repo.add("a", "Due later", time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC))
	repo.add("b", "Not mine", time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC))
	notes := &memNotes{}
	s := newScanner(repo, notes, Options{})

	created, err := s.CheckDeadlines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	require.Len(t, notes.rows, 1)
	n := notes.rows[0]
	assert.Equal(t, "a", n.UserID)
	assert.Equal(t, tomorrow, n.TaskID)
	assert.Equal(t, notification.TypeDeadline, n.Type)
	assert.Equal(t, "Task Deadline Approaching", n.Title)
	assert.Equal(t, `Task "Board deck" is due tomorrow`, n.Message)
}

func TestCheckDeadlines_Idempotent(t *testing.T) {
	repo := &memRepo{rules: []DeadlineRule{{UserID: "a", AdvanceDays: 1}}}
	repo.add("a", "Board deck", time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC))
	notes := &memNotes{}
	s := newScanner(repo, notes, Options{})

	first, err := s.CheckDeadlines(context.Background())
	require.NoError(t, err)
	second, err := s.CheckDeadlines(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
	assert.Len(t, notes.rows, 1)

	notes.rows[0].IsRead = true
	third, err := s.CheckDeadlines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, third, "a read notification does not block a new one")
}

func TestCheckDeadlines_AdvanceDays(t *testing.T) {
	repo := &memRepo{rules: []DeadlineRule{
		{UserID: "a", AdvanceDays: 3},
		{UserID: "b", AdvanceDays: 0},
	}}
	repo.add("a", "Offsite", time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC))
	repo.add("b", "Review", time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC))
	repo.tasks = append(repo.tasks, scanTask{
		OpenTask: OpenTask{ID: uuid.NewString(), Title: "Finished", OwnerID: "a", DueDate: time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC)},
		done:     true,
	})
	notes := &memNotes{}
	s := newScanner(repo, notes, Options{})

	created, err := s.CheckDeadlines(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, created)
	assert.Equal(t, `Task "Offsite" is due in 3 days`, notes.rows[0].Message)
	assert.Equal(t, `Task "Review" is due tomorrow`, notes.rows[1].Message, "advance days of zero falls back to one")
}

func TestCheckDeadlines_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	repo := &memRepo{rules: []DeadlineRule{{UserID: "a", AdvanceDays: 1}}}
	// Local today is 2026-03-10 19:30, so local tomorrow is the 11th.
	repo.add("a", "Local tomorrow", time.Date(2026, 3, 11, 1, 0, 0, 0, loc))
	repo.add("a", "UTC tomorrow only", time.Date(2026, 3, 11, 20, 0, 0, 0, time.UTC))
	notes := &memNotes{}
	s := newScanner(repo, notes, Options{Location: loc})

	created, err := s.CheckDeadlines(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, created)
	assert.Contains(t, notes.rows[0].Message, "Local tomorrow")
}

func TestCheckOverdue(t *testing.T) {
	repo := &memRepo{}
	repo.add("a", "Yesterday", time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC))
	repo.add("b", "Two days", time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC))
	repo.add("a", "Earlier today", time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC))
	repo.add("a", "Tomorrow", time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC))
	notes := &memNotes{}
	s := newScanner(repo, notes, Options{})

	created, err := s.CheckOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, created)

	byTitle := map[string]*notification.Notification{}
	for _, n := range notes.rows {
		assert.Equal(t, notification.TypeOverdue, n.Type)
		assert.Equal(t, "Task Overdue", n.Title)
		byTitle[n.Message] = n
	}
	assert.Contains(t, byTitle, `Task "Yesterday" is 1 day overdue`)
	assert.Contains(t, byTitle, `Task "Two days" is 2 days overdue`)
	assert.Contains(t, byTitle, `Task "Earlier today" is 1 day overdue`)
	assert.Equal(t, "b", byTitle[`Task "Two days" is 2 days overdue`].UserID, "addressed to the owner")

	again, err := s.CheckOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestCheckOverdue_StopsAtFirstError(t *testing.T) {
	repo := &memRepo{}
	repo.add("a", "First", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))
	bad := repo.add("a", "Second", time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC))
	repo.add("a", "Third", time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC))
	notes := &memNotes{failOn: bad}
	s := newScanner(repo, notes, Options{})

	created, err := s.CheckOverdue(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, created)
	assert.Len(t, notes.rows, 1, "rows before the failure are kept")
}

func TestRun_PassesAreIndependent(t *testing.T) {
	repo := &memRepo{rulesErr: errors.New("preferences unavailable")}
	repo.add("a", "Late", time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	notes := &memNotes{}
	rec := &fakeRecorder{created: map[string]int{}, scans: map[string]error{}}
	pub := &fakePublisher{}
	s := newScanner(repo, notes, Options{Recorder: rec, Publisher: pub})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Failed())
	assert.Contains(t, report.Errors["deadline"], "preferences unavailable")
	assert.Equal(t, 1, report.OverdueCreated, "overdue pass runs after deadline failure")

	assert.Error(t, rec.scans["deadline"])
	assert.NoError(t, rec.scans["overdue"])
	assert.Equal(t, 1, rec.created[notification.TypeOverdue])
	require.Len(t, pub.events, 1)
	assert.Equal(t, sent{"a", EventNotificationCreated}, pub.events[0])
}

func TestRun_SelectedPass(t *testing.T) {
	repo := &memRepo{rules: []DeadlineRule{{UserID: "a", AdvanceDays: 1}}}
	repo.add("a", "Tomorrow", time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC))
	repo.add("a", "Late", time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	notes := &memNotes{}
	s := newScanner(repo, notes, Options{})

	report, err := s.Run(context.Background(), PassOverdue)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DeadlineCreated)
	assert.Equal(t, 1, report.OverdueCreated)
	assert.Empty(t, notes.ofType(notification.TypeDeadline))
}

func TestRun_Lock(t *testing.T) {
	repo := &memRepo{}
	locker := &fakeLocker{}
	s := newScanner(repo, &memNotes{}, Options{Locker: locker})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)

	locker.held = true
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)
}

func TestDaysOverdue(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		due  time.Time
		want int
	}{
		{time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), 1},
		{time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC), 1},
		{time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), 10},
	}
	for _, tt := range tests {
		if got := DaysOverdue(tt.due, today); got != tt.want {
			t.Errorf("DaysOverdue(%v) = %d, want %d", tt.due, got, tt.want)
		}
	}
}

func TestMessages(t *testing.T) {
	assert.Equal(t, `Task "X" is due tomorrow`, DeadlineMessage("X", 1))
	assert.Equal(t, `Task "X" is due in 7 days`, DeadlineMessage("X", 7))
	assert.Equal(t, `Task "X" is 1 day overdue`, OverdueMessage("X", 1))
	assert.Equal(t, `Task "X" is 2 days overdue`, OverdueMessage("X", 2))
}

func TestParsePass(t *testing.T) {
	p, err := ParsePass("overdue")
	require.NoError(t, err)
	assert.Equal(t, PassOverdue, p)

	_, err = ParsePass("weekly")
	assert.Error(t, err)
}

func TestReport_FailedPasses(t *testing.T) {
	r := &Report{}
	assert.False(t, r.Failed())
	assert.Empty(t, r.FailedPasses())

	r.Errors = map[string]string{"overdue": "boom", "deadline": "bang"}
	assert.True(t, r.Failed())
	assert.Equal(t, []string{"deadline", "overdue"}, r.FailedPasses())
}
