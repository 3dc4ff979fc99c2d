package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/checks"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/storage"
	"fleetpilot-backend/internal/tasks"
)

func TestFetchSizer(t *testing.T) {
	s := newFetchSizer(64, 8, 512)

	for i := 0; i < 3; i++ {
		s.observe(64)
	}
	assert.Equal(t, 128, s.size)

	for i := 0; i < 3; i++ {
		s.observe(0)
	}
	assert.Equal(t, 64, s.size)

	s.observe(10)
	s.observe(0)
	s.observe(0)
	assert.Equal(t, 64, s.size)

	small := newFetchSizer(8, 8, 512)
	for i := 0; i < 6; i++ {
		small.observe(0)
	}
	assert.Equal(t, 8, small.size)

	big := newFetchSizer(512, 8, 512)
	for i := 0; i < 6; i++ {
		big.observe(512)
	}
	assert.Equal(t, 512, big.size)
}

func TestAgentFromSubject(t *testing.T) {
	assert.Equal(t, "a1", agentFromSubject("fleet.a1.checks"))
	assert.Equal(t, "", agentFromSubject("fleet.checks"))
	assert.Equal(t, "", agentFromSubject("fleet.a.b.c"))
}

type fakeChecks struct {
	got []models.CheckResultPayload
	err error
}

func (f *fakeChecks) Ingest(_ context.Context, p models.CheckResultPayload) (checks.Outcome, error) {
	f.got = append(f.got, p)
	return checks.Outcome{}, f.err
}

func TestCheckConsumerHandle(t *testing.T) {
	svc := &fakeChecks{}
	c := &CheckConsumer{checks: svc}

	data, err := msgpack.Marshal(&models.CheckResultPayload{ID: 5, Retcode: 1})
	require.NoError(t, err)
	require.NoError(t, c.handle(context.Background(), "fleet.agent-9.checks", data))
	require.Len(t, svc.got, 1)
	assert.Equal(t, "agent-9", svc.got[0].AgentID)

	var p poisonError
	err = c.handle(context.Background(), "fleet.agent-9.checks", []byte{0xc1})
	assert.True(t, errors.As(err, &p))

	svc.err = errors.New("db down")
	err = c.handle(context.Background(), "fleet.agent-9.checks", data)
	assert.Error(t, err)
	assert.False(t, errors.As(err, &p))
}

type fakeRuns struct{ got []models.TaskRunPayload }

func (f *fakeRuns) IngestRun(_ context.Context, run models.TaskRunPayload) error {
	f.got = append(f.got, run)
	return nil
}

func TestTaskRunConsumerHandle(t *testing.T) {
	svc := &fakeRuns{}
	c := &TaskRunConsumer{tasks: svc}

	data, err := msgpack.Marshal(&models.TaskRunPayload{ID: 3, AgentID: "explicit", Retcode: 2})
	require.NoError(t, err)
	require.NoError(t, c.handle(context.Background(), "fleet.other.taskruns", data))
	require.Len(t, svc.got, 1)
	assert.Equal(t, "explicit", svc.got[0].AgentID)
	assert.Equal(t, 2, svc.got[0].Retcode)

	data, err = msgpack.Marshal(&models.TaskRunPayload{ID: 3})
	require.NoError(t, err)
	var p poisonError
	assert.True(t, errors.As(c.handle(context.Background(), "bad", data), &p))
}

type fakeScope struct{}

func (fakeScope) ListAgentIDs(context.Context) ([]int64, error) { return []int64{1, 2, 3, 4}, nil }
func (fakeScope) AgentIDsForSite(_ context.Context, id int64) ([]int64, error) {
	return []int64{id * 10}, nil
}
func (fakeScope) AgentIDsForClient(_ context.Context, id int64) ([]int64, error) {
	return []int64{id * 100}, nil
}
func (fakeScope) AgentIDsForPolicy(_ context.Context, id int64) ([]int64, error) {
	return []int64{id * 1000, id*1000 + 1}, nil
}

type fakeRefresher struct{ ids []int64 }

func (f *fakeRefresher) RefreshMany(_ context.Context, ids []int64) int {
	f.ids = append(f.ids, ids...)
	return len(ids)
}

type fakeReplanner struct {
	ids  []int64
	fail map[int64]error
}

func (f *fakeReplanner) Replan(_ context.Context, id int64) (tasks.Changes, error) {
	f.ids = append(f.ids, id)
	return tasks.Changes{}, f.fail[id]
}

func int64p(v int64) *int64 { return &v }

func TestChangeConsumerApply(t *testing.T) {
	tests := []struct {
		name      string
		ev        models.ChangeEvent
		refreshed []int64
		replanned []int64
	}{
		{"site template", models.ChangeEvent{Kind: models.ChangeTemplateAssignment, SiteID: int64p(2)}, []int64{20}, nil},
		{"core template", models.ChangeEvent{Kind: models.ChangeTemplateAssignment}, []int64{1, 2, 3, 4}, nil},
		{"exclusions", models.ChangeEvent{Kind: models.ChangeTemplateExclusions, TemplateID: int64p(9)}, []int64{1, 2, 3, 4}, nil},
		{"client policy", models.ChangeEvent{Kind: models.ChangePolicyAssignment, ClientID: int64p(3)}, []int64{300}, []int64{300}},
		{"monitoring type", models.ChangeEvent{Kind: models.ChangeMonitoringType, AgentID: int64p(7)}, []int64{7}, []int64{7}},
		{"policy tasks", models.ChangeEvent{Kind: models.ChangePolicyTasks, PolicyID: int64p(5)}, nil, []int64{5000, 5001}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := &fakeRefresher{}
			rep := &fakeReplanner{}
			c := &ChangeConsumer{scope: fakeScope{}, templates: ref, tasks: rep}

			require.NoError(t, c.Apply(context.Background(), tt.ev))
			assert.Equal(t, tt.refreshed, ref.ids)
			assert.Equal(t, tt.replanned, rep.ids)
		})
	}
}

func TestChangeConsumerApply_ReplanErrorsAreIsolated(t *testing.T) {
	rep := &fakeReplanner{fail: map[int64]error{5000: storage.ErrAgentNotFound}}
	c := &ChangeConsumer{scope: fakeScope{}, templates: &fakeRefresher{}, tasks: rep}

	require.NoError(t, c.Apply(context.Background(), models.ChangeEvent{Kind: models.ChangePolicyTasks, PolicyID: int64p(5)}))
	assert.Equal(t, []int64{5000, 5001}, rep.ids)
}

func TestChangeConsumerHandle_UnknownKind(t *testing.T) {
	c := &ChangeConsumer{scope: fakeScope{}, templates: &fakeRefresher{}, tasks: &fakeReplanner{}}
	data, err := msgpack.Marshal(&models.ChangeEvent{Kind: "bogus"})
	require.NoError(t, err)

	var p poisonError
	assert.True(t, errors.As(c.handle(context.Background(), "fleetpilot.changes.bogus", data), &p))
}

type fakeHeartbeats struct {
	agent     *models.Agent
	mtChanged bool
	err       error
	touched   []models.Heartbeat
}

func (f *fakeHeartbeats) TouchAgent(_ context.Context, _ string, hb models.Heartbeat, at time.Time) (*models.Agent, bool, error) {
	f.touched = append(f.touched, hb)
	if f.err != nil {
		return nil, false, f.err
	}
	a := *f.agent
	a.LastSeen = &at
	return &a, f.mtChanged, nil
}

type fakeResolver struct{ subjects []alerts.Subject }

func (f *fakeResolver) HandleResolve(_ context.Context, s alerts.Subject) error {
	f.subjects = append(f.subjects, s)
	return nil
}

type fakeLastSeen struct {
	ttl time.Duration
	n   int
}

func (f *fakeLastSeen) SetLastSeen(_ context.Context, _ string, _ time.Time, ttl time.Duration) error {
	f.ttl = ttl
	f.n++
	return nil
}

type fakePublisher struct{ events []models.ChangeEvent }

func (f *fakePublisher) Publish(_ context.Context, ev models.ChangeEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func TestHeartbeat(t *testing.T) {
	store := &fakeHeartbeats{agent: &models.Agent{ID: 4, AgentID: "a4", OverdueTime: 10}, mtChanged: true}
	res := &fakeResolver{}
	cache := &fakeLastSeen{}
	pub := &fakePublisher{}
	w := NewKVWatcher(nil, store, res, cache, pub)

	data, err := msgpack.Marshal(&models.Heartbeat{V: 1, AgentID: "a4", Hostname: "web-1", MonitoringType: models.MonitoringServer})
	require.NoError(t, err)
	require.NoError(t, w.Heartbeat(context.Background(), "a4", data))

	require.Len(t, store.touched, 1)
	assert.Equal(t, "web-1", store.touched[0].Hostname)
	require.Len(t, res.subjects, 1)
	assert.Equal(t, models.AlertAvailability, res.subjects[0].Type)
	assert.Equal(t, 10*time.Minute+5*time.Second, cache.ttl)
	require.Len(t, pub.events, 1)
	assert.Equal(t, models.ChangeMonitoringType, pub.events[0].Kind)
	assert.Equal(t, int64(4), *pub.events[0].AgentID)
}

func TestHeartbeat_UnknownAgent(t *testing.T) {
	store := &fakeHeartbeats{err: storage.ErrAgentNotFound}
	res := &fakeResolver{}
	cache := &fakeLastSeen{}
	w := NewKVWatcher(nil, store, res, cache, &fakePublisher{})

	data, err := msgpack.Marshal(&models.Heartbeat{AgentID: "ghost"})
	require.NoError(t, err)
	require.NoError(t, w.Heartbeat(context.Background(), "ghost", data))
	assert.Empty(t, res.subjects)
	assert.Zero(t, cache.n)
}

func TestLastSeenTTL_Default(t *testing.T) {
	assert.Equal(t, 30*time.Minute+5*time.Second, lastSeenTTL(&models.Agent{}))
}
