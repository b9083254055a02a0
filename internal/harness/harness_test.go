package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopbridge/internal/notify"
)

func dogScenario(name string) *Scenario {
	return &Scenario{
		Name:        name,
		Description: name,
		Classes:     []ClassDef{{Name: "Dog", Properties: []string{"name", "age"}}},
		Setup: []Op{
			{Create: &CreateOp{Class: "Dog", Label: "a", Values: map[string]any{"name": "a"}}},
			{Create: &CreateOp{Class: "Dog", Label: "b", Values: map[string]any{"name": "b"}}},
		},
	}
}

func runScenario(t *testing.T, s *Scenario, opts Options) *Result {
	t.Helper()
	result, err := Run(context.Background(), s, opts)
	require.NoError(t, err)
	return result
}

func TestRun_ObjectListener(t *testing.T) {
	s := dogScenario("object_listener")
	s.Listeners = []ListenerDef{{Name: "a", Object: "a"}}
	s.Steps = []Step{
		{Write: []Op{{Set: &SetOp{Object: "a", Property: "age", Value: 3}}}},
		{Write: []Op{{Set: &SetOp{Object: "b", Property: "age", Value: 3}}}},
		{Write: []Op{{Delete: "a"}}},
	}

	result := runScenario(t, s, Options{})
	require.True(t, result.Pass, result.Errors)
	require.Len(t, result.Deliveries, 2)

	first := result.Deliveries[0]
	assert.Equal(t, "object", first.Kind)
	assert.Equal(t, notify.ObjectChange{
		ModifiedProperties: []notify.PropertyKey{2},
	}, first.Change)
	assert.Equal(t, []string{"age"}, first.Properties)

	deleted := result.Deliveries[1]
	assert.Equal(t, notify.ObjectChange{
		IsDeleted:          true,
		ModifiedProperties: []notify.PropertyKey{},
	}, deleted.Change)
	assert.Empty(t, deleted.Properties)
}

func TestRun_CollectionIndexBase(t *testing.T) {
	tests := []struct {
		name string
		base notify.IndexBase
		want notify.CollectionChange
	}{
		{
			name: "zero",
			base: notify.ZeroBased,
			want: notify.CollectionChange{
				Deletions:        []int{0},
				Insertions:       []int{1},
				ModificationsOld: []int{1},
				ModificationsNew: []int{0},
			},
		},
		{
			name: "one",
			base: notify.OneBased,
			want: notify.CollectionChange{
				Deletions:        []int{1},
				Insertions:       []int{2},
				ModificationsOld: []int{2},
				ModificationsNew: []int{1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := dogScenario("collection_" + tt.name)
			s.Listeners = []ListenerDef{{Name: "dogs", Results: "Dog"}}
			s.Steps = []Step{{Write: []Op{
				{Delete: "a"},
				{Set: &SetOp{Object: "b", Property: "age", Value: 5}},
				{Create: &CreateOp{Class: "Dog", Values: map[string]any{"name": "c"}}},
			}}}

			result := runScenario(t, s, Options{IndexBase: tt.base})
			require.Len(t, result.Deliveries, 1)
			assert.Equal(t, tt.base.String(), result.IndexBase)
			assert.Equal(t, tt.want, result.Deliveries[0].Change)
		})
	}
}

func TestRun_ScenarioIndexBaseOverridesOptions(t *testing.T) {
	s := dogScenario("override")
	s.IndexBase = "one"
	s.Listeners = []ListenerDef{{Name: "dogs", Results: "Dog"}}
	s.Steps = []Step{{Write: []Op{{Delete: "a"}}}}

	result := runScenario(t, s, Options{IndexBase: notify.ZeroBased})
	require.Len(t, result.Deliveries, 1)
	assert.Equal(t, "one", result.IndexBase)
	assert.Equal(t, []int{1}, result.Deliveries[0].Change.(notify.CollectionChange).Deletions)
}

func TestRun_DeliveriesRunOnLoop(t *testing.T) {
	s := dogScenario("on_loop")
	s.Listeners = []ListenerDef{
		{Name: "dogs", Results: "Dog"},
		{Name: "b", Object: "b"},
	}
	s.Steps = []Step{
		{Write: []Op{{Set: &SetOp{Object: "b", Property: "name", Value: "bee"}}}},
		{Write: []Op{{Create: &CreateOp{Class: "Dog"}}}},
	}

	result := runScenario(t, s, Options{})
	require.Len(t, result.Deliveries, 3)
	for i, d := range result.Deliveries {
		assert.True(t, d.OnLoop, "delivery %d ran off the loop", i)
		assert.Equal(t, int64(i+1), d.Seq)
	}
	// Object observers fire before collection observers for one commit.
	assert.Equal(t, "b", result.Deliveries[0].Listener)
	assert.Equal(t, "dogs", result.Deliveries[1].Listener)
}

func TestRun_ReleaseStopsDelivery(t *testing.T) {
	s := dogScenario("release")
	s.Listeners = []ListenerDef{
		{Name: "dogs", Results: "Dog"},
		{Name: "other", Results: "Dog"},
	}
	s.Steps = []Step{
		{Write: []Op{{Delete: "a"}}},
		{Release: "dogs"},
		{Write: []Op{{Delete: "b"}}},
	}

	result := runScenario(t, s, Options{})
	assert.Len(t, result.ForListener("dogs"), 1)
	assert.Len(t, result.ForListener("other"), 2)
}

func TestRun_FailingListenerIsolated(t *testing.T) {
	s := dogScenario("failing")
	s.Listeners = []ListenerDef{
		{Name: "bad", Results: "Dog", Fail: true},
		{Name: "good", Results: "Dog"},
	}
	s.Steps = []Step{
		{Write: []Op{{Delete: "a"}}},
		{Write: []Op{{Delete: "b"}}},
	}
	s.Assertions = []Assertion{
		{Type: AssertFailed, Count: 2},
		{Type: AssertDeliveryCount, Listener: "good", Count: 2},
	}

	result := runScenario(t, s, Options{})
	assert.True(t, result.Pass, result.Errors)
	assert.Len(t, result.ForListener("bad"), 2)
	assert.Equal(t, uint64(2), result.Stats.Dispatcher.Failed)
	assert.Equal(t, uint64(2), result.Stats.Dispatcher.Delivered)
}

func TestRun_ParallelWritesDeliverInCommitOrder(t *testing.T) {
	s := dogScenario("parallel")
	s.Listeners = []ListenerDef{{Name: "dogs", Results: "Dog"}}

	var batches [][]Op
	for range 8 {
		batches = append(batches, []Op{{Create: &CreateOp{Class: "Dog"}}})
	}
	s.Steps = []Step{{Parallel: batches}}

	result := runScenario(t, s, Options{Workers: 3})
	require.Len(t, result.Deliveries, 8)
	for i, d := range result.Deliveries {
		cc := d.Change.(notify.CollectionChange)
		assert.Equal(t, []int{2 + i}, cc.Insertions, "delivery %d", i)
	}
}

func TestRun_SchedulerClosedAfterRun(t *testing.T) {
	s := dogScenario("closed")
	s.Listeners = []ListenerDef{{Name: "dogs", Results: "Dog"}}
	s.Steps = []Step{{Write: []Op{{Delete: "a"}}}}

	result := runScenario(t, s, Options{})
	assert.True(t, result.Stats.Scheduler.CloseRequested)
	assert.True(t, result.Stats.Scheduler.Closed)
	assert.Zero(t, result.Stats.Scheduler.Pending)
	assert.GreaterOrEqual(t, result.Stats.Scheduler.Executed, uint64(1))
}

func TestRun_AssertionFailureMarksResult(t *testing.T) {
	s := dogScenario("wrong_count")
	s.Listeners = []ListenerDef{{Name: "dogs", Results: "Dog"}}
	s.Steps = []Step{{Write: []Op{{Delete: "a"}}}}
	s.Assertions = []Assertion{{Type: AssertDeliveryCount, Listener: "dogs", Count: 5}}

	result := runScenario(t, s, Options{})
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "5 deliveries to dogs")
}

func TestRun_UnknownLabel(t *testing.T) {
	s := dogScenario("unknown_label")
	s.Steps = []Step{{Write: []Op{{Delete: "ghost"}}}}

	_, err := Run(context.Background(), s, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown object label "ghost"`)
}

func TestRun_BadIndexBase(t *testing.T) {
	s := dogScenario("bad_base")
	s.IndexBase = "two"

	_, err := Run(context.Background(), s, Options{})
	require.ErrorIs(t, err, notify.ErrInvalidIndexBase)
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, dogScenario("canceled"), Options{})
	require.Error(t, err)
}
