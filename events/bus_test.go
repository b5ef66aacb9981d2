package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ystanxx/HEIC2any/state"
)

func TestBus_HandlersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(TypeOverallUpdated, func(Event) {
			order = append(order, i)
		})
	}

	bus.Publish(OverallUpdated{})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestBus_HandlerOnlySeesItsType(t *testing.T) {
	bus := NewBus()

	var jobEvents, overallEvents int
	bus.Subscribe(TypeJobUpdated, func(Event) { jobEvents++ })
	bus.Subscribe(TypeOverallUpdated, func(Event) { overallEvents++ })

	bus.Publish(JobUpdated{Index: 1, Job: state.Job{Status: state.StatusRunning}})
	bus.Publish(JobUpdated{Index: 1, Job: state.Job{Status: state.StatusCompleted}})
	bus.Publish(OverallUpdated{})

	assert.Equal(t, 2, jobEvents)
	assert.Equal(t, 1, overallEvents)
}

func TestBus_PanickingHandlerDoesNotStopPublication(t *testing.T) {
	bus := NewBus()

	var after int
	bus.Subscribe(TypeJobUpdated, func(Event) { panic("boom") })
	bus.Subscribe(TypeJobUpdated, func(Event) { after++ })

	require.NotPanics(t, func() {
		bus.Publish(JobUpdated{})
	})
	assert.Equal(t, 1, after)
}

func TestBus_HandlerMayReenterTheBus(t *testing.T) {
	bus := NewBus()

	var nested bool
	bus.Subscribe(TypeJobUpdated, func(Event) {
		bus.Subscribe(TypeOverallUpdated, func(Event) { nested = true })
		bus.Publish(OverallUpdated{})
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(JobUpdated{})
		close(done)
	}()
	<-done // would deadlock if handlers ran under the bus lock

	assert.True(t, nested)
}

func TestBus_JobUpdatedCarriesSnapshot(t *testing.T) {
	bus := NewBus()

	var got JobUpdated
	bus.Subscribe(TypeJobUpdated, func(e Event) {
		got = e.(JobUpdated)
	})

	job := state.NewJob("a.heic", "out")
	job.Status = state.StatusCompleted
	job.Progress = 100
	bus.Publish(JobUpdated{Index: 7, Job: *job})

	// Mutating the live job after publication must not affect the snapshot.
	job.Status = state.StatusFailed
	job.Error = "later"

	assert.Equal(t, 7, got.Index)
	assert.Equal(t, state.StatusCompleted, got.Job.Status)
	assert.Empty(t, got.Job.Error)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	seen := 0
	bus.Subscribe(TypeOverallUpdated, func(Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(OverallUpdated{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, seen)
}
