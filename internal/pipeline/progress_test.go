package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDeliversEventsInOrder(t *testing.T) {
	session := NewSession(context.Background(), time.Minute)

	go func() {
		session.Emit(ProgressEvent{Stage: StageParsing})
		session.Emit(ProgressEvent{Stage: StageStructuring, Orders: 1})
		session.Emit(ProgressEvent{Stage: StageComplete, Orders: 1, Items: 2})
		session.Close()
	}()

	var stages []Stage
	for evt := range session.Events() {
		stages = append(stages, evt.Stage)
	}
	assert.Equal(t, []Stage{StageParsing, StageStructuring, StageComplete}, stages)
}

func TestSessionEmitAfterCloseIsDropped(t *testing.T) {
	session := NewSession(context.Background(), time.Minute)
	session.Close()

	// Must not panic or block.
	session.Emit(ProgressEvent{Stage: StageParsing})

	_, open := <-session.Events()
	assert.False(t, open)
}

func TestSessionCancelUnblocksProducer(t *testing.T) {
	session := NewSession(context.Background(), time.Minute)

	// Fill the buffer with no consumer, then cancel; the producer must
	// not stay blocked.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			session.Emit(ProgressEvent{Stage: StageStructuring, Orders: i})
		}
	}()

	time.Sleep(10 * time.Millisecond)
	session.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after cancel")
	}

	require.Error(t, session.Context().Err())
}

func TestSafeEmitSwallowsPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		safeEmit(panickySink{}, ProgressEvent{Stage: StageParsing})
	})
	assert.NotPanics(t, func() {
		safeEmit(nil, ProgressEvent{Stage: StageParsing})
	})
}

type panickySink struct{}

func (panickySink) Emit(ProgressEvent) { panic("sink misbehaved") }
