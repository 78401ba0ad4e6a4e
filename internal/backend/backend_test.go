// ABOUTME: Tests for the backend event contract using the scripted backend
// ABOUTME: Verifies stream termination, turn recording and cancellation

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan *Event) []*Event {
	t.Helper()
	var events []*Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestScripted_ReplaysScriptAndAppendsResult(t *testing.T) {
	b := NewScripted(Script{
		{Kind: KindSystem, Subtype: "init"},
		{Kind: KindAssistant, Blocks: []Block{{Type: BlockText, Text: "hello"}}},
	})

	ch, err := b.Generate(t.Context(), "hi")
	require.NoError(t, err)

	events := drain(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, KindSystem, events[0].Kind)
	assert.Equal(t, KindAssistant, events[1].Kind)
	assert.Equal(t, "hello", events[1].Blocks[0].Text)
	assert.Equal(t, KindResult, events[2].Kind)
	assert.True(t, events[2].Result.Success)
}

func TestScripted_KeepsScriptResult(t *testing.T) {
	b := NewScripted(Script{
		{Kind: KindResult, Result: &Result{Success: false, Error: "boom"}},
	})

	ch, err := b.Generate(t.Context(), "hi")
	require.NoError(t, err)

	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, KindResult, events[0].Kind)
	assert.False(t, events[0].Result.Success)
	assert.Equal(t, "boom", events[0].Result.Error)
}

func TestScripted_RecordsTurnsInOrder(t *testing.T) {
	b := NewScripted()

	for _, turn := range []string{"one", "two", "three"} {
		ch, err := b.Generate(t.Context(), turn)
		require.NoError(t, err)
		drain(t, ch)
	}

	assert.Equal(t, []string{"one", "two", "three"}, b.Turns())
}

func TestScripted_EchoesWhenScriptsExhausted(t *testing.T) {
	b := NewScripted()

	ch, err := b.Generate(t.Context(), "anything")
	require.NoError(t, err)

	events := drain(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, "echo: anything", events[0].Blocks[0].Text)
	assert.Equal(t, KindResult, events[1].Kind)
}

func TestScripted_GenerateAfterCloseFails(t *testing.T) {
	b := NewScripted()
	require.NoError(t, b.Close())

	_, err := b.Generate(t.Context(), "hi")
	assert.ErrorIs(t, err, ErrBackendClosed)
}
