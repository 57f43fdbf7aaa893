package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryJSONRoundTrip(t *testing.T) {
	e := NewEntry("task-1", "https://example.com", "What is this page about?")

	data, err := e.ToJSON()
	require.NoError(t, err)

	parsed, err := EntryFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, parsed.ID)
	assert.Equal(t, e.TaskID, parsed.TaskID)
	assert.Equal(t, e.URL, parsed.URL)
	assert.Equal(t, e.Question, parsed.Question)
}

func TestEntryFromJSON_Malformed(t *testing.T) {
	_, err := EntryFromJSON("not json")
	assert.Error(t, err)

	_, err = EntryFromJSON(`{"id":"x"}`)
	assert.ErrorIs(t, err, ErrMalformedEntry)

	_, err = EntryFromJSON(`{"task_id":"t","url":"https://example.com","question":"q"}`)
	assert.ErrorIs(t, err, ErrMalformedEntry)
}
