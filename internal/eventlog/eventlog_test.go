package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAppendsOneJSONLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := Open(path)
	require.NoError(t, err)
	defer sink.Close()

	sink.Record(Event{Kind: KindEpochStarted, EpochID: 1, Direction: "LONG"})
	sink.Record(Event{Kind: KindOrderPlaced, EpochID: 1, LevelID: 3, ClientID: "hg-1-3-0-abcd1234"})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, KindEpochStarted, first.Kind)
	assert.False(t, first.Time.IsZero(), "expected Record to stamp Time")

	var second Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, KindOrderPlaced, second.Kind)
	assert.Equal(t, 3, second.LevelID)
}

func TestNilSinkRecordIsNoOp(t *testing.T) {
	var sink *Sink
	assert.NotPanics(t, func() { sink.Record(Event{Kind: KindOrderFilled}) })
	assert.NoError(t, sink.Close())
}
