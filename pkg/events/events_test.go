package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRecordStampsAndRetains(t *testing.T) {
	j := NewJournal()
	j.Record(Entry{Kind: KindDumpStarted})
	j.Record(Entry{Kind: KindDumpCompleted, Table: "db.orders"})

	recent := j.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, KindDumpStarted, recent[0].Kind)
	assert.Equal(t, KindDumpCompleted, recent[1].Kind)
	assert.Equal(t, "db.orders", recent[1].Table)
	assert.False(t, recent[0].At.IsZero(), "Record must stamp a timestamp")
}

func TestJournalRingEvictsOldestFirst(t *testing.T) {
	j := NewJournal()
	for i := 0; i < journalDepth+5; i++ {
		j.Record(Entry{Kind: KindRotate, Detail: fmt.Sprintf("mysql-bin.%06d", i)})
	}

	recent := j.Recent()
	require.Len(t, recent, journalDepth)
	assert.Equal(t, fmt.Sprintf("mysql-bin.%06d", 5), recent[0].Detail)
	assert.Equal(t, fmt.Sprintf("mysql-bin.%06d", journalDepth+4), recent[len(recent)-1].Detail)
}

func TestJournalWatchSeesLiveEntries(t *testing.T) {
	j := NewJournal()
	feed := j.Watch()

	j.Record(Entry{Kind: KindLeaseLost, Detail: "lease lost during renewal"})

	select {
	case e := <-feed:
		assert.Equal(t, KindLeaseLost, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("entry never reached the watcher")
	}
}

func TestJournalWatchReturnsSameChannel(t *testing.T) {
	j := NewJournal()
	assert.Equal(t, j.Watch(), j.Watch())
}

func TestJournalSlowWatcherDoesNotBlockRecord(t *testing.T) {
	j := NewJournal()
	feed := j.Watch()

	// Never drain the feed; Record must keep returning and the ring must
	// keep every entry the channel dropped.
	for i := 0; i < journalDepth*2; i++ {
		j.Record(Entry{Kind: KindUploadBatchDone})
	}

	assert.Len(t, j.Recent(), journalDepth)
	assert.Len(t, feed, journalDepth)
}
