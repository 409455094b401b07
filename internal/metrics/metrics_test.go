package metrics

import "testing"

func TestSnapshotReflectsCounterValues(t *testing.T) {
	var c Counters
	c.ConnectionsAccepted.Add(3)
	c.ConnectionsClosed.Add(1)
	c.AuthFailures.Add(2)
	c.AuthSuccesses.Add(5)
	c.MessagesPublished.Add(10)
	c.ChannelQueueDrops.Add(1)
	c.SubscriberQueueDrops.Add(4)
	c.PTYBytesRead.Add(128)
	c.PTYBytesWritten.Add(64)

	got := c.Snapshot()
	want := Snapshot{
		ConnectionsAccepted:  3,
		ConnectionsClosed:    1,
		AuthFailures:         2,
		AuthSuccesses:        5,
		MessagesPublished:    10,
		ChannelQueueDrops:    1,
		SubscriberQueueDrops: 4,
		PTYBytesRead:         128,
		PTYBytesWritten:      64,
	}
	if got != want {
		t.Fatalf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestZeroValueCountersIsUsable(t *testing.T) {
	var c Counters
	c.AuthSuccesses.Add(1)
	if got := c.Snapshot().AuthSuccesses; got != 1 {
		t.Fatalf("AuthSuccesses = %d, want 1", got)
	}
}
