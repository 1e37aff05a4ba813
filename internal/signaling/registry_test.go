package signaling

import (
	"errors"
	"strings"
	"testing"
)

type fakeConn struct {
	enqueueErr error
	sent       []*Envelope
	killed     bool
}

func (c *fakeConn) Enqueue(env *Envelope) error {
	if c.enqueueErr != nil {
		return c.enqueueErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Kill() { c.killed = true }

func TestRegistry_RegisterAssignsUniqueIDs(t *testing.T) {
	r := NewRegistry(0)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess, err := r.Register(&fakeConn{})
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		if sess.ID == "" {
			t.Fatalf("empty id")
		}
		if seen[sess.ID] {
			t.Fatalf("duplicate id %q", sess.ID)
		}
		seen[sess.ID] = true
	}
	if r.Len() != 100 {
		t.Fatalf("Len = %d, want 100", r.Len())
	}
}

func TestRegistry_PlaceholderName(t *testing.T) {
	r := NewRegistry(0)
	sess, err := r.Register(&fakeConn{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.HasPrefix(sess.DisplayName, "guest-") {
		t.Fatalf("DisplayName = %q, want guest- placeholder", sess.DisplayName)
	}
	if sess.Identified {
		t.Fatalf("fresh session must not be identified")
	}
}

func TestRegistry_MaxClients(t *testing.T) {
	r := NewRegistry(2)

	if _, err := r.Register(&fakeConn{}); err != nil {
		t.Fatalf("register 1: %v", err)
	}
	sess2, err := r.Register(&fakeConn{})
	if err != nil {
		t.Fatalf("register 2: %v", err)
	}
	if _, err := r.Register(&fakeConn{}); !errors.Is(err, ErrRelayFull) {
		t.Fatalf("err = %v, want ErrRelayFull", err)
	}

	// Capacity frees up on unregister.
	r.Unregister(sess2.ID)
	if _, err := r.Register(&fakeConn{}); err != nil {
		t.Fatalf("register after unregister: %v", err)
	}
}

func TestRegistry_SetNameIdentifies(t *testing.T) {
	r := NewRegistry(0)
	sess, _ := r.Register(&fakeConn{})

	if !r.SetName(sess.ID, "Ada") {
		t.Fatalf("SetName on live id should succeed")
	}
	if sess.DisplayName != "Ada" || !sess.Identified {
		t.Fatalf("session = %+v, want Ada/identified", sess)
	}

	// Last write wins on re-announcement.
	r.SetName(sess.ID, "Grace")
	if sess.DisplayName != "Grace" {
		t.Fatalf("DisplayName = %q, want Grace", sess.DisplayName)
	}
}

func TestRegistry_SetNameOnAbsentIDIsNoop(t *testing.T) {
	r := NewRegistry(0)
	if r.SetName("ghost", "Ada") {
		t.Fatalf("SetName on absent id must report false")
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := NewRegistry(0)
	sess, _ := r.Register(&fakeConn{})

	if got := r.Unregister(sess.ID); got != sess {
		t.Fatalf("first Unregister returned %v", got)
	}
	if got := r.Unregister(sess.ID); got != nil {
		t.Fatalf("second Unregister returned %v, want nil", got)
	}
	if got := r.Unregister("never-existed"); got != nil {
		t.Fatalf("Unregister of unknown id returned %v, want nil", got)
	}
}

func TestRegistry_SnapshotOnlyIdentifiedInOrder(t *testing.T) {
	r := NewRegistry(0)
	s1, _ := r.Register(&fakeConn{})
	s2, _ := r.Register(&fakeConn{})
	s3, _ := r.Register(&fakeConn{})

	if got := r.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot before any join = %v, want empty", got)
	}

	r.SetName(s3.ID, "Carol")
	r.SetName(s1.ID, "Ada")

	got := r.Snapshot()
	want := []UserInfo{{ID: s1.ID, Name: "Ada"}, {ID: s3.ID, Name: "Carol"}}
	if len(got) != len(want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	r.Unregister(s1.ID)
	got = r.Snapshot()
	if len(got) != 1 || got[0].ID != s3.ID {
		t.Fatalf("snapshot after unregister = %v, want only %s", got, s3.ID)
	}
	_ = s2
}

func TestRegistry_SnapshotReflectsCallTimeState(t *testing.T) {
	r := NewRegistry(0)
	s1, _ := r.Register(&fakeConn{})
	r.SetName(s1.ID, "Ada")

	first := r.Snapshot()
	r.SetName(s1.ID, "Grace")
	second := r.Snapshot()

	if first[0].Name != "Ada" {
		t.Fatalf("earlier snapshot mutated: %v", first)
	}
	if second[0].Name != "Grace" {
		t.Fatalf("second snapshot = %v, want Grace", second)
	}
}
