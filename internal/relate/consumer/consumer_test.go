package consumer

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
)

type fakeRebuilder struct {
	triggers atomic.Int64
}

func (f *fakeRebuilder) TriggerRebuild() {
	f.triggers.Add(1)
}

func TestHandleMessageTriggersRebuild(t *testing.T) {
	rebuilder := &fakeRebuilder{}
	handle := HandleMessage(rebuilder)

	event := catalog.EntryEvent{
		EntryID:   "gitea",
		Name:      "Gitea",
		Timestamp: time.Now().Unix(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}

	if err := handle(context.Background(), []byte("gitea"), value); err != nil {
		t.Fatalf("handle returned error: %v", err)
	}
	if got := rebuilder.triggers.Load(); got != 1 {
		t.Fatalf("triggers = %d, want 1", got)
	}
}

func TestHandleMessageDropsUndecodableEvents(t *testing.T) {
	rebuilder := &fakeRebuilder{}
	handle := HandleMessage(rebuilder)

	if err := handle(context.Background(), []byte("k"), []byte("{not json")); err != nil {
		t.Fatalf("undecodable message should be dropped, got error: %v", err)
	}
	if got := rebuilder.triggers.Load(); got != 0 {
		t.Fatalf("triggers = %d, want 0", got)
	}
}

func TestHandleMessageTriggersOncePerMessage(t *testing.T) {
	rebuilder := &fakeRebuilder{}
	handle := HandleMessage(rebuilder)

	for i := 0; i < 5; i++ {
		event := catalog.EntryEvent{EntryID: "kimai", Name: "Kimai", Timestamp: int64(i)}
		value, _ := json.Marshal(event)
		if err := handle(context.Background(), []byte("kimai"), value); err != nil {
			t.Fatalf("handle returned error: %v", err)
		}
	}
	if got := rebuilder.triggers.Load(); got != 5 {
		t.Fatalf("triggers = %d, want 5", got)
	}
}
