package memory

import (
	"context"
	"testing"

	"github.com/truesight/crawld/internal/crawler"
)

func TestPublisherStoresEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	if err := pub.Publish(context.Background(), crawler.TaskEvent{TaskID: "crawl_1", Repository: "docs"}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := pub.Publish(context.Background(), crawler.TaskEvent{TaskID: "crawl_2", Repository: "news"}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].TaskID != "crawl_1" || events[1].TaskID != "crawl_2" {
		t.Fatalf("events not recorded in order: %+v", events)
	}

	events[0].TaskID = "modified"
	if pub.Events()[0].TaskID == "modified" {
		t.Fatal("expected Events() to return a copy")
	}
}
