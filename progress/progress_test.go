package progress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dhcgn/spam-report/stats"
)

func feed(t *testing.T, b *Bar, events ...stats.Event) {
	t.Helper()
	ch := make(chan stats.Event, len(events))
	for _, evt := range events {
		ch <- evt
	}
	close(ch)
	if err := b.Subscriber(context.Background(), ch); err != nil {
		t.Fatalf("Subscriber() error = %v", err)
	}
}

func TestBar_CountsFinishedMessages(t *testing.T) {
	var out bytes.Buffer
	b := New(true, &out)

	feed(t, b,
		stats.Event{Type: stats.EventTypeListed, Total: 3},
		stats.Event{Type: stats.EventTypeFetched, MessageID: "1"},
		stats.Event{Type: stats.EventTypeClassified, MessageID: "1", Detail: "Spam"},
		stats.Event{Type: stats.EventTypeFetched, MessageID: "2"},
		stats.Event{Type: stats.EventTypeSkipped, MessageID: "2"},
		stats.Event{Type: stats.EventTypeError, MessageID: "3", Err: errors.New("timeout")},
	)

	if got := b.Done(); got != 3 {
		t.Errorf("Done() = %d, want 3", got)
	}

	b.Stop(stats.Summary{Listed: 3, Classified: 1, Spam: 1, Skipped: 1, Errors: 1})
	text := out.String()
	for _, want := range []string{"Messages in folder: 3", "timeout", "Summary"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestBar_Disabled(t *testing.T) {
	var out bytes.Buffer
	b := New(false, &out)

	feed(t, b,
		stats.Event{Type: stats.EventTypeListed, Total: 1},
		stats.Event{Type: stats.EventTypeClassified, MessageID: "1"},
	)
	b.Stop(stats.Summary{})

	if got := b.Done(); got != 0 {
		t.Errorf("Done() = %d, want 0", got)
	}
	if out.Len() != 0 {
		t.Errorf("disabled bar wrote %q", out.String())
	}
}

func TestBar_EmptyFolder(t *testing.T) {
	var out bytes.Buffer
	b := New(true, &out)

	feed(t, b, stats.Event{Type: stats.EventTypeListed, Total: 0})
	if b.pb != nil {
		t.Error("progress bar started for an empty folder")
	}
	b.Stop(stats.Summary{})
}

func TestBar_SubscriberStopsOnCancel(t *testing.T) {
	b := New(true, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Subscriber(ctx, make(chan stats.Event)); !errors.Is(err, context.Canceled) {
		t.Errorf("Subscriber() error = %v, want context.Canceled", err)
	}
}
