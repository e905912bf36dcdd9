package progress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/spam-report/stats"
)

// Bar tracks per-message progress. It starts once the folder listing is
// known and advances when a message is classified, skipped or fails.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	mu      sync.Mutex
	enabled bool
	started time.Time
	out     io.Writer
}

// New creates a progress bar drawn on w, normally stderr so a table on
// stdout stays clean. A disabled bar ignores every event.
func New(enabled bool, w io.Writer) *Bar {
	return &Bar{enabled: enabled, started: time.Now(), out: w}
}

// Update advances the progress bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeListed:
		b.total += evt.Total
		if b.pb != nil || b.total == 0 {
			return
		}
		pterm.Info.WithWriter(b.out).Printf("Messages in folder: %d\n", b.total)
		pb, err := pterm.DefaultProgressbar.
			WithWriter(b.out).
			WithTotal(b.total).
			WithTitle("Classifying messages").
			WithRemoveWhenDone(false).
			Start()
		if err == nil {
			b.pb = pb
		}
	case stats.EventTypeClassified, stats.EventTypeSkipped:
		b.advance(evt.MessageID)
	case stats.EventTypeError:
		// Errors show above the bar.
		if evt.Err != nil {
			pterm.Error.WithWriter(b.out).Printf("Message %s: %v\n", evt.MessageID, evt.Err)
		}
		if evt.MessageID != "" {
			b.advance(evt.MessageID)
		}
	}
}

func (b *Bar) advance(id string) {
	b.done++
	if b.pb == nil {
		return
	}
	b.pb.Increment()
	if id != "" {
		if len(id) > 40 {
			id = id[:37] + "..."
		}
		b.pb.UpdateTitle("Message " + id)
	}
}

// Done reports how many messages have been accounted for.
func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Stop finalizes the progress bar and prints the run summary.
func (b *Bar) Stop(summary stats.Summary) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb != nil {
		_, _ = b.pb.Stop()
		b.pb = nil
	}

	info := pterm.Info.WithWriter(b.out)
	fmt.Fprintln(b.out)
	pterm.DefaultSection.WithWriter(b.out).Println("Summary")
	info.Printf("Duration: %v\n", time.Since(b.started).Round(time.Millisecond))
	info.Printf("Listed: %d\n", summary.Listed)
	info.Printf("Skipped: %d\n", summary.Skipped)
	info.Printf("Classified: %d (spam: %d)\n", summary.Classified, summary.Spam)
	info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.WithWriter(b.out).Printf("Last error: %v\n", summary.LastError)
	}
}

// Subscriber feeds stream events into the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}
