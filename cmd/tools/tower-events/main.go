package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/voxel-tower/internal/eventbus"
)

const (
	defaultNatsURL = "nats://localhost:4222"
	timeFormat     = "2006-01-02T15:04:05Z"
)

func main() {
	var (
		natsURL = flag.String("url", defaultNatsURL, "NATS server URL")
		stream  = flag.String("stream", eventbus.DefaultConfig().Stream, "JetStream stream name")
		command = flag.String("cmd", "tail", "Command: tail, stats")
		types   = flag.String("types", eventbus.EventBlockPlaced, "Event types filter (comma-separated)")
		sources = flag.String("sources", "", "Source server IDs filter (comma-separated)")
		since   = flag.String("since", "1h", "Time duration since now (e.g., 1h, 30m)")
		limit   = flag.Int("limit", 100, "Maximum number of events")
		follow  = flag.Bool("follow", false, "Follow new events (like tail -f)")
		idle    = flag.Duration("idle", 2*time.Second, "Stop after this long without events (stats, tail without -follow)")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, 24*time.Hour)
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	from, err := parseSinceTime(*since, time.Now())
	if err != nil {
		log.Fatalf("❌ Invalid since: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filter := eventbus.Filter{
		Types:   parseStringList(*types),
		Sources: parseStringList(*sources),
	}

	switch *command {
	case "tail":
		if err := tailEvents(ctx, bus, filter, from, *limit, *follow, *idle); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}
	case "stats":
		if err := showStats(ctx, bus, filter, from, *idle); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats")
		os.Exit(1)
	}
}

// collect подписывается на шину и передаёт в fn события не старше from.
// Возвращается, когда fn вернул false, пришёл сигнал или, без follow,
// событий не было дольше idle.
func collect(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, from time.Time, follow bool, idle time.Duration, fn func(*eventbus.Envelope) bool) error {
	var (
		mu   sync.Mutex
		done bool
	)
	activity := make(chan struct{}, 1)
	finished := make(chan struct{})

	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		if ev.Timestamp.Before(from) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		if !fn(ev) {
			done = true
			close(finished)
			return
		}
		select {
		case activity <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-finished:
			return nil
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			if !follow {
				return nil
			}
			timer.Reset(idle)
		}
	}
}

// tailEvents выводит события в реальном времени
func tailEvents(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, from time.Time, limit int, follow bool, idle time.Duration) error {
	fmt.Printf("🎬 Tailing events since %s (limit: %d, follow: %v)\n", from.UTC().Format(timeFormat), limit, follow)

	count := 0
	err := collect(ctx, bus, filter, from, follow, idle, func(ev *eventbus.Envelope) bool {
		printEvent(ev)
		count++
		return follow || count < limit
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n📊 Total events: %d\n", count)
	return nil
}

// showStats считает события по типу и источнику
func showStats(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, from time.Time, idle time.Duration) error {
	fmt.Println("📊 Event statistics")

	byType := make(map[string]int)
	bySource := make(map[string]int)
	total := 0
	var top *int

	err := collect(ctx, bus, filter, from, false, idle, func(ev *eventbus.Envelope) bool {
		total++
		byType[ev.EventType]++
		bySource[ev.Source]++
		if pos, err := eventbus.DecodeBlockPlaced(ev); err == nil && (top == nil || pos.Y > *top) {
			y := pos.Y
			top = &y
		}
		return true
	})
	if err != nil {
		return err
	}

	fmt.Printf("Period: %s - %s\n", from.UTC().Format(timeFormat), time.Now().UTC().Format(timeFormat))
	fmt.Printf("Total events: %d\n", total)
	printCounts("By event type", byType)
	printCounts("By source", bySource)
	if top != nil {
		fmt.Printf("\nHighest placed block: y=%d\n", *top)
	}
	return nil
}

func printCounts(title string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %s: %d events\n", k, counts[k])
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n",
		ev.Timestamp.Format("15:04:05"),
		ev.Source,
		ev.EventType,
		ev.ID)

	if pos, err := eventbus.DecodeBlockPlaced(ev); err == nil {
		fmt.Printf("  Block: (%d,%d,%d) Client: %s\n", pos.X, pos.Y, pos.Z, ev.CorrelationID)
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m"
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}

	duration, err := time.ParseDuration(since)
	if err != nil {
		// Пробуем парсить как абсолютное время
		return time.Parse(timeFormat, since)
	}

	return from.Add(-duration), nil
}
