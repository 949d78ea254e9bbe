package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

func TestBus_PushIndicesAreContiguous(t *testing.T) {
	bus := New()
	bus.Init("s1")

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := bus.Push("s1", LevelInfo, fmt.Sprintf("w%d-%d", w, i)); err != nil {
					t.Errorf("Push failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	evts, _, err := bus.Snapshot("s1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(evts) != writers*perWriter {
		t.Fatalf("len(events) = %d, want %d", len(evts), writers*perWriter)
	}
	for i, e := range evts {
		if e.Index != i {
			t.Fatalf("events[%d].Index = %d, want %d", i, e.Index, i)
		}
	}
}

func TestBus_UnknownSession(t *testing.T) {
	bus := New()

	if _, err := bus.Push("missing", LevelInfo, "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Push error = %v, want ErrSessionNotFound", err)
	}
	if err := bus.SetStatus("missing", StatusDone); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SetStatus error = %v, want ErrSessionNotFound", err)
	}
	if got := bus.Status("missing"); got != StatusUnknown {
		t.Errorf("Status = %q, want %q", got, StatusUnknown)
	}
	if _, err := bus.Stream("missing", 0); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Stream error = %v, want ErrSessionNotFound", err)
	}
	if _, err := bus.TryBegin("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("TryBegin error = %v, want ErrSessionNotFound", err)
	}
}

func TestBus_InitIsIdempotent(t *testing.T) {
	bus := New()
	bus.Init("s1")
	bus.Push("s1", LevelInfo, "first")
	bus.Init("s1")

	evts, status, _ := bus.Snapshot("s1")
	if len(evts) != 1 {
		t.Errorf("len(events) = %d, want 1", len(evts))
	}
	if status != StatusCreated {
		t.Errorf("status = %q, want %q", status, StatusCreated)
	}
}

func TestBus_TryBeginAllowsOneRunner(t *testing.T) {
	bus := New()
	bus.Init("s1")

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := bus.TryBegin("s1")
			if err != nil {
				t.Errorf("TryBegin failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
	if got := bus.Status("s1"); got != StatusRunning {
		t.Errorf("Status = %q, want %q", got, StatusRunning)
	}

	// A finished run can be started again.
	bus.SetStatus("s1", StatusDone)
	ok, _ := bus.TryBegin("s1")
	if !ok {
		t.Error("TryBegin after done = false, want true")
	}
}

func TestBus_PushFlattensNewlines(t *testing.T) {
	bus := New()
	bus.Init("s1")

	evt, err := bus.Push("s1", LevelError, "line one\r\nline two\nthree")
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if evt.Message != "line one line two three" {
		t.Errorf("Message = %q", evt.Message)
	}
}

func TestBus_SweepSkipsRunningSessions(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	bus := New(
		WithClock(func() time.Time { return base }),
		WithEvictionPolicy(IdleTTL(time.Hour)),
	)
	bus.Init("idle")
	bus.Init("busy")
	bus.Init("fresh")
	bus.TryBegin("busy")

	evicted := bus.Sweep(base.Add(30 * time.Minute))
	if len(evicted) != 0 {
		t.Fatalf("evicted early: %v", evicted)
	}

	evicted = bus.Sweep(base.Add(2 * time.Hour))
	got := map[string]bool{}
	for _, id := range evicted {
		got[id] = true
	}
	if !got["idle"] || !got["fresh"] || got["busy"] {
		t.Errorf("evicted = %v, want idle and fresh only", evicted)
	}
	if !bus.Has("busy") {
		t.Error("running session was evicted")
	}
	if bus.Has("idle") {
		t.Error("idle session still registered")
	}
}

func TestIdleTTL_NonPositiveNeverExpires(t *testing.T) {
	policy := IdleTTL(0)
	info := SessionInfo{LastActivity: time.Unix(0, 0)}
	if policy.Expired(info, time.Now()) {
		t.Error("IdleTTL(0) expired a session")
	}
}

// collect drains a stream until it ends, returning the encoded frames.
func collect(t *testing.T, s *Stream) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out []string
	for {
		f, err := s.Next(ctx)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		var buf bytes.Buffer
		if _, err := f.WriteTo(&buf); err != nil {
			t.Fatalf("WriteTo failed: %v", err)
		}
		out = append(out, buf.String())
	}
}

func TestStream_ReplayThenStatus(t *testing.T) {
	bus := New(WithPingInterval(time.Hour))
	bus.Init("s1")
	for i := 0; i < 3; i++ {
		bus.Push("s1", LevelInfo, fmt.Sprintf("msg %d", i))
	}
	bus.SetStatus("s1", StatusDone)

	s, err := bus.Stream("s1", 0)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	frames := collect(t, s)

	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4: %q", len(frames), frames)
	}
	if frames[3] != "id: 3\ndata: status|done\n\n" {
		t.Errorf("status frame = %q", frames[3])
	}
	if !bytes.HasPrefix([]byte(frames[0]), []byte("id: 0\ndata: ")) {
		t.Errorf("first frame = %q", frames[0])
	}

	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Errorf("Next after status = %v, want io.EOF", err)
	}
}

func TestStream_ResumeMatchesFreshTail(t *testing.T) {
	bus := New(WithPingInterval(time.Hour))
	bus.Init("s1")
	for i := 0; i < 10; i++ {
		bus.Push("s1", LevelWarning, fmt.Sprintf("event %d", i))
	}
	bus.SetStatus("s1", StatusError)

	fresh, _ := bus.Stream("s1", -1)
	all := collect(t, fresh)

	for k := 0; k < 10; k++ {
		resumed, _ := bus.Stream("s1", k+1)
		tail := collect(t, resumed)

		want := all[k+1:]
		if len(tail) != len(want) {
			t.Fatalf("resume at %d: got %d frames, want %d", k, len(tail), len(want))
		}
		for i := range want {
			if tail[i] != want[i] {
				t.Errorf("resume at %d frame %d = %q, want %q", k, i, tail[i], want[i])
			}
		}
	}
}

func TestStream_FollowsLiveEvents(t *testing.T) {
	bus := New(WithPingInterval(time.Hour))
	bus.Init("s1")

	s, _ := bus.Stream("s1", 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		bus.Push("s1", LevelInfo, "late")
		time.Sleep(20 * time.Millisecond)
		bus.SetStatus("s1", StatusDone)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if f.Kind != FrameEvent || f.Event.Message != "late" {
		t.Errorf("frame = %+v, want event 'late'", f)
	}

	f, err = s.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if f.Kind != FrameStatus || f.Status != StatusDone || f.ID != 1 {
		t.Errorf("frame = %+v, want status done id 1", f)
	}
}

func TestStream_PingsWhileIdle(t *testing.T) {
	bus := New(WithPingInterval(10 * time.Millisecond))
	bus.Init("s1")

	s, _ := bus.Stream("s1", 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if f.Kind != FramePing {
		t.Fatalf("Kind = %v, want FramePing", f.Kind)
	}

	var buf bytes.Buffer
	f.WriteTo(&buf)
	if buf.String() != ": ping\n\n" {
		t.Errorf("ping frame = %q", buf.String())
	}
	if s.Cursor() != 0 {
		t.Errorf("Cursor = %d, want 0", s.Cursor())
	}
}

func TestStream_ContextCancel(t *testing.T) {
	bus := New(WithPingInterval(time.Hour))
	bus.Init("s1")
	s, _ := bus.Stream("s1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next error = %v, want context.Canceled", err)
	}
}

func TestStream_SessionRemoved(t *testing.T) {
	bus := New(WithPingInterval(time.Hour))
	bus.Init("s1")
	s, _ := bus.Stream("s1", 0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		bus.Remove("s1")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := s.Next(ctx); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Next error = %v, want ErrSessionNotFound", err)
	}
}

func TestStream_IndependentCursors(t *testing.T) {
	bus := New(WithPingInterval(time.Hour))
	bus.Init("s1")
	bus.Push("s1", LevelInfo, "a")
	bus.Push("s1", LevelInfo, "b")
	bus.SetStatus("s1", StatusDone)

	first, _ := bus.Stream("s1", 0)
	second, _ := bus.Stream("s1", 0)

	ctx := context.Background()
	first.Next(ctx)
	first.Next(ctx)

	f, err := second.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if f.Event.Index != 0 {
		t.Errorf("second stream started at %d, want 0", f.Event.Index)
	}
}

func TestFrame_WriteToEvent(t *testing.T) {
	f := Frame{
		Kind: FrameEvent,
		Event: Event{
			Index:   7,
			Time:    time.Unix(1700000000, 500000000),
			Level:   LevelSuccess,
			Message: "Finalizado report.csv",
		},
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	want := "id: 7\ndata: 1700000000.500000|success|Finalizado report.csv\n\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
