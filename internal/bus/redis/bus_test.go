package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/peerquery/internal/bus"
)

// --- client.go tests ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	b := NewBusForTest(c, Config{})
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	b := NewBusForTest(c, Config{})
	err := b.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !isBusError(err, bus.OpPing) {
		t.Errorf("expected bus.Error with op PING, got %v", err)
	}
}

func TestNewBus_NoAddrs(t *testing.T) {
	if _, err := NewBus(Config{}); err == nil {
		t.Fatal("expected error for empty addrs")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	if cfg.MaxLen != defaultMaxLen {
		t.Errorf("MaxLen = %d, want %d", cfg.MaxLen, defaultMaxLen)
	}
	if cfg.Block != defaultBlock {
		t.Errorf("Block = %v, want %v", cfg.Block, defaultBlock)
	}
	if cfg.ReadCount != defaultReadCount {
		t.Errorf("ReadCount = %d, want %d", cfg.ReadCount, defaultReadCount)
	}
	if cfg.BufferSize != defaultBufferSize {
		t.Errorf("BufferSize = %d, want %d", cfg.BufferSize, defaultBufferSize)
	}
}

// --- publish.go tests ---

func TestPublish_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match(
			"XADD", "peerquery:query", "MAXLEN", "~", "500", "*",
			"k", "abc", "p", `{"v":1}`,
		)).
		Return(mock.Result(mock.RedisString("1700000000000-0")))

	b := NewBusForTest(c, Config{MaxLen: 500})
	id, err := b.Publish(context.Background(), "peerquery:query", "abc", []byte(`{"v":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "1700000000000-0" {
		t.Errorf("id = %q, want 1700000000000-0", id)
	}
}

func TestPublish_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "XADD"
		})).
		Return(mock.ErrorResult(errors.New("connection refused")))

	b := NewBusForTest(c, Config{})
	_, err := b.Publish(context.Background(), "t", "k", []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !isBusError(err, bus.OpPublish) {
		t.Errorf("expected bus.Error with op XADD, got %v", err)
	}
}

// --- subscribe.go tests ---

func TestSubscribe_EstablishFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("XREVRANGE", "results", "+", "-", "COUNT", "1")).
		Return(mock.ErrorResult(errors.New("connection refused")))

	b := NewBusForTest(c, Config{})
	_, err := b.Subscribe(context.Background(), "results")
	if err == nil {
		t.Fatal("expected error")
	}
	if !isBusError(err, bus.OpSubscribe) {
		t.Errorf("expected bus.Error with op XREVRANGE, got %v", err)
	}
}

func TestSubscribe_DeliversEntriesInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("XREVRANGE", "results", "+", "-", "COUNT", "1")).
		Return(mock.Result(mock.RedisArray()))

	var lastIDs []string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "XREAD"
		})).
		DoAndReturn(func(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
			args := cmd.Commands()
			lastIDs = append(lastIDs, args[len(args)-1])
			if len(lastIDs) == 1 {
				return mock.Result(xreadReply("results",
					entry("1-0", "k", "q1", "p", "first"),
					entry("2-0", "k", "q2", "p", "second"),
				))
			}
			<-ctx.Done()
			return mock.ErrorResult(ctx.Err())
		}).
		AnyTimes()

	b := NewBusForTest(c, Config{})
	sub, err := b.Subscribe(context.Background(), "results")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := receive(t, sub, 2)
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got[0].ID != "1-0" || got[0].Key != "q1" || string(got[0].Payload) != "first" {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].ID != "2-0" || got[1].Key != "q2" || string(got[1].Payload) != "second" {
		t.Errorf("second message = %+v", got[1])
	}
	if got[0].Topic != "results" {
		t.Errorf("topic = %q, want results", got[0].Topic)
	}
	if lastIDs[0] != streamStart {
		t.Errorf("first XREAD from %q, want %q", lastIDs[0], streamStart)
	}
	if len(lastIDs) < 2 || lastIDs[1] != "2-0" {
		t.Errorf("second XREAD ids = %v, want position 2-0", lastIDs)
	}
	if sub.Err() != nil {
		t.Errorf("Err() after Close = %v, want nil", sub.Err())
	}
}

func TestSubscribe_StartsAfterNewestEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("XREVRANGE", "results", "+", "-", "COUNT", "1")).
		Return(mock.Result(mock.RedisArray(entry("7-3", "k", "old", "p", "stale"))))

	started := make(chan string, 1)
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "XREAD"
		})).
		DoAndReturn(func(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
			args := cmd.Commands()
			select {
			case started <- args[len(args)-1]:
			default:
			}
			<-ctx.Done()
			return mock.ErrorResult(ctx.Err())
		}).
		AnyTimes()

	b := NewBusForTest(c, Config{})
	sub, err := b.Subscribe(context.Background(), "results")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = sub.Close() }()

	select {
	case id := <-started:
		if id != "7-3" {
			t.Errorf("XREAD from %q, want 7-3", id)
		}
	case <-time.After(time.Second):
		t.Fatal("reader did not start")
	}
}

func TestSubscribe_ReadErrorStopsDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("XREVRANGE", "results", "+", "-", "COUNT", "1")).
		Return(mock.Result(mock.RedisNil()))
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "XREAD"
		})).
		Return(mock.ErrorResult(errors.New("connection reset")))

	b := NewBusForTest(c, Config{})
	sub, err := b.Subscribe(context.Background(), "results")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
	if !isBusError(sub.Err(), bus.OpRead) {
		t.Errorf("Err() = %v, want bus.Error with op XREAD", sub.Err())
	}
	_ = sub.Close()
}

func TestSubscribe_TimeoutKeepsReading(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("XREVRANGE", "results", "+", "-", "COUNT", "1")).
		Return(mock.Result(mock.RedisArray()))

	calls := 0
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "XREAD"
		})).
		DoAndReturn(func(ctx context.Context, _ rueidis.Completed) rueidis.RedisResult {
			calls++
			switch calls {
			case 1:
				return mock.Result(mock.RedisNil()) // BLOCK elapsed without entries
			case 2:
				return mock.Result(xreadReply("results", entry("3-0", "k", "q", "p", "late")))
			}
			<-ctx.Done()
			return mock.ErrorResult(ctx.Err())
		}).
		AnyTimes()

	b := NewBusForTest(c, Config{})
	sub, err := b.Subscribe(context.Background(), "results")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := receive(t, sub, 1)
	_ = sub.Close()

	if string(got[0].Payload) != "late" {
		t.Errorf("payload = %q, want late", got[0].Payload)
	}
}

func TestSubscribe_CloseIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("XREVRANGE", "results", "+", "-", "COUNT", "1")).
		Return(mock.Result(mock.RedisArray()))
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "XREAD"
		})).
		DoAndReturn(func(ctx context.Context, _ rueidis.Completed) rueidis.RedisResult {
			<-ctx.Done()
			return mock.ErrorResult(ctx.Err())
		}).
		AnyTimes()

	b := NewBusForTest(c, Config{})
	sub, err := b.Subscribe(context.Background(), "results")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("expected closed channel after Close")
	}
}

func TestParseEntry_MissingFields(t *testing.T) {
	msg, err := parseEntry("t", entry("9-0", "other", "x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != "9-0" || msg.Key != "" || msg.Payload != nil {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestParseXRead_Malformed(t *testing.T) {
	raw := []rueidis.RedisMessage{mock.RedisArray(mock.RedisString("only-name"))}
	if _, err := parseXRead("t", raw); err == nil {
		t.Fatal("expected error for malformed reply")
	}
}

// --- helpers ---

func entry(id string, fieldValues ...string) rueidis.RedisMessage {
	fv := make([]rueidis.RedisMessage, len(fieldValues))
	for i, s := range fieldValues {
		fv[i] = mock.RedisString(s)
	}
	return mock.RedisArray(mock.RedisString(id), mock.RedisArray(fv...))
}

func xreadReply(topic string, entries ...rueidis.RedisMessage) rueidis.RedisMessage {
	return mock.RedisArray(mock.RedisArray(mock.RedisString(topic), mock.RedisArray(entries...)))
}

func receive(t *testing.T, sub bus.Subscription, n int) []bus.Message {
	t.Helper()
	out := make([]bus.Message, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case m, ok := <-sub.Messages():
			if !ok {
				t.Fatalf("subscription closed after %d messages: %v", len(out), sub.Err())
			}
			out = append(out, m)
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages", len(out), n)
		}
	}
	return out
}

// isBusError is a test helper for checking wrapped bus.Error with the given op.
func isBusError(err error, op string) bool {
	var busErr *bus.Error
	return errors.As(err, &busErr) && busErr.Op == op
}
