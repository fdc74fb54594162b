package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	queue "github.com/okian/mjolnir/internal/adapters/mq/queue"
	worker "github.com/okian/mjolnir/internal/adapters/mq/worker"
	"github.com/okian/mjolnir/internal/domain/throw"
	logging "github.com/okian/mjolnir/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// recordingHandler remembers every handled throw id and can fail chosen ids.
type recordingHandler struct {
	mu       sync.Mutex
	handled  []uuid.UUID
	failures map[uuid.UUID]error
	calls    chan uuid.UUID
	block    chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		failures: make(map[uuid.UUID]error),
		calls:    make(chan uuid.UUID, 64),
	}
}

func (h *recordingHandler) Handle(ctx context.Context, s worker.Submission) error { //nolint:gocritic // hugeParam
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	err := h.failures[s.Result.ThrowID]
	if err == nil {
		h.handled = append(h.handled, s.Result.ThrowID)
	}
	h.mu.Unlock()
	h.calls <- s.Result.ThrowID
	return err
}

func (h *recordingHandler) published() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uuid.UUID(nil), h.handled...)
}

func (h *recordingHandler) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("handler called %d times, want %d", i, n)
		}
	}
}

func submission() queue.Submission {
	return queue.Submission{
		Result:   throw.Result{ThrowID: uuid.New(), Timestamp: time.Now().UTC()},
		Received: time.Now(),
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running InMemoryWorker", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		h := newRecordingHandler()
		w := worker.NewInMemoryWorker(q, h, worker.WithName("test-worker"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When a submission is queued", func() {
			s := submission()
			convey.So(q.Enqueue(ctx, s), convey.ShouldBeNil)
			h.wait(t, 1)

			convey.Convey("Then it should be handed to the handler", func() {
				convey.So(h.published(), convey.ShouldResemble, []uuid.UUID{s.Result.ThrowID})
			})
		})

		convey.Convey("When the handler fails", func() {
			bad, good := submission(), submission()
			h.mu.Lock()
			h.failures[bad.Result.ThrowID] = errors.New("disk full")
			h.mu.Unlock()
			convey.So(q.Enqueue(ctx, bad), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, good), convey.ShouldBeNil)
			h.wait(t, 2)

			convey.Convey("Then the worker should keep going", func() {
				convey.So(h.published(), convey.ShouldResemble, []uuid.UUID{good.Result.ThrowID})
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()

			err := w.Shutdown(shutdownCtx)

			convey.Convey("Then it should stop and be safe to repeat", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the context is cancelled", func() {
			cancel()

			convey.Convey("Then Run should return", func() {
				select {
				case <-w.Done():
				case <-time.After(time.Second):
					t.Fatal("worker did not stop")
				}
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(32))
		h := newRecordingHandler()
		pool := worker.NewPool(4, q, h)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When submissions are queued before shutdown", func() {
			pool.Start(ctx)
			for i := 0; i < 20; i++ {
				convey.So(q.Enqueue(ctx, submission()), convey.ShouldBeNil)
			}

			err := pool.Shutdown(context.Background())

			convey.Convey("Then every accepted submission should be drained", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(h.published(), convey.ShouldHaveLength, 20)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a worker is stuck past the deadline", func() {
			h.block = make(chan struct{})
			pool.Start(ctx)
			convey.So(q.Enqueue(ctx, submission()), convey.ShouldBeNil)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer shutdownCancel()
			err := pool.Shutdown(shutdownCtx)
			close(h.block)

			convey.Convey("Then Shutdown should report the timeout", func() {
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When created with no worker count", func() {
			p := worker.NewPool(0, q, worker.HandlerFunc(func(context.Context, worker.Submission) error { return nil }))

			convey.Convey("Then it should default to at least one worker", func() {
				convey.So(p.Size(), convey.ShouldBeGreaterThanOrEqualTo, 1)
			})
		})
	})
}
