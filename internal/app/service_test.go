package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/adapters/catalog"
	"github.com/okian/mjolnir/internal/adapters/storage"
	service "github.com/okian/mjolnir/internal/app"
	"github.com/okian/mjolnir/internal/domain/producer"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var placeholderBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xff, 0xd9}

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func writePlaceholder(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "placeholder.jpg")
	if err := os.WriteFile(p, placeholderBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func startService(t *testing.T, root string, opts ...service.Option) *service.Service {
	t.Helper()
	base := []service.Option{
		service.WithStorageRoot(root),
		service.WithPlaceholderImage(writePlaceholder(t)),
		service.WithWorkerCount(2),
		service.WithQueueSize(8),
	}
	svc := service.New(append(base, opts...)...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func eventually(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func submission(id uuid.UUID) throw.Submission {
	images := make([]throw.Image, 0, len(throw.Cameras))
	frames := make(map[string][]byte, len(throw.Cameras))
	for _, c := range throw.Cameras {
		images = append(images, throw.Image{
			URL:          throw.MediaURL("/media", id, c.FrameName()),
			LandingPoint: throw.LandingPoint{X: 1, Y: 2},
		})
		frames[c.FrameName()] = []byte("frame-" + c.String())
	}
	return throw.Submission{
		Result: throw.Result{
			ThrowID:     id,
			Timestamp:   time.Now().UTC(),
			Distance:    71.5,
			Images:      images,
			Infractions: []throw.Infraction{},
		},
		Frames: frames,
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()

		Convey("When it is not started", func() {
			svc := service.New()

			Convey("Then every operation should report it", func() {
				_, err := svc.PublishDummy(ctx)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				_, err = svc.Latest(ctx)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				_, err = svc.Submit(ctx, submission(uuid.New()))
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When the storage root cannot be created", func() {
			file := filepath.Join(t.TempDir(), "not-a-dir")
			So(os.WriteFile(file, []byte("x"), 0o644), ShouldBeNil)
			svc := service.New(service.WithStorageRoot(filepath.Join(file, "data")))

			Convey("Then Start should fail", func() {
				So(svc.Start(ctx), ShouldNotBeNil)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When it is started and stopped", func() {
			root := filepath.Join(t.TempDir(), "nested", "data")
			svc := startService(t, root)

			Convey("Then the root should exist and stats should follow", func() {
				info, err := os.Stat(root)
				So(err, ShouldBeNil)
				So(info.IsDir(), ShouldBeTrue)
				So(svc.StorageRoot(), ShouldEqual, root)
				So(svc.GetStats()["started"], ShouldEqual, true)
				So(svc.Start(ctx), ShouldBeNil)

				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
				svc.Stop()
			})
		})
	})
}

func TestService_PublishDummy(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		root := t.TempDir()
		svc := startService(t, root)

		Convey("Latest should be empty before any throw", func() {
			_, err := svc.Latest(ctx)
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})

		Convey("When a dummy throw is published", func() {
			r, err := svc.PublishDummy(ctx)
			So(err, ShouldBeNil)
			dir := filepath.Join(root, r.ThrowID.String())

			Convey("Then the result should carry the dummy values", func() {
				So(r.Distance, ShouldEqual, producer.DummyDistance)
				So(r.Images, ShouldHaveLength, 3)
				So(r.Infractions, ShouldResemble, []throw.Infraction{{Type: throw.SectorFoul, Confidence: producer.DummyConfidence}})
			})

			Convey("Then result.json should hold the same result", func() {
				body, err := os.ReadFile(filepath.Join(dir, throw.ResultFileName))
				So(err, ShouldBeNil)
				So(string(body), ShouldContainSubstring, `"throwId"`)
				So(string(body), ShouldContainSubstring, "\n  ")

				var onDisk throw.Result
				So(json.Unmarshal(body, &onDisk), ShouldBeNil)
				So(onDisk.ThrowID, ShouldEqual, r.ThrowID)
				So(onDisk.Timestamp.Equal(r.Timestamp), ShouldBeTrue)
				So(onDisk.Images, ShouldResemble, r.Images)
			})

			Convey("Then every image URL should resolve to a copy of the placeholder", func() {
				for _, img := range r.Images {
					b, err := os.ReadFile(filepath.Join(dir, throw.FrameName(img.URL)))
					So(err, ShouldBeNil)
					So(b, ShouldResemble, placeholderBytes)
				}
			})

			Convey("Then Latest and Get should return it", func() {
				latest, err := svc.Latest(ctx)
				So(err, ShouldBeNil)
				So(latest.ThrowID, ShouldEqual, r.ThrowID)

				got, err := svc.Get(ctx, r.ThrowID)
				So(err, ShouldBeNil)
				So(got.Distance, ShouldEqual, r.Distance)
			})

			Convey("Then a second throw should get a new id and become latest", func() {
				r2, err := svc.PublishDummy(ctx)
				So(err, ShouldBeNil)
				So(r2.ThrowID, ShouldNotEqual, r.ThrowID)

				recent, err := svc.Recent(ctx, 10)
				So(err, ShouldBeNil)
				So(recent, ShouldHaveLength, 2)
				So(recent[0].ThrowID, ShouldEqual, r2.ThrowID)
			})
		})

		Convey("Recent should reject a bad limit", func() {
			_, err := svc.Recent(ctx, 0)
			So(errors.Is(err, service.ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("Get should report unknown ids", func() {
			_, err := svc.Get(ctx, uuid.New())
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_LatestFollowsPublishOrder(t *testing.T) {
	Convey("Given a service that has published a dummy throw", t, func() {
		ctx := context.Background()
		svc := startService(t, t.TempDir())
		dummy, err := svc.PublishDummy(ctx)
		So(err, ShouldBeNil)

		Convey("When a back-dated pipeline throw is published after it", func() {
			sub := submission(uuid.New())
			sub.Result.Timestamp = dummy.Timestamp.Add(-time.Hour)
			duplicate, err := svc.Submit(ctx, sub)
			So(err, ShouldBeNil)
			So(duplicate, ShouldBeFalse)
			So(eventually(t, func() bool {
				_, err := svc.Get(ctx, sub.Result.ThrowID)
				return err == nil
			}), ShouldBeTrue)

			Convey("Then it should be the latest throw", func() {
				latest, err := svc.Latest(ctx)
				So(err, ShouldBeNil)
				So(latest.ThrowID, ShouldEqual, sub.Result.ThrowID)
				So(latest.Timestamp.Before(dummy.Timestamp), ShouldBeTrue)
			})

			Convey("Then recent should list it before the dummy throw", func() {
				recent, err := svc.Recent(ctx, 10)
				So(err, ShouldBeNil)
				So(recent, ShouldHaveLength, 2)
				So(recent[0].ThrowID, ShouldEqual, sub.Result.ThrowID)
				So(recent[1].ThrowID, ShouldEqual, dummy.ThrowID)
			})
		})
	})
}

func TestService_MissingPlaceholder(t *testing.T) {
	Convey("Given a service whose placeholder image is missing", t, func() {
		ctx := context.Background()
		root := t.TempDir()
		svc := startService(t, root, service.WithPlaceholderImage(filepath.Join(t.TempDir(), "gone.jpg")))

		Convey("When a dummy throw is requested", func() {
			_, err := svc.PublishDummy(ctx)

			Convey("Then the error should name the cause", func() {
				So(errors.Is(err, service.ErrPlaceholderMissing), ShouldBeTrue)
				So(errors.Is(err, fs.ErrNotExist), ShouldBeTrue)
			})

			Convey("Then nothing should be visible", func() {
				entries, err := os.ReadDir(root)
				So(err, ShouldBeNil)
				for _, e := range entries {
					So(e.Name(), ShouldEqual, storage.StagingDir)
				}
				staged, err := os.ReadDir(filepath.Join(root, storage.StagingDir))
				So(err, ShouldBeNil)
				So(staged, ShouldBeEmpty)

				_, err = svc.Latest(ctx)
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_RebuildCatalog(t *testing.T) {
	Convey("Given throws published by an earlier process", t, func() {
		ctx := context.Background()
		root := t.TempDir()
		first := startService(t, root)
		_, err := first.PublishDummy(ctx)
		So(err, ShouldBeNil)
		time.Sleep(2 * time.Millisecond)
		last, err := first.PublishDummy(ctx)
		So(err, ShouldBeNil)
		first.Stop()

		// Debris that must be ignored.
		So(os.MkdirAll(filepath.Join(root, uuid.NewString()), 0o755), ShouldBeNil)
		So(os.MkdirAll(filepath.Join(root, "not-a-throw"), 0o755), ShouldBeNil)

		Convey("When a new service starts on the same root", func() {
			second := startService(t, root)

			Convey("Then latest should survive the restart", func() {
				got, err := second.Latest(ctx)
				So(err, ShouldBeNil)
				So(got.ThrowID, ShouldEqual, last.ThrowID)

				recent, err := second.Recent(ctx, 10)
				So(err, ShouldBeNil)
				So(recent, ShouldHaveLength, 2)
			})
		})

		Convey("When a new service starts with a sqlite catalog", func() {
			dsn := "file:" + filepath.Join(t.TempDir(), "catalog.db")
			second := startService(t, root, service.WithCatalog("sqlite", dsn))

			Convey("Then the catalog should be seeded from storage", func() {
				got, err := second.Latest(ctx)
				So(err, ShouldBeNil)
				So(got.ThrowID, ShouldEqual, last.ThrowID)
			})
		})
	})
}

// gatedStore blocks Begin until the gate opens.
type gatedStore struct {
	*storage.Local
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (g *gatedStore) Begin(ctx context.Context, id uuid.UUID) (storage.Txn, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Local.Begin(ctx, id)
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		root := t.TempDir()
		svc := startService(t, root)

		Convey("When a valid submission arrives", func() {
			sub := submission(uuid.New())
			dup, err := svc.Submit(ctx, sub)
			So(err, ShouldBeNil)
			So(dup, ShouldBeFalse)

			Convey("Then it should be published by a worker", func() {
				So(eventually(t, func() bool {
					_, err := svc.Get(ctx, sub.Result.ThrowID)
					return err == nil
				}), ShouldBeTrue)

				b, err := os.ReadFile(filepath.Join(root, sub.Result.ThrowID.String(), "image2.jpg"))
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, "frame-far_right")
			})

			Convey("Then resubmitting it should be a duplicate", func() {
				dup, err := svc.Submit(ctx, sub)
				So(err, ShouldBeNil)
				So(dup, ShouldBeTrue)
			})
		})

		Convey("When a submission is incomplete", func() {
			sub := submission(uuid.New())
			delete(sub.Frames, "image3.jpg")
			_, err := svc.Submit(ctx, sub)

			Convey("Then it should be rejected as invalid", func() {
				So(errors.Is(err, throw.ErrValidation), ShouldBeTrue)
			})
		})
	})

	Convey("Given a service whose single worker is stuck", t, func() {
		ctx := context.Background()
		root := t.TempDir()
		local := storage.NewLocal(root)
		So(local.EnsureRoot(ctx), ShouldBeNil)
		store := &gatedStore{Local: local, gate: make(chan struct{}), entered: make(chan struct{})}
		svc := startService(t, root, service.WithStore(store), service.WithWorkerCount(1), service.WithQueueSize(1))

		first := submission(uuid.New())
		_, err := svc.Submit(ctx, first)
		So(err, ShouldBeNil)
		<-store.entered

		Convey("When the queue fills up", func() {
			var rejected *throw.Submission
			for i := 0; i < 5 && rejected == nil; i++ {
				sub := submission(uuid.New())
				if _, err := svc.Submit(ctx, sub); err != nil {
					So(errors.Is(err, service.ErrBackpressure), ShouldBeTrue)
					rejected = &sub
				}
			}

			Convey("Then a submission should be turned away and stay retryable", func() {
				So(rejected, ShouldNotBeNil)
				close(store.gate)
				So(eventually(t, func() bool {
					dup, err := svc.Submit(ctx, *rejected)
					return err == nil && !dup
				}), ShouldBeTrue)
			})
		})
	})
}

func TestPublisher(t *testing.T) {
	Convey("Given a publisher over a local store", t, func() {
		ctx := context.Background()
		root := t.TempDir()
		store := storage.NewLocal(root)
		So(store.EnsureRoot(ctx), ShouldBeNil)
		cat := newCatalog()
		pub := service.NewPublisher(store, cat, nil, "/media", nil)
		sub := submission(uuid.New())

		Convey("Persist should write indented external JSON", func() {
			tx, err := store.Begin(ctx, sub.Result.ThrowID)
			So(err, ShouldBeNil)
			So(pub.Persist(ctx, tx, sub.Result), ShouldBeNil)
			So(tx.Commit(ctx), ShouldBeNil)

			rc, err := store.Open(ctx, sub.Result.ThrowID, throw.ResultFileName)
			So(err, ShouldBeNil)
			body, _ := io.ReadAll(rc)
			_ = rc.Close()
			So(bytes.Contains(body, []byte(`"landingPoint"`)), ShouldBeTrue)
			So(bytes.Contains(body, []byte(`"landing_point"`)), ShouldBeFalse)
		})

		Convey("MaterializeFrames should report written bytes", func() {
			tx, err := store.Begin(ctx, sub.Result.ThrowID)
			So(err, ShouldBeNil)
			n, err := pub.MaterializeFrames(ctx, tx, sub.Result, service.MemorySource(sub.Frames))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, len("frame-far_left")+len("frame-far_right")+len("frame-near_right"))
			So(tx.Abort(ctx), ShouldBeNil)
		})

		Convey("MaterializeFrames should refuse images of another throw", func() {
			tx, err := store.Begin(ctx, sub.Result.ThrowID)
			So(err, ShouldBeNil)
			sub.Result.Images[0].URL = throw.MediaURL("/media", uuid.New(), "image1.jpg")
			_, err = pub.MaterializeFrames(ctx, tx, sub.Result, service.MemorySource(sub.Frames))
			So(errors.Is(err, throw.ErrValidation), ShouldBeTrue)
			So(tx.Abort(ctx), ShouldBeNil)
		})

		Convey("Publish with a missing frame should leave nothing behind", func() {
			delete(sub.Frames, "image1.jpg")
			err := pub.Publish(ctx, sub.Result, service.MemorySource(sub.Frames), service.SourcePipeline)
			So(errors.Is(err, service.ErrFrameMissing), ShouldBeTrue)

			ids, err := store.List(ctx)
			So(err, ShouldBeNil)
			So(ids, ShouldBeEmpty)
			So(cat.recorded(), ShouldBeEmpty)
		})

		Convey("Publish should record and broadcast after commit", func() {
			b := &recordingBroadcaster{}
			pub := service.NewPublisher(store, cat, b, "/media", nil)
			So(pub.Publish(ctx, sub.Result, service.MemorySource(sub.Frames), service.SourcePipeline), ShouldBeNil)

			So(cat.recorded(), ShouldResemble, []uuid.UUID{sub.Result.ThrowID})
			So(b.ids, ShouldResemble, []uuid.UUID{sub.Result.ThrowID})
			ids, _ := store.List(ctx)
			So(ids, ShouldResemble, []uuid.UUID{sub.Result.ThrowID})
		})

		Convey("Publish should keep a committed throw when the catalog fails", func() {
			b := &recordingBroadcaster{}
			pub := service.NewPublisher(store, failingCatalog{Memory: catalog.NewMemory()}, b, "/media", nil)
			So(pub.Publish(ctx, sub.Result, service.MemorySource(sub.Frames), service.SourcePipeline), ShouldBeNil)

			ids, err := store.List(ctx)
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []uuid.UUID{sub.Result.ThrowID})
			So(b.ids, ShouldResemble, []uuid.UUID{sub.Result.ThrowID})
		})

		Convey("Publishing the same id twice should overwrite", func() {
			So(pub.Publish(ctx, sub.Result, service.MemorySource(sub.Frames), service.SourcePipeline), ShouldBeNil)
			sub.Frames["image1.jpg"] = []byte("second")
			So(pub.Publish(ctx, sub.Result, service.MemorySource(sub.Frames), service.SourcePipeline), ShouldBeNil)

			b, err := os.ReadFile(filepath.Join(root, sub.Result.ThrowID.String(), "image1.jpg"))
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, "second")
		})
	})
}
