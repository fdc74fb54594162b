package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/adapters/http/api"
	service "github.com/okian/mjolnir/internal/app"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// Mock implementations for testing
type mockDependencies struct {
	mu        sync.Mutex
	results   []throw.Result
	dummyErr  error
	submitErr error
	submitted []throw.Submission
	seen      map[uuid.UUID]bool
}

func (m *mockDependencies) PublishDummy(_ context.Context) (throw.Result, error) {
	if m.dummyErr != nil {
		return throw.Result{}, m.dummyErr
	}
	r := sampleResult(uuid.New())
	m.mu.Lock()
	m.results = append(m.results, r)
	m.mu.Unlock()
	return r, nil
}

func (m *mockDependencies) Latest(_ context.Context) (throw.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.results) == 0 {
		return throw.Result{}, service.ErrNotFound
	}
	return m.results[len(m.results)-1], nil
}

func (m *mockDependencies) Get(_ context.Context, id uuid.UUID) (throw.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.ThrowID == id {
			return r, nil
		}
	}
	return throw.Result{}, service.ErrNotFound
}

func (m *mockDependencies) Recent(_ context.Context, n int) ([]throw.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]throw.Result, 0, n)
	for i := len(m.results) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.results[i])
	}
	return out, nil
}

func (m *mockDependencies) Submit(_ context.Context, s throw.Submission) (bool, error) {
	if m.submitErr != nil {
		return false, m.submitErr
	}
	if err := s.Validate("/media"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[uuid.UUID]bool)
	}
	if m.seen[s.Result.ThrowID] {
		return true, nil
	}
	m.seen[s.Result.ThrowID] = true
	m.submitted = append(m.submitted, s)
	return false, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func sampleResult(id uuid.UUID) throw.Result {
	images := make([]throw.Image, 0, len(throw.Cameras))
	for _, c := range throw.Cameras {
		images = append(images, throw.Image{
			URL:          throw.MediaURL("/media", id, c.FrameName()),
			LandingPoint: throw.LandingPoint{X: 10, Y: 20},
		})
	}
	return throw.Result{
		ThrowID:     id,
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		Distance:    71.5,
		Images:      images,
		Infractions: []throw.Infraction{{Type: throw.SectorFoul, Confidence: 0.9}},
	}
}

// multipartBody encodes r as a "result" field plus one file part per
// frame. skip omits the named frame.
func multipartBody(t *testing.T, r throw.Result, skip string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if err := mw.WriteField("result", string(raw)); err != nil {
		t.Fatal(err)
	}
	for _, c := range throw.Cameras {
		name := c.FrameName()
		if name == skip {
			continue
		}
		fw, err := mw.CreateFormFile(name, name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte("jpeg-" + name))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func newMux(deps api.Dependencies, opts ...api.Option) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, opts...)
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return mux
}

func serve(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("Then health endpoint should be accessible", func() {
			w := serve(mux, http.MethodGet, "/healthz")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("And stats endpoint should report provider stats", func() {
			w := serve(mux, http.MethodGet, "/stats")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("And metrics endpoint should be accessible", func() {
			w := serve(mux, http.MethodGet, "/metrics")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("And wrong methods should be rejected", func() {
			w := serve(mux, http.MethodPost, "/api/hello_world")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("And the stream route is absent without a stream handler", func() {
			w := serve(mux, http.MethodGet, "/api/throws/stream")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})

	Convey("Given a server with a stream handler", t, func() {
		stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
		mux := newMux(&mockDependencies{}, api.WithStream(stream))

		Convey("Then the stream route wins over the id route", func() {
			w := serve(mux, http.MethodGet, "/api/throws/stream")
			So(w.Code, ShouldEqual, http.StatusTeapot)
		})
	})
}

func TestHelloWorld(t *testing.T) {
	Convey("Given the hello endpoint", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("Then it returns the exact greeting", func() {
			w := serve(mux, http.MethodGet, "/api/hello_world")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"ok":true,"message":"Hello World!"}`)
		})
	})
}

func TestThrowsHandler(t *testing.T) {
	Convey("Given an API server with no throws", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps, api.WithMaxListLimit(5))

		Convey("When requesting the latest throw", func() {
			w := serve(mux, http.MethodGet, "/api/throws/latest")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decodeError(w)["code"], ShouldEqual, "not_found")
			})
		})

		Convey("When a dummy throw is published", func() {
			w := serve(mux, http.MethodGet, "/api/dummy")
			So(w.Code, ShouldEqual, http.StatusOK)
			var published throw.Result
			So(json.Unmarshal(w.Body.Bytes(), &published), ShouldBeNil)

			Convey("Then latest returns the same throw", func() {
				lw := serve(mux, http.MethodGet, "/api/throws/latest")
				So(lw.Code, ShouldEqual, http.StatusOK)
				var latest throw.Result
				So(json.Unmarshal(lw.Body.Bytes(), &latest), ShouldBeNil)
				So(latest.ThrowID, ShouldEqual, published.ThrowID)
			})

			Convey("And it can be fetched by id", func() {
				gw := serve(mux, http.MethodGet, "/api/throws/"+published.ThrowID.String())
				So(gw.Code, ShouldEqual, http.StatusOK)
				So(gw.Body.String(), ShouldContainSubstring, `"throwId":"`+published.ThrowID.String()+`"`)
				So(gw.Body.String(), ShouldContainSubstring, `"landingPoint"`)
			})
		})

		Convey("When fetching an unknown id", func() {
			w := serve(mux, http.MethodGet, "/api/throws/"+uuid.NewString())
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When fetching a malformed id", func() {
			w := serve(mux, http.MethodGet, "/api/throws/not-a-uuid")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w)["code"], ShouldEqual, "bad_request")
		})

		Convey("When the dummy producer fails", func() {
			deps.dummyErr = errors.New("disk full at /secret/path")
			w := serve(mux, http.MethodGet, "/api/dummy")

			Convey("Then a generic 500 is returned", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				body := decodeError(w)
				So(body["code"], ShouldEqual, "internal_error")
				So(body["message"], ShouldNotContainSubstring, "/secret/path")
			})
		})

		Convey("When the service is not started", func() {
			deps.dummyErr = service.ErrNotStarted
			w := serve(mux, http.MethodGet, "/api/dummy")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestThrowsHandler_List(t *testing.T) {
	Convey("Given seven published throws", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps, api.WithMaxListLimit(5))
		for i := 0; i < 7; i++ {
			So(serve(mux, http.MethodGet, "/api/dummy").Code, ShouldEqual, http.StatusOK)
		}

		Convey("When listing without a limit", func() {
			w := serve(mux, http.MethodGet, "/api/throws")

			Convey("Then the maximum is applied newest first", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var out []throw.Result
				So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
				So(len(out), ShouldEqual, 5)
				So(out[0].ThrowID, ShouldEqual, deps.results[6].ThrowID)
			})
		})

		Convey("When listing with limit=2", func() {
			w := serve(mux, http.MethodGet, "/api/throws?limit=2")
			var out []throw.Result
			So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
			So(len(out), ShouldEqual, 2)
		})

		Convey("When the limit is invalid", func() {
			for _, q := range []string{"0", "-1", "abc", "6"} {
				w := serve(mux, http.MethodGet, "/api/throws?limit="+q)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
		})
	})
}

func TestIngestHandler(t *testing.T) {
	Convey("Given an API server accepting submissions", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)
		post := func(body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/api/throws", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			return w
		}

		Convey("When a complete submission is posted", func() {
			r := sampleResult(uuid.New())
			body, ct := multipartBody(t, r, "")
			w := post(body, ct)

			Convey("Then it is accepted with all frames", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"status":"accepted","duplicate":false}`)
				So(len(deps.submitted), ShouldEqual, 1)
				sub := deps.submitted[0]
				So(sub.Result.ThrowID, ShouldEqual, r.ThrowID)
				So(len(sub.Frames), ShouldEqual, 3)
				So(string(sub.Frames["image1.jpg"]), ShouldEqual, "jpeg-image1.jpg")
				So(sub.Received.IsZero(), ShouldBeFalse)
			})

			Convey("And posting it again reports a duplicate", func() {
				body, ct := multipartBody(t, r, "")
				w := post(body, ct)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"status":"duplicate","duplicate":true}`)
			})
		})

		Convey("When a frame is missing", func() {
			body, ct := multipartBody(t, sampleResult(uuid.New()), "image2.jpg")
			w := post(body, ct)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(len(deps.submitted), ShouldEqual, 0)
		})

		Convey("When the result part is malformed", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			_ = mw.WriteField("result", `{"throwId":`)
			_ = mw.Close()
			w := post(&buf, mw.FormDataContentType())
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the result part is absent", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			_ = mw.WriteField("other", "x")
			_ = mw.Close()
			w := post(&buf, mw.FormDataContentType())
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body is not multipart", func() {
			w := post(bytes.NewBufferString(`{}`), "application/json")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the queue is full", func() {
			deps.submitErr = service.ErrBackpressure
			body, ct := multipartBody(t, sampleResult(uuid.New()), "")
			w := post(body, ct)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decodeError(w)["code"], ShouldEqual, "backpressure")
		})
	})

	Convey("Given a server with a tiny upload limit", t, func() {
		mux := newMux(&mockDependencies{}, api.WithMaxUploadBytes(64))
		body, ct := multipartBody(t, sampleResult(uuid.New()), "")
		req := httptest.NewRequest(http.MethodPost, "/api/throws", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		Convey("Then the request is rejected as too large", func() {
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(decodeError(w)["code"], ShouldEqual, "payload_too_large")
		})
	})
}
