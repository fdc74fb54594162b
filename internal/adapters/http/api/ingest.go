package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
)

// resultPart is the multipart field carrying the throw result JSON.
const resultPart = "result"

// multipartMemory is how much of a submission is buffered in memory before
// file parts spill to disk.
const multipartMemory = 8 << 20

// IngestHandler accepts throw results from the vision pipeline.
type IngestHandler struct {
	deps     Dependencies
	maxBytes int64
	logger   logger.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(deps Dependencies, maxBytes int64, l logger.Logger) *IngestHandler {
	return &IngestHandler{deps: deps, maxBytes: maxBytes, logger: l}
}

// HandleSubmit handles POST /api/throws. The body is a multipart form with
// a "result" part and one file part per frame, named by frame file name.
func (h *IngestHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.throws_submit"
	received := time.Now()

	if r.ContentLength > h.maxBytes {
		writeFailure(w, r, h.logger, NewKind(op, ErrTooLarge))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	sub, err := h.readSubmission(r)
	if err != nil {
		writeFailure(w, r, h.logger, Wrap(op, err))
		return
	}
	sub.Received = received

	duplicate, err := h.deps.Submit(r.Context(), sub)
	if err != nil {
		writeFailure(w, r, h.logger, Wrap(op, err))
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

func (h *IngestHandler) readSubmission(r *http.Request) (throw.Submission, error) {
	const op = "api.read_submission"
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return throw.Submission{}, WrapKind(op, ErrTooLarge, err)
		}
		return throw.Submission{}, WrapKind(op, ErrBadRequest, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	raw, err := resultJSON(r.MultipartForm)
	if err != nil {
		return throw.Submission{}, WrapKind(op, ErrBadRequest, err)
	}
	var res throw.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return throw.Submission{}, WrapKind(op, ErrBadRequest, err)
	}

	frames := make(map[string][]byte, len(r.MultipartForm.File))
	for name, headers := range r.MultipartForm.File {
		if name == resultPart {
			continue
		}
		if len(headers) != 1 {
			return throw.Submission{}, WrapKind(op, ErrBadRequest, fmt.Errorf("frame %s sent %d times", name, len(headers)))
		}
		data, err := readPart(headers[0])
		if err != nil {
			return throw.Submission{}, WrapKind(op, ErrBadRequest, err)
		}
		frames[name] = data
	}
	return throw.Submission{Result: res, Frames: frames}, nil
}

// resultJSON accepts the result either as a plain form value or as a file.
func resultJSON(form *multipart.Form) ([]byte, error) {
	if vals := form.Value[resultPart]; len(vals) == 1 {
		return []byte(vals[0]), nil
	}
	if files := form.File[resultPart]; len(files) == 1 {
		return readPart(files[0])
	}
	return nil, errors.New(`exactly one "result" part is required`)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read part %s: %w", fh.Filename, err)
	}
	return data, nil
}
