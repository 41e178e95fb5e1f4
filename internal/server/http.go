package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/car-analyzer/constants"
	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/imageprep"
	"github.com/joseph-ayodele/car-analyzer/internal/llm"
	"github.com/joseph-ayodele/car-analyzer/internal/pipeline"
)

const uploadField = "image"

// Analyzer is the behavior the HTTP and gRPC surfaces depend on.
type Analyzer interface {
	Ready() error
	Analyze(ctx context.Context, up imageprep.Upload) (*pipeline.Analysis, error)
}

type HTTPHandler struct {
	analyzer Analyzer
	cfg      common.ServerConfig
	logger   *slog.Logger
	index    page
	result   page
	accept   string
}

// NewHTTPHandler builds the router: the CSRF-protected upload UI, the JSON API,
// health and metrics.
func NewHTTPHandler(a Analyzer, cfg common.ServerConfig, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = constants.DefaultMaxUploadBytes
	}
	index, err := parsePage("index.gohtml")
	if err != nil {
		return nil, err
	}
	result, err := parsePage("result.gohtml")
	if err != nil {
		return nil, err
	}
	h := &HTTPHandler{
		analyzer: a,
		cfg:      cfg,
		logger:   logger,
		index:    index,
		result:   result,
		accept:   acceptList(),
	}

	csrfKey := []byte(cfg.CSRFKey)
	if len(csrfKey) == 0 {
		csrfKey = make([]byte, 32)
		if _, err := rand.Read(csrfKey); err != nil {
			return nil, fmt.Errorf("generate csrf key: %w", err)
		}
		logger.Warn("http.csrf.ephemeral_key", "hint", "set CSRF_KEY to keep forms valid across restarts")
	}
	csrfMw := csrf.Protect(csrfKey,
		csrf.Secure(cfg.SecureCookies),
		csrf.Path("/"),
		csrf.ErrorHandler(http.HandlerFunc(h.csrfFailed)),
	)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestContext)

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.limitBody)
		r.Post("/api/v1/analyze", h.apiAnalyze)
	})

	// ---- UI routes ----
	r.Group(func(r chi.Router) {
		r.Use(h.limitBody)
		r.Use(h.plaintext)
		r.Use(csrfMw)
		r.Get("/", h.getIndex)
		r.Post("/analyze", h.postAnalyze)
	})

	return r, nil
}

// requestContext assigns a request id and logs each request once it is served.
func (h *HTTPHandler) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := common.WithRequestID(r.Context(), rid)
		ctx = common.WithLogger(ctx, h.logger.With("transport", "http"))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		h.logger.Info("http.request",
			"req_id", rid,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *HTTPHandler) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// multipart framing needs a little room on top of the file itself
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+1<<20)
		next.ServeHTTP(w, r)
	})
}

// plaintext tells the CSRF middleware that the request arrived over plain HTTP,
// which skips its TLS-only Referer check.
func (h *HTTPHandler) plaintext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && !h.cfg.SecureCookies {
			r = csrf.PlaintextHTTPRequest(r)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) healthz(w http.ResponseWriter, r *http.Request) {
	credential := "present"
	if h.analyzer.Ready() != nil {
		credential = "missing"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "credential": credential})
}

// readUpload pulls the image part out of a multipart request.
func (h *HTTPHandler) readUpload(r *http.Request) (imageprep.Upload, error) {
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return imageprep.Upload{}, errUploadTooLarge(h.cfg.MaxUploadBytes)
		}
		return imageprep.Upload{}, common.NewAppError(common.CodeInvalidInput,
			fmt.Sprintf("multipart field %q with an image file is required", uploadField), err)
	}
	defer file.Close()

	if header.Size > h.cfg.MaxUploadBytes {
		return imageprep.Upload{}, errUploadTooLarge(h.cfg.MaxUploadBytes)
	}
	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		return imageprep.Upload{}, common.NewAppError(common.CodeInvalidInput, "read upload", err)
	}
	if int64(len(data)) > h.cfg.MaxUploadBytes {
		return imageprep.Upload{}, errUploadTooLarge(h.cfg.MaxUploadBytes)
	}
	return imageprep.Upload{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	}, nil
}

type tooLargeError struct {
	limit int64
}

func (e *tooLargeError) Error() string {
	return fmt.Sprintf("upload exceeds %d bytes", e.limit)
}

func (e *tooLargeError) Is(target error) bool {
	return target == common.ErrInvalidInput
}

func errUploadTooLarge(limit int64) error {
	return &tooLargeError{limit: limit}
}

// ---- JSON API ----

type imageInfo struct {
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	OriginalWidth  int     `json:"original_width"`
	OriginalHeight int     `json:"original_height"`
	Resized        bool    `json:"resized"`
	SizeKB         float64 `json:"size_kb"`
}

type apiResponse struct {
	RequestID string            `json:"request_id"`
	Outcome   constants.Outcome `json:"outcome"`
	Image     *imageInfo        `json:"image,omitempty"`
	Result    map[string]any    `json:"result,omitempty"`
	Raw       string            `json:"raw,omitempty"`
	Error     *apiError         `json:"error,omitempty"`
}

type apiError struct {
	Kind    constants.Outcome `json:"kind"`
	Message string            `json:"message"`
	Status  int               `json:"status,omitempty"` // upstream HTTP status
	Body    string            `json:"body,omitempty"`   // upstream error body
}

func (h *HTTPHandler) apiAnalyze(w http.ResponseWriter, r *http.Request) {
	rid := common.RequestIDFromContext(r.Context())
	up, err := h.readUpload(r)
	if err != nil {
		status := http.StatusBadRequest
		var tl *tooLargeError
		if errors.As(err, &tl) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, apiResponse{RequestID: rid, Outcome: pipeline.OutcomeOf(err), Error: toAPIError(err)})
		return
	}

	a, err := h.analyzer.Analyze(r.Context(), up)
	resp := apiResponse{RequestID: rid, Outcome: a.Outcome, Image: infoOf(a.Image)}
	if err != nil {
		resp.Error = toAPIError(err)
		writeJSON(w, common.HTTPStatus(err), resp)
		return
	}
	resp.Result = a.Result.Map()
	resp.Raw = string(a.Raw)
	writeJSON(w, http.StatusOK, resp)
}

func toAPIError(err error) *apiError {
	e := &apiError{Kind: pipeline.OutcomeOf(err), Message: err.Error()}
	var ae *llm.APIError
	if errors.As(err, &ae) {
		e.Status = ae.StatusCode
		e.Body = ae.Body
		e.Message = fmt.Sprintf("upstream answered HTTP %d", ae.StatusCode)
	}
	return e
}

func infoOf(p *imageprep.Prepared) *imageInfo {
	if p == nil {
		return nil
	}
	return &imageInfo{
		Width:          p.Width,
		Height:         p.Height,
		OriginalWidth:  p.OriginalWidth,
		OriginalHeight: p.OriginalHeight,
		Resized:        p.Resized,
		SizeKB:         roundKB(p.SizeKB()),
	}
}

func roundKB(kb float64) float64 {
	return float64(int64(kb*10+0.5)) / 10
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// ---- HTML UI ----

type indexView struct {
	Accept string
	Error  *errorView
}

type errorView struct {
	Title  string
	Detail string
	Status int
	Body   string
}

type resultView struct {
	RequestID      string
	Filename       string
	Preview        template.URL
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
	Resized        bool
	SizeKB         string
	Fields         *llm.CarFields
	ResultJSON     string
	Raw            string
	Error          *errorView
}

func (h *HTTPHandler) getIndex(w http.ResponseWriter, r *http.Request) {
	view := indexView{Accept: h.accept}
	if err := h.analyzer.Ready(); err != nil {
		view.Error = describeError(err)
	}
	h.index.render(w, r, h.logger, http.StatusOK, view)
}

func (h *HTTPHandler) csrfFailed(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("http.csrf.rejected",
		"req_id", common.RequestIDFromContext(r.Context()),
		"reason", csrf.FailureReason(r),
	)
	h.index.render(w, r, h.logger, http.StatusForbidden, indexView{
		Accept: h.accept,
		Error: &errorView{
			Title:  "The form expired or the upload was too large.",
			Detail: fmt.Sprintf("Reload the page and upload an image of at most %d MB.", h.cfg.MaxUploadBytes>>20),
		},
	})
}

func (h *HTTPHandler) postAnalyze(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(r)
	if err != nil {
		h.index.render(w, r, h.logger, http.StatusBadRequest, indexView{Accept: h.accept, Error: describeError(err)})
		return
	}

	a, err := h.analyzer.Analyze(r.Context(), up)
	view := resultView{RequestID: a.RequestID, Filename: up.Filename, Raw: prettyJSON(a.Raw)}
	if p := a.Image; p != nil {
		view.Preview = template.URL(a.DataURI)
		view.Width, view.Height = p.Width, p.Height
		view.OriginalWidth, view.OriginalHeight = p.OriginalWidth, p.OriginalHeight
		view.Resized = p.Resized
		view.SizeKB = fmt.Sprintf("%.1f", p.SizeKB())
	}
	if err != nil {
		view.Error = describeError(err)
		h.result.render(w, r, h.logger, common.HTTPStatus(err), view)
		return
	}

	res := a.Result
	if res.OK() && res.Complete {
		f := res.Fields
		view.Fields = &f
	}
	if !res.OK() {
		view.Error = &errorView{Title: "The model answer could not be interpreted.", Detail: res.Error}
	}
	view.ResultJSON = prettyJSON(mustJSON(res.Map()))
	h.result.render(w, r, h.logger, http.StatusOK, view)
}

// describeError turns an analysis failure into the message shown to the user.
// Each failure kind gets its own wording.
func describeError(err error) *errorView {
	var ae *llm.APIError
	switch {
	case errors.Is(err, common.ErrConfig):
		return &errorView{
			Title:  "The OpenAI API key is not configured.",
			Detail: "Set OPENAI_API_KEY in the environment (or a .env file) and restart the server.",
		}
	case errors.As(err, &ae) && ae.RateLimited():
		return &errorView{Title: "The model endpoint is rate limiting requests. Try again shortly.", Status: ae.StatusCode, Body: ae.Body}
	case errors.As(err, &ae):
		return &errorView{Title: "The model endpoint returned an error.", Status: ae.StatusCode, Body: ae.Body}
	case errors.Is(err, common.ErrTransport) && common.IsTimeout(err):
		return &errorView{Title: "The model endpoint did not answer in time.", Detail: err.Error()}
	case errors.Is(err, common.ErrTransport):
		return &errorView{Title: "Could not reach the model endpoint.", Detail: err.Error()}
	case errors.Is(err, common.ErrImageDecode):
		return &errorView{Title: "The uploaded file could not be read as an image.", Detail: err.Error()}
	case errors.Is(err, common.ErrInvalidInput):
		return &errorView{Title: "Please choose an image to upload.", Detail: err.Error()}
	}
	return &errorView{Title: "Analysis failed.", Detail: err.Error()}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// prettyJSON indents b when it is JSON and returns it unchanged otherwise.
func prettyJSON(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return string(b)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(b)
	}
	return string(out)
}

func acceptList() string {
	exts := make([]string, 0, len(constants.AllowedExtensions))
	for ext := range constants.AllowedExtensions {
		exts = append(exts, "."+ext)
	}
	sort.Strings(exts)
	return "image/*," + strings.Join(exts, ",")
}
