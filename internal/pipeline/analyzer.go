// Package pipeline runs one image analysis: prepare, encode, ask the model, interpret.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/car-analyzer/constants"
	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/imageprep"
	"github.com/joseph-ayodele/car-analyzer/internal/llm"
	"github.com/joseph-ayodele/car-analyzer/internal/metrics"
)

// Preparer normalizes an upload into the payload sent upstream.
type Preparer interface {
	Prepare(ctx context.Context, up imageprep.Upload) (*imageprep.Prepared, error)
}

// Analysis is everything one analysis produced. On failure it holds whatever
// was produced before the failing step (e.g. the prepared image for a 429).
type Analysis struct {
	RequestID string
	Image     *imageprep.Prepared
	DataURI   string
	Raw       []byte // upstream body; the error body on non-2xx answers
	Result    llm.Result
	Outcome   constants.Outcome
	Elapsed   time.Duration
}

type Analyzer struct {
	logger      *slog.Logger
	prep        Preparer
	completer   llm.Completer
	instruction string
}

func NewAnalyzer(prep Preparer, completer llm.Completer, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		logger:      logger,
		prep:        prep,
		completer:   completer,
		instruction: llm.CarInstruction,
	}
}

// Ready reports a configuration error without touching the network.
func (a *Analyzer) Ready() error {
	return a.completer.Ready()
}

// Analyze runs one analysis with exactly one upstream request and no retry.
// Configuration, decode, transport and API failures are returned as errors;
// envelope and parse failures are successful calls whose Result says so.
// The returned Analysis is never nil.
func (a *Analyzer) Analyze(ctx context.Context, up imageprep.Upload) (*Analysis, error) {
	start := time.Now()
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.New().String()
		ctx = common.WithRequestID(ctx, rid)
	}
	logger := common.LoggerFromContext(ctx, a.logger)

	out := &Analysis{RequestID: rid}
	defer func() {
		out.Elapsed = time.Since(start)
		metrics.ObserveAnalysis(string(out.Outcome), out.Elapsed)
	}()

	logger.Info("analyze.start",
		"req_id", rid,
		"filename", up.Filename,
		"content_type", up.ContentType,
		"bytes", len(up.Data),
	)

	// credential check comes before any image work
	if err := a.completer.Ready(); err != nil {
		return out, a.fail(logger, out, err, start)
	}

	prepared, err := a.prep.Prepare(ctx, up)
	if err != nil {
		return out, a.fail(logger, out, err, start)
	}
	out.Image = prepared
	out.DataURI = llm.EncodeDataURI(prepared.MediaType, prepared.Data)
	metrics.PreparedImageBytes.Observe(float64(len(prepared.Data)))

	raw, err := a.completer.Complete(ctx, a.instruction, out.DataURI)
	if err != nil {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			metrics.ObserveUpstream(apiErr.StatusCode)
			out.Raw = []byte(apiErr.Body)
		}
		return out, a.fail(logger, out, err, start)
	}
	metrics.ObserveUpstream(http.StatusOK)
	out.Raw = raw

	out.Result = llm.Interpret(raw)
	switch out.Result.Kind {
	case llm.KindOK:
		out.Outcome = constants.OutcomeOK
		if len(out.Result.Synonyms) > 0 || !out.Result.SchemaValid {
			logger.Warn("analyze.result.lenient",
				"req_id", rid,
				"synonyms", out.Result.Synonyms,
				"schema_valid", out.Result.SchemaValid,
				"complete", out.Result.Complete,
			)
		}
	case llm.KindEnvelopeError:
		out.Outcome = constants.OutcomeEnvelopeError
	default:
		out.Outcome = constants.OutcomeParseError
	}

	logger.Info("analyze.ok",
		"req_id", rid,
		"outcome", out.Outcome,
		"make", out.Result.Fields.Make,
		"model", out.Result.Fields.Model,
		"complete", out.Result.Complete,
		"result_error", out.Result.Error,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (a *Analyzer) fail(logger *slog.Logger, out *Analysis, err error, start time.Time) error {
	out.Outcome = OutcomeOf(err)
	logger.Error("analyze.error",
		"req_id", out.RequestID,
		"outcome", out.Outcome,
		"error", err,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return err
}

// OutcomeOf maps an analysis error onto its outcome label.
func OutcomeOf(err error) constants.Outcome {
	if err == nil {
		return constants.OutcomeOK
	}
	switch common.ErrorCode(err) {
	case common.CodeConfig:
		return constants.OutcomeConfigError
	case common.CodeImageDecode:
		return constants.OutcomeDecodeError
	case common.CodeInvalidInput:
		return constants.OutcomeInvalidInput
	case common.CodeTransport:
		return constants.OutcomeTransportError
	case common.CodeRateLimited:
		return constants.OutcomeRateLimited
	case common.CodeAPI:
		return constants.OutcomeAPIError
	case common.CodeEnvelope:
		return constants.OutcomeEnvelopeError
	case common.CodeParse:
		return constants.OutcomeParseError
	}
	return constants.OutcomeInternalError
}
