package constants

// Outcome is the canonical result label of one analysis.
type Outcome string

// Stable values (used as metric labels and in batch reports).
const (
	OutcomeOK             Outcome = "OK"
	OutcomeParseError     Outcome = "PARSE_ERROR"    // completion was not a JSON object
	OutcomeEnvelopeError  Outcome = "ENVELOPE_ERROR" // response body had an unexpected shape
	OutcomeConfigError    Outcome = "CONFIG_ERROR"
	OutcomeDecodeError    Outcome = "DECODE_ERROR"
	OutcomeTransportError Outcome = "TRANSPORT_ERROR"
	OutcomeAPIError       Outcome = "API_ERROR"
	OutcomeRateLimited    Outcome = "RATE_LIMITED"
	OutcomeInvalidInput   Outcome = "INVALID_INPUT"
	OutcomeInternalError  Outcome = "INTERNAL_ERROR"
)

// Failed reports whether the analysis produced no interpretable answer.
func (o Outcome) Failed() bool {
	return o != OutcomeOK
}
