package llm

import (
	"encoding/base64"
	"strings"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
)

const dataURIBase64Marker = ";base64,"

// EncodeDataURI embeds data as a base64 data URI with the given media type.
func EncodeDataURI(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + dataURIBase64Marker + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI is the inverse of EncodeDataURI. Only base64 data URIs are accepted.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, common.NewAppError(common.CodeInvalidInput, "not a data URI", nil)
	}
	mediaType, payload, ok := strings.Cut(rest, dataURIBase64Marker)
	if !ok {
		return "", nil, common.NewAppError(common.CodeInvalidInput, "data URI is not base64 encoded", nil)
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, common.NewAppError(common.CodeInvalidInput, "decode data URI payload", err)
	}
	return mediaType, b, nil
}
