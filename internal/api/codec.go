package api

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Supported serialization media types. The oneM2M-specific types are
// accepted as aliases of their base types.
const (
	contentTypeJSON = "application/json"
	contentTypeCBOR = "application/cbor"

	contentTypeOneM2MJSON = "application/vnd.onem2m-res+json"
	contentTypeOneM2MCBOR = "application/vnd.onem2m-res+cbor"
)

// cborDec decodes CBOR maps into string-keyed maps at every nesting
// level, so decoded content is shape-identical to the JSON path. The
// default mode would yield map[interface{}]interface{} for nested
// representations, which the resource layer rejects.
var cborDec = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// decodeContent unmarshals a request body according to its media type.
// An unrecognized media type falls back to JSON rather than rejecting,
// since some peers omit or mangle the header.
func decodeContent(mediaType string, body []byte) (map[string]any, error) {
	var content map[string]any
	switch mediaType {
	case contentTypeCBOR, contentTypeOneM2MCBOR:
		if err := cborDec.Unmarshal(body, &content); err != nil {
			return nil, badRequestf("unparseable cbor body: %v", err)
		}
	default:
		if err := json.Unmarshal(body, &content); err != nil {
			return nil, badRequestf("unparseable json body: %v", err)
		}
	}
	return content, nil
}

// encodeContent marshals a response payload according to the Accept
// header. A nil payload yields an empty body. Returns the body and the
// Content-Type to advertise.
func encodeContent(accept string, payload map[string]any) ([]byte, string, error) {
	if payload == nil {
		return nil, "", nil
	}
	if wantsCBOR(accept) {
		body, err := cbor.Marshal(payload)
		return body, contentTypeCBOR, err
	}
	body, err := json.Marshal(payload)
	return body, contentTypeJSON, err
}

// wantsCBOR reports whether the Accept header asks for a CBOR response.
func wantsCBOR(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(part)
		if i := strings.IndexByte(mediaType, ';'); i >= 0 {
			mediaType = strings.TrimSpace(mediaType[:i])
		}
		if mediaType == contentTypeCBOR || mediaType == contentTypeOneM2MCBOR {
			return true
		}
	}
	return false
}
