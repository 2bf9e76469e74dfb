package api

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wrenware/lattice/internal/onem2m"
)

// Binding headers.
const (
	headerOriginator        = "X-M2M-Origin"
	headerRequestID         = "X-M2M-RI"
	headerRequestExpiration = "X-M2M-RET"
	headerResultExpiration  = "X-M2M-RST"
	headerExecutionTime     = "X-M2M-OET"
	headerResponseStatus    = "X-M2M-RSC"
)

// handleResource is the single entry point for the resource tree: the
// request line carries the address, the headers carry the primitive
// parameters, and the body carries the content.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRequest(r)
	if err != nil {
		s.writeResult(w, r, onem2m.NewErrorResult(r.Header.Get(headerRequestID), err))
		return
	}

	result := s.dispatcher.Handle(r.Context(), req)
	s.writeResult(w, r, result)
}

// decodeRequest maps one HTTP request onto the canonical primitive.
func (s *Server) decodeRequest(r *http.Request) (*onem2m.Request, error) {
	target, err := targetOf(r.URL.Path)
	if err != nil {
		return nil, err
	}

	req := &onem2m.Request{
		Target:             target,
		Originator:         r.Header.Get(headerOriginator),
		RequestID:          r.Header.Get(headerRequestID),
		RequestExpiration:  r.Header.Get(headerRequestExpiration),
		ResultExpiration:   r.Header.Get(headerResultExpiration),
		OperationExecution: r.Header.Get(headerExecutionTime),
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	contentType, params := parseContentType(r.Header.Get("Content-Type"))

	switch r.Method {
	case http.MethodGet:
		req.Operation = onem2m.OperationRetrieve
	case http.MethodPut:
		req.Operation = onem2m.OperationUpdate
	case http.MethodDelete:
		req.Operation = onem2m.OperationDelete
	case http.MethodPost:
		// POST with an announced resource type creates; without one it
		// delivers a notification.
		if ty, ok := params["ty"]; ok {
			n, err := strconv.Atoi(ty)
			if err != nil {
				return nil, badRequestf("unparseable resource type %q", ty)
			}
			req.Operation = onem2m.OperationCreate
			req.ResourceType = onem2m.ResourceType(n)
		} else {
			req.Operation = onem2m.OperationNotify
		}
	default:
		return nil, badRequestf("method %s has no operation mapping", r.Method)
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		// Body size is already bounded by bodySizeLimitMiddleware.
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, badRequestf("reading request body: %v", err)
		}
		if len(body) > 0 {
			content, err := decodeContent(contentType, body)
			if err != nil {
				return nil, err
			}
			req.Content = content
		}
	}

	if err := decodeQuery(r, req); err != nil {
		return nil, err
	}
	return req, nil
}

// targetOf translates the request path back into the address grammar:
// "/~/" carries SP-relative targets, "/_/" absolute ones, anything else
// is CSE-relative.
func targetOf(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "/~/"):
		return "/" + strings.TrimPrefix(path, "/~/"), nil
	case strings.HasPrefix(path, "/_/"):
		return "//" + strings.TrimPrefix(path, "/_/"), nil
	case strings.HasPrefix(path, "/"):
		target := strings.TrimPrefix(path, "/")
		if target == "" {
			return "", badRequestf("empty target address")
		}
		return target, nil
	default:
		return "", badRequestf("malformed request path %q", path)
	}
}

// decodeQuery extracts the result shaping and filter criteria parameters.
func decodeQuery(r *http.Request, req *onem2m.Request) error {
	q := r.URL.Query()

	if v := q.Get("rcn"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return badRequestf("unparseable rcn %q", v)
		}
		req.ResultContent = onem2m.ResultContent(n)
	}
	if v := q.Get("drt"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return badRequestf("unparseable drt %q", v)
		}
		req.DesiredIDType = onem2m.DesiredIdentifierResultType(n)
	}

	fc, err := decodeFilterCriteria(q)
	if err != nil {
		return err
	}
	req.FilterCriteria = fc
	return nil
}

// decodeFilterCriteria builds the filter object from query parameters.
// Returns nil when no filter parameter is present.
func decodeFilterCriteria(q map[string][]string) (*onem2m.FilterCriteria, error) {
	fc := &onem2m.FilterCriteria{}
	present := false

	str := func(name string, dst *string) {
		if vs := q[name]; len(vs) > 0 {
			*dst = vs[0]
			present = true
		}
	}
	num := func(name string, dst **int) error {
		vs := q[name]
		if len(vs) == 0 {
			return nil
		}
		n, err := strconv.Atoi(vs[0])
		if err != nil {
			return badRequestf("unparseable %s %q", name, vs[0])
		}
		*dst = &n
		present = true
		return nil
	}

	str("crb", &fc.CreatedBefore)
	str("cra", &fc.CreatedAfter)
	str("ms", &fc.ModifiedSince)
	str("us", &fc.UnmodifiedSince)
	str("exb", &fc.ExpireBefore)
	str("exa", &fc.ExpireAfter)
	str("aq", &fc.AdvancedQuery)
	str("arp", &fc.ApplyRelativePath)
	str("gmty", &fc.GeometryType)
	str("geom", &fc.Geometry)
	str("gsp", &fc.SpatialOperator)

	for _, name := range []string{"sts", "stb", "sza", "szb", "lvl", "ofst", "lim"} {
		var dst **int
		switch name {
		case "sts":
			dst = &fc.StateTagSmaller
		case "stb":
			dst = &fc.StateTagBigger
		case "sza":
			dst = &fc.SizeAbove
		case "szb":
			dst = &fc.SizeBelow
		case "lvl":
			dst = &fc.Level
		case "ofst":
			dst = &fc.Offset
		case "lim":
			dst = &fc.Limit
		}
		if err := num(name, dst); err != nil {
			return nil, err
		}
	}

	for _, v := range q["ty"] {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, badRequestf("unparseable ty %q", v)
		}
		fc.ResourceTypes = append(fc.ResourceTypes, onem2m.ResourceType(n))
		present = true
	}
	if vs := q["lbl"]; len(vs) > 0 {
		fc.Labels = append(fc.Labels, vs...)
		present = true
	}
	if vs := q["cty"]; len(vs) > 0 {
		fc.ContentTypes = append(fc.ContentTypes, vs...)
		present = true
	}

	// Attribute conditions arrive as repeated atr=name,value pairs.
	for _, v := range q["atr"] {
		name, value, ok := strings.Cut(v, ",")
		if !ok {
			return nil, badRequestf("malformed atr condition %q", v)
		}
		if fc.Attributes == nil {
			fc.Attributes = make(map[string]string)
		}
		fc.Attributes[name] = value
		present = true
	}

	if vs := q["fu"]; len(vs) > 0 {
		n, err := strconv.Atoi(vs[0])
		if err != nil {
			return nil, badRequestf("unparseable fu %q", vs[0])
		}
		fc.FilterUsage = onem2m.FilterUsage(n)
		present = true
	}
	if vs := q["fo"]; len(vs) > 0 {
		n, err := strconv.Atoi(vs[0])
		if err != nil {
			return nil, badRequestf("unparseable fo %q", vs[0])
		}
		fc.FilterOperation = onem2m.FilterOperation(n)
		present = true
	}

	if !present {
		return nil, nil
	}
	return fc, nil
}

// writeResult maps the canonical result back onto HTTP.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, result *onem2m.Result) {
	w.Header().Set(headerResponseStatus, strconv.Itoa(int(result.Status)))
	if result.RequestID != "" {
		w.Header().Set(headerRequestID, result.RequestID)
	}

	var payload map[string]any
	switch {
	case result.OK():
		payload = result.Content
	case result.Debug != "":
		payload = map[string]any{"m2m:dbg": result.Debug}
	}

	accept := r.Header.Get("Accept")
	body, contentType, err := encodeContent(accept, payload)
	if err != nil {
		s.logger.Error("encoding response body", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if len(body) > 0 {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(httpStatusOf(result.Status))
	if len(body) > 0 {
		w.Write(body) //nolint:errcheck // Best-effort write; connection may be closed
	}
}

// httpStatusOf maps a response status code onto its HTTP equivalent.
func httpStatusOf(rsc onem2m.ResponseStatus) int {
	switch rsc {
	case onem2m.StatusOK, onem2m.StatusDeleted, onem2m.StatusUpdated:
		return http.StatusOK
	case onem2m.StatusCreated:
		return http.StatusCreated
	case onem2m.StatusBadRequest, onem2m.StatusContentsUnacceptable, onem2m.StatusInvalidChildResourceType:
		return http.StatusBadRequest
	case onem2m.StatusNotFound:
		return http.StatusNotFound
	case onem2m.StatusOperationNotAllowed:
		return http.StatusMethodNotAllowed
	case onem2m.StatusRequestTimeout:
		return http.StatusRequestTimeout
	case onem2m.StatusOriginatorNoPrivilege:
		return http.StatusForbidden
	case onem2m.StatusConflict:
		return http.StatusConflict
	case onem2m.StatusSecurityAssocRequired:
		return http.StatusUnauthorized
	case onem2m.StatusNotImplemented:
		return http.StatusNotImplemented
	case onem2m.StatusTargetNotReachable:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// parseContentType splits a Content-Type header into media type and
// parameters, tolerating an empty header.
func parseContentType(header string) (string, map[string]string) {
	if header == "" {
		return contentTypeJSON, map[string]string{}
	}
	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		return contentTypeJSON, map[string]string{}
	}
	return mediaType, params
}
