package transit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
	"github.com/wrenware/lattice/internal/store"
)

// defaultTimeout bounds forwarded calls whose request carries no
// expiration of its own.
const defaultTimeout = 10 * time.Second

// Forwarder proxies a request to a federation peer and returns its result.
type Forwarder interface {
	Forward(ctx context.Context, req *onem2m.Request, targetCSEID string) *onem2m.Result
}

// Logger is the subset of the logging interface the forwarder uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// HTTPForwarder implements Forwarder over the peer's HTTP binding.
type HTTPForwarder struct {
	client *http.Client
	store  store.Store
	logger Logger

	// static maps CSE-IDs to points of access from configuration, for
	// peers that are not (yet) registered as remote CSE resources.
	static map[string]string
}

// NewHTTPForwarder creates a forwarder. static may be nil.
func NewHTTPForwarder(st store.Store, static map[string]string) *HTTPForwarder {
	return &HTTPForwarder{
		client: &http.Client{},
		store:  st,
		logger: noopLogger{},
		static: static,
	}
}

// SetLogger sets the logger for the forwarder.
func (f *HTTPForwarder) SetLogger(logger Logger) {
	f.logger = logger
}

// Forward implements Forwarder. Failures come back as results, never as
// panics; an unreachable or unknown peer maps to the not-reachable status.
func (f *HTTPForwarder) Forward(ctx context.Context, req *onem2m.Request, targetCSEID string) *onem2m.Result {
	poa, err := f.pointOfAccess(ctx, targetCSEID)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	deadline := defaultTimeout
	if req.RequestExpiration != "" {
		expires, err := onem2m.ParseTimestamp(req.RequestExpiration)
		if err == nil {
			deadline = time.Until(expires)
		}
	}
	if deadline <= 0 {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("request expired before forwarding: %w", onem2m.ErrTimeout))
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	httpReq, err := f.encode(ctx, req, poa)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	f.logger.Debug("forwarding request", "target_cse", targetCSEID, "poa", poa, "op", req.Operation.String())
	resp, err := f.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return onem2m.NewErrorResult(req.RequestID,
				fmt.Errorf("forwarded call to %q timed out: %w", targetCSEID, onem2m.ErrTimeout))
		}
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("forwarding to %q: %v: %w", targetCSEID, err, onem2m.ErrNotReachable))
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	return f.decode(req, resp)
}

// pointOfAccess resolves the peer's endpoint: registered remote CSE first,
// static configuration second.
func (f *HTTPForwarder) pointOfAccess(ctx context.Context, cseID string) (string, error) {
	matches, err := f.store.Search(ctx, resource.AttrCSEID, cseID)
	if err == nil {
		for _, res := range matches {
			if res.Type() != onem2m.TypeRemoteCSE {
				continue
			}
			if poa := res.StringSlice(resource.AttrPointOfAccess); len(poa) > 0 {
				return poa[0], nil
			}
		}
	}
	if poa, ok := f.static[cseID]; ok {
		return poa, nil
	}
	return "", fmt.Errorf("no point of access for CSE %q: %w", cseID, onem2m.ErrNotReachable)
}

// encode maps the canonical request onto the peer's HTTP binding: "~" for
// SP-relative targets, "_" for absolute ones.
func (f *HTTPForwarder) encode(ctx context.Context, req *onem2m.Request, poa string) (*http.Request, error) {
	var method string
	switch req.Operation {
	case onem2m.OperationCreate, onem2m.OperationNotify:
		method = http.MethodPost
	case onem2m.OperationRetrieve:
		method = http.MethodGet
	case onem2m.OperationUpdate:
		method = http.MethodPut
	case onem2m.OperationDelete:
		method = http.MethodDelete
	default:
		return nil, fmt.Errorf("operation %d cannot be forwarded: %w", req.Operation, onem2m.ErrBadRequest)
	}

	path := req.Target
	switch {
	case strings.HasPrefix(path, "//"):
		path = "/_/" + strings.TrimPrefix(path, "//")
	case strings.HasPrefix(path, "/"):
		path = "/~" + path
	default:
		path = "/" + path
	}

	var body io.Reader
	if req.Content != nil {
		encoded, err := json.Marshal(req.Content)
		if err != nil {
			return nil, fmt.Errorf("encoding forwarded content: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	target := strings.TrimSuffix(poa, "/") + path
	if q := filterQuery(req); q != "" {
		target += "?" + q
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building forwarded request: %w", err)
	}

	contentType := "application/json"
	if req.Operation == onem2m.OperationCreate {
		contentType += ";ty=" + strconv.Itoa(int(req.ResourceType))
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("X-M2M-Origin", req.Originator)
	httpReq.Header.Set("X-M2M-RI", req.RequestID)
	if req.RequestExpiration != "" {
		httpReq.Header.Set("X-M2M-RET", req.RequestExpiration)
	}
	return httpReq, nil
}

// filterQuery re-encodes the query-visible request parameters.
func filterQuery(req *onem2m.Request) string {
	q := url.Values{}
	if req.ResultContent != 0 {
		q.Set("rcn", strconv.Itoa(int(req.ResultContent)))
	}
	if fc := req.FilterCriteria; fc != nil {
		if fc.FilterUsage != 0 {
			q.Set("fu", strconv.Itoa(int(fc.FilterUsage)))
		}
		if fc.FilterOperation != 0 {
			q.Set("fo", strconv.Itoa(int(fc.FilterOperation)))
		}
		for _, ty := range fc.ResourceTypes {
			q.Add("ty", strconv.Itoa(int(ty)))
		}
		for _, lbl := range fc.Labels {
			q.Add("lbl", lbl)
		}
		if fc.Level != nil {
			q.Set("lvl", strconv.Itoa(*fc.Level))
		}
		if fc.Offset != nil {
			q.Set("ofst", strconv.Itoa(*fc.Offset))
		}
		if fc.Limit != nil {
			q.Set("lim", strconv.Itoa(*fc.Limit))
		}
	}
	return q.Encode()
}

// decode turns the peer's HTTP response back into a canonical result.
func (f *HTTPForwarder) decode(req *onem2m.Request, resp *http.Response) *onem2m.Result {
	result := &onem2m.Result{RequestID: req.RequestID}

	if rsc := resp.Header.Get("X-M2M-RSC"); rsc != "" {
		if code, err := strconv.Atoi(rsc); err == nil {
			result.Status = onem2m.ResponseStatus(code)
		}
	}
	if result.Status == 0 {
		// Peer spoke plain HTTP; approximate from the HTTP status.
		if resp.StatusCode < 300 {
			result.Status = onem2m.SuccessFor(req.Operation)
		} else {
			result.Status = onem2m.StatusTargetNotReachable
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		f.logger.Warn("reading forwarded response", "error", err)
		return result
	}
	if len(body) > 0 {
		var content map[string]any
		if err := json.Unmarshal(body, &content); err == nil {
			if result.OK() {
				result.Content = content
			} else if dbg, ok := content["m2m:dbg"].(string); ok {
				result.Debug = dbg
			}
		}
	}
	return result
}
