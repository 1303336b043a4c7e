package vsphere

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"k8s.io/klog/v2"
)

// maxLoggedCalls bounds the retained SOAP/REST call history. Unlike a
// one-shot migration run, this client is long-lived, so the teacher's
// unbounded append would leak; entries are kept as a ring buffer instead.
const maxLoggedCalls = 200

// SOAPLogEntry is one logged SOAP API call.
type SOAPLogEntry struct {
	Timestamp    time.Time
	Method       string
	RequestBody  string
	ResponseBody string
	Duration     time.Duration
	Error        error
}

// RESTLogEntry is one logged REST API call.
type RESTLogEntry struct {
	Timestamp      time.Time
	Method         string
	URL            string
	RequestBody    string
	ResponseBody   string
	ResponseStatus int
	Duration       time.Duration
	Error          error
}

// SOAPLogger records recent SOAP calls and mirrors them to klog.
type SOAPLogger struct {
	entries []SOAPLogEntry
}

// NewSOAPLogger creates a SOAPLogger.
func NewSOAPLogger() *SOAPLogger {
	return &SOAPLogger{entries: make([]SOAPLogEntry, 0, maxLoggedCalls)}
}

// LogSOAPCall records one SOAP call and logs it at the appropriate klog
// verbosity: errors at the default level, success at V(2), full bodies
// at V(4).
func (l *SOAPLogger) LogSOAPCall(ctx context.Context, method string, req, res interface{}, duration time.Duration, err error) {
	reqBody := l.marshalSOAPBody(req)
	resBody := l.marshalSOAPBody(res)

	if method == "" {
		method = l.extractSOAPMethod(req)
	}

	l.append(SOAPLogEntry{
		Timestamp:    time.Now().Add(-duration),
		Method:       method,
		RequestBody:  reqBody,
		ResponseBody: resBody,
		Duration:     duration,
		Error:        err,
	})

	logger := klog.FromContext(ctx)
	if err != nil {
		logger.Error(err, "SOAP call failed", "method", method, "duration", duration)
	} else {
		logger.V(2).Info("SOAP call succeeded", "method", method, "duration", duration)
	}
	logger.V(4).Info("SOAP details", "method", method, "request", reqBody, "response", resBody)
}

func (l *SOAPLogger) append(e SOAPLogEntry) {
	l.entries = append(l.entries, e)
	if len(l.entries) > maxLoggedCalls {
		l.entries = l.entries[len(l.entries)-maxLoggedCalls:]
	}
}

func (l *SOAPLogger) marshalSOAPBody(body interface{}) string {
	if body == nil {
		return ""
	}
	data, err := xml.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Sprintf("error marshaling: %v", err)
	}
	return string(data)
}

func (l *SOAPLogger) extractSOAPMethod(req interface{}) string {
	return fmt.Sprintf("%T", req)
}

// GetEntries returns the retained SOAP call history, oldest first.
func (l *SOAPLogger) GetEntries() []SOAPLogEntry {
	return l.entries
}

// Clear discards the retained SOAP call history.
func (l *SOAPLogger) Clear() {
	l.entries = l.entries[:0]
}

// RESTLogger records recent REST API calls and mirrors them to klog.
type RESTLogger struct {
	entries []RESTLogEntry
}

// NewRESTLogger creates a RESTLogger.
func NewRESTLogger() *RESTLogger {
	return &RESTLogger{entries: make([]RESTLogEntry, 0, maxLoggedCalls)}
}

// RoundTrip wraps rt so every call is logged.
func (l *RESTLogger) RoundTrip(rt http.RoundTripper) http.RoundTripper {
	return &restLoggerTransport{base: rt, logger: l}
}

type restLoggerTransport struct {
	base   http.RoundTripper
	logger *RESTLogger
}

func (t *restLoggerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	var reqBody string
	if req.Body != nil {
		bodyBytes, err := io.ReadAll(req.Body)
		if err == nil {
			reqBody = string(bodyBytes)
			req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}
	}

	res, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	var resBody string
	var statusCode int
	if res != nil {
		statusCode = res.StatusCode
		if res.Body != nil {
			bodyBytes, readErr := io.ReadAll(res.Body)
			if readErr == nil {
				resBody = string(bodyBytes)
				res.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			}
		}
	}

	t.logger.append(RESTLogEntry{
		Timestamp:      start,
		Method:         req.Method,
		URL:            req.URL.String(),
		RequestBody:    reqBody,
		ResponseBody:   resBody,
		ResponseStatus: statusCode,
		Duration:       duration,
		Error:          err,
	})

	logger := klog.FromContext(req.Context())
	if err != nil {
		logger.Error(err, "REST call failed", "method", req.Method, "url", req.URL.String(), "duration", duration)
	} else {
		logger.V(2).Info("REST call succeeded", "method", req.Method, "url", req.URL.String(), "status", statusCode, "duration", duration)
	}
	logger.V(4).Info("REST details", "method", req.Method, "url", req.URL.String(), "request", reqBody, "response", resBody)

	return res, err
}

func (l *RESTLogger) append(e RESTLogEntry) {
	l.entries = append(l.entries, e)
	if len(l.entries) > maxLoggedCalls {
		l.entries = l.entries[len(l.entries)-maxLoggedCalls:]
	}
}

// GetEntries returns the retained REST call history, oldest first.
func (l *RESTLogger) GetEntries() []RESTLogEntry {
	return l.entries
}

// Clear discards the retained REST call history.
func (l *RESTLogger) Clear() {
	l.entries = l.entries[:0]
}
