package metrics

import (
	"net/http"
	"time"
)

// roundTripper wraps an http.RoundTripper to record upstream request metrics.
type roundTripper struct {
	next http.RoundTripper
	reg  *Registry
}

// Transport returns a RoundTripper that records metrics for every request.
// A nil next uses http.DefaultTransport.
func Transport(reg *Registry, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{next: next, reg: reg}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.reg.InFlightInc()
	defer rt.reg.InFlightDec()

	start := time.Now()
	resp, err := rt.next.RoundTrip(req)

	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	rt.reg.RecordRequest(req.URL.Host, status, time.Since(start).Seconds())
	return resp, err
}
