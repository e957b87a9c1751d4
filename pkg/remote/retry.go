package remote

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"k8s.io/klog/v2"
)

// maxRetryDelay caps both the exponential backoff and any Retry-After the
// server asks for.
const maxRetryDelay = 30 * time.Second

// retryPolicy retries a request on transport errors, 429 and 5xx. Other
// statuses are returned to the caller on the first attempt.
type retryPolicy struct {
	attempts int
	delay    time.Duration
}

// do sends req until it gets a final answer or runs out of attempts, in
// which case the last retryable response is returned. The body is replayed
// from req.GetBody when set, and buffered otherwise.
func (p retryPolicy) do(client *http.Client, req *http.Request) (*http.Response, error) {
	attempts := max(p.attempts, 1)
	if req.Body != nil && req.GetBody == nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }
		req.ContentLength = int64(len(data))
		req.Body, _ = req.GetBody()
	}

	delay := p.delay
	var lastErr error
	for attempt := 1; ; attempt++ {
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}

		resp, err := client.Do(req)
		switch {
		case err != nil && req.Context().Err() != nil:
			return nil, err
		case err != nil:
			lastErr = err
		case !retryableStatus(resp.StatusCode) || attempt == attempts:
			return resp, nil
		}
		if attempt == attempts {
			return nil, lastErr
		}

		wait := delay
		if resp != nil {
			if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = ra
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		wait = min(wait, maxRetryDelay)
		klog.V(2).Infof("retrying %s %s in %s (attempt %d/%d)", req.Method, req.URL.Path, wait, attempt+1, attempts)

		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter parses a Retry-After value given in seconds or as an HTTP date.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0), true
	}
	return 0, false
}
