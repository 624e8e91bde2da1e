package probe

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/JakeFAU/execution-probe/internal/jsonvalue"
)

// Per-attempt failure classes. All of them are recovered by the retry loop.
var (
	ErrAuthRejected      = errors.New("authentication rejected")
	ErrResourceAbsent    = errors.New("resource not found")
	ErrUnexpectedStatus  = errors.New("unexpected status")
	ErrTimeout           = errors.New("request timed out")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrMalformedResponse = errors.New("malformed response body")
)

// classify maps one transport round trip to a payload or a classified error.
func classify(resp Response, err error) (jsonvalue.Value, error) {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return jsonvalue.Value{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return jsonvalue.Value{}, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		payload, perr := jsonvalue.Parse(resp.Body)
		if perr != nil {
			return jsonvalue.Value{}, fmt.Errorf("%w: %v", ErrMalformedResponse, perr)
		}
		return payload, nil
	case http.StatusUnauthorized:
		return jsonvalue.Value{}, ErrAuthRejected
	case http.StatusNotFound:
		return jsonvalue.Value{}, ErrResourceAbsent
	default:
		return jsonvalue.Value{}, fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// kindFor picks the outcome kind from the last observed failure.
func kindFor(err error) OutcomeKind {
	switch {
	case errors.Is(err, ErrAuthRejected):
		return OutcomeAuthFailure
	case errors.Is(err, ErrResourceAbsent):
		return OutcomeNotFound
	default:
		return OutcomeTransportError
	}
}

// resultLabel is the metrics label for a single attempt.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAuthRejected):
		return "auth_rejected"
	case errors.Is(err, ErrResourceAbsent):
		return "not_found"
	case errors.Is(err, ErrUnexpectedStatus):
		return "unexpected_status"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "connection_failed"
	}
}
