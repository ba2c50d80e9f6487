package domain

import "errors"

// Domain errors.
var (
	// ErrAuthRequired is returned when the extractor reports a login or
	// cookie requirement. Terminal, never retried; the operator has to
	// supply a cookie file.
	ErrAuthRequired = errors.New("extractor requires authentication")

	// ErrMetadata is returned when metadata extraction fails after retries.
	ErrMetadata = errors.New("metadata extraction failed")

	// ErrNoMedia is returned when a URL resolves but carries no usable media.
	ErrNoMedia = errors.New("no media found at URL")

	// ErrDownload is returned when the media download fails after retries.
	ErrDownload = errors.New("media download failed")

	// ErrArtifactMissing is returned when the external tool reported success
	// but the output file does not exist. Not retried.
	ErrArtifactMissing = errors.New("download reported success but produced no file")

	// ErrEncode is returned when the re-encode tool invocation fails.
	ErrEncode = errors.New("re-encode failed")

	// ErrTooLargeAfterFit is returned when the fitted file still exceeds the
	// transport ceiling. Distinct from ErrEncode: the tool worked, the
	// content simply cannot fit.
	ErrTooLargeAfterFit = errors.New("media exceeds size ceiling even after re-encode")

	// ErrSendFailed is returned when every delivery attempt, including the
	// send-as-document fallback, has failed.
	ErrSendFailed = errors.New("all delivery attempts failed")

	// ErrStaleHandle is returned when the transport rejects a cached handle.
	// Not terminal; triggers fresh extraction.
	ErrStaleHandle = errors.New("cached transport handle rejected")

	// ErrUnsupportedDomain is returned when a URL is outside the allow-list.
	ErrUnsupportedDomain = errors.New("URL domain not supported")
)

// RequestError wraps an error with the request context it occurred in.
type RequestError struct {
	URL string
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	if e.URL != "" {
		return e.Op + " [" + e.URL + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError creates a new RequestError.
func NewRequestError(url, op string, err error) *RequestError {
	return &RequestError{URL: url, Op: op, Err: err}
}
