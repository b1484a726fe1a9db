package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Default service locations.
const (
	DefaultUploadURL = "https://rupload.facebook.com/mapillary_public_uploads"
	DefaultGraphURL  = "https://graph.mapillary.com"
)

// HTTPClient talks to the upload and completion endpoints.
type HTTPClient struct {
	uploadURL  string
	graphURL   string
	httpClient *http.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithUploadURL sets the base URL of the chunk upload endpoint.
func WithUploadURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.uploadURL = url
	}
}

// WithGraphURL sets the base URL of the completion endpoint.
func WithGraphURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.graphURL = url
	}
}

// NewClient creates a new upload HTTP client.
func NewClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		uploadURL:  DefaultUploadURL,
		graphURL:   DefaultGraphURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session binds the client to one upload session.
func (c *HTTPClient) Session(s Session) (*Service, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &Service{client: c, session: s}, nil
}

// Service runs the upload protocol for a single session. It is not safe for
// concurrent use, and two services must never upload the same session key at once.
type Service struct {
	client    *HTTPClient
	session   Session
	observers []Observer
}

// Subscribe registers an observer. Observers run in registration order.
func (s *Service) Subscribe(o Observer) {
	s.observers = append(s.observers, o)
}

// FetchOffset returns the number of bytes the server has committed for the session.
func (s *Service) FetchOffset(ctx context.Context) (int64, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, s.sessionURL(), s.authHeader(), nil)
	if err != nil {
		return 0, err
	}

	v := gjson.GetBytes(body, "offset")
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: %s", ErrMissingOffset, string(body))
	}
	offset := v.Int()
	if offset < 0 || offset > s.session.EntitySize {
		return 0, &OffsetMismatchError{Offset: offset, EntitySize: s.session.EntitySize}
	}
	return offset, nil
}

// Upload sends the data of r starting at offset, one chunk per request, and
// returns the file handle issued for the complete entity. A nil offset is
// resolved with FetchOffset. The terminal request carries an empty chunk and
// is only sent once the offset has reached the entity size. Any failure
// aborts the call; resume by calling Upload again.
func (s *Service) Upload(ctx context.Context, r io.ReadSeeker, offset *int64, chunkSize int64) (string, error) {
	if chunkSize <= 0 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}
	if err := s.session.validate(); err != nil {
		return "", err
	}

	var off int64
	if offset != nil {
		off = *offset
	} else {
		fetched, err := s.FetchOffset(ctx)
		if err != nil {
			return "", err
		}
		off = fetched
	}
	if off < 0 || off > s.session.EntitySize {
		return "", &OffsetMismatchError{Offset: off, EntitySize: s.session.EntitySize}
	}

	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return "", fmt.Errorf("upload: seek to offset %d: %w", off, err)
	}

	buf := make([]byte, min(chunkSize, s.session.EntitySize-off+1))
	var last []byte
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return "", fmt.Errorf("upload: read source: %w", err)
		}
		chunk := buf[:n]
		if n == 0 && off != s.session.EntitySize {
			return "", &OffsetMismatchError{Offset: off, EntitySize: s.session.EntitySize}
		}
		if off+int64(n) > s.session.EntitySize {
			return "", fmt.Errorf("%w: %d bytes past offset %d, entity size %d",
				ErrSourceTooLong, n, off, s.session.EntitySize)
		}

		body, err := s.client.doRequest(ctx, http.MethodPost, s.sessionURL(), s.chunkHeader(off), bytes.NewReader(chunk))
		if err != nil {
			return "", err
		}

		ev := ChunkEvent{
			SessionKey: s.session.Key,
			Offset:     off,
			Size:       n,
			Committed:  off + int64(n),
			EntitySize: s.session.EntitySize,
		}
		off = ev.Committed
		for _, o := range s.observers {
			o.OnChunk(ev)
		}

		if n == 0 {
			last = body
			break
		}
	}

	h := gjson.GetBytes(last, "h")
	if !h.Exists() || h.String() == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingFileHandle, string(last))
	}
	return h.String(), nil
}

// Finish exchanges a file handle for a cluster id. organizationID is optional.
func (s *Service) Finish(ctx context.Context, fileHandle, organizationID string) (string, error) {
	if fileHandle == "" {
		return "", fmt.Errorf("%w: file handle is empty", ErrMissingFileHandle)
	}

	bodyBytes, err := json.Marshal(finishRequest{FileHandle: fileHandle, OrganizationID: organizationID})
	if err != nil {
		return "", fmt.Errorf("upload: marshal request: %w", err)
	}

	header := s.authHeader()
	header.Set("Content-Type", "application/json")

	body, err := s.client.doRequest(ctx, http.MethodPost, s.client.graphURL+"/finish_upload", header, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}

	id := gjson.GetBytes(body, "cluster_id")
	if !id.Exists() || id.Type == gjson.Null || id.String() == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingClusterID, string(body))
	}
	return id.String(), nil
}

func (s *Service) sessionURL() string {
	return s.client.uploadURL + "/" + s.session.Key
}

func (s *Service) authHeader() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "OAuth "+s.session.AccessToken)
	return h
}

func (s *Service) chunkHeader(offset int64) http.Header {
	h := s.authHeader()
	h.Set("Offset", strconv.FormatInt(offset, 10))
	h.Set("X-Entity-Length", strconv.FormatInt(s.session.EntitySize, 10))
	h.Set("X-Entity-Name", s.session.Key)
	h.Set("X-Entity-Type", EntityType)
	return h
}

// doRequest performs a single HTTP request and returns the response body.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, header http.Header, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("upload: create request: %w", err)
	}
	req.Header = header

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("upload: context cancelled: %w", ctx.Err())
		}
		return nil, &retryableError{err: fmt.Errorf("upload: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("upload: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// retryableError wraps transport failures worth retrying from the caller.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// IsRetryable returns true if err is a transient failure that a resumed
// upload may get past.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
