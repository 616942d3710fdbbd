package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/casefind/internal/models"
)

// httpSearcher runs queries against a running casefind server.
type httpSearcher struct {
	baseURL string
	client  *http.Client
}

func newHTTPSearcher(baseURL string) *httpSearcher {
	return &httpSearcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (h *httpSearcher) SearchByText(ctx context.Context, query string, k int) ([]models.ImageHit, error) {
	var resp models.SearchResponse[models.ImageHit]
	if err := h.postJSON(ctx, "/api/v1/search/text", models.SearchQuery{Query: query, K: k}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (h *httpSearcher) SearchByTextAlternateModel(ctx context.Context, query string, k int) ([]models.RecordHit, error) {
	var resp models.SearchResponse[models.RecordHit]
	if err := h.postJSON(ctx, "/api/v1/search/text-alt", models.SearchQuery{Query: query, K: k}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (h *httpSearcher) SearchByImage(ctx context.Context, data []byte, k int) ([]models.RecordHit, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "query")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	u := h.baseURL + "/api/v1/search/image"
	if k > 0 {
		u += "?" + url.Values{"k": {strconv.Itoa(k)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var resp models.SearchResponse[models.RecordHit]
	if err := h.do(req, &resp); err != nil {
		return nil, err
	}
	// every image hit is an asset; the flag is not on the wire
	for i := range resp.Results {
		resp.Results[i].HasAsset = true
	}
	return resp.Results, nil
}

func (h *httpSearcher) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req, out)
}

func (h *httpSearcher) do(req *http.Request, out any) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// serverError rebuilds the engine error class from the response status so callers can
// still match it with errors.Is.
func serverError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	var class error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		class = models.ErrInvalidArgument
	case http.StatusServiceUnavailable:
		class = models.ErrProviderUnavailable
	default:
		class = errors.New("server error")
	}
	return fmt.Errorf("server returned %d: %w: %s", resp.StatusCode, class, msg)
}
