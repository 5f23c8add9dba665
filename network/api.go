package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bitrise-io/go-resumable-upload/session"
)

type initResponse struct {
	UploadID  string `json:"uploadId"`
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	TotalSize *int64 `json:"totalSize"`
}

// InitSession opens a new upload session for fileName.
func (c *Client) InitSession(ctx context.Context, fileName string, totalSize int64) (session.Session, error) {
	query := url.Values{}
	query.Set("fileName", fileName)
	query.Set("totalSize", strconv.FormatInt(totalSize, 10))
	apiURL := fmt.Sprintf("%s/upload/init?%s", c.apiBaseURL, query.Encode())

	req, err := c.newRequest(ctx, http.MethodPost, apiURL, nil)
	if err != nil {
		return session.Session{}, err
	}

	resp, err := c.do(req, "Init", true)
	if err != nil {
		return session.Session{}, err
	}
	defer c.closeBody(resp.Body)

	var response initResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return session.Session{}, fmt.Errorf("decode init response: %w", err)
	}

	id := response.UploadID
	if id == "" {
		id = response.ID
	}
	if response.FileName != "" {
		fileName = response.FileName
	}
	if response.TotalSize != nil {
		totalSize = *response.TotalSize
	}

	s, err := session.New(id, fileName, totalSize)
	if err != nil {
		return session.Session{}, fmt.Errorf("invalid init response: %w", err)
	}
	c.logger.Debugf("Upload ID: %s", s.ID)
	return s, nil
}

// UploadedChunks returns the indices of the chunks the service stored for
// the session.
func (c *Client) UploadedChunks(ctx context.Context, sessionID string) ([]int, error) {
	apiURL := fmt.Sprintf("%s/upload/%s/uploadedChunks", c.apiBaseURL, url.PathEscape(sessionID))

	req, err := c.newRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req, "Uploaded chunks", true)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp.Body)

	var indices []int
	if err := json.NewDecoder(resp.Body).Decode(&indices); err != nil {
		return nil, fmt.Errorf("decode uploaded chunks: %w", err)
	}
	return indices, nil
}

// PutChunk stores data as the chunk at index. Sending the same chunk twice
// overwrites it.
func (c *Client) PutChunk(ctx context.Context, sessionID string, index int, data []byte) error {
	if index < 0 {
		return fmt.Errorf("invalid chunk index: %d", index)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
		return fmt.Errorf("write chunk index: %w", err)
	}
	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", index))
	if err != nil {
		return fmt.Errorf("create chunk part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write chunk part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	apiURL := fmt.Sprintf("%s/upload/%s/chunk", c.apiBaseURL, url.PathEscape(sessionID))
	req, err := c.newRequest(ctx, http.MethodPatch, apiURL, body.Bytes())
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debugf("Uploading chunk %d (%d bytes) to %s", index, len(data), apiURL)
	resp, err := c.do(req, "Chunk", false)
	if err != nil {
		return err
	}
	c.closeBody(resp.Body)
	return nil
}

// CompleteSession asks the service to assemble the stored chunks.
func (c *Client) CompleteSession(ctx context.Context, sessionID string) error {
	apiURL := fmt.Sprintf("%s/upload/%s/complete", c.apiBaseURL, url.PathEscape(sessionID))

	req, err := c.newRequest(ctx, http.MethodPost, apiURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req, "Complete", true)
	if err != nil {
		return err
	}
	c.closeBody(resp.Body)
	return nil
}

// ListFinished ...
func (c *Client) ListFinished(ctx context.Context) ([]session.View, error) {
	return c.list(ctx, "finished")
}

// ListUnfinished ...
func (c *Client) ListUnfinished(ctx context.Context) ([]session.View, error) {
	return c.list(ctx, "unfinished")
}

func (c *Client) list(ctx context.Context, kind string) ([]session.View, error) {
	apiURL := fmt.Sprintf("%s/upload/%s", c.apiBaseURL, kind)

	req, err := c.newRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req, "List "+kind, true)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp.Body)

	var views []session.View
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return nil, fmt.Errorf("decode %s sessions: %w", kind, err)
	}
	for _, v := range views {
		if v.ID == "" {
			return nil, errors.New("listed session without id")
		}
	}
	return views, nil
}
