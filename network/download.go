package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/melbahja/got"
)

// DownloadURL locates the assembled file of a finished session.
func (c *Client) DownloadURL(sessionID string) string {
	return fmt.Sprintf("%s/download/%s", c.downloadBaseURL, url.PathEscape(sessionID))
}

// DownloadZipURL locates the zip archive of a finished session.
func (c *Client) DownloadZipURL(sessionID string) string {
	return c.DownloadURL(sessionID) + "/zip"
}

// Download fetches a finished session into dest, either the file itself or
// its zip archive.
func (c *Client) Download(ctx context.Context, sessionID, dest string, zip bool) error {
	if sessionID == "" {
		return errors.New("session id is empty")
	}
	if dest == "" {
		return errors.New("download path is empty")
	}

	downloadURL := c.DownloadURL(sessionID)
	if zip {
		downloadURL = c.DownloadZipURL(sessionID)
	}

	c.logger.Debugf("Downloading %s to %s", downloadURL, dest)
	if err := downloadFile(ctx, c.downloadClient, downloadURL, dest); err != nil {
		return fmt.Errorf("failed to download session %s: %w", sessionID, err)
	}
	return nil
}

func downloadFile(ctx context.Context, client *http.Client, url string, dest string) error {
	downloader := got.New()
	downloader.Client = client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}
