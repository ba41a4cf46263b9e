package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"piclocate/internal/apperr"
	"piclocate/internal/logging"
)

// DriveClient talks to a Google-Drive-compatible files API with a bearer
// token. Only the two read operations the indexer needs are implemented.
type DriveClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// DriveConfig holds DriveClient settings.
type DriveConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewDriveClient creates a client for the files API.
func NewDriveClient(cfg DriveConfig) *DriveClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DriveClient{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type driveFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

type driveListResponse struct {
	Files         []driveFile `json:"files"`
	NextPageToken string      `json:"nextPageToken"`
}

// ListFolder returns the direct children of folderID, following pagination.
func (c *DriveClient) ListFolder(ctx context.Context, folderID string) ([]Entry, error) {
	log := logging.Get(logging.CategoryCrawler)

	var entries []Entry
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("q", fmt.Sprintf("'%s' in parents and trashed=false", folderID))
		q.Set("fields", "nextPageToken,files(id,name,mimeType,modifiedTime)")
		q.Set("pageSize", "1000")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page driveListResponse
		if err := c.getJSON(ctx, c.baseURL+"/files?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		for _, f := range page.Files {
			entries = append(entries, Entry{
				ID:      f.ID,
				Name:    f.Name,
				MIME:    f.MimeType,
				ModTime: f.ModifiedTime,
			})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	log.Debug("ListFolder %s: %d entries", folderID, len(entries))
	return entries, nil
}

// FetchBytes downloads file content via alt=media.
func (c *DriveClient) FetchBytes(ctx context.Context, fileID string) ([]byte, time.Time, error) {
	// Metadata first for the modification time.
	var meta driveFile
	metaURL := fmt.Sprintf("%s/files/%s?fields=id,modifiedTime", c.baseURL, url.PathEscape(fileID))
	if err := c.getJSON(ctx, metaURL, &meta); err != nil {
		return nil, time.Time{}, err
	}

	mediaURL := fmt.Sprintf("%s/files/%s?alt=media", c.baseURL, url.PathEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, time.Time{}, apperr.Wrap(apperr.KindTransient, err, "source fetch failed")
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, time.Time{}, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, time.Time{}, apperr.Wrap(apperr.KindTransient, err, "source read failed")
	}
	return data, meta.ModifiedTime, nil
}

// SignedURL returns the public fetch URL for a file id.
func (c *DriveClient) SignedURL(fileID string) string {
	return "https://drive.google.com/uc?id=" + url.QueryEscape(fileID)
}

func (c *DriveClient) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "source request failed")
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindParse, err, "source response decode failed")
	}
	return nil
}

func (c *DriveClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyStatus maps HTTP status codes onto the error taxonomy. Auth errors
// halt the crawl; 429/5xx are retried by the caller.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.Newf(apperr.KindAuth, "source store rejected credentials (HTTP %d)", code)
	case code == http.StatusTooManyRequests || code >= 500:
		return apperr.Newf(apperr.KindTransient, "source store unavailable (HTTP %d)", code)
	default:
		return apperr.Newf(apperr.KindInput, "source store returned HTTP %d", code)
	}
}
