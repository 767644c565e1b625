package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// maxErrorBody bounds how much of a rejected response is read into the error.
const maxErrorBody = 4096

// Client talks to the document index API of one project.
type Client struct {
	http     *http.Client
	apiBase  string // {base_url}/tellusr/api/v1/{project}
	username string
	password string
	log      *logrus.Entry
}

// NewClient builds a Client for cfg. httpClient is usually fetch.NewClient with the upload timeout.
func NewClient(cfg config.UploadConfig, httpClient *http.Client, log *logrus.Entry) (*Client, error) {
	if err := cfg.ValidateUploadTarget(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	project := cfg.Project
	if project == "" {
		project = "kommune"
	}
	return &Client{
		http:     httpClient,
		apiBase:  strings.TrimRight(cfg.BaseURL, "/") + "/tellusr/api/v1/" + url.PathEscape(project),
		username: cfg.Username,
		password: cfg.Password,
		log:      log.WithField("component", "index_client"),
	}, nil
}

// UpsertDocument sends doc to update-many-docs. A duplicate id comes back as ErrDuplicateID.
func (c *Client) UpsertDocument(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(map[string][]Document{"docs": {doc}})
	if err != nil {
		return fmt.Errorf("%w: encode document %s: %w", utils.ErrParsing, doc.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/update-many-docs", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, doc.ID)
}

// UploadFile posts the file at path as attachment id.
func (c *Client) UploadFile(ctx context.Context, id, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open attachment: %w", utils.ErrFilesystem, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("%w: read attachment %s: %w", utils.ErrFilesystem, path, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}

	q := url.Values{}
	q.Set("id", id)
	q.Set("saveCopy", "true")
	q.Set("generateThumbnail", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/upload-file?"+q.Encode(), &body)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, id)
}

func (c *Client) do(req *http.Request, id string) error {
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return utils.WrapErrorf(utils.ErrUploadRejected, "%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if strings.Contains(strings.ToLower(string(body)), "duplicate id") {
		return utils.WrapErrorf(utils.ErrDuplicateID, "id %s", id)
	}
	if resp.StatusCode != http.StatusOK {
		return utils.WrapErrorf(utils.ErrUploadRejected, "%s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	c.log.WithField("id", id).Debugf("%s accepted", req.URL.Path)
	return nil
}
