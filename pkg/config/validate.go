package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// Environment variables that override the document index credentials.
const (
	EnvIndexUsername = "INNSYN_INDEX_USERNAME"
	EnvIndexPassword = "INNSYN_INDEX_PASSWORD"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = "nb-NO,nb;q=0.9,no;q=0.8,nn;q=0.7,en;q=0.5"
	}

	// DateWorkers: 1 keeps the sequential, source-order behavior
	if c.DateWorkers <= 0 {
		c.DateWorkers = 1
	}
	if c.DateWorkers > 8 {
		warnings = append(warnings, fmt.Sprintf("date_workers %d is unkind to a municipal server, capping at 8", c.DateWorkers))
		c.DateWorkers = 8
	}

	if c.MaxRequestsPerHost <= 0 {
		c.MaxRequestsPerHost = 2
	}

	if c.DelayPerRequest < 0 {
		warnings = append(warnings, "delay_per_request cannot be negative, setting to 0")
		c.DelayPerRequest = 0
	}

	if c.MaxListingPages <= 0 {
		c.MaxListingPages = 500
	}

	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './innsyn_state'")
		c.StateDir = "./innsyn_state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}
	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	warnings = append(warnings, c.validatePoliteness()...)
	c.validateHTTPClientSettings()
	warnings = append(warnings, c.validateUpload()...)

	// Portals: lower-case keys and stamp each value with its key
	normalized := make(map[string]PortalConfig, len(c.Portals))
	for key, p := range c.Portals {
		lk := strings.ToLower(strings.TrimSpace(key))
		p.Key = lk
		normalized[lk] = p
	}
	c.Portals = normalized
	if len(c.Portals) == 0 {
		warnings = append(warnings, "no portals configured")
	}

	return warnings, nil // AppConfig validation never fails fatally
}

// validatePoliteness applies the "1 in 3 dates, 1-5 seconds" defaults.
func (c *AppConfig) validatePoliteness() (warnings []string) {
	p := &c.Politeness
	if p.Disabled {
		return nil
	}
	if p.OneIn <= 0 {
		p.OneIn = 3
	}
	if p.MinDelay <= 0 {
		p.MinDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.MinDelay > p.MaxDelay {
		warnings = append(warnings, fmt.Sprintf("politeness min_delay (%v) > max_delay (%v), swapping", p.MinDelay, p.MaxDelay))
		p.MinDelay, p.MaxDelay = p.MaxDelay, p.MinDelay
	}
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 60 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 20
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// validateUpload fills upload defaults and pulls credentials from the environment.
func (c *AppConfig) validateUpload() (warnings []string) {
	u := &c.Upload
	if u.Project == "" {
		u.Project = "kommune"
	}
	if u.ProcessedLog == "" {
		u.ProcessedLog = filepath.Join(c.StateDir, "uploaded.log")
	}
	if u.Timeout <= 0 {
		u.Timeout = 2 * time.Minute
	}
	if len(u.AttachmentExtensions) == 0 {
		u.AttachmentExtensions = []string{".pdf", ".jpg", ".png", ".docx", ".xlsx"}
	}
	if v := os.Getenv(EnvIndexUsername); v != "" {
		u.Username = v
	}
	if v := os.Getenv(EnvIndexPassword); v != "" {
		u.Password = v
	}
	if u.Password != "" && u.BaseURL != "" && !strings.HasPrefix(u.BaseURL, "https://") {
		warnings = append(warnings, "upload.base_url is not https, credentials will be sent in clear text")
	}
	return warnings
}

// Validate checks the fields a crawl cannot run without.
func (p *PortalConfig) Validate() (warnings []string, err error) {
	if p.BaseURL == "" {
		return nil, fmt.Errorf("%w: portal %q needs base_url", utils.ErrConfigValidation, p.Key)
	}
	u, perr := url.Parse(p.BaseURL)
	if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: portal %q base_url %q is not an absolute http(s) URL", utils.ErrConfigValidation, p.Key, p.BaseURL)
	}
	if strings.TrimSpace(p.PortalID) == "" {
		return nil, fmt.Errorf("%w: portal %q needs portal_id", utils.ErrConfigValidation, p.Key)
	}
	if p.OutputDir == "" {
		return nil, fmt.Errorf("%w: portal %q needs output_dir", utils.ErrConfigValidation, p.Key)
	}
	if u.Scheme == "http" {
		warnings = append(warnings, fmt.Sprintf("portal %q uses plain http", p.Key))
	}
	if p.Name == "" {
		p.Name = p.Key
	}
	return warnings, nil
}

// ValidateUploadTarget reports whether the upload phase has somewhere to send documents.
func (u *UploadConfig) ValidateUploadTarget() error {
	if u.BaseURL == "" {
		return fmt.Errorf("%w: upload.base_url is required for upload", utils.ErrConfigValidation)
	}
	if _, err := url.ParseRequestURI(u.BaseURL); err != nil {
		return fmt.Errorf("%w: upload.base_url %q: %v", utils.ErrConfigValidation, u.BaseURL, err)
	}
	return nil
}
