package config

import (
	"net/url"
	"sort"
	"time"
)

// DefaultUserAgent is the browser identity the portals are known to serve full pages to.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// PortalConfig describes one municipality's innsyn portal. It is passed by value and never mutated
// after Validate.
type PortalConfig struct {
	Key       string `yaml:"-"`                    // Map key, filled in by AppConfig.Validate
	Name      string `yaml:"name,omitempty"`       // Human readable municipality name
	BaseURL   string `yaml:"base_url"`             // e.g. https://vagan.kommune.no/innsyn.aspx
	PortalID  string `yaml:"portal_id"`            // Listing endpoint id, sent as MId1
	OutputDir string `yaml:"output_dir"`           // Archive root for this portal
	UserAgent string `yaml:"user_agent,omitempty"` // Overrides AppConfig.UserAgent
}

// Host returns the hostname of the portal's base URL, or "" if it does not parse.
func (p PortalConfig) Host() string {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// PolitenessConfig controls the randomized pause applied after each walked date.
type PolitenessConfig struct {
	Disabled bool          `yaml:"disabled,omitempty"`
	OneIn    int           `yaml:"one_in,omitempty"`    // A pause happens for roughly 1 in OneIn dates
	MinDelay time.Duration `yaml:"min_delay,omitempty"` // Inclusive lower bound of a pause
	MaxDelay time.Duration `yaml:"max_delay,omitempty"` // Inclusive upper bound of a pause
}

// MarkersConfig overrides the literal HTML markers the extractor looks for. Empty fields keep the defaults.
type MarkersConfig struct {
	CaseLinkText       string `yaml:"case_link_text,omitempty"`
	NextLinkText       string `yaml:"next_link_text,omitempty"`
	MetadataTable      string `yaml:"metadata_table,omitempty"`
	SenderHeading      string `yaml:"sender_heading,omitempty"`
	SenderBlock        string `yaml:"sender_block,omitempty"`
	DocumentHeading    string `yaml:"document_heading,omitempty"`
	CensorBlock        string `yaml:"censor_block,omitempty"`
	CensorMarker       string `yaml:"censor_marker,omitempty"`
	AttachmentList     string `yaml:"attachment_list,omitempty"`
	CaseReferenceLabel string `yaml:"case_reference_label,omitempty"`
	JournalIDParam     string `yaml:"journal_id_param,omitempty"`
}

// UploadConfig holds the document index connection used by the upload phase.
type UploadConfig struct {
	BaseURL              string        `yaml:"base_url"`
	Project              string        `yaml:"project"`
	Username             string        `yaml:"username,omitempty"`
	Password             string        `yaml:"password,omitempty"`
	ProcessedLog         string        `yaml:"processed_log,omitempty"`
	Timeout              time.Duration `yaml:"timeout,omitempty"`
	AttachmentExtensions []string      `yaml:"attachment_extensions,omitempty"` // Used when details.txt lists no files
}

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent               string                  `yaml:"user_agent"`
	AcceptLanguage          string                  `yaml:"accept_language,omitempty"`
	DateWorkers             int                     `yaml:"date_workers"`
	MaxRequestsPerHost      int                     `yaml:"max_requests_per_host"`
	DelayPerRequest         time.Duration           `yaml:"delay_per_request,omitempty"`
	MaxListingPages         int                     `yaml:"max_listing_pages,omitempty"`
	StateDir                string                  `yaml:"state_dir"`
	RecordState             *bool                   `yaml:"record_state,omitempty"`
	RespectRobots           bool                    `yaml:"respect_robots,omitempty"`
	MaxRetries              int                     `yaml:"max_retries,omitempty"`
	InitialRetryDelay       time.Duration           `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration           `yaml:"max_retry_delay,omitempty"`
	SemaphoreAcquireTimeout time.Duration           `yaml:"semaphore_acquire_timeout,omitempty"`
	DBGCInterval            time.Duration           `yaml:"db_gc_interval,omitempty"`
	Politeness              PolitenessConfig        `yaml:"politeness,omitempty"`
	HTTPClientSettings      HTTPClientConfig        `yaml:"http_client_settings,omitempty"`
	Markers                 MarkersConfig           `yaml:"markers,omitempty"`
	Upload                  UploadConfig            `yaml:"upload,omitempty"`
	Portals                 map[string]PortalConfig `yaml:"portals"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// StateRecordingEnabled reports whether case outcomes go to the badger state store. Defaults to true.
func (c *AppConfig) StateRecordingEnabled() bool {
	if c.RecordState != nil {
		return *c.RecordState
	}
	return true
}

// EffectiveUserAgent returns the portal override or the global user agent.
func (c *AppConfig) EffectiveUserAgent(p PortalConfig) string {
	if p.UserAgent != "" {
		return p.UserAgent
	}
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return DefaultUserAgent
}

// PortalKeys returns the configured portal keys in sorted order.
func (c *AppConfig) PortalKeys() []string {
	keys := make([]string, 0, len(c.Portals))
	for k := range c.Portals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
