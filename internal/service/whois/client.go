// Package whois queries the WHOIS XML API and condenses its answer into the
// record appended to chats.
package whois

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/model/whois"
)

// DefaultBaseURL is the WHOIS XML API endpoint.
const DefaultBaseURL = "https://www.whoisxmlapi.com/whoisserver/WhoisService"

var (
	// ErrNoRecord means the API answered without a WhoisRecord.
	ErrNoRecord = errors.New("No WHOIS data available")
	// ErrNotConfigured means no API key was supplied.
	ErrNotConfigured = errors.New("WHOIS API key is not configured")
)

// Options configure a Client.
type Options struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	HostnameCap int
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client performs domain lookups.
type Client struct {
	apiKey      string
	baseURL     string
	hostnameCap int
	http        *http.Client
	logger      *zap.Logger
}

// NewClient applies defaults to opts.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HostnameCap <= 0 {
		opts.HostnameCap = whois.DefaultHostnameCap
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:      opts.APIKey,
		baseURL:     opts.BaseURL,
		hostnameCap: opts.HostnameCap,
		http:        httpClient,
		logger:      logging.OrNop(opts.Logger).Named("whois"),
	}
}

type apiResponse struct {
	WhoisRecord  *apiRecord `json:"WhoisRecord"`
	ErrorMessage *struct {
		ErrorCode string `json:"errorCode"`
		Msg       string `json:"msg"`
	} `json:"ErrorMessage"`
}

type apiContact struct {
	Name string `json:"name"`
}

type apiRecord struct {
	DomainName            string      `json:"domainName"`
	RegistrarName         string      `json:"registrarName"`
	CreatedDateNormalized string      `json:"createdDateNormalized"`
	ExpiresDateNormalized string      `json:"expiresDateNormalized"`
	EstimatedDomainAge    int         `json:"estimatedDomainAge"`
	ContactEmail          string      `json:"contactEmail"`
	Registrant            *apiContact `json:"registrant"`
	TechnicalContact      *apiContact `json:"technicalContact"`
	AdministrativeContact *apiContact `json:"administrativeContact"`
	NameServers           *struct {
		HostNames []string `json:"hostNames"`
	} `json:"nameServers"`
}

// Lookup fetches and condenses the registration record of domain.
func (c *Client) Lookup(ctx context.Context, domain string) (whois.Record, error) {
	if c.apiKey == "" {
		return whois.Record{}, ErrNotConfigured
	}

	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return whois.Record{}, fmt.Errorf("WHOIS API returned an error: invalid base url: %w", err)
	}
	query := endpoint.Query()
	query.Set("apiKey", c.apiKey)
	query.Set("outputFormat", "JSON")
	query.Set("domainName", domain)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return whois.Record{}, fmt.Errorf("WHOIS API returned an error: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return whois.Record{}, fmt.Errorf("WHOIS API returned an error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return whois.Record{}, fmt.Errorf("WHOIS API returned an error: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return whois.Record{}, fmt.Errorf("WHOIS API returned an error: Request failed with status code %d", resp.StatusCode)
	}

	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return whois.Record{}, fmt.Errorf("WHOIS API returned an error: decode: %w", err)
	}
	if payload.ErrorMessage != nil && payload.ErrorMessage.Msg != "" {
		return whois.Record{}, fmt.Errorf("WHOIS API returned an error: %s", payload.ErrorMessage.Msg)
	}
	if payload.WhoisRecord == nil {
		return whois.Record{}, ErrNoRecord
	}

	record := c.condense(payload.WhoisRecord)
	c.logger.Info("whois lookup succeeded", zap.String("domain", domain), zap.String("registrar", record.Registrar))
	return record, nil
}

// LookupContent returns the JSON text stored as a whois turn: the record on
// success, or an error payload.
func (c *Client) LookupContent(ctx context.Context, domain string) string {
	var (
		raw []byte
		err error
	)
	record, lookupErr := c.Lookup(ctx, domain)
	if lookupErr != nil {
		c.logger.Warn("whois lookup failed", zap.String("domain", domain), zap.Error(lookupErr))
		raw, err = json.Marshal(whois.ErrorPayload{Error: lookupErr.Error()})
	} else {
		raw, err = json.Marshal(record)
	}
	if err != nil {
		return `{"error":"` + err.Error() + `"}`
	}
	return string(raw)
}

func (c *Client) condense(r *apiRecord) whois.Record {
	var hosts []string
	if r.NameServers != nil {
		hosts = r.NameServers.HostNames
	}

	return whois.Record{
		DomainName:         r.DomainName,
		Registrar:          r.RegistrarName,
		RegistrationDate:   r.CreatedDateNormalized,
		ExpirationDate:     r.ExpiresDateNormalized,
		EstimatedDomainAge: r.EstimatedDomainAge,
		Hostnames:          whois.FormatHostnames(hosts, c.hostnameCap),
		RegistrantName:     contactName(r.Registrant),
		TechContact:        contactName(r.TechnicalContact),
		AdminContact:       contactName(r.AdministrativeContact),
		ContactEmail:       whois.OrNA(r.ContactEmail),
	}
}

func contactName(c *apiContact) string {
	if c == nil {
		return whois.NotAvailable
	}
	return whois.OrNA(c.Name)
}
