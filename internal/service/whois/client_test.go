package whois_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	whoisModel "github.com/zhouzirui/domain-chat/backend/internal/model/whois"
	"github.com/zhouzirui/domain-chat/backend/internal/service/whois"
)

const sampleResponse = `{
  "WhoisRecord": {
    "domainName": "example.com",
    "registrarName": "Example Registrar, Inc.",
    "createdDateNormalized": "1995-08-14 04:00:00 UTC",
    "expiresDateNormalized": "2025-08-13 04:00:00 UTC",
    "estimatedDomainAge": 10000,
    "nameServers": {"hostNames": ["ns1.example.com", "ns2.example.com"]},
    "registrant": {"name": "Example Holder"},
    "technicalContact": {},
    "contactEmail": "hostmaster@example.com"
  }
}`

func newServer(t *testing.T, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var seen http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = *r
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestLookupCondensesRecord(t *testing.T) {
	srv, seen := newServer(t, http.StatusOK, sampleResponse)
	client := whois.NewClient(whois.Options{APIKey: "k", BaseURL: srv.URL})

	record, err := client.Lookup(context.Background(), "example.com")
	require.NoError(t, err)

	want := whoisModel.Record{
		DomainName:         "example.com",
		Registrar:          "Example Registrar, Inc.",
		RegistrationDate:   "1995-08-14 04:00:00 UTC",
		ExpirationDate:     "2025-08-13 04:00:00 UTC",
		EstimatedDomainAge: 10000,
		Hostnames:          "ns1.example.com, ns2.e...",
		RegistrantName:     "Example Holder",
		TechContact:        "N/A",
		AdminContact:       "N/A",
		ContactEmail:       "hostmaster@example.com",
	}
	if diff := cmp.Diff(want, record); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	query := seen.URL.Query()
	assert.Equal(t, "k", query.Get("apiKey"))
	assert.Equal(t, "JSON", query.Get("outputFormat"))
	assert.Equal(t, "example.com", query.Get("domainName"))
}

func TestLookupWithoutRecord(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{}`)
	client := whois.NewClient(whois.Options{APIKey: "k", BaseURL: srv.URL})

	_, err := client.Lookup(context.Background(), "example.com")
	require.ErrorIs(t, err, whois.ErrNoRecord)
}

func TestLookupHTTPFailure(t *testing.T) {
	srv, _ := newServer(t, http.StatusForbidden, `{"ErrorMessage":{"msg":"denied"}}`)
	client := whois.NewClient(whois.Options{APIKey: "k", BaseURL: srv.URL})

	_, err := client.Lookup(context.Background(), "example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WHOIS API returned an error: ")
	assert.Contains(t, err.Error(), "403")
}

func TestLookupAPIErrorMessage(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{"ErrorMessage":{"errorCode":"WHOIS_01","msg":"invalid domain"}}`)
	client := whois.NewClient(whois.Options{APIKey: "k", BaseURL: srv.URL})

	_, err := client.Lookup(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid domain")
}

func TestLookupRequiresKey(t *testing.T) {
	client := whois.NewClient(whois.Options{})

	_, err := client.Lookup(context.Background(), "example.com")
	require.ErrorIs(t, err, whois.ErrNotConfigured)
}

func TestLookupContent(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{}`)
	client := whois.NewClient(whois.Options{APIKey: "k", BaseURL: srv.URL})

	var payload whoisModel.ErrorPayload
	require.NoError(t, json.Unmarshal([]byte(client.LookupContent(context.Background(), "example.com")), &payload))
	assert.Equal(t, "No WHOIS data available", payload.Error)

	ok, _ := newServer(t, http.StatusOK, sampleResponse)
	client = whois.NewClient(whois.Options{APIKey: "k", BaseURL: ok.URL})
	var record whoisModel.Record
	require.NoError(t, json.Unmarshal([]byte(client.LookupContent(context.Background(), "example.com")), &record))
	assert.Equal(t, "example.com", record.DomainName)
}
