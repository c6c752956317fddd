// Package ice brokers ICE server credentials from an external TURN
// credential vendor. The wire contract mirrors the Twilio Network
// Traversal Service: HTTP Basic Auth over account_sid:auth_token against a
// token-creation endpoint that returns a vendor-assigned username,
// password, and a list of ICE server URLs.
package ice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mira-screenshare/signalserver/internal/logging"
	"github.com/mira-screenshare/signalserver/internal/metrics"
	"github.com/mira-screenshare/signalserver/internal/signaling"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const twilioDefaultBaseURL = "https://api.twilio.com"
const twilioTokenPathFormat = "/2010-04-01/Accounts/%s/Tokens.json"

var tracer = otel.Tracer("ice")

// Broker implements signaling.ICEBroker against a Twilio-style REST vendor.
// A zero-value credential pair disables it entirely: GetICEServers returns
// the empty list without attempting any network call.
type Broker struct {
	accountSID string
	authToken  string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	baseURL    string // overridable in tests
}

// NewBroker builds a Broker. If accountSID or authToken is empty the
// broker is disabled (matches the ICE broker's "no credential configured"
// contract).
func NewBroker(accountSID, authToken string) *Broker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ice-vendor",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.CircuitBreakerStateValue(to.String()))
		},
	})

	return &Broker{
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cb:         cb,
		baseURL:    twilioDefaultBaseURL,
	}
}

// Enabled reports whether credentials are configured.
func (b *Broker) Enabled() bool {
	return b.accountSID != "" && b.authToken != ""
}

// Healthy reports the circuit breaker's state for readiness checks: the
// broker is considered healthy unless its breaker is open.
func (b *Broker) Healthy() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// GetICEServers returns the vendor's current ICE server list, or an empty
// list if the broker is disabled, the circuit breaker is open, or the
// vendor call fails. It never returns an error: failures are logged and
// swallowed, matching the ICE broker's contract that a vendor outage never
// fails the calling dispatch.
func (b *Broker) GetICEServers(ctx context.Context) []signaling.IceServer {
	if !b.Enabled() {
		metrics.ICEBrokerRequestsTotal.WithLabelValues("empty_config").Inc()
		return []signaling.IceServer{}
	}

	ctx, span := tracer.Start(ctx, "ice.get_servers")
	defer span.End()

	result, err := b.cb.Execute(func() (any, error) {
		return b.requestToken(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.ICEBrokerRequestsTotal.WithLabelValues("breaker_open").Inc()
		} else {
			logging.Error(ctx, "ice vendor call failed", zap.Error(err))
			metrics.ICEBrokerRequestsTotal.WithLabelValues("vendor_error").Inc()
		}
		return []signaling.IceServer{}
	}

	metrics.ICEBrokerRequestsTotal.WithLabelValues("ok").Inc()
	return result.([]signaling.IceServer)
}

type twilioTokenResponse struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	IceServers []struct {
		URL        string `json:"url"`
		Urls       string `json:"urls"`
		Username   string `json:"username"`
		Credential string `json:"credential"`
	} `json:"ice_servers"`
}

func (b *Broker) requestToken(ctx context.Context) ([]signaling.IceServer, error) {
	endpoint := b.baseURL + fmt.Sprintf(twilioTokenPathFormat, url.PathEscape(b.accountSID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(b.accountSID, b.authToken)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice vendor returned status %d", resp.StatusCode)
	}

	var token twilioTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, err
	}

	servers := make([]signaling.IceServer, 0, len(token.IceServers))
	for _, s := range token.IceServers {
		u := s.URL
		if u == "" {
			u = s.Urls
		}
		username := s.Username
		if username == "" {
			username = token.Username
		}
		password := s.Credential
		if password == "" {
			password = token.Password
		}
		servers = append(servers, signaling.IceServer{
			URL:      u,
			Username: username,
			Password: password,
		})
	}
	return servers, nil
}
