package ice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetICEServers_Disabled(t *testing.T) {
	b := NewBroker("", "")
	servers := b.GetICEServers(context.Background())
	assert.Empty(t, servers)
}

func TestGetICEServers_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ACxxxx" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{
			"username": "vendor-user",
			"password": "vendor-pass",
			"ice_servers": [
				{"url": "stun:global.stun.twilio.com:3478"},
				{"url": "turn:global.turn.twilio.com:3478?transport=udp", "username": "override-user", "credential": "override-pass"}
			]
		}`))
	}))
	defer srv.Close()

	b := NewBroker("ACxxxx", "secret")
	b.baseURL = srv.URL

	servers := b.GetICEServers(context.Background())
	require.Len(t, servers, 2)
	assert.Equal(t, "stun:global.stun.twilio.com:3478", servers[0].URL)
	assert.Equal(t, "vendor-user", servers[0].Username)
	assert.Equal(t, "vendor-pass", servers[0].Password)
	assert.Equal(t, "override-user", servers[1].Username)
	assert.Equal(t, "override-pass", servers[1].Password)
}

func TestGetICEServers_VendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBroker("ACxxxx", "secret")
	b.baseURL = srv.URL

	servers := b.GetICEServers(context.Background())
	assert.Empty(t, servers)
}

func TestGetICEServers_CircuitBreakerOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBroker("ACxxxx", "secret")
	b.baseURL = srv.URL
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ice-vendor-test",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	// First call trips the breaker.
	assert.Empty(t, b.GetICEServers(context.Background()))
	assert.False(t, b.Healthy())

	// Second call should short-circuit without hitting the vendor.
	assert.Empty(t, b.GetICEServers(context.Background()))
}
