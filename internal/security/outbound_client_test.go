package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOutboundClient_Timeout(t *testing.T) {
	timeout := 5 * time.Second
	client := NewOutboundClient(timeout)
	if client == nil {
		t.Fatal("NewOutboundClient() returned nil")
	}
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
}

// safeurlはDialerのControlフックで検証するため、標準Transportではないことを確認する。
func TestNewOutboundClient_HasCustomTransport(t *testing.T) {
	client := NewOutboundClient(5 * time.Second)

	if client.Transport == nil {
		t.Fatal("expected custom Transport to be set, got nil")
	}
	if client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport, got http.DefaultTransport")
	}
}

// httptestサーバーは127.0.0.1のhttpで起動されるため拒否される。
func TestNewOutboundClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewOutboundClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestNewOutboundClient_BlocksMetadataIP(t *testing.T) {
	client := NewOutboundClient(2 * time.Second)
	if _, err := client.Get("https://169.254.169.254/computeMetadata/v1/"); err == nil {
		t.Fatal("expected error for metadata IP request, got nil")
	}
}
