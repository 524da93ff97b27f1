package helpers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onsi/gomega"

	"github.com/stacklok/scroll-sync-server/internal/app"
	"github.com/stacklok/scroll-sync-server/internal/config"
)

// ServerTestHelper manages the scroll sync server lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	baseURL    string
	address    string
	httpClient *http.Client
	app        *app.ScrollSyncApp
}

// NewServerTestHelper creates a helper bound to a free local port
func NewServerTestHelper(ctx context.Context, configPath string) (*ServerTestHelper, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}

	address := fmt.Sprintf("127.0.0.1:%d", port)
	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		address:    address,
		baseURL:    "http://" + address,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// StartServer starts the scroll sync server programmatically
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	scrollApp, err := app.NewScrollSyncApp(s.ctx,
		app.WithConfig(cfg),
		app.WithAddress(s.address),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}

	s.app = scrollApp

	// Start the server in a goroutine (non-blocking).
	// A start failure surfaces when the test tries to connect.
	go func() {
		if err := scrollApp.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()

	return nil
}

// StopServer gracefully stops the scroll sync server
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// WaitForServerReady waits for the server to be ready to accept requests
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.baseURL + "/readiness")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// PostUpdate makes a POST request to /api/v1/scroll with a raw JSON body
func (s *ServerTestHelper) PostUpdate(body string) (*http.Response, error) {
	return s.httpClient.Post(s.baseURL+"/api/v1/scroll", "application/json", strings.NewReader(body))
}

// GetSessions makes a GET request to /api/v1/scroll/sessions
func (s *ServerTestHelper) GetSessions() (*http.Response, error) {
	return s.httpClient.Get(s.baseURL + "/api/v1/scroll/sessions")
}

// OpenEventStream opens GET /api/v1/scroll?clientID=<id>. Any status other than
// 200 is returned as the response with a nil stream.
func (s *ServerTestHelper) OpenEventStream(clientID string) (*EventStream, *http.Response, error) {
	return openEventStream(s.ctx, s.baseURL+"/api/v1/scroll?clientID="+clientID)
}

// OpenWebSocket dials /api/v1/scroll/ws?clientID=<id>
func (s *ServerTestHelper) OpenWebSocket(clientID string) (*SocketStream, error) {
	return dialSocket("ws://" + s.address + "/api/v1/scroll/ws?clientID=" + clientID)
}

// GetBaseURL returns the base URL of the server
func (s *ServerTestHelper) GetBaseURL() string {
	return s.baseURL
}

// SyncOptions holds optional sync settings for WriteConfigYAML
type SyncOptions struct {
	HeartbeatTimeout  string
	SweepInterval     string
	KeepAliveInterval string
}

// WriteConfigYAML writes an anonymous-mode configuration file for testing
func WriteConfigYAML(dir string, opts *SyncOptions) string {
	if opts == nil {
		opts = &SyncOptions{}
	}
	if opts.HeartbeatTimeout == "" {
		opts.HeartbeatTimeout = "1m"
	}
	if opts.SweepInterval == "" {
		opts.SweepInterval = "0"
	}
	if opts.KeepAliveInterval == "" {
		opts.KeepAliveInterval = "1s"
	}

	configContent := fmt.Sprintf(`server:
  shutdownTimeout: 5s

sync:
  heartbeatTimeout: %s
  sweepInterval: "%s"
  keepAliveInterval: %s

auth:
  mode: anonymous
`, opts.HeartbeatTimeout, opts.SweepInterval, opts.KeepAliveInterval)

	configPath := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(configPath, []byte(configContent), 0600)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return configPath
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find a free port: %w", err)
	}
	defer func() {
		_ = l.Close()
	}()
	return l.Addr().(*net.TCPAddr).Port, nil
}
