// Package helpers runs the orchestrator in-process for the integration suite.
package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/onsi/gomega"

	"github.com/storepilot/sync-orchestrator/internal/app"
	"github.com/storepilot/sync-orchestrator/internal/config"
	"github.com/storepilot/sync-orchestrator/internal/lock"
	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/remote"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	"github.com/storepilot/sync-orchestrator/internal/status"
	"github.com/storepilot/sync-orchestrator/internal/sync/writer"
)

// ServerTestHelper manages an orchestrator instance for one spec.
type ServerTestHelper struct {
	ctx        context.Context
	Config     *config.Config
	Stores     *app.Stores
	baseURL    string
	address    string
	httpClient *http.Client
	app        *app.OrchestratorApp
	bearer     string
}

// NewServerTestHelper prepares an orchestrator with in-memory stores holding
// schedules and shops. The storefront API is read from storefrontURL with
// storefrontToken.
func NewServerTestHelper(
	ctx context.Context,
	dir string,
	storefrontURL, storefrontToken string,
	schedules []schedule.JobSchedule,
	shops []remote.Shop,
) *ServerTestHelper {
	tokenFile := filepath.Join(dir, "storefront-token")
	gomega.Expect(os.WriteFile(tokenFile, []byte(storefrontToken), 0600)).To(gomega.Succeed())

	address := freeAddress()
	return &ServerTestHelper{
		ctx: ctx,
		Config: &config.Config{
			Storefront: &config.RemoteConfig{BaseURL: storefrontURL, TokenFile: tokenFile, MaxRetries: 1},
			Locks:      config.LocksConfig{Backend: config.LockBackendMemory},
			Workers: config.WorkersConfig{
				Queues:         map[string]int{schedule.QueueSync: 1, schedule.QueueMetrics: 1},
				DequeueTimeout: "50ms",
			},
			Scheduler: config.SchedulerConfig{ReloadInterval: "200ms"},
		},
		Stores:     app.NewMemoryStores(schedules, shops),
		address:    address,
		baseURL:    "http://" + address,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBearer sends token on every API request.
func (s *ServerTestHelper) WithBearer(token string) *ServerTestHelper {
	s.bearer = token
	return s
}

// StartServer builds the orchestrator from Config and starts it.
func (s *ServerTestHelper) StartServer() error {
	orchestrator, err := app.NewOrchestratorApp(s.ctx,
		app.WithConfig(s.Config),
		app.WithStores(s.Stores),
		app.WithQueue(queue.NewMemoryQueue()),
		app.WithLockStore(lock.NewMemoryStore()),
		app.WithAddress(s.address),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = orchestrator

	go func() {
		if err := orchestrator.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()
	return nil
}

// StopServer stops the orchestrator.
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// WaitForServerReady waits until /healthz answers.
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.baseURL + "/healthz")
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
	}, timeout, 50*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// Get performs an API GET request.
func (s *ServerTestHelper) Get(path string) (*http.Response, error) {
	return s.do(http.MethodGet, path)
}

// RunSchedule triggers a manual run of schedule id.
func (s *ServerTestHelper) RunSchedule(id int64) (*http.Response, error) {
	return s.do(http.MethodPost, fmt.Sprintf("/api/v1/schedules/%d/run", id))
}

func (s *ServerTestHelper) do(method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.ctx, method, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if s.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+s.bearer)
	}
	return s.httpClient.Do(req)
}

// LastRun returns the recorded run status of schedule id.
func (s *ServerTestHelper) LastRun(id int64) status.RunStatus {
	run, ok := s.Stores.Status.(*status.MemoryRecorder).Get(id)
	if !ok {
		return status.RunStatusIdle
	}
	return run.Status
}

// ImportedOrders returns the orders written by sync runs.
func (s *ServerTestHelper) ImportedOrders() []writer.OrderRow {
	return s.Stores.Orders.(*writer.MemoryWriter).Orders()
}

// ImportedItems returns the order items written by sync runs.
func (s *ServerTestHelper) ImportedItems() []writer.ItemRow {
	return s.Stores.Orders.(*writer.MemoryWriter).Items()
}

// DecodeJSON reads and closes resp, decoding its body into v.
func DecodeJSON(resp *http.Response, v any) {
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(json.Unmarshal(body, v)).To(gomega.Succeed(), string(body))
}

func freeAddress() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	addr := l.Addr().String()
	gomega.Expect(l.Close()).To(gomega.Succeed())
	return addr
}
