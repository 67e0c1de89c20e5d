package integration

import (
	"net/http"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/storepilot/sync-orchestrator/internal/remote"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	"github.com/storepilot/sync-orchestrator/internal/service"
	"github.com/storepilot/sync-orchestrator/internal/status"
	"github.com/storepilot/sync-orchestrator/test-integration/orchestrator/helpers"
)

const storefrontToken = "storefront-secret"

func int64Ptr(v int64) *int64 { return &v }

var storefrontShop = remote.Shop{
	ID: 3, Name: "CZ", Platform: remote.PlatformStorefront, ExternalID: "cz", Active: true,
}

var _ = Describe("Order synchronization", Label("sync"), func() {
	var (
		tempDir    string
		storefront *helpers.FakeStorefront
		server     *helpers.ServerTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("orchestrator-sync-")
		changed := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
		storefront = helpers.NewFakeStorefront(storefrontToken,
			helpers.FakeOrder{
				Code: "2025000101", Status: "new", ChangeTime: changed, Customer: "c-1",
				Items: []helpers.FakeItem{{VariantCode: "V-1", Amount: 2, TotalPrice: 80}},
			},
			helpers.FakeOrder{
				Code: "2025000102", Status: "shipped", ChangeTime: changed, Customer: "c-2",
				Items: []helpers.FakeItem{
					{VariantCode: "V-1", Amount: 1, TotalPrice: 40},
					{VariantCode: "V-2", Amount: 3, TotalPrice: 60},
				},
			},
		)

		server = helpers.NewServerTestHelper(ctx, tempDir, storefront.URL(), storefrontToken,
			[]schedule.JobSchedule{
				{
					ID: 1, JobType: schedule.JobOrdersSyncIncremental, ShopID: int64Ptr(storefrontShop.ID),
					Enabled: true, CronExpression: "*/15 * * * *", Timezone: schedule.DefaultTimezone,
				},
				{
					ID: 2, JobType: schedule.JobOrdersSyncIncremental, ShopID: int64Ptr(storefrontShop.ID),
					Enabled: false, CronExpression: "*/15 * * * *", Timezone: schedule.DefaultTimezone,
				},
			},
			[]remote.Shop{storefrontShop},
		)
		Expect(server.StartServer()).To(Succeed())
		server.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(server.StopServer()).To(Succeed())
		storefront.Close()
		cleanupTempDir(tempDir)
	})

	It("imports the orders of a manually triggered schedule", func() {
		resp, err := server.RunSchedule(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		Expect(resp.Body.Close()).To(Succeed())

		Eventually(func() status.RunStatus {
			return server.LastRun(1)
		}, 10*time.Second, 50*time.Millisecond).Should(Equal(status.RunStatusCompleted))

		orders := server.ImportedOrders()
		Expect(orders).To(HaveLen(2))
		Expect(server.ImportedItems()).To(HaveLen(3))
		Expect(storefront.ListCalls()).To(BeNumerically(">=", 1))
		Expect(storefront.DetailCalls()).To(BeNumerically("==", 2))

		resp, err = server.Get("/api/v1/schedules/1")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var view service.ScheduleView
		helpers.DecodeJSON(resp, &view)
		Expect(view.LastRunStatus).To(Equal(status.RunStatusCompleted))
		Expect(view.LastRunEndedAt).NotTo(BeNil())
		Expect(view.Options).To(HaveKeyWithValue(schedule.OptPageSize, BeNumerically("==", 50)))
	})

	It("refuses to run a disabled schedule", func() {
		resp, err := server.RunSchedule(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		Expect(resp.Body.Close()).To(Succeed())

		Consistently(func() status.RunStatus {
			return server.LastRun(2)
		}, 300*time.Millisecond, 50*time.Millisecond).Should(Equal(status.RunStatusIdle))
		Expect(server.ImportedOrders()).To(BeEmpty())
	})

	It("reports unknown schedules", func() {
		resp, err := server.RunSchedule(99)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		Expect(resp.Body.Close()).To(Succeed())
	})

	It("lists the job catalog and schedules", func() {
		resp, err := server.Get("/api/v1/jobs")
		Expect(err).NotTo(HaveOccurred())
		var defs []schedule.ResolvedDefinition
		helpers.DecodeJSON(resp, &defs)
		Expect(defs).To(HaveLen(len(schedule.BuiltinDefinitions())))

		resp, err = server.Get("/api/v1/schedules")
		Expect(err).NotTo(HaveOccurred())
		var views []service.ScheduleView
		helpers.DecodeJSON(resp, &views)
		Expect(views).To(HaveLen(2))
		Expect(views[0].LastRunStatus).To(Equal(status.RunStatusIdle))
	})
})

var _ = Describe("Cron trigger", Label("scheduler"), func() {
	var (
		tempDir    string
		storefront *helpers.FakeStorefront
		server     *helpers.ServerTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("orchestrator-cron-")
		storefront = helpers.NewFakeStorefront(storefrontToken)
		server = helpers.NewServerTestHelper(ctx, tempDir, storefront.URL(), storefrontToken,
			[]schedule.JobSchedule{{
				ID: 5, JobType: schedule.JobVariantsRecalculate, Enabled: true,
				CronExpression: "@every 1s", Timezone: "UTC",
			}},
			nil,
		)
		server.Config.Scheduler.Enabled = true
		Expect(server.StartServer()).To(Succeed())
		server.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(server.StopServer()).To(Succeed())
		storefront.Close()
		cleanupTempDir(tempDir)
	})

	It("runs enabled schedules on their cron expression", func() {
		Eventually(func() status.RunStatus {
			return server.LastRun(5)
		}, 10*time.Second, 50*time.Millisecond).Should(Equal(status.RunStatusCompleted))
	})
})

// createTempDir creates a temporary directory for test files
func createTempDir(prefix string) string {
	dir, err := os.MkdirTemp("", prefix)
	Expect(err).NotTo(HaveOccurred())
	return dir
}

// cleanupTempDir removes a temporary directory
func cleanupTempDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		By("Warning: failed to cleanup temp dir " + dir + ": " + err.Error())
	}
}
