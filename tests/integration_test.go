package tests

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"receiptdesk/internal/api"
	"receiptdesk/internal/auth"
	"receiptdesk/internal/session"
	"receiptdesk/internal/stats"
	"receiptdesk/internal/workflow"
)

func TestIntegration(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Integration Suite")
}

func qrPayload() string {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

var _ = Describe("receiptdesk against a fake backend", func() {
	var (
		server     *ghttp.Server
		store      *session.BoltStore
		sessions   *session.Manager
		client     *api.Client
		flow       *auth.Flow
		aggregator *stats.Aggregator
		receipts   *workflow.Workflow
	)

	BeforeEach(func() {
		server = ghttp.NewServer()

		dbPath := filepath.Join(GinkgoT().TempDir(), "receiptdesk.db")
		var err error
		store, err = session.NewBoltStore(dbPath)
		Expect(err).NotTo(HaveOccurred())

		sessions = session.NewManager(store)
		client = api.NewClient(server.URL(), sessions, api.Timeouts{})
		flow = auth.NewFlow(client, sessions)
		aggregator = stats.NewAggregator(client)
		receipts = workflow.New(client, aggregator, nil)
	})

	AfterEach(func() {
		receipts.Close()
		store.Close()
		server.Close()
	})

	Describe("signing in", func() {
		When("the backend accepts the credentials", func() {
			BeforeEach(func() {
				server.RouteToHandler("POST", "/api/v1/login", ghttp.CombineHandlers(
					ghttp.VerifyJSONRepresenting(map[string]string{
						"email": "owner@shop.test", "password": "hunter2",
					}),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]string{
						"access_token": "tok-1", "token_type": "bearer",
					}),
				))
			})

			It("should persist the credential durably", func() {
				Expect(flow.Login(context.Background(), "owner@shop.test", "hunter2")).To(Succeed())

				// A fresh manager over the same store restores the session.
				restored, err := session.NewManager(store).Restore()
				Expect(err).NotTo(HaveOccurred())
				Expect(restored.State).To(Equal(session.Authenticated))
				Expect(restored.Email).To(Equal("owner@shop.test"))
			})
		})

		When("the password is wrong", func() {
			BeforeEach(func() {
				server.RouteToHandler("POST", "/api/v1/login",
					ghttp.RespondWithJSONEncoded(http.StatusForbidden, map[string]string{
						"detail": "Invalid credentials",
					}))
			})

			It("should report invalid credentials and persist nothing", func() {
				Expect(flow.Login(context.Background(), "owner@shop.test", "wrong")).NotTo(Succeed())
				Expect(flow.ErrorMessage()).To(Equal("Invalid email or password"))

				sess, err := sessions.Restore()
				Expect(err).NotTo(HaveOccurred())
				Expect(sess.State).To(Equal(session.Unauthenticated))
			})
		})
	})

	Describe("generating a receipt", func() {
		BeforeEach(func() {
			Expect(sessions.Persist(session.Credential{Token: "tok-1", Email: "owner@shop.test"})).To(Succeed())

			server.RouteToHandler("POST", "/api/v1/receipts/", ghttp.CombineHandlers(
				ghttp.VerifyHeaderKV("Authorization", "Bearer tok-1"),
				ghttp.VerifyJSONRepresenting(map[string]float64{"total": 25.5}),
				ghttp.RespondWithJSONEncoded(http.StatusCreated, map[string]string{
					"pdf_endpoint": qrPayload(),
				}),
			))
			server.RouteToHandler("GET", "/api/v1/receipts/stats",
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"total": 125.5, "total_today": 25.5,
					"recent_receipts": []map[string]any{
						{"total": 25.5, "transaction_date": "2025-06-01T12:00:00"},
					},
				}))
			server.RouteToHandler("GET", "/api/v1/receipts/all",
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"receipts": []map[string]any{
						{"receipt_id": "r-1", "total": 25.5},
					},
				}))
		})

		It("should display the decoded image and then catch the stats up", func() {
			result, err := receipts.Submit(context.Background(), "25.50")
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts.State()).To(Equal(workflow.Displaying))

			img, err := png.Decode(bytes.NewReader(result.Image))
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(1))

			Eventually(func() float64 { return aggregator.Snapshot().Total }).Should(Equal(125.5))
			Eventually(func() int { return len(aggregator.Receipts()) }).Should(Equal(1))
		})

		It("should reject a bad amount before the network", func() {
			before := len(server.ReceivedRequests())
			_, err := receipts.Submit(context.Background(), "-5")
			Expect(err).To(HaveOccurred())
			Expect(receipts.ErrorMessage()).To(Equal("Total must be a positive number"))
			Expect(server.ReceivedRequests()).To(HaveLen(before))
		})
	})

	Describe("stats on a flaky backend", func() {
		BeforeEach(func() {
			server.RouteToHandler("GET", "/api/v1/receipts/stats",
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"total": 50}))
			server.RouteToHandler("GET", "/api/v1/receipts/all",
				ghttp.RespondWithJSONEncoded(http.StatusOK, json.RawMessage(`[]`)))
		})

		It("should keep the last good snapshot through failures", func() {
			aggregator.Refresh(context.Background())
			Expect(aggregator.Snapshot().Total).To(Equal(50.0))

			server.RouteToHandler("GET", "/api/v1/receipts/stats",
				ghttp.RespondWith(http.StatusInternalServerError, ""))
			aggregator.Refresh(context.Background())
			Expect(aggregator.Snapshot().Total).To(Equal(50.0))
		})
	})
})
