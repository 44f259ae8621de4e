package stats

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockAPI is a mock implementation of API
type mockAPI struct {
	statsBody json.RawMessage
	statsErr  error
	listBody  json.RawMessage
	listErr   error
}

func (m *mockAPI) Stats(ctx context.Context) (json.RawMessage, error) {
	return m.statsBody, m.statsErr
}

func (m *mockAPI) AllReceipts(ctx context.Context) (json.RawMessage, error) {
	return m.listBody, m.listErr
}

var _ = Describe("Aggregator", func() {
	var (
		backend *mockAPI
		agg     *Aggregator
	)

	BeforeEach(func() {
		backend = &mockAPI{
			statsBody: json.RawMessage(`{"total": 100, "total_today": 10}`),
			listBody:  json.RawMessage(`[{"receipt_id": "r-1", "total": 100}]`),
		}
		agg = NewAggregator(backend)
	})

	It("should start with an empty, non-nil snapshot", func() {
		Expect(agg.Snapshot()).To(Equal(Snapshot{Recent: []Activity{}}))
		Expect(agg.Receipts()).To(BeEmpty())
	})

	Describe("Refresh", func() {
		It("should replace the snapshot and listing wholesale", func() {
			agg.Refresh(context.Background())
			Expect(agg.Snapshot().Total).To(Equal(100.0))
			Expect(agg.Receipts()).To(HaveLen(1))

			backend.statsBody = json.RawMessage(`{"total": 125.5, "total_today": 35.5}`)
			agg.Refresh(context.Background())
			Expect(agg.Snapshot().Total).To(Equal(125.5))
		})

		When("the stats fetch fails", func() {
			It("should retain the previous snapshot", func() {
				agg.Refresh(context.Background())
				before := agg.Snapshot()

				backend.statsErr = errors.New("boom")
				agg.Refresh(context.Background())
				Expect(agg.Snapshot()).To(Equal(before))
			})
		})

		When("the listing fetch fails", func() {
			It("should retain the previous listing but still update the snapshot", func() {
				agg.Refresh(context.Background())
				Expect(agg.Receipts()).To(HaveLen(1))

				backend.listErr = errors.New("boom")
				backend.statsBody = json.RawMessage(`{"total": 200}`)
				agg.Refresh(context.Background())
				Expect(agg.Receipts()).To(HaveLen(1))
				Expect(agg.Snapshot().Total).To(Equal(200.0))
			})
		})

		When("everything fails", func() {
			It("should change nothing and stay silent", func() {
				backend.statsErr = errors.New("boom")
				backend.listErr = errors.New("boom")
				agg.Refresh(context.Background())
				Expect(agg.Snapshot()).To(Equal(Snapshot{Recent: []Activity{}}))
			})
		})
	})
})
