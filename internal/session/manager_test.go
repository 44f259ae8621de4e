package session

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Manager", func() {
	var (
		store   *BoltStore
		manager *Manager
	)

	BeforeEach(func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		store, err = NewBoltStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		manager = NewManager(store)
	})

	AfterEach(func() {
		store.Close()
	})

	Describe("Restore", func() {
		When("a credential is persisted", func() {
			BeforeEach(func() {
				Expect(store.Save(Credential{Token: "tok-1", Email: "owner@shop.test"})).To(Succeed())
			})

			It("should derive an authenticated session", func() {
				sess, err := manager.Restore()
				Expect(err).NotTo(HaveOccurred())
				Expect(sess.State).To(Equal(Authenticated))
				Expect(sess.Email).To(Equal("owner@shop.test"))
			})

			It("should be idempotent", func() {
				first, err := manager.Restore()
				Expect(err).NotTo(HaveOccurred())
				second, err := manager.Restore()
				Expect(err).NotTo(HaveOccurred())
				Expect(second).To(Equal(first))
			})
		})

		When("no credential is persisted", func() {
			It("should derive an unauthenticated session", func() {
				sess, err := manager.Restore()
				Expect(err).NotTo(HaveOccurred())
				Expect(sess.State).To(Equal(Unauthenticated))
				Expect(sess.Email).To(BeEmpty())
			})
		})

		When("the store read fails", func() {
			var (
				broken *mockStore
				mgr    *Manager
			)

			BeforeEach(func() {
				broken = &mockStore{cred: Credential{Token: "tok-1", Email: "owner@shop.test"}, ok: true}
				mgr = NewManager(broken)
				_, err := mgr.Restore()
				Expect(err).NotTo(HaveOccurred())
				Expect(mgr.Current().State).To(Equal(Authenticated))

				broken.loadErr = errors.New("boom")
			})

			It("should report the error and drop the stale session", func() {
				sess, err := mgr.Restore()
				Expect(err).To(HaveOccurred())
				Expect(sess.State).To(Equal(Unauthenticated))
				Expect(mgr.Current().State).To(Equal(Unauthenticated))
			})
		})
	})

	Describe("Persist", func() {
		It("should store the credential and authenticate", func() {
			Expect(manager.Persist(Credential{Token: "tok-2", Email: "owner@shop.test"})).To(Succeed())
			Expect(manager.Current().State).To(Equal(Authenticated))
			Expect(manager.Token()).To(Equal("tok-2"))
		})

		It("should broadcast the transition", func() {
			updates := manager.Subscribe()
			Expect(manager.Persist(Credential{Token: "tok-2", Email: "owner@shop.test"})).To(Succeed())
			var sess Session
			Eventually(updates).Should(Receive(&sess))
			Expect(sess.State).To(Equal(Authenticated))
		})
	})

	Describe("Clear", func() {
		BeforeEach(func() {
			Expect(manager.Persist(Credential{Token: "tok-2", Email: "owner@shop.test"})).To(Succeed())
		})

		It("should remove the credential and sign out", func() {
			Expect(manager.Clear()).To(Succeed())
			Expect(manager.Current().State).To(Equal(Unauthenticated))
			Expect(manager.Token()).To(BeEmpty())
		})
	})

	Describe("Token", func() {
		It("should re-read the store on every call", func() {
			Expect(manager.Token()).To(BeEmpty())
			Expect(store.Save(Credential{Token: "tok-3", Email: "owner@shop.test"})).To(Succeed())
			Expect(manager.Token()).To(Equal("tok-3"))
		})
	})

	Describe("cross-terminal invalidation", func() {
		var (
			other  *Manager
			ctx    context.Context
			cancel context.CancelFunc
		)

		BeforeEach(func() {
			Expect(store.Save(Credential{Token: "tok-4", Email: "owner@shop.test"})).To(Succeed())

			other = NewManager(store)
			_, err := other.Restore()
			Expect(err).NotTo(HaveOccurred())
			Expect(other.Current().State).To(Equal(Authenticated))

			ctx, cancel = context.WithCancel(context.Background())
			go other.Run(ctx)
		})

		AfterEach(func() {
			cancel()
		})

		It("should force the other session to unauthenticated when the credential is cleared here", func() {
			updates := other.Subscribe()

			_, err := manager.Restore()
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.Clear()).To(Succeed())

			var sess Session
			Eventually(updates).Should(Receive(&sess))
			Expect(sess.State).To(Equal(Unauthenticated))
			Expect(other.Current().State).To(Equal(Unauthenticated))
		})

		It("should not react to a save event", func() {
			Expect(manager.Persist(Credential{Token: "tok-5", Email: "owner@shop.test"})).To(Succeed())
			Consistently(func() State { return other.Current().State }).Should(Equal(Authenticated))
		})
	})
})
