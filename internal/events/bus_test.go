package events

import (
	"io"
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEvents(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Events Suite")
}

var _ = Describe("Bus", func() {
	var bus *Bus

	BeforeEach(func() {
		bus = NewBus(nil, 2)
	})

	When("nobody is listening", func() {
		It("publishes without error", func() {
			Expect(bus.Publish(TypeBundleReady, "id")).To(Equal(0))
		})
	})

	When("there are subscribers", func() {
		It("delivers the event to each of them", func() {
			first, cancelFirst := bus.Subscribe()
			defer cancelFirst()
			second, cancelSecond := bus.Subscribe()
			defer cancelSecond()

			Expect(bus.Publish(TypePipeline, map[string]string{"state": "done"})).To(Equal(2))

			var ev Event
			Eventually(first).Should(Receive(&ev))
			Expect(ev.Type).To(Equal(TypePipeline))
			Expect(ev.At).NotTo(BeZero())
			Eventually(second).Should(Receive())
		})
	})

	When("a subscriber filters by type", func() {
		It("only receives and counts the types it asked for", func() {
			bundles, cancelBundles := bus.Subscribe(TypeBundleReady)
			defer cancelBundles()

			Expect(bus.Publish(TypeOverlay, "show")).To(Equal(0))
			Expect(bundles).To(BeEmpty())

			Expect(bus.Publish(TypeBundleReady, "id")).To(Equal(1))
			var ev Event
			Eventually(bundles).Should(Receive(&ev))
			Expect(ev.Type).To(Equal(TypeBundleReady))
		})

		It("still counts unfiltered subscribers", func() {
			_, cancelBundles := bus.Subscribe(TypeBundleReady)
			defer cancelBundles()
			_, cancelAll := bus.Subscribe()
			defer cancelAll()

			Expect(bus.Publish(TypeOverlay, "show")).To(Equal(1))
			Expect(bus.Publish(TypeBundleReady, "id")).To(Equal(2))
		})
	})

	When("a subscriber is not draining", func() {
		It("drops events instead of blocking", func() {
			ch, cancel := bus.Subscribe()
			defer cancel()

			Expect(bus.Publish(TypeOverlay, 1)).To(Equal(1))
			Expect(bus.Publish(TypeOverlay, 2)).To(Equal(1))
			Expect(bus.Publish(TypeOverlay, 3)).To(Equal(0))
			Expect(ch).To(HaveLen(2))
		})
	})

	Describe("cancel", func() {
		It("unsubscribes and closes the channel", func() {
			ch, cancel := bus.Subscribe()
			Expect(bus.Subscribers()).To(Equal(1))

			cancel()
			cancel()

			Expect(bus.Subscribers()).To(Equal(0))
			Eventually(ch).Should(BeClosed())
			Expect(bus.Publish(TypeOverlay, nil)).To(Equal(0))
		})
	})
})
