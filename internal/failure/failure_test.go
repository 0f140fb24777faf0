package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestFailure(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Failure Suite")
}

var _ = Describe("Error", func() {
	It("includes the status for service errors", func() {
		err := Service(502, "bad gateway")
		Expect(err.Error()).To(Equal("service_error (status 502): bad gateway"))
	})

	It("survives a JSON round trip across a context boundary", func() {
		data, err := json.Marshal(New(PathNotFound, "segment %q", "choices"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(MatchJSON(`{"kind":"path_not_found","detail":"segment \"choices\""}`))
	})

	Describe("From", func() {
		It("unwraps a wrapped structured error", func() {
			wrapped := fmt.Errorf("calling provider: %w", Service(500, "boom"))
			Expect(From(wrapped, CaptureFailed).Kind).To(Equal(ServiceError))
		})

		It("classifies plain errors with the fallback kind", func() {
			fe := From(errors.New("quota exceeded"), CaptureFailed)
			Expect(fe.Kind).To(Equal(CaptureFailed))
			Expect(fe.Detail).To(Equal("quota exceeded"))
		})

		It("returns nil for nil", func() {
			Expect(From(nil, CaptureFailed)).To(BeNil())
		})
	})

	It("matches kinds through wrapping", func() {
		err := fmt.Errorf("cropping: %w", New(InvalidRegion, "too small"))
		Expect(Is(err, InvalidRegion)).To(BeTrue())
		Expect(Is(err, ServiceError)).To(BeFalse())
	})
})
