package crop

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/failure"
)

func TestCrop(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Crop Suite")
}

// gradient gives every pixel a position-dependent color
func gradient(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

func decode(data []byte) image.Image {
	img, err := png.Decode(bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	return img
}

var _ = Describe("Plan", func() {
	It("corrects for the device pixel ratio", func() {
		vp := capture.Viewport{DevicePixelRatio: 2, Width: 1000, Height: 800}
		g, err := Plan(image.Pt(2000, 1600), vp, capture.Rect{Left: 100, Top: 100, Width: 200, Height: 150})
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Origin()).To(Equal(image.Pt(200, 200)))
		Expect(g.Size()).To(Equal(image.Pt(400, 300)))
		Expect(g.exact()).To(BeTrue())
	})

	It("derives scale from the raster, not the reported ratio", func() {
		// browser zoom of 125% on a ratio 1 display
		vp := capture.Viewport{DevicePixelRatio: 1, Width: 800, Height: 600}
		g, err := Plan(image.Pt(1000, 750), vp, capture.Rect{Left: 10, Top: 10, Width: 101, Height: 51})
		Expect(err).NotTo(HaveOccurred())
		Expect(g.ScaleX).To(Equal(1.25))
		Expect(g.X).To(Equal(12.5))
		Expect(g.Size()).To(Equal(image.Pt(126, 64)))
		Expect(g.exact()).To(BeFalse())
	})

	It("ignores scroll offsets because the raster is the visible viewport", func() {
		a, err := Plan(image.Pt(1000, 800), capture.Viewport{Width: 1000, Height: 800}, capture.Rect{Left: 5, Top: 5, Width: 50, Height: 50})
		Expect(err).NotTo(HaveOccurred())
		b, err := Plan(image.Pt(1000, 800), capture.Viewport{ScrollX: 300, ScrollY: 900, Width: 1000, Height: 800}, capture.Rect{Left: 5, Top: 5, Width: 50, Height: 50})
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
	})

	DescribeTable("degenerate input",
		func(size image.Point, vp capture.Viewport, rect capture.Rect) {
			_, err := Plan(size, vp, rect)
			Expect(failure.Is(err, failure.InvalidRegion)).To(BeTrue())
		},
		Entry("zero viewport", image.Pt(100, 100), capture.Viewport{}, capture.Rect{Width: 20, Height: 20}),
		Entry("empty raster", image.Pt(0, 0), capture.Viewport{Width: 100, Height: 100}, capture.Rect{Width: 20, Height: 20}),
		Entry("width rounds to zero", image.Pt(100, 100), capture.Viewport{Width: 1000, Height: 100}, capture.Rect{Width: 4, Height: 20}),
		Entry("height rounds to zero", image.Pt(100, 100), capture.Viewport{Width: 100, Height: 1000}, capture.Rect{Width: 20, Height: 4}),
	)
})

var _ = Describe("Crop", func() {
	var (
		data []byte
		vp   capture.Viewport
		rect capture.Rect
		out  Image
		err  error
	)

	BeforeEach(func() {
		data = gradient(200, 160)
		vp = capture.Viewport{DevicePixelRatio: 2, Width: 100, Height: 80}
		rect = capture.Rect{Left: 10, Top: 10, Width: 20, Height: 15}
	})

	JustBeforeEach(func() {
		out, err = Crop(data, vp, rect)
	})

	When("the scale is integral", func() {
		It("copies the source pixels", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Width).To(Equal(40))
			Expect(out.Height).To(Equal(30))

			img := decode(out.PNG)
			Expect(img.Bounds().Size()).To(Equal(image.Pt(40, 30)))
			r, g, _, _ := img.At(0, 0).RGBA()
			Expect(r >> 8).To(BeEquivalentTo(20))
			Expect(g >> 8).To(BeEquivalentTo(20))
			r, g, _, _ = img.At(39, 29).RGBA()
			Expect(r >> 8).To(BeEquivalentTo(59))
			Expect(g >> 8).To(BeEquivalentTo(49))
		})
	})

	When("the scale is fractional", func() {
		BeforeEach(func() {
			vp = capture.Viewport{DevicePixelRatio: 1, Width: 160, Height: 128}
			rect = capture.Rect{Left: 11, Top: 7, Width: 33, Height: 21}
		})

		It("resamples to the rounded size", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(decode(out.PNG).Bounds().Size()).To(Equal(image.Pt(41, 26)))
			Expect(out.Width).To(Equal(41))
			Expect(out.Height).To(Equal(26))
		})
	})

	It("is deterministic", func() {
		again, err2 := Crop(data, vp, rect)
		Expect(err).NotTo(HaveOccurred())
		Expect(err2).NotTo(HaveOccurred())
		Expect(again.PNG).To(Equal(out.PNG))
	})

	When("the selection runs past the raster", func() {
		BeforeEach(func() {
			rect = capture.Rect{Left: 90, Top: 70, Width: 20, Height: 20}
		})

		It("keeps the requested size", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Width).To(Equal(40))
			Expect(out.Height).To(Equal(40))
		})
	})

	When("the selection is outside the raster", func() {
		BeforeEach(func() {
			rect = capture.Rect{Left: 150, Top: 10, Width: 20, Height: 20}
		})

		It("returns InvalidRegion", func() {
			Expect(failure.Is(err, failure.InvalidRegion)).To(BeTrue())
		})
	})

	When("the raster is not an image", func() {
		BeforeEach(func() {
			data = []byte("nope")
		})

		It("returns CaptureFailed", func() {
			Expect(failure.Is(err, failure.CaptureFailed)).To(BeTrue())
		})
	})

	When("the crop rounds to nothing", func() {
		BeforeEach(func() {
			rect = capture.Rect{Left: 10, Top: 10, Width: 0.2, Height: 15}
		})

		It("returns InvalidRegion", func() {
			Expect(failure.Is(err, failure.InvalidRegion)).To(BeTrue())
		})
	})
})
