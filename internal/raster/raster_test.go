package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

var _ = Describe("Normalize", func() {
	var (
		data     []byte
		mimeType string
		out      []byte
		size     image.Point
		err      error
	)

	BeforeEach(func() {
		mimeType = ""
	})

	JustBeforeEach(func() {
		out, size, err = Normalize(data, mimeType)
	})

	When("the input is already PNG", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(png.Encode(&buf, solid(8, 6, color.White))).To(Succeed())
			data = buf.Bytes()
		})

		It("returns the bytes unchanged", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(data))
			Expect(size).To(Equal(image.Pt(8, 6)))
		})
	})

	When("the input is JPEG", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, solid(20, 10, color.Black), nil)).To(Succeed())
			data = buf.Bytes()
			mimeType = "image/jpeg"
		})

		It("converts it to PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(IsPNG(out)).To(BeTrue())
			Expect(size).To(Equal(image.Pt(20, 10)))
		})
	})

	When("the input is not an image", func() {
		BeforeEach(func() {
			data = []byte("definitely not an image")
		})

		It("reports an unsupported format", func() {
			Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
		})
	})

	When("the PNG header is truncated", func() {
		BeforeEach(func() {
			data = append([]byte{}, pngMagic...)
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	When("the input is empty", func() {
		BeforeEach(func() {
			data = nil
		})

		It("returns ErrEmpty", func() {
			Expect(err).To(MatchError(ErrEmpty))
		})
	})
})

var _ = Describe("EncodePNG", func() {
	It("is deterministic", func() {
		img := solid(5, 5, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		first, err := EncodePNG(img)
		Expect(err).NotTo(HaveOccurred())
		second, err := EncodePNG(img)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal(second))
	})
})

var _ = Describe("format sniffing", func() {
	DescribeTable("isHEICFormat",
		func(data []byte, expected bool) {
			Expect(isHEICFormat(data)).To(Equal(expected))
		},
		Entry("heic brand", []byte("\x00\x00\x00\x18ftypheic\x00\x00"), true),
		Entry("mif1 brand", []byte("\x00\x00\x00\x18ftypmif1\x00\x00"), true),
		Entry("mp4 brand", []byte("\x00\x00\x00\x18ftypisom\x00\x00"), false),
		Entry("too short", []byte("ftyp"), false),
	)

	It("detects PDFs by signature", func() {
		Expect(isPDF([]byte("%PDF-1.7\n"))).To(BeTrue())
		Expect(isPDF([]byte("PDF"))).To(BeFalse())
	})
})
