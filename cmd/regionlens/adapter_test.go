//go:build !tesseract

package main

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/provider"
)

var _ = Describe("newAdapter without the tesseract build tag", func() {
	It("tells the user how to enable local OCR", func() {
		_, err := newAdapter().ExtractText(context.Background(), []byte("png"), provider.Config{
			Fixed: &provider.Fixed{Name: provider.NameTesseract},
		})
		Expect(failure.Is(err, failure.ConfigInvalid)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("-tags tesseract"))
	})
})
