package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"golang.org/x/time/rate"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/events"
	"github.com/zombor/regionlens/internal/pipeline"
	"github.com/zombor/regionlens/internal/provider"
	"github.com/zombor/regionlens/internal/selection"
	"github.com/zombor/regionlens/internal/store"
)

var _ = Describe("Integration", func() {
	var (
		db       *store.BoltDB
		bus      *events.Bus
		upstream *ghttp.Server
		api      *httptest.Server
		cancel   context.CancelFunc
		sent     chan []byte
		viewport capture.Viewport

		unsubscribePage func()
	)

	do := func(method, path string, body any) (int, []byte) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, api.URL+path, reader)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, data
	}

	state := func() stateResponse {
		code, body := do("GET", "/api/state", nil)
		Expect(code).To(Equal(http.StatusOK))
		var resp stateResponse
		Expect(json.Unmarshal(body, &resp)).To(Succeed())
		return resp
	}

	selectRegion := func(intent capture.IntentKind) {
		code, _ := do("POST", "/api/selection", map[string]any{"intent": intent})
		Expect(code).To(Equal(http.StatusAccepted))
		for _, ev := range []selectionEventRequest{
			{Type: pointerPress, X: 10, Y: 10},
			{Type: pointerMove, X: 60, Y: 40},
			{Type: pointerRelease, X: 110, Y: 60, Viewport: viewport},
		} {
			code, _ = do("POST", "/api/selection/events", ev)
			Expect(code).To(Equal(http.StatusOK))
		}
	}

	BeforeEach(func() {
		var err error
		db, err = store.NewBoltDB(filepath.Join(GinkgoT().TempDir(), "regionlens.db"))
		Expect(err).NotTo(HaveOccurred())

		img := image.NewRGBA(image.Rect(0, 0, 400, 300))
		for y := 0; y < 300; y++ {
			for x := 0; x < 400; x++ {
				img.Set(x, y, color.RGBA{R: 200, A: 255})
			}
		}
		var raster bytes.Buffer
		Expect(png.Encode(&raster, img)).To(Succeed())
		viewport = capture.Viewport{DevicePixelRatio: 1, Width: 400, Height: 300}

		sent = make(chan []byte, 4)
		upstream = ghttp.NewServer()

		logger := slog.Default()
		bus = events.NewBus(logger, 16)
		selector := selection.NewSelector(logger, selection.NewBusOverlay(bus), time.Millisecond)
		coordinator := capture.NewCoordinator(logger, capture.StaticRasterizer(raster.Bytes()), db, bus,
			capture.WithRateLimit(rate.Inf, 1),
		)
		orchestrator := pipeline.NewOrchestrator(logger, db, selector, coordinator, provider.NewAdapter(), bus)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go orchestrator.Run(ctx, bus)

		// the page drains overlay commands like the SSE stream would
		var page <-chan events.Event
		page, unsubscribePage = bus.Subscribe()
		DeferCleanup(unsubscribePage)
		go func() {
			for range page {
			}
		}()
		Eventually(bus.Subscribers).Should(Equal(2))

		api = httptest.NewServer(NewServer(Deps{
			Pipeline: orchestrator,
			Selector: selector,
			Capturer: coordinator,
			Store:    db,
			Events:   bus,
		}, BasicAuth{}))
	})

	AfterEach(func() {
		cancel()
		api.Close()
		upstream.Close()
		db.Close()
	})

	capturing := func(response string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			sent <- body
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, response)
		}
	}

	It("extracts text from a selected region", func() {
		upstream.RouteToHandler("POST", "/ocr", capturing(`{"result":{"text":"  Hello region \n"}}`))

		code, _ := do("PUT", "/api/config/ocr", provider.Config{Custom: &provider.Custom{
			Endpoint:     upstream.URL() + "/ocr",
			ResponsePath: "result.text",
		}})
		Expect(code).To(Equal(http.StatusOK))

		selectRegion(capture.IntentOCR)

		Eventually(func() pipeline.State { return state().Pipeline.State }).Should(Equal(pipeline.StateDone))
		resp := state()
		Expect(resp.ExtractedText).To(Equal("  Hello region \n"))
		Expect(resp.HasPreview).To(BeTrue())
		Expect(resp.Selection).To(Equal(selection.StateCompleted.String()))

		var body map[string]string
		Expect(json.Unmarshal(<-sent, &body)).To(Succeed())
		Expect(body["image"]).NotTo(BeEmpty())

		code, preview := do("GET", "/api/preview", nil)
		Expect(code).To(Equal(http.StatusOK))
		cfg, err := png.DecodeConfig(bytes.NewReader(preview))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Width).To(Equal(100))
		Expect(cfg.Height).To(Equal(50))
	})

	It("keeps an AI capture for the next question", func() {
		upstream.RouteToHandler("POST", "/ai", capturing(`{"answer":"A red box"}`))

		code, _ := do("PUT", "/api/config/ai", provider.Config{Custom: &provider.Custom{
			Endpoint:       upstream.URL() + "/ai",
			BodyTemplate:   `{"prompt":"{{text}}","image":"{{image}}"}`,
			ResponsePath:   "answer",
			SupportsImages: true,
		}})
		Expect(code).To(Equal(http.StatusOK))

		selectRegion(capture.IntentAI)

		Eventually(func() bool { return state().Pipeline.Attached }).Should(BeTrue())
		Expect(upstream.ReceivedRequests()).To(BeEmpty())

		code, answer := do("POST", "/api/ask", askRequest{Prompt: "What is it?"})
		Expect(code).To(Equal(http.StatusOK))
		Expect(answer).To(MatchJSON(`{"text":"A red box"}`))

		var body map[string]string
		Expect(json.Unmarshal(<-sent, &body)).To(Succeed())
		Expect(body["prompt"]).To(Equal("What is it?"))
		Expect(body["image"]).NotTo(BeEmpty())

		Expect(state().AIResponse).To(Equal("A red box"))
		Expect(state().Pipeline.Attached).To(BeFalse())
	})

	It("cancels the selection when the page goes away", func() {
		Expect(bus.Subscribers()).To(Equal(2))
		unsubscribePage()
		Eventually(bus.Subscribers).Should(Equal(1))

		code, body := do("POST", "/api/selection", map[string]any{"intent": capture.IntentOCR})
		Expect(code).To(Equal(http.StatusAccepted))
		Expect(body).To(MatchJSON(`{"selection":"cancelled"}`))
	})

	It("reports a missing service config on the pipeline", func() {
		selectRegion(capture.IntentOCR)

		Eventually(func() pipeline.State { return state().Pipeline.State }).Should(Equal(pipeline.StateFailed))
		Expect(state().Pipeline.Error.Kind).To(BeEquivalentTo("config_missing"))
	})
})
