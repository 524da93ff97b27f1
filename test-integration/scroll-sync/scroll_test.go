package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/scroll-sync-server/test-integration/scroll-sync/helpers"
)

const eventTimeout = 5 * time.Second

var _ = Describe("Scroll Sync Integration", func() {
	var (
		tempDir      string
		serverHelper *helpers.ServerTestHelper
	)

	startServer := func(opts *helpers.SyncOptions) {
		configFile := helpers.WriteConfigYAML(tempDir, opts)

		var err error
		serverHelper, err = helpers.NewServerTestHelper(ctx, configFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)
	}

	openStream := func(clientID string) *helpers.EventStream {
		stream, resp, err := serverHelper.OpenEventStream(clientID)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		DeferCleanup(stream.Close)
		return stream
	}

	postUpdate := func(body string) int {
		resp, err := serverHelper.PostUpdate(body)
		Expect(err).NotTo(HaveOccurred())
		defer func() {
			_ = resp.Body.Close()
		}()
		return resp.StatusCode
	}

	BeforeEach(func() {
		serverHelper = nil
		tempDir = createTempDir("scroll-sync-test-")
	})

	AfterEach(func() {
		if serverHelper != nil {
			Expect(serverHelper.StopServer()).To(Succeed())
		}
		cleanupTempDir(tempDir)
	})

	Context("Main Window Election", func() {
		BeforeEach(func() {
			startServer(nil)
		})

		It("should elect, broadcast and fail over between windows", func() {
			a := openStream("A")
			Expect(a.Next(eventTimeout)).To(MatchJSON(`{"main":"A"}`))

			b := openStream("B")
			Expect(b.Next(eventTimeout)).To(MatchJSON(`{"main":"A"}`))

			By("broadcasting the main window position to every window")
			Expect(postUpdate(`{"clientID":"A","position":120}`)).To(Equal(http.StatusOK))
			Expect(a.Next(eventTimeout)).To(MatchJSON(`{"clientID":"A","position":120}`))
			Expect(b.Next(eventTimeout)).To(MatchJSON(`{"clientID":"A","position":120}`))

			By("promoting the next window when the main window disconnects")
			a.Close()
			Expect(b.Next(eventTimeout)).To(MatchJSON(`{"main":"B"}`))

			Expect(postUpdate(`{"clientID":"B","main":"B"}`)).To(Equal(http.StatusOK))
			Expect(b.Next(eventTimeout)).To(MatchJSON(`{"clientID":"B","main":"B"}`))

			By("listing only the remaining window")
			resp, err := serverHelper.GetSessions()
			Expect(err).NotTo(HaveOccurred())
			defer func() {
				_ = resp.Body.Close()
			}()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			var sessions map[string]any
			Expect(json.Unmarshal(body, &sessions)).To(Succeed())
			Expect(sessions).To(HaveKeyWithValue("main", "B"))
			Expect(sessions["sessions"]).To(HaveLen(1))
		})

		It("should reject updates from unknown windows", func() {
			a := openStream("A")
			Expect(a.Next(eventTimeout)).To(MatchJSON(`{"main":"A"}`))

			Expect(postUpdate(`{"clientID":"ghost","position":1}`)).To(Equal(http.StatusNotFound))
			Expect(postUpdate(`{"position":1}`)).To(Equal(http.StatusBadRequest))
		})

		It("should refuse a second stream for a connected window", func() {
			a := openStream("A")
			Expect(a.Next(eventTimeout)).To(MatchJSON(`{"main":"A"}`))

			stream, resp, err := serverHelper.OpenEventStream("A")
			Expect(err).NotTo(HaveOccurred())
			defer func() {
				_ = resp.Body.Close()
			}()
			Expect(stream).To(BeNil())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Context("WebSocket Transport", func() {
		BeforeEach(func() {
			startServer(nil)
		})

		It("should apply frames and reject frames for other windows", func() {
			b := openStream("B")
			Expect(b.Next(eventTimeout)).To(MatchJSON(`{"main":"B"}`))

			socket, err := serverHelper.OpenWebSocket("A")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(socket.Close)
			Expect(socket.Next(eventTimeout)).To(MatchJSON(`{"main":"B"}`))

			Expect(socket.Send(`{"clientID":"B","main":"A"}`)).To(Succeed())
			Expect(socket.Next(eventTimeout)).To(ContainSubstring("does not match"))

			Expect(postUpdate(`{"clientID":"B","main":"A"}`)).To(Equal(http.StatusOK))
			Expect(b.Next(eventTimeout)).To(MatchJSON(`{"clientID":"B","main":"A"}`))
			Expect(socket.Next(eventTimeout)).To(MatchJSON(`{"clientID":"B","main":"A"}`))

			Expect(socket.Send(`{"clientID":"A","position":9}`)).To(Succeed())
			frames := []string{socket.Next(eventTimeout), socket.Next(eventTimeout)}
			Expect(frames).To(ConsistOf(
				MatchJSON(`{"clientID":"A","position":9}`),
				MatchJSON(`{"success":true}`),
			))
			Expect(b.Next(eventTimeout)).To(MatchJSON(`{"clientID":"A","position":9}`))
		})
	})

	Context("Heartbeat Sweep", func() {
		BeforeEach(func() {
			startServer(&helpers.SyncOptions{
				HeartbeatTimeout: "200ms",
				SweepInterval:    "50ms",
			})
		})

		It("should tell a silent window that no main window is alive", func() {
			a := openStream("A")
			Expect(a.Next(eventTimeout)).To(MatchJSON(`{"main":"A"}`))
			Expect(a.Next(eventTimeout)).To(MatchJSON(`{"main":null}`))
		})
	})

	Context("Shutdown", func() {
		BeforeEach(func() {
			startServer(nil)
		})

		It("should end open streams when the server stops", func() {
			a := openStream("A")
			Expect(a.Next(eventTimeout)).To(MatchJSON(`{"main":"A"}`))

			Expect(serverHelper.StopServer()).To(Succeed())
			serverHelper = nil
			a.ExpectClosed(eventTimeout)
		})
	})
})
