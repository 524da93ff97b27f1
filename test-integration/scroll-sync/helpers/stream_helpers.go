package helpers

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onsi/gomega"
)

// EventStream reads data events from an open SSE connection
type EventStream struct {
	cancel context.CancelFunc
	events chan string
}

func openEventStream(ctx context.Context, url string) (*EventStream, *http.Response, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	// No client timeout: the stream stays open until Close
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		return nil, resp, nil
	}

	s := &EventStream{cancel: cancel, events: make(chan string, 32)}
	go func() {
		defer func() {
			_ = resp.Body.Close()
			close(s.events)
		}()
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				s.events <- data
			}
		}
	}()
	return s, resp, nil
}

// Next waits for the next data event and returns its JSON payload
func (s *EventStream) Next(timeout time.Duration) string {
	var data string
	gomega.Eventually(s.events, timeout).Should(gomega.Receive(&data), "expected a stream event")
	return data
}

// ExpectClosed waits for the server to end the stream
func (s *EventStream) ExpectClosed(timeout time.Duration) {
	gomega.Eventually(s.events, timeout).Should(gomega.BeClosed(), "expected the stream to end")
}

// Close drops the connection from the client side
func (s *EventStream) Close() {
	s.cancel()
}

// SocketStream is a WebSocket client connection
type SocketStream struct {
	conn *websocket.Conn
}

func dialSocket(url string) (*SocketStream, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	return &SocketStream{conn: conn}, nil
}

// Send writes one text frame
func (s *SocketStream) Send(frame string) error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Next reads one frame, failing after timeout
func (s *SocketStream) Next(timeout time.Duration) string {
	gomega.Expect(s.conn.SetReadDeadline(time.Now().Add(timeout))).To(gomega.Succeed())
	_, msg, err := s.conn.ReadMessage()
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return string(msg)
}

// Close closes the socket
func (s *SocketStream) Close() {
	_ = s.conn.Close()
}
