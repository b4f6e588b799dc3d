package httpapi

import (
	"fmt"
	"sync"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// sseSink writes broker frames to one client connection. The broker
// serializes writes per subscriber, but registration writes happen on
// the handler goroutine, so a mutex guards the writer anyway.
type sseSink struct {
	mu sync.Mutex
	w  gin.ResponseWriter
}

func newSSESink(w gin.ResponseWriter) *sseSink {
	return &sseSink{w: w}
}

func (s *sseSink) Send(ev sse.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := sse.Encode(s.w, ev); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *sseSink) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *sseSink) SendRetry(ms int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "retry: %d\n\n", ms); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}
