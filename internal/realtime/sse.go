package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HeartbeatInterval keeps idle proxies from closing the stream
const HeartbeatInterval = 15 * time.Second

// WriteSSE writes one envelope as a server-sent event frame
func WriteSSE(w io.Writer, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data)
	return err
}

// SetSSEHeaders prepares a response for streaming
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Stream writes the snapshot, then subscriber events until the subscriber is
// closed or ctx ends
func Stream(ctx context.Context, w http.ResponseWriter, sub *Subscriber, snapshot *Envelope, heartbeat time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	if snapshot != nil {
		if err := WriteSSE(w, *snapshot); err != nil {
			return err
		}
		flusher.Flush()
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case env, ok := <-sub.Outbound:
			if !ok {
				return nil
			}
			if err := WriteSSE(w, env); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
