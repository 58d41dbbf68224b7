// Command loadtest opens a batch of websocket connections against a
// running relay, joins them, and sends a burst of messages to watch the
// broadcast path under load.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "relay websocket endpoint")
	clients := flag.Int("clients", 10, "number of concurrent connections")
	messages := flag.Int("messages", 20, "messages per connection")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runClient(ctx, *url, i, *messages); err != nil {
				log.Printf("client %d: %v", i, err)
			}
		}()
	}
	wg.Wait()
}

func runClient(ctx context.Context, url string, id, messages int) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	// Drain broadcasts so the server never sees us as a slow consumer.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	send := func(v any) error {
		frame, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, frame)
	}

	join := map[string]any{"type": "join", "username": fmt.Sprintf("load-%d", id)}
	if err := send(join); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	for n := 0; n < messages; n++ {
		msg := map[string]any{"type": "message", "text": fmt.Sprintf("msg %d from %d", n, id)}
		if err := send(msg); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	return conn.Close(websocket.StatusNormalClosure, "done")
}
