// subscriber connects to a running bridge's fan-out hub and streams
// updates to the console.
// Usage: go run ./cmd/subscriber --addr localhost:8080 --symbols BTC-PERPETUAL,ETH-PERPETUAL
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/deribit-bridge/internal/hub"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "bridge hub address")
	symbols := flag.String("symbols", "BTC-PERPETUAL", "comma-separated symbols to subscribe")
	verbose := flag.Bool("verbose", false, "print full update payloads")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := "ws://" + *addr + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		logger.Error("dial failed", "url", url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	var welcome hub.Ack
	if err := conn.ReadJSON(&welcome); err != nil {
		logger.Error("read welcome", "error", err)
		os.Exit(1)
	}
	logger.Info("connected", "client_id", welcome.ClientID)

	wanted := strings.Split(*symbols, ",")
	if err := conn.WriteJSON(hub.ControlMessage{Type: "subscribe", Symbols: wanted}); err != nil {
		logger.Error("subscribe", "error", err)
		os.Exit(1)
	}

	// Close the socket when a signal arrives so the read loop unblocks.
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	updates := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("done", "updates", updates)
				return
			}
			logger.Error("read", "error", err)
			os.Exit(1)
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			logger.Warn("unparseable message", "error", err)
			continue
		}

		switch envelope.Type {
		case "update":
			var update hub.Update
			if err := json.Unmarshal(raw, &update); err != nil {
				logger.Warn("bad update", "error", err)
				continue
			}
			updates++
			if *verbose {
				fmt.Printf("[%s] %s %s\n", time.UnixMilli(update.Timestamp).Format(time.RFC3339Nano), update.Symbol, update.Data)
			} else if updates%100 == 1 {
				logger.Info("streaming", "symbol", update.Symbol, "updates", updates)
			}
		case "subscribed":
			logger.Info("subscribed", "symbols", wanted)
		case "error":
			var ack hub.Ack
			json.Unmarshal(raw, &ack)
			logger.Warn("hub error", "message", ack.Message)
		}
	}
}
