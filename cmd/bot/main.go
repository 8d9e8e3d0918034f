package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"

	"wasteland.fm/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		player = flag.String("player", "scav", "player id (dev servers only)")
		token  = flag.String("token", "", "signed player token (or set WFM_TOKEN)")
	)
	flag.Parse()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "radio> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatalf("readline: %v", err)
	}
	defer rl.Close()
	logger := log.New(rl.Stdout(), "[bot] ", log.LstdFlags)

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	tok := *token
	if tok == "" {
		tok = os.Getenv("WFM_TOKEN")
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Token:           tok,
		PlayerID:        *player,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send hello: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("connection closed: %v", err)
				return
			}
			printFrame(rl.Stdout(), msg)
		}
	}()

	fmt.Fprintln(rl.Stdout(), usage)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "help", "?":
			fmt.Fprintln(rl.Stdout(), usage)
			continue
		case "quit", "exit", "q":
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
		frame, err := parseLine(line)
		if err != nil {
			fmt.Fprintln(rl.Stdout(), err)
			continue
		}
		if err := conn.WriteJSON(frame); err != nil {
			logger.Printf("send: %v", err)
			return
		}
	}
}

func printFrame(w io.Writer, msg []byte) {
	var frame struct {
		Type   string            `json:"type"`
		Data   json.RawMessage   `json:"data"`
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		fmt.Fprintf(w, "?? %s\n", msg)
		return
	}
	switch {
	case frame.Type == protocol.TypeBatch:
		for _, ev := range frame.Events {
			printFrame(w, ev)
		}
	case len(frame.Data) > 0:
		fmt.Fprintf(w, "<- %s %s\n", frame.Type, frame.Data)
	default:
		fmt.Fprintf(w, "<- %s\n", msg)
	}
}
