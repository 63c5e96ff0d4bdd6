// Command client-sim is a small headless reference client: it joins a
// document over WebSocket, applies operations typed on stdin, and prints
// its converged local text. Modeled on the teacher's test-only
// connectWebSocket/sendClientMsg/readServerMsg helpers
// (pkg/server/server_test.go), as a standalone binary driving pkg/client
// end-to-end against a real server; no test in this module runs it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kolabsync/otserver/pkg/client"
	"github.com/kolabsync/otserver/pkg/ot"
	"github.com/kolabsync/otserver/pkg/transport"
)

func main() {
	addr := flag.String("addr", "ws://localhost:3030", "server address")
	docID := flag.String("doc", "demo", "document id to join")
	name := flag.String("name", "sim", "display name")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := strings.TrimSuffix(*addr, "/") + "/api/socket/" + *docID
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, ws, transport.ClientFrame{
		Type: transport.ClientFrameJoin, DocID: *docID, ClientName: *name,
	}); err != nil {
		log.Fatalf("join: %v", err)
	}

	var joined transport.ServerFrame
	if err := wsjson.Read(ctx, ws, &joined); err != nil {
		log.Fatalf("read joined: %v", err)
	}
	if joined.Type != transport.ServerFrameJoined {
		log.Fatalf("expected joined frame, got %q", joined.Type)
	}

	sync := client.New(joined.ClientID, joined.Doc, joined.SeqAtJoin, func(base uint64, op ot.Operation) error {
		sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return wsjson.Write(sendCtx, ws, transport.ClientFrame{
			Type: transport.ClientFrameOp, DocID: *docID, Operation: &op, BaseServerSeq: base,
		})
	})

	fmt.Printf("joined %s as %s (%s)\n", *docID, joined.ClientID, *name)
	go readLoop(ws, sync)
	repl(sync)
}

// readLoop drains inbound server frames and feeds them into sync until the
// socket closes.
func readLoop(ws *websocket.Conn, sync *client.ClientSync) {
	for {
		var frame transport.ServerFrame
		if err := wsjson.Read(context.Background(), ws, &frame); err != nil {
			return
		}
		switch frame.Type {
		case transport.ServerFrameAck:
			sync.HandleAck(frame.ClientSeq)
		case transport.ServerFrameOp:
			if frame.Op != nil {
				if err := sync.HandleServerOp(*frame.Op); err != nil {
					log.Printf("apply server op: %v", err)
				}
			}
		case transport.ServerFrameJoin:
			fmt.Printf("\n%s joined\n", frame.ClientName)
		case transport.ServerFrameDisconnect:
			fmt.Printf("\n%s left\n", frame.DisconnectedID)
		case transport.ServerFrameMetadata:
			fmt.Printf("\n%s set %s=%s\n", frame.MetadataFrom, frame.MetadataKey, frame.MetadataValue)
		case transport.ServerFrameError:
			fmt.Printf("\nserver error: %s\n", frame.Message)
		}
	}
}

// repl reads simple "insert <pos> <text>" / "delete <pos> <len>" / "text"
// commands from stdin and drives sync with them.
func repl(sync *client.ClientSync) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), " ", 3)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "insert":
			if len(fields) != 3 {
				fmt.Println("usage: insert <pos> <text>")
				continue
			}
			pos, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("bad position:", err)
				continue
			}
			if err := sync.Insert(uint32(pos), fields[2]); err != nil {
				fmt.Println("insert failed:", err)
			}
		case "delete":
			if len(fields) != 3 {
				fmt.Println("usage: delete <pos> <len>")
				continue
			}
			pos, err1 := strconv.Atoi(fields[1])
			length, err2 := strconv.Atoi(fields[2])
			if err1 != nil || err2 != nil {
				fmt.Println("bad position or length")
				continue
			}
			if err := sync.Delete(uint32(pos), uint32(length)); err != nil {
				fmt.Println("delete failed:", err)
			}
		case "text":
			fmt.Printf("%q\n", sync.Text())
		default:
			fmt.Println("commands: insert <pos> <text> | delete <pos> <len> | text")
		}
	}
}
