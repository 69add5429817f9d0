package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/chat-relay/pkg/model"
)

type loginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, email, password string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", err
	}
	return lr.Token, nil
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	room := flag.String("room", model.DefaultRoom, "room id")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("both -email and -password are required")
	}

	// 1. Login to get token
	log.Printf("Logging in as %s...", *email)
	token, err := login(*apiAddr, *email, *password)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Login successful. Token: %s...", token[:10])

	// 2. Connect to WebSocket with the token as a query param
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	log.Printf("connecting to %s", u.Host+u.Path)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// 3. Read pushes from the server
	go func() {
		defer close(done)
		for {
			_, frame, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}

			var action struct {
				Action string `json:"action"`
			}
			if err := json.Unmarshal(frame, &action); err != nil {
				log.Printf("Received raw: %s", frame)
				continue
			}

			switch action.Action {
			case model.ActionNewMessage:
				var push model.NewMessagePush
				if err := json.Unmarshal(frame, &push); err == nil {
					fmt.Printf("\r[%s] %s: %s\n> ", push.Message.RoomID, push.Message.Username, push.Message.Message)
				}
			case model.ActionMessages:
				var push model.MessagesPush
				if err := json.Unmarshal(frame, &push); err == nil {
					fmt.Print("\r--- history ---\n")
					for _, m := range push.Messages {
						fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Username, m.Message)
					}
					fmt.Print("---------------\n> ")
				}
			case model.ActionError:
				var push model.ErrorPush
				if err := json.Unmarshal(frame, &push); err == nil {
					fmt.Printf("\rerror (%s): %s\n> ", push.Code, push.Message)
				}
			case model.ActionSent:
				// Ack; nothing to show.
			default:
				log.Printf("Received raw: %s", frame)
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	send := func(req model.ClientRequest) {
		frame, _ := json.Marshal(req)
		if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Println("write:", err)
		}
	}

	// Fetch recent history on join.
	send(model.ClientRequest{Action: model.ActionGetMessages, RoomID: *room})

	// 4. Read stdin and submit messages
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}

			switch text {
			case "/quit":
				interrupt <- os.Interrupt
				return
			case "/history":
				send(model.ClientRequest{Action: model.ActionGetMessages, RoomID: *room})
			default:
				send(model.ClientRequest{Action: model.ActionSendMessage, RoomID: *room, Message: text})
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
