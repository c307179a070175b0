package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/jaevor/go-nanoid"
	"github.com/shuymn-sandbox/firechat/pkg/view"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. ID tokens are around 1KB.
	maxMessageSize = 64 * 1024

	// Time allowed for one command to reach the backend.
	commandTimeout = 15 * time.Second
)

const (
	commandSignIn  = "sign_in"
	commandSignOut = "sign_out"
	commandSend    = "send"
	commandDelete  = "delete"

	frameScreen = "screen"
	frameAlert  = "alert"
)

const (
	clientIDCharacters = "0123456789abcdefghijklmnopqrstuvwxyz"
	clientIDLength     = 12
)

var validate = validator.New()

// command is one inbound frame from the page.
type command struct {
	Type    string `json:"type" validate:"required,oneof=sign_in sign_out send delete"`
	IDToken string `json:"id_token,omitempty" validate:"required_if=Type sign_in"`
	Text    string `json:"text,omitempty"`
	ID      string `json:"id,omitempty" validate:"required_if=Type delete"`
}

// frame is one outbound frame to the page.
type frame struct {
	Type   string       `json:"type"`
	Screen *view.Screen `json:"screen,omitempty"`
	Alert  string       `json:"alert,omitempty"`
}

type client struct {
	id         string
	conn       *websocket.Conn
	controller *view.Controller
	logger     *slog.Logger

	// Protocol errors found by the read pump, reported by the write pump.
	problems chan string
}

func newClient(conn *websocket.Conn, controller *view.Controller) (*client, error) {
	generateID, err := nanoid.CustomASCII(clientIDCharacters, clientIDLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create client id: %w", err)
	}
	id := generateID()
	return &client{
		id:         id,
		conn:       conn,
		controller: controller,
		logger:     slog.Default().With("client", id),
		problems:   make(chan string, 1),
	}, nil
}

func (c *client) serve() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.controller.Mount(ctx)
	defer c.controller.Unmount()

	c.logger.Info("client connected")
	defer c.logger.Info("client disconnected")

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump runs commands one at a time until the connection drops.
func (c *client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close", "error", err)
			}
			return
		}

		cmd, err := parseCommand(data)
		if err != nil {
			c.report(err.Error())
			continue
		}
		c.run(ctx, cmd)
	}
}

func parseCommand(data []byte) (command, error) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return command{}, fmt.Errorf("malformed command: %w", err)
	}
	if err := validate.Struct(cmd); err != nil {
		return command{}, fmt.Errorf("invalid command: %w", err)
	}
	return cmd, nil
}

// run executes one command. Failures reach the page through the controller's
// alerts, so the returned errors are only logged.
func (c *client) run(ctx context.Context, cmd command) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case commandSignIn:
		err = c.controller.SignIn(ctx, cmd.IDToken)
	case commandSignOut:
		err = c.controller.SignOut(ctx)
	case commandSend:
		err = c.controller.Send(ctx, cmd.Text)
	case commandDelete:
		err = c.controller.Delete(ctx, cmd.ID)
	}
	if err != nil {
		c.logger.Info("command failed", "command", cmd.Type, "error", err)
	}
}

func (c *client) report(problem string) {
	select {
	case c.problems <- problem:
	default:
	}
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case screen := <-c.controller.Screens():
			err = c.write(frame{Type: frameScreen, Screen: &screen})
		case alert := <-c.controller.Alerts():
			err = c.write(frame{Type: frameAlert, Alert: alert.Error()})
		case problem := <-c.problems:
			err = c.write(frame{Type: frameAlert, Alert: problem})
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Warn("write failed", "error", err)
			}
			return
		}
	}
}

func (c *client) write(f frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}
