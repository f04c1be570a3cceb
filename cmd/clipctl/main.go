// Command clipctl talks to a cloudclip server from the terminal.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-cloudclip/internal/auth"
	"github.com/npezzotti/go-cloudclip/internal/server"
)

const usage = `usage: clipctl [flags] <command> [args]

commands:
  watch          print events pushed to the room
  send <text>    publish text, or stdin when text is "-"
  revoke <id>    delete one message
  clear          delete every message in the room
  hash <secret>  print a bcrypt hash for -auth-hash

flags:
`

type client struct {
	base   *url.URL
	prefix string
	room   string
	token  string
	http   *http.Client
}

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:9501", "cloudclip server URL")
		prefix    = flag.String("prefix", "/api", "URL prefix of the API routes")
		room      = flag.String("room", "", "room name, the default room when empty")
		token     = flag.String("auth", os.Getenv("CLOUDCLIP_AUTH"), "access secret or token")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := log.New(os.Stderr, "[clipctl] ", 0)

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	base, err := url.Parse(*serverURL)
	if err != nil {
		logger.Fatalf("invalid server URL: %v", err)
	}

	c := &client{
		base:   base,
		prefix: "/" + strings.Trim(*prefix, "/"),
		room:   *room,
		token:  *token,
		http:   &http.Client{Timeout: 30 * time.Second},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := flag.Args()
	switch args[0] {
	case "watch":
		err = c.watch(ctx, os.Stdout)
	case "send":
		err = c.send(ctx, args[1:])
	case "revoke":
		if len(args) != 2 {
			err = errors.New("revoke takes one message id")
			break
		}
		err = c.do(ctx, http.MethodDelete, "/revoke/"+url.PathEscape(args[1]), nil, os.Stdout)
	case "clear":
		err = c.do(ctx, http.MethodDelete, "/revoke/all", nil, os.Stdout)
	case "hash":
		if len(args) != 2 {
			err = errors.New("hash takes one secret")
			break
		}
		var hash string
		if hash, err = auth.HashSecret(args[1]); err == nil {
			fmt.Println(hash)
		}
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}

	if err != nil {
		logger.Fatal(err)
	}
}

func (c *client) endpoint(scheme, path string) string {
	u := *c.base
	if scheme != "" {
		u.Scheme = scheme
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.prefix + path

	q := url.Values{}
	if c.room != "" {
		q.Set("room", c.room)
	}
	if scheme != "" && c.token != "" {
		q.Set("auth", c.token)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint("", path), body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	_, err = out.Write(data)
	return err
}

func (c *client) send(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("send needs text, or - to read stdin")
	}

	var body io.Reader = strings.NewReader(strings.Join(args, " "))
	if len(args) == 1 && args[0] == "-" {
		body = bufio.NewReader(os.Stdin)
	}

	return c.do(ctx, http.MethodPost, "/text", body, os.Stdout)
}

func (c *client) watch(ctx context.Context, out io.Writer) error {
	scheme := "ws"
	if c.base.Scheme == "https" {
		scheme = "wss"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint(scheme, "/push"), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		e, err := server.Decode(raw)
		if err != nil {
			fmt.Fprintf(out, "? %s\n", raw)
			continue
		}

		fmt.Fprintln(out, describe(e))
		if _, ok := e.(server.ForbiddenEvent); ok {
			return errors.New("access denied, check -auth")
		}
	}
}

func describe(e server.Event) string {
	switch ev := e.(type) {
	case server.ConfigEvent:
		return fmt.Sprintf("connected to %s (history %d, auth %t)", ev.Version, ev.Server.History, ev.Auth)
	case server.ReceiveEvent:
		return describeReceive(ev)
	case server.ReceiveMultiEvent:
		lines := make([]string, 0, len(ev))
		for _, r := range ev {
			lines = append(lines, describeReceive(r))
		}
		return strings.Join(lines, "\n")
	case server.ConnectEvent:
		return fmt.Sprintf("+ %s joined (%s, %s)", ev.Id, ev.OS, ev.Browser)
	case server.DisconnectEvent:
		return fmt.Sprintf("- %s left", ev.Id)
	case server.RevokeEvent:
		return fmt.Sprintf("x message %d revoked", ev.Id)
	case server.ClearAllEvent:
		return fmt.Sprintf("x room %s cleared", ev.Room)
	case server.ForbiddenEvent:
		return "forbidden"
	}
	return e.Name()
}

func describeReceive(r server.ReceiveEvent) string {
	ts := time.Unix(r.Timestamp, 0).Format(time.DateTime)
	if r.Type == "file" {
		return fmt.Sprintf("[%d %s] file %s (%d bytes) %s", r.Id, ts, r.FileName, r.Size, r.URL)
	}
	return fmt.Sprintf("[%d %s] %s", r.Id, ts, r.Content)
}
