package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/remoteclauding/rcboot/internal/progress"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:9681", "rcboot API base URL")
	wait := flag.Bool("wait", true, "for long operations, stream progress and wait for the result")
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	c := &client{base: strings.TrimRight(*addr, "/"), http: resty.New().SetTimeout(30 * time.Second)}
	var err error
	switch cmd := flag.Arg(0); cmd {
	case "status":
		err = c.get("/v1/status")
	case "install-state":
		err = c.get("/v1/install-state")
	case "node":
		err = c.get("/v1/node")
	case "start":
		err = c.post("/v1/agent:start")
	case "stop":
		err = c.post("/v1/agent:stop")
	case "logout":
		err = c.post("/v1/logout")
	case "mark-installed":
		err = c.post("/v1/mark-installed")
	case "provision":
		err = c.operation("/v1/runtime:provision", *wait)
	case "install":
		err = c.operation("/v1/package:install", *wait)
	case "setup":
		err = c.operation("/v1/setup", *wait)
	case "bootstrap":
		err = c.operation("/v1/bootstrap", *wait)
	case "op":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "missing operation id")
			os.Exit(2)
		}
		err = c.get("/v1/operations/" + flag.Arg(1))
	case "events":
		err = c.follow()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("rcbootctl [--addr URL] [--wait=false] <command> [args]")
	fmt.Println("commands:")
	fmt.Println("  status                   Show agent and account status")
	fmt.Println("  install-state            Show app or installer")
	fmt.Println("  node                     Show the Node.js runtime found")
	fmt.Println("  start | stop             Start or stop the agent")
	fmt.Println("  logout                   Stop the agent and forget the account")
	fmt.Println("  mark-installed           Record a completed install")
	fmt.Println("  provision                Download the portable runtime")
	fmt.Println("  install                  Install the agent package")
	fmt.Println("  setup                    Run editor integration setup")
	fmt.Println("  bootstrap                Run the full first-run install")
	fmt.Println("  op <id>                  Show an operation")
	fmt.Println("  events                   Stream progress events")
}

type client struct {
	base string
	http *resty.Client
}

func (c *client) get(path string) error {
	resp, err := c.http.R().Get(c.base + path)
	if err != nil {
		return err
	}
	return printBody(resp)
}

func (c *client) post(path string) error {
	resp, err := c.http.R().Post(c.base + path)
	if err != nil {
		return err
	}
	return printBody(resp)
}

// operation starts a background operation and, with wait, prints its
// progress events and final state.
func (c *client) operation(path string, wait bool) error {
	var conn *websocket.Conn
	if wait {
		var err error
		conn, _, err = websocket.DefaultDialer.Dial(wsURL(c.base)+"/v1/events", nil)
		if err != nil {
			return err
		}
		defer conn.Close()
	}
	var accepted struct {
		Operation string `json:"operation"`
		Error     string `json:"error"`
	}
	resp, err := c.http.R().SetResult(&accepted).SetError(&accepted).Post(c.base + path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), accepted.Error)
	}
	if !wait {
		fmt.Println(accepted.Operation)
		return nil
	}
	go func() { _ = printEvents(conn) }()
	for {
		var op struct {
			Status string `json:"status"`
		}
		if _, err := c.http.R().SetResult(&op).Get(c.base + "/v1/operations/" + accepted.Operation); err != nil {
			return err
		}
		if op.Status != "running" {
			return c.get("/v1/operations/" + accepted.Operation)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// follow prints events until the server closes the stream.
func (c *client) follow() error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(c.base)+"/v1/events", nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	return printEvents(conn)
}

func printEvents(conn *websocket.Conn) error {
	for {
		var e progress.Event
		if err := conn.ReadJSON(&e); err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if e.Percent != nil {
			fmt.Printf("[%s] %s %d%%: %s\n", e.Step, e.Status, *e.Percent, e.Message)
			continue
		}
		fmt.Printf("[%s] %s: %s\n", e.Step, e.Status, e.Message)
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func printBody(resp *resty.Response) error {
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	if len(resp.Body()) == 0 {
		fmt.Println(resp.Status())
		return nil
	}
	var v any
	if err := json.Unmarshal(resp.Body(), &v); err != nil {
		fmt.Println(resp.String())
		return nil
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}
