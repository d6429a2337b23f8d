package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addrFlag := flag.String("addr", "http://localhost:5000", "daemon base URL")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{base: *addrFlag, http: &http.Client{Timeout: 15 * time.Second}, jsonOut: *jsonFlag}

	switch args[0] {
	case "sessions":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zapdeskctl sessions <owner>")
			os.Exit(1)
		}
		c.get("/api/sessions/" + args[1])
	case "create":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zapdeskctl create <owner> [name]")
			os.Exit(1)
		}
		name := ""
		if len(args) >= 3 {
			name = args[2]
		}
		c.post("/api/session", map[string]string{"user": args[1], "name": name})
	case "status":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zapdeskctl status <sessionID>")
			os.Exit(1)
		}
		c.get("/api/session/" + args[1])
	case "reconnect":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zapdeskctl reconnect <sessionID>")
			os.Exit(1)
		}
		c.post("/api/session/"+args[1]+"/reconnect", nil)
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zapdeskctl delete <sessionID> [--hard]")
			os.Exit(1)
		}
		path := "/api/session/" + args[1]
		if len(args) >= 3 && args[2] == "--hard" {
			path += "?hard=true"
		}
		c.delete(path)
	case "send":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: zapdeskctl send <sessionID> <to> <text>")
			os.Exit(1)
		}
		c.post("/api/send", map[string]string{"sessionId": args[1], "to": args[2], "text": args[3]})
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zapdeskctl messages <sessionID>")
			os.Exit(1)
		}
		c.get("/api/messages/" + args[1])
	case "contacts":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zapdeskctl contacts <sessionID> [status]")
			os.Exit(1)
		}
		path := "/api/contacts/" + args[1]
		if len(args) >= 3 {
			path += "/" + args[2]
		}
		c.get(path)
	case "search":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: zapdeskctl search <sessionID> <query>")
			os.Exit(1)
		}
		c.get("/api/search/" + args[1] + "?q=" + args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: zapdeskctl [--addr <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  sessions <owner>                List an owner's sessions")
	fmt.Fprintln(os.Stderr, "  create <owner> [name]           Create a session")
	fmt.Fprintln(os.Stderr, "  status <sessionID>              Show one session")
	fmt.Fprintln(os.Stderr, "  reconnect <sessionID>           Reconnect a session")
	fmt.Fprintln(os.Stderr, "  delete <sessionID> [--hard]     Disconnect (and delete) a session")
	fmt.Fprintln(os.Stderr, "  send <sessionID> <to> <text>    Send a text message")
	fmt.Fprintln(os.Stderr, "  messages <sessionID>            List recent messages")
	fmt.Fprintln(os.Stderr, "  contacts <sessionID> [status]   List contacts")
	fmt.Fprintln(os.Stderr, "  search <sessionID> <query>      Full-text search messages")
}

type client struct {
	base    string
	http    *http.Client
	jsonOut bool
}

func (c *client) get(path string)    { c.do(http.MethodGet, path, nil) }
func (c *client) delete(path string) { c.do(http.MethodDelete, path, nil) }

func (c *client) post(path string, body any) {
	c.do(http.MethodPost, path, body)
}

func (c *client) do(method, path string, body any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.base, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if c.jsonOut {
		fmt.Println(string(raw))
	} else {
		var pretty bytes.Buffer
		if json.Indent(&pretty, raw, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(raw))
		}
	}

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
