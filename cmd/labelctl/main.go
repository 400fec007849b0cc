package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const (
	defaultServerURL = "http://localhost:8080"
)

func main() {
	var serverURL string
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{base: strings.TrimSuffix(serverURL, "/")}
	args := flag.Args()

	var err error
	switch args[0] {
	case "generate":
		err = cmdGenerate(c, args[1:])
	case "show":
		err = cmdShow(c, args[1:])
	case "print", "reprint":
		err = cmdPrint(c, args[0], args[1:])
	case "jobs":
		err = cmdJobs(c)
	case "job", "status":
		err = cmdJob(c, args[1:])
	case "cancel":
		err = cmdCancel(c, args[1:])
	case "devices":
		err = cmdDevices(c)
	case "health":
		err = cmdHealth(c, args[1:])
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Smartpneu Label CLI

Usage:
  labelctl [flags] <command>

Flags:
  -s, -server <url>    Server URL (default: %s)

Commands:
  generate <record.json> [--print] [--device <name>]
    Render and store a shelf label from a tire record file.
    With --print the label is also queued for printing.

  show <sku> [--out <file.png>]
    Show stored label metadata, or save the rendered page with --out

  print <sku> [--device <name>]
    Queue a stored label for printing

  reprint <sku> [--device <name>]
    Print a stored label again, byte-identical to the original

  jobs
    List recent print jobs

  status <id>
    Get status of a specific job

  cancel <id>
    Cancel a job that has not been dispatched yet

  devices
    List configured print devices

  health <device>
    Probe whether a print device is reachable

Examples:
  labelctl generate ./tire.json --print --device shop
  labelctl show MICH-PS5-2254517 --out label.png
  labelctl reprint MICH-PS5-2254517
  labelctl -s http://192.168.1.10:8080 jobs

`, defaultServerURL)
}

type client struct {
	base string
}

func (c *client) do(method, path string, body []byte) (map[string]interface{}, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode >= 400 {
		if msg, ok := result["error"].(string); ok {
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}
	return result, nil
}

// raw fetches a binary response body, used for the PNG page.
func (c *client) raw(path string) ([]byte, error) {
	resp, err := http.Get(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var result map[string]interface{}
		if json.Unmarshal(data, &result) == nil {
			if msg, ok := result["error"].(string); ok {
				return nil, fmt.Errorf("%s", msg)
			}
		}
		return nil, fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}
	return data, nil
}

// parseDevice strips an optional --device flag from args.
func parseDevice(args []string) (string, []string) {
	rest := make([]string, 0, len(args))
	device := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--device" && i+1 < len(args) {
			device = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	return device, rest
}

func cmdGenerate(c *client, args []string) error {
	device, args := parseDevice(args)

	doPrint := false
	rest := args[:0]
	for _, a := range args {
		if a == "--print" {
			doPrint = true
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: generate <record.json> [--print] [--device <name>]")
	}

	record, err := os.ReadFile(rest[0])
	if err != nil {
		return fmt.Errorf("failed to read record file: %w", err)
	}

	path := "/labels"
	if doPrint {
		path += "?dispatch=true"
		if device != "" {
			path += "&device=" + url.QueryEscape(device)
		}
	}

	result, err := c.do("POST", path, record)
	if err != nil {
		return err
	}

	if art, ok := result["artifact"].(map[string]interface{}); ok {
		fmt.Printf("Label stored: %s (%s)\n", art["sku"], art["path"])
	}
	if jobID, ok := result["job_id"].(string); ok {
		fmt.Printf("Job ID: %s\n", jobID)
	}
	return nil
}

func cmdShow(c *client, args []string) error {
	out := ""
	rest := args[:0]
	for i := 0; i < len(args); i++ {
		if args[i] == "--out" && i+1 < len(args) {
			out = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: show <sku> [--out <file.png>]")
	}
	sku := rest[0]

	if out != "" {
		data, err := c.raw("/labels/" + url.PathEscape(sku) + "?format=png")
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("Saved %s (%d bytes)\n", out, len(data))
		return nil
	}

	result, err := c.do("GET", "/labels/"+url.PathEscape(sku), nil)
	if err != nil {
		return err
	}
	if art, ok := result["artifact"].(map[string]interface{}); ok {
		fmt.Printf("SKU:      %s\n", art["sku"])
		fmt.Printf("Path:     %s\n", art["path"])
		fmt.Printf("SHA-256:  %s\n", art["sha256"])
		fmt.Printf("Size:     %v x %v mm\n", art["width_mm"], art["height_mm"])
		fmt.Printf("Created:  %s\n", art["created_at"])
	}
	return nil
}

func cmdPrint(c *client, verb string, args []string) error {
	device, rest := parseDevice(args)
	if len(rest) != 1 {
		return fmt.Errorf("usage: %s <sku> [--device <name>]", verb)
	}

	var body []byte
	if device != "" {
		body, _ = json.Marshal(map[string]string{"device": device})
	}

	result, err := c.do("POST", "/labels/"+url.PathEscape(rest[0])+"/"+verb, body)
	if err != nil {
		return err
	}
	if jobID, ok := result["job_id"].(string); ok {
		fmt.Printf("Job ID: %s\n", jobID)
	}
	return nil
}

func cmdJobs(c *client) error {
	result, err := c.do("GET", "/jobs", nil)
	if err != nil {
		return err
	}
	jobs, _ := result["jobs"].([]interface{})
	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}
	for _, j := range jobs {
		if job, ok := j.(map[string]interface{}); ok {
			line := fmt.Sprintf("%s  %-15s  sku=%s device=%s", job["id"], job["status"], job["artifact_sku"], job["device"])
			if errMsg, ok := job["error"].(string); ok && errMsg != "" {
				line += "  error=" + errMsg
			}
			fmt.Println(line)
		}
	}
	return nil
}

func cmdJob(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: job <id>")
	}
	result, err := c.do("GET", "/jobs/"+url.PathEscape(args[0]), nil)
	if err != nil {
		return err
	}
	fmt.Printf("ID:       %s\n", result["id"])
	fmt.Printf("SKU:      %s\n", result["artifact_sku"])
	fmt.Printf("Device:   %s\n", result["device"])
	fmt.Printf("Status:   %s\n", result["status"])
	fmt.Printf("Retries:  %v\n", result["retries"])
	if errMsg, ok := result["error"].(string); ok && errMsg != "" {
		fmt.Printf("Error:    %s\n", errMsg)
	}
	return nil
}

func cmdCancel(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cancel <id>")
	}
	if _, err := c.do("DELETE", "/jobs/"+url.PathEscape(args[0]), nil); err != nil {
		return err
	}
	fmt.Println("Cancelled")
	return nil
}

func cmdDevices(c *client) error {
	result, err := c.do("GET", "/devices", nil)
	if err != nil {
		return err
	}
	devices, _ := result["devices"].([]interface{})
	if len(devices) == 0 {
		fmt.Println("No devices configured")
		return nil
	}
	for _, d := range devices {
		if dev, ok := d.(map[string]interface{}); ok {
			switch dev["type"] {
			case "network":
				fmt.Printf("%s  network  %s:%v\n", dev["name"], dev["host"], dev["port"])
			case "serial":
				fmt.Printf("%s  serial   %s\n", dev["name"], dev["path"])
			case "usb":
				fmt.Printf("%s  usb      %v:%v\n", dev["name"], dev["vid"], dev["pid"])
			}
		}
	}
	return nil
}

func cmdHealth(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: health <device>")
	}
	result, err := c.do("GET", "/devices/"+url.PathEscape(args[0])+"/health", nil)
	if err != nil {
		return err
	}
	if healthy, _ := result["healthy"].(bool); healthy {
		fmt.Printf("%s: healthy\n", args[0])
		return nil
	}
	if msg, ok := result["error"].(string); ok {
		return fmt.Errorf("%s: unreachable (%s)", args[0], msg)
	}
	return fmt.Errorf("%s: unreachable", args[0])
}
