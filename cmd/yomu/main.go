package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yomu-app/yomu/internal/events"
	"github.com/yomu-app/yomu/internal/settings"
	"github.com/yomu-app/yomu/internal/viewer"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "view":
		runView(os.Args[2:])
	case "pages":
		runPages(os.Args[2:])
	case "settings":
		runSettings(os.Args[2:])
	case "version":
		fmt.Printf("yomu %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`yomu - sequential image viewer core

Usage:
  yomu view <dir> [--settings <path>] [--start <page>] [--steps <n>] [--interval-ms <ms>]
  yomu pages <dir>
  yomu settings init [--settings <path>]
  yomu version`)
}

func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "yomu.yaml"
	}
	return filepath.Join(home, ".config", "yomu", "settings.yaml")
}

// runView opens a book and walks through it, printing the scheduler status
// after each turn. It exists to exercise the preload core from a terminal;
// the real UI drives the same Session API.
func runView(args []string) {
	settingsPath := defaultSettingsPath()
	start, steps, intervalMs := 0, 10, 300

	var dir string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--settings":
			i++
			settingsPath = argAt(args, i, "--settings")
		case "--start":
			i++
			start = intArgAt(args, i, "--start")
		case "--steps":
			i++
			steps = intArgAt(args, i, "--steps")
		case "--interval-ms":
			i++
			intervalMs = intArgAt(args, i, "--interval-ms")
		default:
			if dir != "" {
				fatalf("unexpected argument: %s", args[i])
			}
			dir = args[i]
		}
	}
	if dir == "" {
		fatalf("usage: yomu view <dir>")
	}

	session, err := viewer.NewSession(settingsPath, os.Stderr)
	if err != nil {
		fatalf("create session: %v", err)
	}
	defer session.Close()

	unsubscribe := session.Subscribe(events.EventPageReady, func(e events.Event) {
		fmt.Printf("ready page=%v\n", e.Data["page"])
	})
	defer unsubscribe()

	if err := session.Open(dir); err != nil {
		fatalf("open book: %v", err)
	}
	total := session.TotalPages()
	fmt.Printf("opened %s (%d pages)\n", dir, total)

	page := start
	for i := 0; i < steps && page < total; i++ {
		session.SetCurrentPage(page)
		time.Sleep(time.Duration(intervalMs) * time.Millisecond)
		printJSON(session.Status())
		page++
	}

	// Let delayed tiers and the drain finish before reporting totals.
	time.Sleep(time.Second)
	printJSON(session.Metrics())
}

func runPages(args []string) {
	if len(args) < 1 {
		fatalf("usage: yomu pages <dir>")
	}
	session, err := viewer.NewSession(defaultSettingsPath(), os.Stderr)
	if err != nil {
		fatalf("create session: %v", err)
	}
	defer session.Close()

	if err := session.Open(args[0]); err != nil {
		fatalf("open book: %v", err)
	}
	fmt.Printf("%d pages\n", session.TotalPages())
}

func runSettings(args []string) {
	if len(args) < 1 || args[0] != "init" {
		fatalf("usage: yomu settings init [--settings <path>]")
	}
	path := defaultSettingsPath()
	for i := 1; i < len(args); i++ {
		if args[i] == "--settings" {
			i++
			path = argAt(args, i, "--settings")
		}
	}
	if err := settings.Save(path, settings.Default()); err != nil {
		fatalf("write settings: %v", err)
	}
	fmt.Printf("wrote %s\n", path)
}

func argAt(args []string, i int, flag string) string {
	if i >= len(args) {
		fatalf("%s requires a value", flag)
	}
	return args[i]
}

func intArgAt(args []string, i int, flag string) int {
	v, err := strconv.Atoi(argAt(args, i, flag))
	if err != nil {
		fatalf("%s requires an integer: %v", flag, err)
	}
	return v
}

func printJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	fmt.Println(string(data))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
