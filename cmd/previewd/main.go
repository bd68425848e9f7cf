package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	flag "github.com/spf13/pflag"

	"github.com/livepreview/previewd/internal/config"
	"github.com/livepreview/previewd/internal/preview"
	"github.com/livepreview/previewd/internal/session"
)

const appName = "previewd"

// Version information - injected at build time via ldflags
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	host := flag.String("host", "", "Override bind host")
	engine := flag.String("engine", "", "Server engine: deno or builtin")
	autoPort := flag.Bool("auto-port", false, "Probe upward when the port is busy")
	openBrowser := flag.Bool("open", false, "Open the preview in a browser")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, version)
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [OPTIONS] <file>\n", appName)
		flag.PrintDefaults()
		os.Exit(2)
	}
	target := flag.Arg(0)

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *engine != "" {
		cfg.Server.Engine = *engine
	}
	if *autoPort {
		cfg.Server.AutoPort = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	events := session.Events{
		OnOutputLine: func(line string) {
			log.Printf("[server] %s", line)
		},
		OnConnectionStatus: func(status session.ConnectionStatus) {
			log.Printf("Browser connection: %s", status)
		},
		OnPreviewURL: func(url string) {
			printBanner(url, target)
			if *openBrowser {
				openURL(url)
			}
		},
	}

	orch := preview.NewOrchestrator(cfg, events)
	if err := orch.Start(target); err != nil {
		log.Fatalf("Failed to start preview: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")
	orch.Stop()
}

func printBanner(url, target string) {
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")).Bold(true)
	urlStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#E5E7EB")).Underline(true)
	pathStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#E5E7EB"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	fmt.Println()
	fmt.Printf("  %s %s\n", headerStyle.Render(appName), dimStyle.Render("v"+version))
	fmt.Println()
	fmt.Printf("  %s  %s\n", labelStyle.Render("➜  Local:"), urlStyle.Render(url))
	fmt.Printf("  %s  %s\n", labelStyle.Render("➜  File: "), pathStyle.Render(target))
	fmt.Println()
}

func openURL(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		log.Printf("Cannot open browser on %s, please visit: %s", runtime.GOOS, url)
		return
	}

	if err := cmd.Start(); err != nil {
		log.Printf("Failed to open browser: %v", err)
	}
}
