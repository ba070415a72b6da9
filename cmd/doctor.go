package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trvdang/memex/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("memex doctor")
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	fmt.Printf("  Config:   %s", configPath)
	if _, err := os.Stat(configPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Printf("  Index:    %s", cfg.IndexPath())
	if _, err := os.Stat(cfg.IndexPath()); err != nil {
		fmt.Println(" (not created yet)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("  Embedding:")
	switch cfg.Embedding.Provider {
	case "", "none":
		fmt.Println("    disabled (keyword search only)")
	case "openai":
		fmt.Printf("    provider:  openai (%s)\n", cfg.Embedding.Model)
		checkKeyEnv(cfg.Embedding.APIKeyEnv)
	case "ollama":
		fmt.Printf("    provider:  ollama (%s)\n", cfg.Embedding.Model)
	default:
		fmt.Printf("    provider:  %s (UNKNOWN)\n", cfg.Embedding.Provider)
	}

	fmt.Println()
	fmt.Println("  Sources:")
	checkRoot("notes", cfg.Sources.Notes.Enabled, cfg.Sources.Notes.Path)
	checkRoot("sessions", cfg.Sources.Sessions.Enabled, cfg.Sources.Sessions.Path)
	checkRoot("assistant", cfg.Sources.Assistant.Enabled, cfg.Sources.Assistant.Path)
	for _, root := range cfg.Sources.Workspace.Paths {
		checkRoot("workspace", cfg.Sources.Workspace.Enabled, root)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkKeyEnv(env string) {
	key := os.Getenv(env)
	switch {
	case env == "":
		fmt.Println("    api key:   no env var configured")
	case key == "":
		fmt.Printf("    api key:   %s not set (semantic search disabled)\n", env)
	case len(key) > 8:
		fmt.Printf("    api key:   %s****%s\n", key[:4], key[len(key)-4:])
	default:
		fmt.Printf("    api key:   %s\n", strings.Repeat("*", len(key)))
	}
}

func checkRoot(name string, enabled bool, root string) {
	if !enabled {
		fmt.Printf("    %-10s disabled\n", name+":")
		return
	}
	if _, err := os.Stat(root); err != nil {
		fmt.Printf("    %-10s %s (NOT FOUND)\n", name+":", root)
		return
	}
	fmt.Printf("    %-10s %s\n", name+":", root)
}
