// ABOUTME: Interactive config file creation
// ABOUTME: Prompts for the realtime endpoint, storage, and session defaults

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/2389/live-companion/internal/config"
	"github.com/2389/live-companion/internal/conversation"
)

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("live-companion configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.Path())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Realtime Service ---")
	url := prompt(reader, "Websocket URL", config.DefaultRealtimeURL)
	model := prompt(reader, "Model", conversation.DefaultModel)
	voice := prompt(reader, "Voice", config.DefaultVoice)
	fmt.Printf("API key is read from ${%s} unless you paste one now.\n", config.APIKeyEnv)
	apiKey := prompt(reader, "API key", "")

	fmt.Println("\n--- Storage ---")
	dataDir := prompt(reader, "Data directory", config.DefaultDataDir())

	fmt.Println("\n--- Session ---")
	images := prompt(reader, "Send camera keyframes?", "yes")
	imagesEnabled := strings.ToLower(images) == "yes" || strings.ToLower(images) == "y"
	language := prompt(reader, "Language", config.DefaultLanguage)
	category := prompt(reader, "Category (liveAI/liveTranslate/liveChat)", string(conversation.CategoryLiveAI))

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# live-companion configuration\n")
	cfg.WriteString("# Generated by live-companion init\n\n")

	cfg.WriteString("realtime:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", url))
	if apiKey != "" {
		cfg.WriteString(fmt.Sprintf("  api_key: %q\n", apiKey))
	} else {
		cfg.WriteString(fmt.Sprintf("  api_key: \"${%s}\"\n", config.APIKeyEnv))
	}
	cfg.WriteString(fmt.Sprintf("  model: %q\n", model))
	cfg.WriteString(fmt.Sprintf("  voice: %q\n", voice))
	cfg.WriteString("\n")

	cfg.WriteString("storage:\n")
	cfg.WriteString(fmt.Sprintf("  data_dir: %q\n", dataDir))
	cfg.WriteString("\n")

	cfg.WriteString("session:\n")
	cfg.WriteString(fmt.Sprintf("  enable_image_input: %t\n", imagesEnabled))
	cfg.WriteString(fmt.Sprintf("  language: %q\n", language))
	cfg.WriteString(fmt.Sprintf("  category: %q\n", category))
	cfg.WriteString("  reconnect_delay: \"400ms\"\n")
	cfg.WriteString("  image_unlock_delay: \"1s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := renameio.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start a session:")
	fmt.Println("  live-companion live --audio mic.pcm --frames /tmp/camera.jpg")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
