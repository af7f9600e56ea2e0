// Package main is the entry point for the visual-metrics application
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/visual-metrics/cmd"
	"github.com/joho/godotenv"
)

const (
	envFlag      = "--env"
	envFlagEqual = "--env="
)

func main() {
	envFile, err := parseEnvFlag(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading env file: %v\n", err)
		os.Exit(1)
	}

	// Re-create the logger now that LOG_LEVEL may have been loaded
	cmd.InitLogger()
	cmd.Execute()
}

// parseEnvFlag extracts the value of --env from the arguments. Arguments
// after -- belong to the metrics tool and are not inspected.
func parseEnvFlag(args []string) (string, error) {
	for i, arg := range args {
		switch {
		case arg == "--":
			return "", nil
		case arg == envFlag:
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s flag requires a value", envFlag) //nolint:err113 // usage error
			}
			return args[i+1], nil
		case strings.HasPrefix(arg, envFlagEqual):
			return arg[len(envFlagEqual):], nil
		}
	}

	return "", nil
}

// loadEnvFile loads the specified environment file
func loadEnvFile(file string) error {
	if file == "" {
		file = ".env"
	}

	if err := godotenv.Load(file); err != nil {
		// If it's the default .env file and it doesn't exist, that's okay
		if file == ".env" && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load env file '%s': %w", file, err)
	}

	return nil
}
