package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/fentz26/taskrelay/internal/bus"
	"github.com/fentz26/taskrelay/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:   "taskrelay",
	Short: "taskrelay - task intake and project classification over MQTT",
	Long: `taskrelay receives task requests on an MQTT broker, classifies each one into a project
through a separate classification worker, and stores the enriched task.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of taskrelay",
	Run:   runVersion,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.taskrelay/config.yaml)")

	rootCmd.AddCommand(intakeCmd)
	rootCmd.AddCommand(classifierCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("taskrelay version %s\n", Version)
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.LoadConfigFromHome()
}

// dialBroker connects to the configured broker as clientID, retrying with
// the subscribe backoff.
func dialBroker(ctx context.Context, cfg *config.Config, clientID string) (*bus.MQTTBus, error) {
	mc := bus.MQTTConfig{
		Host:               cfg.Broker.Host,
		Port:               cfg.Broker.Port,
		ClientID:           clientID,
		Username:           cfg.Broker.Username,
		Password:           cfg.Broker.Password,
		KeepAlive:          cfg.Broker.KeepAlive.D(),
		ConnectTimeout:     cfg.Broker.ConnectTimeout.D(),
		CleanSession:       cfg.Broker.CleanSession,
		QoS:                cfg.Broker.QoS,
		ResubscribeBackoff: cfg.Subscribe.Backoff.D(),
	}

	var err error
	for i := 1; i <= cfg.Subscribe.Attempts; i++ {
		var b *bus.MQTTBus
		if b, err = bus.DialMQTT(ctx, mc); err == nil {
			return b, nil
		}
		log.Printf("[bus] connect attempt %d/%d failed: %v", i, cfg.Subscribe.Attempts, err)
		if i == cfg.Subscribe.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.Subscribe.Backoff.D()):
		}
	}
	return nil, err
}

// cliClientID gives each short-lived CLI connection its own identity.
func cliClientID(cmd string) string {
	return fmt.Sprintf("taskrelay_%s_%s", cmd, uuid.New().String()[:8])
}
