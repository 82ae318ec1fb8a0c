package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clusterdeck/clusterdeck/internal/cluster"
	"github.com/clusterdeck/clusterdeck/internal/config"
	"github.com/clusterdeck/clusterdeck/internal/logging"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

var (
	probeConfigPath   string
	probeTenantID     string
	probeConnectionID string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe a stored cluster connection",
	Long:  `Run the staged reachability probe against one stored connection and print the result.`,
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeConfigPath, "config", "", "Path to the YAML config file")
	probeCmd.Flags().StringVar(&probeTenantID, "tenant", "", "Tenant id owning the connection")
	probeCmd.Flags().StringVar(&probeConnectionID, "connection", "", "Connection id to probe")
	_ = probeCmd.MarkFlagRequired("tenant")
	_ = probeCmd.MarkFlagRequired("connection")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(probeConfigPath)
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		if err := validateLogLevel(logLevelFlag); err != nil {
			return err
		}
		cfg.LogLevel = logLevelFlag
	}
	logging.Initialize(cfg.LogLevel)

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = store.Close() }()

	conn, err := store.GetConnection(probeTenantID, probeConnectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("connection %s not found for tenant %s", probeConnectionID, probeTenantID)
	}

	svc := cluster.NewService(cluster.Options{
		Store:        store,
		ProbeTimeout: time.Duration(cfg.ProbeTimeoutSeconds) * time.Second,
		CallTimeout:  time.Duration(cfg.LiveCallTimeoutSeconds) * time.Second,
	})
	result := svc.Probe(context.Background(), conn)

	if result.OK {
		fmt.Printf("ok: %s running Kubernetes %s\n", result.ClusterName, result.KubernetesVersion)
		return nil
	}
	fmt.Printf("failed: %s\n", result.Error)
	if result.Details != nil {
		fmt.Printf("  stage: %s\n", result.Details.Stage)
		if result.Details.StatusCode != 0 {
			fmt.Printf("  status: %d\n", result.Details.StatusCode)
		}
		if result.Details.Code != "" {
			fmt.Printf("  code: %s\n", result.Details.Code)
		}
	}
	return fmt.Errorf("probe failed")
}
