package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/epalmerini/burrow/internal/config"
	"github.com/epalmerini/burrow/internal/rabbitmq"
	"github.com/epalmerini/burrow/internal/registry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const managementTimeout = 30 * time.Second

func newImportCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import [config]",
		Short: "Add the broker's exchanges to the config file",
		Long: `Lists the exchanges of the configured vhost through the management API and
appends every one not already in the config. Built-in amq.* and internal
exchanges are skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), firstArg(args), dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be added without saving")
	return cmd
}

func newCleanupCommand() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "cleanup [config]",
		Short: "List or delete queues left behind by earlier sessions",
		Long: `Finds queues named <client_name>.* that have no consumers. These are left
on the broker when a session ends without deleting its queues. Use --purge
to delete them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), firstArg(args), purge)
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Delete the stale queues")
	return cmd
}

func managementClient(cfg *config.FileConfig) (*rabbitmq.ManagementClient, string, error) {
	conn := cfg.Connection()
	if conn.Host == "" {
		return nil, "", fmt.Errorf("no broker host configured")
	}
	mc, err := rabbitmq.NewManagementClient(conn.URL(), cfg.ManagementURL)
	if err != nil {
		return nil, "", err
	}
	vhost := conn.VHost
	if vhost == "" {
		vhost = "/"
	}
	return mc, vhost, nil
}

func runImport(ctx context.Context, configPath string, dryRun bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	mc, vhost, err := managementClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, managementTimeout)
	defer cancel()

	found, err := mc.GetExchanges(ctx, vhost)
	if err != nil {
		return err
	}

	added := mergeExchanges(cfg, found)
	if len(added) == 0 {
		fmt.Println("No new exchanges.")
		return nil
	}
	for _, name := range added {
		fmt.Printf("  + %s\n", name)
	}
	if dryRun {
		fmt.Printf("%d exchanges would be added.\n", len(added))
		return nil
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	logrus.Infof("Config File Saved: %s", cfg.Path())
	return nil
}

// mergeExchanges appends broker exchanges missing from cfg and returns their
// names. Topic exchanges get the catch-all routing key.
func mergeExchanges(cfg *config.FileConfig, found []rabbitmq.BrokerExchange) []string {
	var added []string
	for _, ex := range found {
		if cfg.HasExchange(ex.Name) {
			continue
		}
		kind := registry.ParseKind(ex.Type)
		entry := config.Exchange{Name: ex.Name, Type: string(kind)}
		if kind == registry.Topic {
			entry.RoutingKey = "#"
		}
		cfg.Exchanges = append(cfg.Exchanges, entry)
		added = append(added, ex.Name)
	}
	return added
}

func runCleanup(ctx context.Context, configPath string, purge bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	mc, vhost, err := managementClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, managementTimeout)
	defer cancel()

	queues, err := mc.GetQueues(ctx, vhost)
	if err != nil {
		return err
	}
	stale := rabbitmq.StaleQueues(queues, cfg.QueuePrefix())
	if len(stale) == 0 {
		fmt.Println("No stale queues.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tMESSAGES\tDURABLE")
	for _, q := range stale {
		fmt.Fprintf(w, "%s\t%d\t%v\n", q.Name, q.Messages, q.Durable)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !purge {
		fmt.Printf("\n%d stale queues. Run with --purge to delete them.\n", len(stale))
		return nil
	}

	var failed int
	for _, q := range stale {
		if err := mc.DeleteQueue(ctx, vhost, q.Name); err != nil {
			logrus.WithError(err).WithField("queue", q.Name).Error("Error deleting queue")
			failed++
			continue
		}
		logrus.Infof("Queue Deleted: %s", q.Name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d queues could not be deleted", failed, len(stale))
	}
	return nil
}
