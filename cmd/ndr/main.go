package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ndr-go/internal/app"
	"ndr-go/internal/config"
	"ndr-go/internal/ndr"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const timeFormat = "2006-01-02 15:04:05"

// passphraseEnv lets unattended runs supply the private key passphrase.
const passphraseEnv = "NDR_PASSPHRASE"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates an NDRApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Backup", "Restore").
func newApp(ctx context.Context, operation string) (*app.NDRApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewNDRApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prefers NDR_PASSPHRASE and otherwise prompts on the terminal.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required: set %s or run from a terminal", passphraseEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// unlock prompts for the passphrase when the archive is encrypted.
func unlock(a *app.NDRApp) error {
	if !a.Encrypted() {
		return nil
	}
	passphrase, err := readPassphrase("Archive passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(passphrase)
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

var rootCmd = &cobra.Command{
	Use:   "ndr",
	Short: "Network device configuration archive and disaster recovery",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		archiveID := uuid.New().String()
		cfg := config.NewConfig(archiveID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Archive ID: %s\n", archiveID)
		fmt.Printf("Base Dir:   %s\n", defaults["base_dir"])
		fmt.Printf("Inventory:  %s\n", cfg.InventoryPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Archive ID: %s\n", cfg.ArchiveID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Inventory:  %s\n", cfg.InventoryPath)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:      %s (%s)\n", v.Name, v.Type)
		}
		fmt.Printf("Encryption: %v\n", cfg.Encryption.Enabled)
		fmt.Printf("Notify:     %v\n", cfg.Notify.Enabled)
		fmt.Printf("Policy:     dwell=%s volatility=%s window=%d workers=%d\n",
			cfg.Policy.Dwell, cfg.Policy.Volatility, cfg.Policy.Window, cfg.Policy.Workers)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv(passphraseEnv) == "" {
			confirm, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if confirm != passphrase {
				return fmt.Errorf("passphrases do not match")
			}
		}

		pub, err := app.SetupKeys(cfg, passphrase)
		if err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Printf("Public key: %s\n", pub)
		if !cfg.Encryption.Enabled {
			fmt.Printf("Set encryption.enabled = true in %s to encrypt new snapshots.\n", path)
		}
		return nil
	},
}

// devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Show the archive state of every inventory device",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Devices")
		if err != nil {
			return err
		}
		defer a.Close()

		overviews, err := a.Devices()
		if err != nil {
			return err
		}
		if len(overviews) == 0 {
			fmt.Printf("No devices in %s.\n", a.InventoryPath())
			return nil
		}

		fmt.Printf("%-20s  %-16s  %-10s  %9s  %-19s  %s\n", "HOSTNAME", "ADDRESS", "KIND", "SNAPSHOTS", "LAST CHANGE", "CURRENT")
		for _, o := range overviews {
			last := "-"
			if !o.LatestAt.IsZero() {
				last = o.LatestAt.Local().Format(timeFormat)
			}
			current := shortID(o.PointerID)
			if o.Diverged {
				current += " (restored)"
			}
			fmt.Printf("%-20s  %-16s  %-10s  %9d  %-19s  %s\n",
				o.Device.Hostname, o.Device.Address, o.Device.Kind, o.Snapshots, last, current)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup [HOST]",
	Short: "Capture and archive running configurations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return fmt.Errorf("specify either a HOST or --all")
		}

		if all {
			return backupAll(cmd.Context())
		}

		a, err := newApp(cmd.Context(), "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Backup(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		printBackup(result)
		if result.Status == ndr.BackupFailed {
			return fmt.Errorf("backup of %s failed", args[0])
		}
		return nil
	},
}

// backupAll is the unattended cron pass over the inventory.
func backupAll(ctx context.Context) error {
	a, err := newApp(ctx, "BackupAll")
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("=== Backup started at %s ===\n", time.Now().Format(timeFormat))
	results, err := a.BackupAll(ctx)

	var changed, skipped, failed int
	for _, r := range results {
		printBackup(r)
		switch r.Status {
		case ndr.BackupChanged:
			changed++
		case ndr.BackupUnchanged:
			skipped++
		default:
			failed++
		}
	}
	fmt.Printf("=== Backup finished at %s: %d changed, %d unchanged, %d failed ===\n",
		time.Now().Format(timeFormat), changed, skipped, failed)

	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	return nil
}

func printBackup(r *ndr.BackupResult) {
	switch r.Status {
	case ndr.BackupChanged:
		fmt.Printf("[CHANGE] %s: archived as %s (sequence %d)\n", r.Device.Hostname, r.Snapshot.ShortID(), r.Snapshot.Sequence)
	case ndr.BackupUnchanged:
		fmt.Printf("[SKIP] %s: %s\n", r.Device.Hostname, r.Message)
	default:
		fmt.Printf("[ERROR] %s: %s\n", r.Device.Hostname, r.Message)
	}
}

// log command
var logCmd = &cobra.Command{
	Use:   "log HOST",
	Short: "View a device's snapshot history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "Log")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Log(args[0], limit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No snapshots archived.")
			return nil
		}

		for _, e := range entries {
			current := ""
			if e.Current {
				current = "  [current]"
			}
			fmt.Printf("%4d  %s  %s  %s%s\n",
				e.Sequence,
				e.ShortID(),
				e.CapturedAt.Local().Format(timeFormat),
				e.Label,
				current,
			)
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore HOST SNAPSHOT",
	Short: "Restore a device to an archived snapshot (ID or sequence)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}

		result, err := a.Restore(cmd.Context(), args[0], args[1])
		if result != nil {
			fmt.Println(result.Message)
		}
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		if !result.Success {
			return fmt.Errorf("restore of %s failed", args[0])
		}
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Flag devices that changed recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		reports, err := a.Scan()
		if err != nil {
			return err
		}

		for _, r := range reports {
			switch r.Status {
			case ndr.StatusUnknown:
				fmt.Printf("%-8s %s: no history\n", r.Status, r.Device.Hostname)
			default:
				fmt.Printf("%-8s %s: last change %s ago (%s)\n",
					r.Status, r.Device.Hostname, r.SinceChange.Truncate(time.Second), shortID(r.LatestID))
			}
		}
		fmt.Printf("%d suspect device(s)\n", len(ndr.Suspects(reports)))
		return nil
	},
}

// remediate command
var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Restore every suspect device to its last stable snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp(cmd.Context(), "Remediate")
		if err != nil {
			return err
		}
		defer a.Close()

		if !dryRun {
			if err := unlock(a); err != nil {
				return err
			}
		}

		report, err := a.Remediate(cmd.Context(), dryRun)
		if report != nil {
			for _, o := range report.Outcomes {
				fmt.Printf("%s: %s\n", o.Report.Device.Hostname, o.Message)
			}
			fmt.Printf("%d scanned, %d suspect: %d restored, %d failed, %d skipped\n",
				report.Scanned, report.Suspects, report.Succeeded, report.Failed, report.Skipped)
		}
		if err != nil {
			return fmt.Errorf("remediation failed: %w", err)
		}
		return nil
	},
}

// audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the newest snapshots across the fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "Audit")
		if err != nil {
			return err
		}
		defer a.Close()

		snapshots, err := a.AuditLog(limit)
		if err != nil {
			return err
		}

		if len(snapshots) == 0 {
			fmt.Println("No snapshots archived.")
			return nil
		}

		for _, s := range snapshots {
			fmt.Printf("%s  %-20s  %s  %s\n",
				s.CapturedAt.Local().Format(timeFormat), s.Hostname, s.ShortID(), s.Label)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.Operations(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-8s  %-24s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format(timeFormat),
				op.Status,
				op.Parameters,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().Bool("all", false, "Back up every device in the inventory")
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().IntP("limit", "n", 20, "Maximum number of snapshots to show")
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(remediateCmd)
	remediateCmd.Flags().Bool("dry-run", false, "Only report the snapshots that would be restored")
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().IntP("limit", "n", 15, "Maximum number of snapshots to show")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
