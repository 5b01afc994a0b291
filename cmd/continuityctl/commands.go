package main

import (
	"fmt"
	"os"

	"github.com/muesli/reflow/wordwrap"

	"github.com/tomismeta/continuity-plugin/internal/checkpoint"
	"github.com/tomismeta/continuity-plugin/internal/config"
	"github.com/tomismeta/continuity-plugin/internal/integrity"
	"github.com/tomismeta/continuity-plugin/internal/stream"
)

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

// Run executes the status command.
func (c *StatusCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	w := stream.New(cfg)
	if err := w.Initialize(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer w.Close()

	stats, err := w.GetStats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Println(titleStyle.Render("continuity store status"))
	printField("storage path", cfg.StoragePath)
	printField("log level", string(cfg.LogLevel))
	printField("integrity check", fmt.Sprintf("%v", cfg.EnableIntegrityCheck))
	printField("emergency mode", fmt.Sprintf("%v", w.EmergencyMode()))
	printField("total actions", fmt.Sprintf("%d", stats.TotalActions))
	printField("stream files", fmt.Sprintf("%d", stats.StreamFiles))
	printField("storage size", fmt.Sprintf("%.2f MB", stats.StorageSizeMB))
	printField("last action", stats.LastActionTime)
	return nil
}

// Run executes the validate command.
func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	report, err := integrity.ValidateStream(config.ExpandHome(cfg.StoragePath))
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	if report.Valid {
		fmt.Println(successStyle.Render(fmt.Sprintf("chain valid: %d actions checked", report.TotalChecked)))
		return nil
	}

	fmt.Println(errorStyle.Render(fmt.Sprintf("chain INVALID: %d actions checked, %d findings", report.TotalChecked, len(report.Errors))))
	if c.Quiet {
		os.Exit(1)
	}
	for _, e := range report.Errors {
		fmt.Println(warnStyle.Render(wordwrap.String(e.String(), 100)))
	}
	os.Exit(1)
	return nil
}

// Run executes the checkpoint list command.
func (c *CheckpointListCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	mgr := checkpoint.NewManager(config.ExpandHome(cfg.StoragePath))

	checkpoints, err := mgr.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if c.Limit >= 0 && len(checkpoints) > c.Limit {
		checkpoints = checkpoints[:c.Limit]
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%d checkpoint(s)", len(checkpoints))))
	for _, cp := range checkpoints {
		fmt.Printf("%s  %s  %d messages\n",
			labelStyle.Render(cp.ID), valueStyle.Render(cp.Data.Timestamp.Format("2006-01-02T15:04:05Z")), cp.Data.MessageCount)
	}
	return nil
}

// Run executes the checkpoint show command.
func (c *CheckpointShowCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	mgr := checkpoint.NewManager(config.ExpandHome(cfg.StoragePath))

	manifest, err := mgr.GetManifest()
	if err != nil {
		return fmt.Errorf("get manifest: %w", err)
	}
	if manifest == nil {
		fmt.Println(warnStyle.Render("no manifest yet"))
		return nil
	}

	printField("checkpoint", manifest.Checkpoint.ID)
	printField("can recover", fmt.Sprintf("%v", manifest.RecoveryInfo.CanRecover))
	printField("compacted at", manifest.RecoveryInfo.CompactedAt.Format("2006-01-02T15:04:05Z"))
	printField("original range", fmt.Sprintf("%d-%d", manifest.RecoveryInfo.OriginalMessageRange.Start, manifest.RecoveryInfo.OriginalMessageRange.End))
	return nil
}

func printField(label, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}
