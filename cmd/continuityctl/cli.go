// Package main implements continuityctl, the operator CLI for inspecting
// and validating a continuity store from outside the host process.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config string `help:"Config file path" default:"continuity.toml"`

	Status     StatusCmd     `cmd:"" help:"Show store health and storage stats"`
	Validate   ValidateCmd   `cmd:"" help:"Validate the hash chain and report integrity findings"`
	Checkpoint CheckpointCmd `cmd:"" help:"Inspect checkpoints and the compaction manifest"`
	Tail       TailCmd       `cmd:"" help:"Follow the current day's action stream live"`
	Version    VersionCmd    `cmd:"" help:"Show version information"`
}

// StatusCmd reports the store's health.
type StatusCmd struct{}

// ValidateCmd re-derives the hash chain and reports any breaks.
type ValidateCmd struct {
	Quiet bool `help:"Only print a pass/fail summary line"`
}

// CheckpointCmd groups checkpoint inspection subcommands.
type CheckpointCmd struct {
	List CheckpointListCmd `cmd:"" help:"List checkpoints, newest first"`
	Show CheckpointShowCmd `cmd:"" help:"Show the current compaction manifest"`
}

// CheckpointListCmd lists checkpoints on disk.
type CheckpointListCmd struct {
	Limit int `short:"n" default:"20" help:"Maximum checkpoints to show"`
}

// CheckpointShowCmd shows the current manifest.
type CheckpointShowCmd struct{}

// TailCmd live-follows the current day's stream file.
type TailCmd struct {
	Width int `short:"w" default:"100" help:"Wrap width for description text"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

var version = "dev"

func kongVars() kong.Vars {
	return kong.Vars{"version": version}
}
