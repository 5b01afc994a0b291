package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"

	"github.com/tomismeta/continuity-plugin/internal/config"
	"github.com/tomismeta/continuity-plugin/internal/stream"
)

// Run executes the tail command: it prints every action already in the
// current day's stream file, then follows it for new ones as a plain
// line-oriented follower.
func (c *TailCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	dir := config.ExpandHome(cfg.StoragePath)

	currentDay := ""
	printed := 0

	// printFrom prints day's entries beyond the first `from` and returns
	// the new count of printed entries for that file.
	printFrom := func(day string, from int) (int, error) {
		path := filepath.Join(dir, stream.StreamFileName(day))
		actions, err := stream.ReadActions(path)
		if err != nil {
			if os.IsNotExist(err) {
				return from, nil
			}
			return from, err
		}
		if from > len(actions) {
			// A re-read can momentarily return fewer parsed actions than
			// last time if the final line was mid-write and failed to
			// parse; don't let that panic the slice below.
			from = len(actions)
		}
		for _, a := range actions[from:] {
			fmt.Printf("%s %-28s %s\n",
				labelStyle.Render(a.Timestamp),
				valueStyle.Render(string(a.Type)),
				wordwrap.String(a.Description, c.Width))
		}
		return len(actions), nil
	}

	printNew := func() error {
		// Recompute today's path on every call rather than once at
		// startup, so the follower picks up the new day's file across a
		// UTC rotation instead of reading a frozen, no-longer-appended-to
		// path forever.
		day := stream.FormatTimestamp(time.Now().UTC())[:10]
		if day != currentDay {
			if currentDay != "" {
				// Flush whatever landed at the tail of the outgoing day's
				// file before switching, so entries appended just before
				// midnight are not silently skipped.
				if _, err := printFrom(currentDay, printed); err != nil {
					return err
				}
			}
			currentDay = day
			printed = 0
		}

		n, err := printFrom(currentDay, printed)
		if err != nil {
			return err
		}
		printed = n
		return nil
	}

	if err := printNew(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch storage dir: %w", err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce: wait for the writer's append to settle before
			// re-reading.
			time.Sleep(100 * time.Millisecond)
			if err := printNew(); err != nil {
				return err
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, errorStyle.Render(werr.Error()))
		}
	}
}
