package artifetch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/opnlabs/artifetch/pkg/orchestrator"
)

const debounceWindow = 300 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Runs once and again every time the descriptor changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config(cmd)
		if !cfg.UseDescriptor {
			return fmt.Errorf("watch needs a descriptor")
		}
		sink := runSink(os.Stdout)
		run := func() {
			res, err := orchestrator.Run(ctx, cfg, orchestrator.Env{Log: sink})
			if err != nil {
				log.Error("run rejected", "err", err)
				return
			}
			log.Info("run finished", "id", res.RunID, "success", res.Success)
		}
		return watch(ctx, cfg.DescriptorPath, run)
	},
}

// watch calls run once and then after every burst of changes to path until
// ctx is done. The parent directory is watched so editors that replace the
// file on save are noticed.
func watch(ctx context.Context, path string, run func()) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	run()

	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "err", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRelevantEvent(ev, target) {
				continue
			}
			pending = true
			debounce.Reset(debounceWindow)
		case <-debounce.C:
			if pending {
				log.Info("descriptor changed", "path", path)
				run()
				pending = false
			}
		}
	}
}

func isRelevantEvent(ev fsnotify.Event, target string) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(ev.Name)
	return err == nil && name == target
}
