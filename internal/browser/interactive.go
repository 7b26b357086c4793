package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"cravehy/internal/logging"
)

// RunInteractive launches a visible browser on a persistent profile and
// blocks until the user closes it or the context is cancelled. Used to
// solve the retailer's bot challenge by hand; the resulting cookies live
// in the profile directory and are picked up by later headless runs.
func RunInteractive(ctx context.Context, cfg Config, url string) error {
	launch := launcher.New().Headless(false)
	if cfg.Bin != "" {
		launch = launch.Bin(cfg.Bin)
	}
	if cfg.UserDataDir != "" {
		launch = launch.UserDataDir(cfg.UserDataDir)
	}
	// Leave the browser running after we disconnect so the user can keep
	// interacting with it
	launch = launch.Leakless(false)

	controlURL, err := launch.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	_ = page.Navigate(url)

	logging.Browser("Interactive session open at %s (profile: %s)", url, cfg.UserDataDir)

	// Block until the browser goes away or the caller cancels
	<-ctx.Done()
	_ = b.Close()
	return nil
}
