package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"github.com/loykin/updatr/internal/controller"
	"github.com/loykin/updatr/pkg/client"
)

func (c *command) remote(f RemoteFlags) *client.Client {
	cfg := client.DefaultConfig()
	cfg.BaseURL = f.APIUrl
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	cfg.CACert = f.APICACert
	cfg.Insecure = f.APIInsecure
	return client.New(cfg)
}

func (c *command) remoteStatus(ctx context.Context, f StatusFlags) error {
	st, err := c.remote(f.RemoteFlags).Status(ctx, true)
	if err != nil {
		return err
	}
	if f.JSON {
		return c.printJSON(st)
	}
	c.ui.Status(st)
	return nil
}

func (c *command) remoteCommits(ctx context.Context, f StatusFlags) error {
	commits, err := c.remote(f.RemoteFlags).Commits(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		return c.printJSON(commits)
	}
	c.ui.Commits(commits)
	return nil
}

// remoteOperation starts name on the server and follows its output until the
// operation finishes. Interrupt signals are forwarded like in the local
// console.
func (c *command) remoteOperation(ctx context.Context, f RemoteFlags, name string) error {
	cl := c.remote(f)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan struct{})
	finished := make(chan client.Finished, 1)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- cl.Events(ctx, func(ev client.Event) bool {
			switch ev.Kind {
			case "status":
				select {
				case <-ready:
				default:
					close(ready)
				}
			case "output":
				var o client.Output
				if json.Unmarshal(ev.Data, &o) == nil {
					_, _ = fmt.Fprint(c.ui.Out, o.Raw)
				}
			case "finished":
				var fin client.Finished
				if json.Unmarshal(ev.Data, &fin) == nil && fin.Name == name {
					finished <- fin
					return false
				}
			}
			return true
		})
	}()

	select {
	case <-ready:
	case err := <-streamErr:
		return fmt.Errorf("follow events: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	start := cl.Update
	if name != controller.OpUpdate {
		start = cl.Install
	}
	if err := start(ctx); err != nil {
		var apiErr *client.APIError
		if name == controller.OpUpdate && errors.As(err, &apiErr) && apiErr.Status == http.StatusPreconditionFailed {
			c.ui.Success("already up to date")
			return nil
		}
		return err
	}

	done := func(fin client.Finished) error {
		if rep, err := cl.Report(ctx); err == nil && rep != nil {
			c.ui.Report(*rep)
		}
		if !fin.OK {
			return errors.New(fin.Summary)
		}
		return nil
	}
	sigs, stop := c.signals(os.Interrupt, syscall.SIGTERM)
	defer stop()
	for {
		select {
		case fin := <-finished:
			return done(fin)
		case err := <-streamErr:
			select {
			case fin := <-finished:
				return done(fin)
			default:
			}
			if err == nil {
				err = errors.New("event stream closed")
			}
			return err
		case <-sigs:
			if err := cl.Interrupt(ctx); err != nil {
				return err
			}
		}
	}
}
