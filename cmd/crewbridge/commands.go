package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mtzanidakis/crewbridge/internal/bridge"
	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/store"
)

// parseArgs separates positional arguments from "--name value" pairs.
func parseArgs(args []string) (positional []string, flags map[string]string) {
	flags = make(map[string]string)
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") && len(args[i]) > 2 && i+1 < len(args) {
			flags[args[i][2:]] = args[i+1]
			i++
			continue
		}
		positional = append(positional, args[i])
	}
	return positional, flags
}

// dialGateway connects to the event bus of a running gateway, if any.
func dialGateway(cfg *config.Config) *natsbus.Client {
	client, err := natsbus.NewClientFromURL(fmt.Sprintf("nats://127.0.0.1:%d", cfg.NATS.Port))
	if err != nil {
		slog.Debug("gateway event bus not reachable", "port", cfg.NATS.Port, "error", err)
		return nil
	}
	return client
}

// withApp loads configuration, opens the store and builds the bridge for a
// one-shot command. Events reach a running gateway when one is up.
func withApp(fn func(ctx context.Context, a *app, db *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	events := dialGateway(cfg)
	if events != nil {
		defer func() {
			_ = events.Flush()
			events.Close()
		}()
	}

	a, err := newApp(cfg, db, events)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a, db)
}

func runAgents(out io.Writer) error {
	return withApp(func(ctx context.Context, a *app, db *store.Store) error {
		stats, err := db.GetAgentStats()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tNAME\tMODEL\tENDPOINT\tRUNS\tFAILURES")
		for _, ag := range a.registry.Agents() {
			st := stats[ag.Name]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", ag.Key, ag.Name, ag.Model, ag.Endpoint, st.Runs, st.Failures)
		}
		return w.Flush()
	})
}

func runWorkflows(out io.Writer) error {
	return withApp(func(ctx context.Context, a *app, db *store.Store) error {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tNAME\tSTEPS")
		for _, wf := range a.registry.Workflows() {
			keys := make([]string, 0, len(wf.Steps))
			for _, s := range wf.Steps {
				keys = append(keys, s.AgentKey)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", wf.Key, wf.Name, strings.Join(keys, " -> "))
		}
		return w.Flush()
	})
}

func runAgent(out io.Writer, args []string) error {
	pos, flags := parseArgs(args)
	if len(pos) < 2 {
		return fmt.Errorf("usage: crewbridge run-agent <name> <input> [--language <lang>] [--temperature <t>] [--max-iterations <n>]")
	}

	opts := bridge.AgentOptions{Language: flags["language"]}
	if v, ok := flags["temperature"]; ok {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q: %w", v, err)
		}
		opts.Temperature = &t
	}
	if v, ok := flags["max-iterations"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid max iterations %q: %w", v, err)
		}
		opts.MaxIterations = &n
	}

	return withApp(func(ctx context.Context, a *app, db *store.Store) error {
		result, err := a.bridge.ExecuteAgent(ctx, pos[0], strings.Join(pos[1:], " "), opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, result)
		return nil
	})
}

func runWorkflow(out io.Writer, args []string) error {
	pos, _ := parseArgs(args)
	if len(pos) < 2 {
		return fmt.Errorf("usage: crewbridge run-workflow <name> <input>")
	}

	return withApp(func(ctx context.Context, a *app, db *store.Store) error {
		result, err := a.bridge.ExecuteWorkflow(ctx, pos[0], strings.Join(pos[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, result)
		return nil
	})
}

func runStatus(out io.Writer) error {
	return withApp(func(ctx context.Context, a *app, db *store.Store) error {
		snap := a.bridge.GetStatus(ctx)

		names := make([]string, 0, len(snap.Agents))
		for name := range snap.Agents {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tSTATUS")
		for _, name := range names {
			fmt.Fprintf(w, "%s\t%s\n", name, snap.Agents[name])
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d/%d online\n", snap.Online(), len(snap.Agents))
		return nil
	})
}

func runHistory(out io.Writer, args []string) error {
	_, flags := parseArgs(args)

	filter := store.RunFilter{Kind: flags["kind"], Target: flags["target"], Limit: 20}
	if v, ok := flags["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = n
	}

	var pruneAge time.Duration
	if v, ok := flags["prune"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid prune age %q: %w", v, err)
		}
		pruneAge = d
	}

	return withApp(func(ctx context.Context, a *app, db *store.Store) error {
		if pruneAge > 0 {
			n, err := db.PruneRuns(time.Now().Add(-pruneAge))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pruned %d runs older than %s\n", n, pruneAge)
			return nil
		}

		runs, err := db.ListRuns(filter)
		if err != nil {
			return err
		}
		printRuns(out, runs)
		return nil
	})
}

func printRuns(out io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tTARGET\tSTATUS\tTRIGGER\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Kind, r.Target, r.Status, r.Trigger, r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration)
	}
	_ = w.Flush()
}

func runEvents(out io.Writer, args []string) error {
	_, flags := parseArgs(args)
	topic := flags["topic"]
	if topic == "" {
		topic = natsbus.TopicEventsAll
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := natsbus.NewClientFromURL(fmt.Sprintf("nats://127.0.0.1:%d", cfg.NATS.Port))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	enc := json.NewEncoder(out)
	sub, err := client.SubscribeEvents(topic, func(ev natsbus.Event) {
		_ = enc.Encode(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer sub.Unsubscribe()

	fmt.Fprintf(os.Stderr, "Listening on %s, Ctrl-C to stop\n", topic)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
