package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/hivetown/swarmd/internal/config"
	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/port/broadcast"
	"github.com/hivetown/swarmd/internal/service"
)

// Admin exit codes. Documented in the help text and README so wrapping
// scripts can branch on the failure class.
const (
	exitOK         = 0
	exitOther      = 1
	exitValidation = 2
	exitNotFound   = 3
	exitConflict   = 4
)

// runAdmin dispatches admin subcommands against the configured store and
// returns the process exit code.
func runAdmin(args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return exitOK
	}

	var err error
	switch args[0] {
	case "status":
		err = runAdminStatus(args[1:])
	case "reset":
		err = runAdminReset(args[1:])
	case "collect":
		err = runAdminCollect(args[1:])
	case "increment":
		err = runAdminIncrement(args[1:])
	case "hash-key":
		err = runAdminHashKey(args[1:])
	default:
		printAdminHelp()
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		return exitOther
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps the error class onto the documented exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return exitValidation
	case errors.Is(err, domain.ErrNotFound):
		return exitNotFound
	case errors.Is(err, domain.ErrConflict):
		return exitConflict
	default:
		return exitOther
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: swarmd admin <command> [options]

Commands:
  status      Print the swarm snapshot: wave, task counts, workers, locks
  collect     Run one collection pass over the result inbox
  increment   Advance the wave counter
  reset       Clear all coordination state (destructive)
  hash-key    Hash an API key for the auth.key_hash config field
  help        Show this help message

Exit codes:
  0  success
  2  validation failed
  3  record not found
  4  conflict (duplicate, lock contention, invalid transition, wave busy)
  1  any other failure
`)
}

// adminDeps opens the configured store and builds the service layer without
// any transports attached.
type adminDeps struct {
	status  *service.StatusService
	waves   *service.WaveService
	cleanup func()
}

func loadAdminDeps(ctx context.Context) (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	relay := service.NewRelay(broadcast.Nop{}, nil, nil)
	taskSvc := service.NewTaskService(store, relay, cfg.Swarm, nil)
	workerSvc := service.NewWorkerService(store, relay, cfg.Swarm, nil)
	lockSvc := service.NewLockService(store, relay, cfg.Swarm, nil)
	collectorSvc := service.NewCollectorService(store, taskSvc, workerSvc, lockSvc, relay, nil)
	waveSvc := service.NewWaveService(store, taskSvc, workerSvc, collectorSvc, relay, cfg.Swarm, nil)

	return &adminDeps{
		status:  service.NewStatusService(store),
		waves:   waveSvc,
		cleanup: closeStore,
	}, nil
}

func runAdminStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	snap, err := deps.status.Snapshot(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Wave:\t%d (%s)\n", snap.Wave.Number, snap.Wave.Status)
	fmt.Fprintf(w, "Backlog:\t%d\n", snap.Backlog)
	fmt.Fprintf(w, "In flight:\t%d\n", snap.Inflight)
	for status, n := range snap.Tasks {
		fmt.Fprintf(w, "  %s:\t%d\n", status, n)
	}
	fmt.Fprintf(w, "Workers:\t%d\n", len(snap.Workers))
	for _, wk := range snap.Workers {
		fmt.Fprintf(w, "  %s\t%s/%s\t%ds left\n", wk.Name, wk.Lane, wk.TaskID, wk.Remaining)
	}
	fmt.Fprintf(w, "Locks:\t%d\n", len(snap.Locks))
	for _, l := range snap.Locks {
		fmt.Fprintf(w, "  %s\theld by %s\n", l.Path, l.Holder)
	}
	return w.Flush()
}

func runAdminReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		fmt.Fprint(os.Stderr, "This clears ALL coordination state. Type 'yes' to continue: ")
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil || answer != "yes" {
			return fmt.Errorf("aborted")
		}
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	if err := deps.status.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Swarm state cleared")
	return nil
}

func runAdminCollect(args []string) error {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	summary, err := deps.waves.Collect(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("collected %d results: done=%d partial=%d blocked=%d failed=%d malformed=%d\n",
		summary.Total(), summary.Done, summary.Partial, summary.Blocked, summary.Failed, summary.Malformed)
	return nil
}

func runAdminIncrement(args []string) error {
	fs := flag.NewFlagSet("increment", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	w, err := deps.waves.Increment(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("wave %d\n", w.Number)
	return nil
}

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	key := fs.String("key", "", "API key to hash (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	apiKey := *key
	if apiKey == "" {
		var err error
		apiKey, err = promptSecret("API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		confirm, err := promptSecret("Confirm: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if apiKey != confirm {
			return fmt.Errorf("keys do not match")
		}
	}
	if apiKey == "" {
		return fmt.Errorf("%w: key must not be empty", domain.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

// promptSecret reads a line from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
