package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"example.com/asana-importer/internal/config"
	"example.com/asana-importer/internal/log"
	"example.com/asana-importer/internal/migrator"
	"example.com/asana-importer/internal/migrator/dest/clubhouse"
	"example.com/asana-importer/internal/migrator/identity"
	"example.com/asana-importer/internal/migrator/source/asana"
	"example.com/asana-importer/internal/queue"
	"example.com/asana-importer/internal/store"
	"example.com/asana-importer/internal/worker"
)

// memoryQueueBuffer is the in-process dispatch backlog; the producer blocks
// once workers fall this far behind.
const memoryQueueBuffer = 256

// batchError marks a failure of the migration run itself, as opposed to a
// usage or configuration error.
type batchError struct{ err error }

func (e batchError) Error() string { return e.err.Error() }
func (e batchError) Unwrap() error { return e.err }

func main() {
	// .env is optional; flags and the real environment win over it
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var batch batchError
		if errors.As(err, &batch) {
			os.Exit(255)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var configFile string

	cmd := &cobra.Command{
		Use:           "migrator",
		Short:         "Migrate Asana project tasks into Clubhouse stories",
		Long:          "Migrates every task of one Asana project into stories of one Clubhouse project.\nBy default the run is a preview; pass --commit to write to Clubhouse and mark\nmigrated tasks in Asana.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				fileCfg := config.Default()
				if err := fileCfg.LoadFile(configFile); err != nil {
					return err
				}
				// flags set explicitly win over the file
				mergeUnsetFlags(cmd, &cfg, fileCfg)
			}
			cfg.ApplyEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.AsanaAPIKey, "asana-api-key", "", "Asana personal access token (or ASANA_API_KEY)")
	f.Int64Var(&cfg.AsanaProjectID, "asana-project-id", 0, "id of the Asana project to migrate")
	f.Int64Var(&cfg.MovedTagID, "asana-moved-tag-id", 0, "id of the Asana tag marking migrated tasks")
	f.BoolVar(&cfg.SkipMovedTag, "asana-skip-moved-tag", false, "do not comment on or tag migrated Asana tasks")
	f.StringVar(&cfg.ClubhouseAPIKey, "clubhouse-api-key", "", "Clubhouse API token (or CLUBHOUSE_API_KEY)")
	f.Int64Var(&cfg.ClubhouseProjectID, "clubhouse-project-id", 0, "id of the Clubhouse project to create stories in")
	f.Int64Var(&cfg.CompleteWorkflowID, "clubhouse-complete-workflow-id", 0, "workflow state id applied to completed tasks")
	f.BoolVar(&cfg.Commit, "commit", false, "write to Clubhouse; without it the run only previews")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of concurrent task workers")
	f.BoolVar(&cfg.IgnoreEmailAccountDomain, "ignore-email-account-domain", false, "match users by email local part only")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")
	f.StringVar(&cfg.LedgerDSN, "ledger-dsn", "", "optional migration ledger, mysql://… or sqlite://… (or MIGRATOR_LEDGER_DSN)")
	f.StringVar(&cfg.QueueURL, "queue-url", "", "RabbitMQ broker for split runs, amqp://… (or MIGRATOR_QUEUE_URL)")
	f.StringVar(&cfg.QueueRole, "queue-role", "", "role in a split run: producer publishes task ids, worker consumes them (requires --queue-url)")
	f.StringVar(&configFile, "config", "", "YAML config file; explicit flags take precedence")

	return cmd
}

// mergeUnsetFlags copies file values into cfg for every flag the user did not
// pass on the command line.
func mergeUnsetFlags(cmd *cobra.Command, cfg *config.Config, file config.Config) {
	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if !set("asana-api-key") {
		cfg.AsanaAPIKey = file.AsanaAPIKey
	}
	if !set("asana-project-id") {
		cfg.AsanaProjectID = file.AsanaProjectID
	}
	if !set("asana-moved-tag-id") {
		cfg.MovedTagID = file.MovedTagID
	}
	if !set("asana-skip-moved-tag") {
		cfg.SkipMovedTag = file.SkipMovedTag
	}
	if !set("clubhouse-api-key") {
		cfg.ClubhouseAPIKey = file.ClubhouseAPIKey
	}
	if !set("clubhouse-project-id") {
		cfg.ClubhouseProjectID = file.ClubhouseProjectID
	}
	if !set("clubhouse-complete-workflow-id") {
		cfg.CompleteWorkflowID = file.CompleteWorkflowID
	}
	if !set("commit") {
		cfg.Commit = file.Commit
	}
	if !set("workers") && file.Workers > 0 {
		cfg.Workers = file.Workers
	}
	if !set("ignore-email-account-domain") {
		cfg.IgnoreEmailAccountDomain = file.IgnoreEmailAccountDomain
	}
	if !set("verbose") {
		cfg.Verbose = file.Verbose
	}
	if !set("ledger-dsn") {
		cfg.LedgerDSN = file.LedgerDSN
	}
	if !set("queue-url") {
		cfg.QueueURL = file.QueueURL
	}
	if !set("queue-role") {
		cfg.QueueRole = file.QueueRole
	}
}

func run(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log.Init(cfg.Verbose)

	switch cfg.QueueRole {
	case config.QueueRoleProducer:
		return runProducer(ctx, cfg)
	case config.QueueRoleWorker:
		return runWorker(ctx, cfg)
	default:
		return runLocal(ctx, cfg)
	}
}

// runProducer lists the project once and leaves the task ids on the broker
// queue for worker processes. It writes nothing to either tracker.
func runProducer(ctx context.Context, cfg config.Config) error {
	src, err := asana.NewClient(asana.Config{Token: cfg.AsanaAPIKey})
	if err != nil {
		return err
	}
	q, err := queue.NewRabbitClient(cfg.QueueURL, queue.QueueName(cfg.AsanaProjectID))
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	log.Info("publishing task ids", "project", cfg.AsanaProjectID, "queue", queue.QueueName(cfg.AsanaProjectID))
	if err := migrator.PublishTasks(ctx, src, cfg.AsanaProjectID, q); err != nil {
		return batchError{err}
	}
	log.Info("all task ids published")
	return nil
}

// runWorker consumes task ids published by a separate producer process and
// migrates them until interrupted or a task fails.
func runWorker(ctx context.Context, cfg config.Config) error {
	q, err := queue.NewRabbitClient(cfg.QueueURL, queue.QueueName(cfg.AsanaProjectID))
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	pool, _, ledger, err := buildPipeline(ctx, cfg, q)
	if err != nil {
		return err
	}
	defer ledger.Close()

	log.Info("worker pool consuming from broker, interrupt to stop", "queue", queue.QueueName(cfg.AsanaProjectID), "workers", cfg.Workers)
	if err := pool.Run(ctx); err != nil {
		return batchError{err}
	}
	return nil
}

// runLocal does both roles in one process over an in-memory queue: publish
// every task id, drain the pool, exit.
func runLocal(ctx context.Context, cfg config.Config) error {
	q := queue.NewMemoryClient(memoryQueueBuffer)
	defer q.Close()

	pool, o, ledger, err := buildPipeline(ctx, cfg, q)
	if err != nil {
		return err
	}
	defer ledger.Close()

	pubErr := make(chan error, 1)
	go func() { pubErr <- o.Publish(ctx, q) }()

	if err := pool.Run(ctx); err != nil {
		return batchError{err}
	}
	if err := <-pubErr; err != nil {
		return batchError{err}
	}
	log.Info("migration run finished")
	return nil
}

// buildPipeline assembles everything a migrating process needs: clients,
// identity map, ledger, orchestrator and worker pool.
func buildPipeline(ctx context.Context, cfg config.Config, q queue.Client) (*worker.Pool, *migrator.Orchestrator, store.Store, error) {
	if cfg.Commit {
		log.Info("running in commit mode, tasks will be moved")
	} else {
		log.Info("running in preview mode, nothing will be written")
	}

	src, err := asana.NewClient(asana.Config{Token: cfg.AsanaAPIKey})
	if err != nil {
		return nil, nil, nil, err
	}
	dst, err := clubhouse.NewClient(clubhouse.Config{Token: cfg.ClubhouseAPIKey})
	if err != nil {
		return nil, nil, nil, err
	}

	log.Info("fetching users and members for the identity join")
	users, err := src.UsersInWorkspace(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list asana users: %w", err)
	}
	members, err := dst.Members(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list clubhouse members: %w", err)
	}
	ids := identity.Build(users, members, cfg.IgnoreEmailAccountDomain)
	log.Info("identity map built", "users", len(users), "members", len(members))

	ledger, err := store.Open(cfg.LedgerDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open ledger: %w", err)
	}

	o := migrator.NewOrchestrator(migrator.Config{
		AsanaProjectID:     cfg.AsanaProjectID,
		MovedTagID:         cfg.MovedTagID,
		SkipMovedTag:       cfg.SkipMovedTag,
		ClubhouseProjectID: cfg.ClubhouseProjectID,
		CompleteWorkflowID: cfg.CompleteWorkflowID,
		Commit:             cfg.Commit,
	}, src, dst, ids)

	return worker.New(o, q, ledger, cfg.Workers), o, ledger, nil
}
