package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/austindbirch/activitylogger/internal/activity"
	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/deadletter"
	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/queue"
)

var (
	sendData     string
	sendFields   []string
	sendSync     bool
	sendEndpoint string
)

var sendCmd = &cobra.Command{
	Use:   "send <event>",
	Short: "Assemble an activity event and deliver or enqueue it",
	Long: `Assemble an event the same way the application does and hand it to the
configured queue connection. With --sync the event is delivered in this
process and the outcome is printed.

Examples:
  activityctl send auth.login --field user.id=42
  activityctl send model_created --data '{"meta":{"model":"Order","id":7}}' --sync`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sendEndpoint != "" {
		cfg.Delivery.Endpoint = sendEndpoint
	}
	fields, err := parseFields(sendData, sendFields)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	logger := cliLogger()

	var result *delivery.Result
	exec := delivery.NewExecutor(deadletter.NewLogReporter(logger), delivery.WithLogger(logger))
	q, cleanup, err := buildQueue(ctx, cfg, sendSync, func(ctx context.Context, job delivery.Job) {
		res := exec.Execute(ctx, job)
		result = &res
	}, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	al := activity.NewLogger(cfg.App, activity.StaticProvider(cfg.Delivery), delivery.NewDispatcher(q, logger))
	event, ok := al.Assemble(ctx, args[0], fields)
	if !ok {
		return errors.New("activity logging is disabled")
	}

	job := delivery.NewJob(event, al.Config())
	opts := delivery.OptionsFor(al.Config())
	if sendSync {
		opts.Connection = config.ConnectionSync
	}
	if err := q.Enqueue(ctx, job, opts); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.ID, err)
	}

	out := cmd.OutOrStdout()
	if result == nil {
		if outputJSON {
			return printJSON(out, map[string]any{"job_id": job.ID, "queue": queue.LaneName(opts.Queue), "event": event})
		}
		fmt.Fprintf(out, "enqueued %s on %s/%s\n", job.ID, opts.Connection, queue.LaneName(opts.Queue))
		return nil
	}

	if outputJSON {
		if err := printJSON(out, map[string]any{
			"job_id":   job.ID,
			"outcome":  result.Outcome.String(),
			"attempts": result.Attempts,
			"status":   result.Status,
			"event":    event,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%s %s after %d attempt(s), status %d\n", job.ID, result.Outcome, result.Attempts, result.Status)
	}
	if result.Outcome == delivery.FailedPermanently {
		return result.Err
	}
	if errors.Is(result.Err, delivery.ErrConfigurationMissing) {
		return result.Err
	}
	return nil
}

// buildQueue registers the sync queue plus the configured broker. Memory
// queues run in-process only, so a one-shot CLI refuses them without --sync.
func buildQueue(ctx context.Context, cfg config.Config, sync bool, h queue.Handler, logger *logging.Logger) (*queue.Manager, func(), error) {
	m := queue.NewManager(cfg.Delivery.Queue.Connection)
	m.Register(config.ConnectionSync, queue.NewSync(h))
	if sync {
		return m, func() {}, nil
	}

	switch cfg.Delivery.Queue.Connection {
	case config.ConnectionSync:
		return m, func() {}, nil
	case config.ConnectionNSQ:
		prod, err := queue.NewNSQProducer(cfg.NSQ.NsqdTCPAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		m.Register(config.ConnectionNSQ, queue.NewNSQ(prod))
		return m, prod.Stop, nil
	case config.ConnectionRedis:
		rdb, err := queue.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		m.Register(config.ConnectionRedis, queue.NewRedis(rdb, cfg.Redis.Prefix))
		return m, func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("connection %q runs in-process only, use --sync", cfg.Delivery.Queue.Connection)
	}
}

// parseFields merges a JSON object with dotted key=value pairs.
func parseFields(data string, pairs []string) (map[string]any, error) {
	fields := map[string]any{}
	if strings.TrimSpace(data) != "" {
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, fmt.Errorf("parse --data: %w", err)
		}
	}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --field %q, want key=value", p)
		}
		setPath(fields, strings.Split(key, "."), value)
	}
	return fields, nil
}

func setPath(m map[string]any, path []string, value any) {
	for _, k := range path[:len(path)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendData, "data", "", "event fields as a JSON object")
	sendCmd.Flags().StringArrayVar(&sendFields, "field", nil, "event field as dotted.key=value (repeatable)")
	sendCmd.Flags().BoolVar(&sendSync, "sync", false, "deliver in this process instead of enqueueing")
	sendCmd.Flags().StringVar(&sendEndpoint, "endpoint", "", "override the configured endpoint")
}
