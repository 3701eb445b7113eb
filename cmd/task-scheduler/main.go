package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/spf13/cobra"

	"task-lifecycle-service/internal/health"
	"task-lifecycle-service/internal/task-manager/api"
	tmKafka "task-lifecycle-service/internal/task-manager/kafka"
	"task-lifecycle-service/internal/task-manager/services"
	gorm_db "task-lifecycle-service/pkg/db"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	serveCmd := newServeCommand(&configFile)
	cmd := &cobra.Command{
		Use:          "task-scheduler",
		Short:        "Bootcamp task lifecycle scheduler",
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	cmd.AddCommand(serveCmd, newTickCommand(&configFile), newDueCommand(&configFile))
	return cmd
}

func newServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configFile)
		},
	}
}

// newTickCommand runs one tick for an external cron. It fails only when the
// tick could not run.
func newTickCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.scheduler.RunTickNow(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func newDueCommand(configFile *string) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List tasks the next tick would act on",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = parsed
			}
			a, err := bootstrap(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.scheduler.ListDue(cmd.Context(), now)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate at this RFC3339 instant instead of now")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(configFile string) error {
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	a, err := bootstrap(appCtx, configFile)
	if err != nil {
		return err
	}
	log := a.log
	cfg := a.cfg
	log.Info("Task scheduler service starting...")

	var submissions *services.SubmissionService
	if cfg.Kafka.Enabled {
		submissions = services.NewSubmissionService(tmKafka.NewSubmissionReader(cfg.Kafka), a.tasks, log.Named("submissions"))
		submissions.StartConsuming(appCtx)
	}

	if cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(); err != nil {
			a.close()
			return err
		}
	} else {
		log.Warn("scheduler.enabled is false, ticks only run through /admin/scheduler/run")
	}

	healthServer, err := health.NewServer(cfg.Server.GRPCAddr, log.Named("grpc"))
	if err != nil {
		a.close()
		return err
	}
	go func() {
		if err := healthServer.Start(); err != nil {
			log.Errorf("gRPC health server stopped: %v", err)
		}
	}()
	healthServer.Watch(appCtx, 15*time.Second, func(ctx context.Context) error {
		return gorm_db.Ping(ctx, a.db)
	})

	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(hlog.LevelInfo)

	h := server.Default(server.WithHostPorts(cfg.Server.Addr), server.WithExitWaitTime(cfg.Server.ExitWait))
	api.RegisterRoutes(h,
		api.NewTaskHandler(a.tasks),
		api.NewSchedulerHandler(a.scheduler, nil),
		api.NewNotificationHandler(a.notifications),
	)

	// Spin blocks until SIGINT or SIGTERM and drains HTTP itself.
	log.Infof("Task scheduler fully initialized, HTTP on %s, gRPC health on %s", cfg.Server.Addr, healthServer.Addr())
	h.Spin()
	log.Info("Hertz server stopped. Shutting down background work...")

	appCancel()
	a.scheduler.Stop()
	healthServer.Stop(5 * time.Second)
	if submissions != nil {
		submissions.Close()
	}
	log.Info("Task scheduler has been shut down.")
	a.close()
	return nil
}
