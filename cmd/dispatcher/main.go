package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"endpoint-dispatcher/internal/server"
	"endpoint-dispatcher/internal/store"
	"endpoint-dispatcher/internal/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

var (
	logger     *zap.Logger
	logJSON    bool
	redisAddr  string
	badgerPath string

	serveOpts server.Options
	limit     int
)

var rootCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "dispatcher - static files and echo endpoints over HTTP",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if logJSON {
			logger, err = zap.NewProduction()
		} else {
			logger, err = zap.NewDevelopment()
		}
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the document root and the echo endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if redisAddr != "" {
			st, err := store.NewHybridStore(redisAddr, badgerPath)
			if err != nil {
				return fmt.Errorf("init journal: %w", err)
			}
			// Runs last: the worker and pending journal writes are done by now.
			defer st.Close()
			serveOpts.Journal = st

			workerCtx, stopWorker := context.WithCancel(context.Background())
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				worker.NewWorker(st, logger.Named("journal")).Start(workerCtx)
			}()
			defer func() {
				stopWorker()
				wg.Wait()
			}()
		}

		srv := server.NewServer(serveOpts, logger)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		select {
		case err := <-errCh:
			// Drain journal writes before the deferred store close.
			srv.Stop(shutdownCtx)
			return err
		case <-ctx.Done():
		}

		logger.Info("Shutting down...")
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("Goodbye!")
		return nil
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently journaled requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := clientStore()
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.List(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		printRecords(cmd.OutOrStdout(), records)
		return nil
	},
}

var hitsCmd = &cobra.Command{
	Use:   "hits [prefix...]",
	Short: "Show request counts per route prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"/", server.JSONEchoPrefix, server.TextEchoPrefix, server.LegacyEchoPrefix}
		}

		st, err := clientStore()
		if err != nil {
			return err
		}
		defer st.Close()

		counts := make(map[string]int64, len(args))
		for _, prefix := range args {
			n, err := st.Hits(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("hits for %s: %w", prefix, err)
			}
			counts[prefix] = n
		}
		printHits(cmd.OutOrStdout(), args, counts)
		return nil
	},
}

// clientStore opens the journal in client mode: Redis only, so a running
// server keeps its Badger lock.
func clientStore() (*store.HybridStore, error) {
	if redisAddr == "" {
		return nil, errors.New("--redis is required")
	}
	return store.NewHybridStore(redisAddr, "")
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log JSON lines instead of console output")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Address of the Redis server holding the access journal (empty disables it)")
	rootCmd.PersistentFlags().StringVar(&badgerPath, "badger", "./journal-data", "Path to the BadgerDB journal archive")

	serveCmd.Flags().StringVar(&serveOpts.Addr, "addr", server.DefaultAddr, "Address to listen on")
	serveCmd.Flags().StringVar(&serveOpts.Root, "root", server.DefaultRoot, "Document root for static files")
	serveCmd.Flags().IntVar(&serveOpts.MaxConns, "max-conns", server.DefaultMaxConns, "Maximum concurrent connections (negative for no limit)")
	serveCmd.Flags().DurationVar(&serveOpts.ReadTimeout, "read-timeout", 15*time.Second, "Maximum time to read a request")
	serveCmd.Flags().DurationVar(&serveOpts.WriteTimeout, "write-timeout", 0, "Maximum time to write a response (0 for none)")

	recentCmd.Flags().IntVar(&limit, "limit", 20, "Number of records to show")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(hitsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
