// Package cli wires the harness commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/frankenterm-e2e/internal/bridge"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/output"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/recorder"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/runenv"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/scenario"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/session"
	"github.com/Dicklesworthstone/frankenterm-e2e/internal/types"
)

const serverReadyTimeout = 10 * time.Second

// sessionRunner allows tests to stub the transport phase.
var sessionRunner = session.Run

// Execute runs the CLI.
func Execute() error {
	root := silenceUsageAndErrors(&cobra.Command{
		Use:   "frankenterm-e2e",
		Short: "Scripted remote session harness for the frankenterm WebSocket bridge.",
	})
	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	executed, err := root.ExecuteC()
	if err != nil {
		maybePrintUsage(executed, root, err)
	}
	return err
}

func newRunCmd() *cobra.Command {
	var (
		url            string
		goldenPath     string
		jsonlPath      string
		transcriptPath string
		printSummary   bool
		serverCmd      string
	)
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Replay a scenario against the bridge and verify the capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			printer := output.NewPrinter(os.Stderr)

			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			env := runenv.FromOS()

			if serverCmd != "" {
				proc, err := bridge.Start(ctx, serverCmd)
				if err != nil {
					return err
				}
				defer proc.Stop()
				readyCtx, cancel := context.WithTimeout(ctx, serverReadyTimeout)
				err = proc.WaitReady(readyCtx, url)
				cancel()
				if err != nil {
					return err
				}
			}

			result, err := runSession(ctx, sc, env, url, goldenPath, jsonlPath, transcriptPath)
			if err != nil {
				return err
			}

			if printSummary || jsonlPath == "" {
				formatted, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("format summary: %w", err)
				}
				fmt.Println(string(formatted))
			}
			if !result.Passed() {
				return fmt.Errorf("scenario %s failed: %d error(s)", sc.Name, len(result.Errors))
			}
			printer.Appf("scenario %s passed (%d frames)", sc.Name, result.Frames)
			printer.Detailf("checksum %s", result.ChecksumChain)
			return nil
		},
	})
	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:9231", "bridge URL")
	cmd.Flags().StringVar(&goldenPath, "golden", "", "golden baseline JSON file")
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "JSONL event log output file")
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "raw output transcript file")
	cmd.Flags().BoolVar(&printSummary, "summary", false, "print summary JSON to stdout")
	cmd.Flags().StringVar(&serverCmd, "server-cmd", "", "launch this bridge command before connecting")
	return cmd
}

func runSession(ctx context.Context, sc *scenario.Scenario, env runenv.Env, url, goldenPath, jsonlPath, transcriptPath string) (result *types.Result, err error) {
	rec, err := recorder.New(recorder.Config{
		RunID:        env.RunID(),
		ScenarioName: sc.Name,
		JSONLPath:    jsonlPath,
		InitialCols:  sc.InitialCols,
		InitialRows:  sc.InitialRows,
		Env:          env,
	})
	if err != nil {
		return nil, err
	}
	// Closed exactly once, whatever the outcome.
	defer func() {
		if cerr := rec.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	logDir := os.Getenv("E2E_LOG_DIR")
	if jsonlPath != "" {
		if abs, absErr := filepath.Abs(jsonlPath); absErr == nil {
			logDir = filepath.Dir(abs)
		}
	}
	res := sessionRunner(ctx, session.Options{
		URL:        url,
		GoldenPath: goldenPath,
		Command:    fmt.Sprintf("frankenterm-e2e run %s --url %s", sc.Name, url),
		LogDir:     logDir,
		Env:        env,
	}, sc, rec)

	if transcriptPath != "" {
		if werr := os.WriteFile(transcriptPath, rec.FullOutput(), 0o644); werr != nil {
			return nil, fmt.Errorf("write transcript: %w", werr)
		}
	}
	return res, nil
}

func newValidateCmd() *cobra.Command {
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "validate-scenario <scenario-file>",
		Short: "Validate a scenario definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			if err := scenario.Validate(sc); err != nil {
				return err
			}
			formatted, err := json.MarshalIndent(sc, "", "  ")
			if err != nil {
				return fmt.Errorf("format scenario: %w", err)
			}
			fmt.Println(string(formatted))
			fmt.Println("valid")
			return nil
		},
	})
	return cmd
}

func silenceUsageAndErrors(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func maybePrintUsage(cmd, root *cobra.Command, err error) {
	if err == nil {
		return
	}
	target := cmd
	if target == nil {
		target = root
	}
	if target == nil {
		return
	}
	if shouldShowUsage(err) {
		_ = target.Usage()
	}
}

func shouldShowUsage(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.HasPrefix(msg, "unknown command"):
		return true
	case strings.HasPrefix(msg, "unknown flag"), strings.HasPrefix(msg, "unknown shorthand flag"):
		return true
	case strings.Contains(msg, "accepts") && strings.Contains(msg, "arg"):
		return true
	case strings.Contains(msg, "required flag"):
		return true
	}
	return false
}
