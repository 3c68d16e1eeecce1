package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"voter-ledger/api"
	"voter-ledger/encryption"
	"voter-ledger/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for the polling session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, os.Stdout, appOptions{session: true, signer: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			queue := service.NewQueueProcessor(a.service, cfg.QueueSize, cfg.Workers, 0)
			queue.Start()
			defer queue.Stop()

			a.service.StartMaintenance(ctx, cfg.SnapshotInterval(), cfg.AuditRetention())

			server := api.NewServer(a.service, queue, cfg.APIPort, a.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				return err
			}
			if path, err := a.service.Snapshot(shutdownCtx); err != nil {
				a.logger.Error().Err(err).Msg("failed to save final snapshot")
			} else if path != "" {
				a.logger.Info().Str("path", path).Msg("final snapshot saved")
			}
			return nil
		},
	}
}

func newRecordCmd() *cobra.Command {
	var req service.StepRequest
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one verification step",
		Example: "  voteledger record --voter-id ABC1234567 --booth 12 --step id_verification\n" +
			"  voteledger record --voter-key 5f0c... --voter-id ABC1234567 --booth 12 --step vote_cast",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			receipt, err := a.service.RecordStep(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), receipt, func(w io.Writer) {
				state := "recorded"
				if !receipt.Changed {
					state = "already recorded"
				}
				fmt.Fprintf(w, "%s %s for %s\n", receipt.Step, state, receipt.VoterKey)
				fmt.Fprintf(w, "  tx:   %s\n", receipt.TxID)
				fmt.Fprintf(w, "  hash: %s\n", receipt.RecordHash)
			})
		},
	}
	cmd.Flags().StringVar(&req.VoterKey, "voter-key", "", "Voter key (resolved from --voter-id when empty)")
	cmd.Flags().StringVar(&req.VoterID, "voter-id", "", "Voter card number")
	cmd.Flags().Int64Var(&req.BoothID, "booth", 0, "Polling booth ID")
	cmd.Flags().StringVar(&req.Step, "step", "", "id_verification|face_verification|iris_verification|vote_cast")
	_ = cmd.MarkFlagRequired("voter-id")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <voter-key>",
		Short: "Show a voter's record and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			record, err := a.service.GetVoteRecord(args[0])
			if err != nil {
				return err
			}
			status, err := a.service.GetVoterStatus(args[0])
			if err != nil {
				return err
			}
			res := map[string]any{"record": record, "status": status}
			return printResult(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "voter %s (%s) at booth %d\n", record.VoterID, record.VoterKey, record.BoothID)
				fmt.Fprintf(w, "  id:   %t\n  face: %t\n  iris: %t\n  vote: %t\n",
					record.IDVerified, record.FaceVerified, record.IrisVerified, record.VoteCast)
				if status.HasVoted {
					fmt.Fprintf(w, "  voted at %s\n", status.VotedAt.Format(time.RFC3339))
				}
			})
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <voter-key>",
		Short: "Check a record's fingerprint and version chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			intact, err := a.service.VerifyVoteIntegrity(args[0])
			if err != nil {
				return err
			}
			report, err := a.service.VerifyVoteChain(args[0])
			if err != nil {
				return err
			}
			res := map[string]any{"intact": intact, "chain": report}
			if err := printResult(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "fingerprint intact: %t\n", intact)
				fmt.Fprintf(w, "chain valid:        %t (%d versions)\n", report.Valid, report.Versions)
				if report.Violation != "" {
					fmt.Fprintf(w, "  %s\n", report.Violation)
				}
			}); err != nil {
				return err
			}
			if !intact || !report.Valid {
				return fmt.Errorf("record %s failed verification", args[0])
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		redact  bool
		sign    bool
		outFile string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit trail as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{signer: sign})
			if err != nil {
				return err
			}
			defer a.Close()

			var v any
			if sign {
				v, err = a.service.SignedAuditTrail(cmd.Context(), redact)
			} else {
				v, err = a.service.ExportAuditTrail(cmd.Context(), redact)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
	cmd.Flags().BoolVar(&redact, "redact", false, "Replace voter IDs with salted pseudonyms")
	cmd.Flags().BoolVar(&sign, "sign", false, "Sign the export with the operator key")
	cmd.Flags().StringVar(&outFile, "out", "", "Write to file instead of stdout")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create (or show) the operator key used to sign exports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			key, created, err := encryption.LoadOrGenerateKey(cfg.DataDir)
			if err != nil {
				return err
			}
			address := crypto.PubkeyToAddress(key.PublicKey).Hex()
			res := map[string]any{"address": address, "created": created}
			return printResult(cmd.OutOrStdout(), res, func(w io.Writer) {
				state := "existing"
				if created {
					state = "new"
				}
				fmt.Fprintf(w, "%s operator key %s\n", state, address)
			})
		},
	}
}
