package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reliefops/aidchain/app"
	"github.com/reliefops/aidchain/config"
	"github.com/reliefops/aidchain/core/model"
	"github.com/reliefops/aidchain/infra/logger"
)

var (
	allocDisaster string
	allocType     string
	allocQuantity int
	allocWallet   string
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Submit a single allocation against the ledger",
	RunE:  allocate,
}

func init() {
	allocateCmd.Flags().StringVar(&allocDisaster, "disaster", "", "disaster identifier")
	allocateCmd.Flags().StringVar(&allocType, "type", "medical", "resource type")
	allocateCmd.Flags().IntVar(&allocQuantity, "quantity", 1, "units to allocate")
	allocateCmd.Flags().StringVar(&allocWallet, "wallet", "", "signing wallet address")
	_ = allocateCmd.MarkFlagRequired("disaster")
	_ = allocateCmd.MarkFlagRequired("wallet")
	rootCmd.AddCommand(allocateCmd)
}

func allocate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	logg := logger.New("allocate-command")
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()

	res, err := svc.Allocator.Allocate(ctx, allocDisaster, model.ResourceType(allocType), allocQuantity, allocWallet)
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	logg.Infof("allocation confirmed, tx %s in block %d", res.TxHash, res.BlockNumber)
	return nil
}
