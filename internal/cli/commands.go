package cli

import (
	"fmt"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSweepCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Repair bookings left pending after approval and re-verify stale payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, deps, err := open(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer deps.Close()

			sweepCfg := cfg.Sweep
			if skip, _ := cmd.Flags().GetBool("repair-only"); skip {
				sweepCfg.StaleAfter = 0
			}
			report, err := deps.Sweeper(sweepCfg).Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().Bool("repair-only", false, "Skip re-verification of stale pending payments")
	return cmd
}

// newDecisionCommand builds approve and reject, which differ only in the
// engine call.
func newDecisionCommand(v *viper.Viper, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <payment-id>",
		Short: fmt.Sprintf("Manually %s a payment", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, deps, err := open(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer deps.Close()

			decide := deps.Engine.Approve
			if action == "reject" {
				decide = deps.Engine.Reject
			}
			res, err := decide(cmd.Context(), args[0], v.GetString("actor"))
			if err != nil {
				return fmt.Errorf("%s %s: %w", action, args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

type paymentView struct {
	ID                   string `json:"id"`
	TransactionRef       string `json:"tx_ref"`
	Status               string `json:"status"`
	Amount               string `json:"amount"`
	Currency             string `json:"currency"`
	GatewayTransactionID string `json:"gateway_transaction_id,omitempty"`
	FailureReason        string `json:"failure_reason,omitempty"`
	CreatedAt            string `json:"created_at"`
	BookingID            string `json:"booking_id"`
	BookingStatus        string `json:"booking_status"`
	Paid                 bool   `json:"paid"`
}

func newPaymentCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "payment <tx-ref>",
		Short: "Show a payment and its booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, deps, err := open(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer deps.Close()

			p, err := deps.Store.GetPaymentByTxRef(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("payment %s: %w", args[0], err)
			}
			b, err := deps.Store.GetBooking(cmd.Context(), p.BookingID)
			if err != nil {
				return fmt.Errorf("booking %s: %w", p.BookingID, err)
			}
			return printJSON(cmd.OutOrStdout(), paymentView{
				ID:                   p.ID,
				TransactionRef:       p.TransactionRef,
				Status:               string(p.Status),
				Amount:               domain.FormatAmount(p.Amount),
				Currency:             p.Currency,
				GatewayTransactionID: p.GatewayTransactionID,
				FailureReason:        string(p.FailureReason),
				CreatedAt:            p.CreatedAt.Format(time.RFC3339),
				BookingID:            b.ID,
				BookingStatus:        string(b.Status),
				Paid:                 b.Paid,
			})
		},
	}
}
