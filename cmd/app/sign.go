package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"premium-subscription-gateway/internal/infra/payment"
)

func signCmd() *cobra.Command {
	var (
		passphrase   string
		notification bool
		claimed      string
	)
	cmd := &cobra.Command{
		Use:   "sign key=value [key=value...]",
		Short: "Print the canonical string and signature for a field set",
		Long: `Compute what the processor computes, for debugging signature mismatches.

The passphrase defaults to PAYFAST_PASSPHRASE. With --verify the given
signature is checked instead of only printed.

Examples:
  gateway sign merchant_id=10000100 amount=99.00 "item_name=Monthly Plan"
  gateway sign --notification m_payment_id=u1-01J... payment_status=COMPLETE --verify 5f1c...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var f payment.Fields
			for _, arg := range args {
				k, v, ok := strings.Cut(arg, "=")
				if !ok || k == "" {
					return fmt.Errorf("argument %q is not key=value", arg)
				}
				f.Set(payment.Field(k), v)
			}
			if !cmd.Flags().Changed("passphrase") {
				passphrase = os.Getenv("PAYFAST_PASSPHRASE")
			}
			order := payment.RequestOrder
			if notification {
				order = payment.NotificationOrder
			}

			out := cmd.OutOrStdout()
			for _, name := range f.Ordered(order) {
				if !name.Known() {
					fmt.Fprintf(out, "warning: %q is not a processor field\n", name)
				}
			}
			fmt.Fprintf(out, "canonical: %s\n", payment.Encode(f, order))
			fmt.Fprintf(out, "signature: %s\n", payment.Sign(f, order, passphrase))
			if claimed != "" {
				if !payment.Verify(f, order, claimed, passphrase) {
					return fmt.Errorf("signature %s does not match", claimed)
				}
				fmt.Fprintln(out, "verify: ok")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "merchant passphrase")
	cmd.Flags().BoolVar(&notification, "notification", false, "use notification field order")
	cmd.Flags().StringVar(&claimed, "verify", "", "signature to verify")
	return cmd
}
