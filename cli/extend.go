package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/georgepadayatti/gobdoc/container"
	"github.com/georgepadayatti/gobdoc/xades"
)

type extendOptions struct {
	*globalOptions
	profile   string
	signature string
}

func newExtendCommand(global *globalOptions) *cobra.Command {
	opts := &extendOptions{globalOptions: global}
	cmd := &cobra.Command{
		Use:   "extend --profile LT|LTA <dir>",
		Short: "Extend the signatures of an unpacked container to a stronger profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "", "target profile (LT or LTA)")
	cmd.Flags().StringVar(&opts.signature, "signature", "", "extend only the signature with this id")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func (o *extendOptions) run(cmd *cobra.Command, dir string) error {
	target, err := xades.ParseProfile(o.profile)
	if err != nil {
		return err
	}
	cfg, err := o.loadConfiguration(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	store := container.DirStore{Dir: dir}
	c, err := store.Load(eng)
	if err != nil {
		return err
	}

	if o.signature != "" {
		err = c.ExtendSignature(ctx, eng, o.signature, target)
	} else {
		err = c.ExtendSignatureProfile(ctx, eng, target)
	}
	if err != nil {
		return err
	}
	if err := store.Save(c); err != nil {
		return err
	}
	for _, sig := range c.Signatures() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", sig.ID, color.GreenString(sig.Profile().String()))
	}
	return nil
}
