package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/georgepadayatti/gobdoc/container"
	"github.com/georgepadayatti/gobdoc/validation"
)

type validateOptions struct {
	*globalOptions
	json bool
}

// SignatureResult is the per-signature output of the validate command.
type SignatureResult struct {
	File               string              `json:"file"`
	ID                 string              `json:"id"`
	Profile            string              `json:"profile"`
	TrustedSigningTime *time.Time          `json:"trusted_signing_time,omitempty"`
	Indication         string              `json:"indication"`
	SubIndication      string              `json:"sub_indication,omitempty"`
	Reports            *validation.Reports `json:"reports,omitempty"`
}

func newValidateCommand(global *globalOptions) *cobra.Command {
	opts := &validateOptions{globalOptions: global}
	cmd := &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate every signature of an unpacked container",
		Long: "Validate every signature of an unpacked container directory. Signatures are read\n" +
			"from META-INF/signatures*.xml and every other file is a data file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := opts.run(cmd, args[0])
			if err != nil {
				return err
			}
			if opts.json {
				err = writeJSON(cmd.OutOrStdout(), results)
			} else {
				writeText(cmd.OutOrStdout(), results)
			}
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Indication != validation.IndicationPassed {
					osExit(1)
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "print results and full reports as JSON")
	return cmd
}

func (o *validateOptions) run(cmd *cobra.Command, dir string) ([]*SignatureResult, error) {
	cfg, err := o.loadConfiguration(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := container.DirStore{Dir: dir}.Load(eng)
	if err != nil {
		return nil, err
	}
	sigs := c.Signatures()
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no signatures found in %s", dir)
	}
	reports, err := c.Validate(ctx, eng, cfg)
	if err != nil {
		return nil, err
	}

	files := c.SignatureFiles()
	results := make([]*SignatureResult, len(sigs))
	for i, sig := range sigs {
		results[i] = &SignatureResult{
			File:               files[i],
			ID:                 sig.ID,
			Profile:            sig.Profile().String(),
			TrustedSigningTime: sig.TrustedSigningTime(),
			Indication:         reports[i].Indication,
			SubIndication:      reports[i].SubIndication,
		}
		if o.json {
			results[i].Reports = reports[i]
		}
	}
	return results, nil
}

func writeJSON(w io.Writer, results []*SignatureResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}

func writeText(w io.Writer, results []*SignatureResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%s (%s)\n", r.ID, r.File)
		fmt.Fprintf(w, "  Profile: %s\n", r.Profile)
		if r.TrustedSigningTime != nil {
			fmt.Fprintf(w, "  Trusted signing time: %s\n", r.TrustedSigningTime.Format(time.RFC3339))
		}
		indication := colorIndication(r.Indication)
		if r.SubIndication != "" {
			indication += " / " + r.SubIndication
		}
		fmt.Fprintf(w, "  Indication: %s\n", indication)
	}
}

func colorIndication(indication string) string {
	switch indication {
	case validation.IndicationPassed:
		return color.GreenString(indication)
	case validation.IndicationFailed:
		return color.RedString(indication)
	default:
		return color.YellowString(indication)
	}
}
