package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeremyhahn/pam-pcr/pkg/directive"
	"github.com/jeremyhahn/pam-pcr/pkg/measure"
	"github.com/jeremyhahn/pam-pcr/pkg/pam"
	"github.com/jeremyhahn/pam-pcr/pkg/secret"
	"github.com/jeremyhahn/pam-pcr/pkg/tpm2"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pcrctl",
		Short:         "Inspect and exercise the pam_pcr login measurement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDeriveCmd(), newExpectCmd(), newPlanCmd(), newLoginCmd())
	return root
}

type deriveFlags struct {
	user     string
	messages []string
}

func (f *deriveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "username being authenticated")
	cmd.Flags().StringArrayVarP(&f.messages, "msg", "m", nil, "hmac_msg value, repeat in configuration order")
	_ = cmd.MarkFlagRequired("user")
}

func (f *deriveFlags) derive(cmd *cobra.Command) (measure.Digest, error) {
	tok, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return measure.Digest{}, err
	}
	defer tok.Wipe()
	return measure.Derive(tok.Bytes(), f.user, f.messages)
}

func newDeriveCmd() *cobra.Command {
	var f deriveFlags
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the digest the module extends for a password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := f.derive(cmd)
			if err != nil {
				return err
			}
			defer d.Wipe()
			fmt.Fprintln(cmd.OutOrStdout(), d.Hex())
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newExpectCmd() *cobra.Command {
	var f deriveFlags
	cmd := &cobra.Command{
		Use:   "expect",
		Short: "Print the SHA-256 PCR value after a successful login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := f.derive(cmd)
			if err != nil {
				return err
			}
			defer d.Wipe()
			fmt.Fprintln(cmd.OutOrStdout(), measure.ExpectedPCR(d).Hex())
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newPlanCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "plan --user NAME -- DIRECTIVE...",
		Short: "Show how the module resolves its arguments for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := directive.Parse(args, user)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "username being authenticated")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printPlan(w io.Writer, p *directive.Policy) error {
	reg, ok := p.Register()
	if !ok {
		return directive.ErrNoBinding
	}
	cfg := tpm2.ConfigFromPolicy(p)
	placeholder := strings.Repeat("x", measure.HexSize)
	extendArg := reg.String() + ":sha256=" + placeholder

	fmt.Fprintf(w, "user:      %s\n", p.Username())
	fmt.Fprintf(w, "register:  %s\n", reg)
	fmt.Fprintf(w, "backend:   %s\n", cfg.Backend)
	fmt.Fprintf(w, "messages:  %q\n", p.Messages())
	if cfg.Timeout > 0 {
		fmt.Fprintf(w, "timeout:   %s\n", cfg.Timeout)
	} else {
		fmt.Fprintln(w, "timeout:   none")
	}
	if ignored := p.Ignored(); len(ignored) > 0 {
		fmt.Fprintf(w, "ignored:   %q\n", ignored)
	}

	if cfg.Backend == directive.BackendDevice {
		fmt.Fprintf(w, "reset:     TPM2_PCR_Reset(%s) on %s\n", reg, cfg.DevicePath)
		fmt.Fprintf(w, "extend:    TPM2_PCR_Extend(%s) on %s\n", extendArg, cfg.DevicePath)
		return nil
	}
	sudo := tpm2.Sudo{Path: cfg.SudoPath}
	name, argv := sudo.Wrap(cfg.Identity, cfg.ResetTool, tpm2.ResetArgument(reg))
	fmt.Fprintf(w, "reset:     %s %s\n", name, strings.Join(argv, " "))
	name, argv = sudo.Wrap(cfg.Identity, cfg.ExtendTool, extendArg)
	fmt.Fprintf(w, "extend:    %s %s\n", name, strings.Join(argv, " "))
	return nil
}

func newLoginCmd() *cobra.Command {
	var (
		service string
		user    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against a PAM service that includes pam_pcr",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stderr := cmd.ErrOrStderr()
			client, err := pam.NewClient(service, nil, func(msg string, isError bool) {
				if isError {
					fmt.Fprintln(stderr, "pam error:", msg)
					return
				}
				fmt.Fprintln(stderr, msg)
			})
			if err != nil {
				return err
			}
			tok, err := readSecret(cmd.InOrStdin(), stderr)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := client.Login(ctx, user, tok); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "login succeeded")
			return nil
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "login", "PAM service name under /etc/pam.d")
	cmd.Flags().StringVarP(&user, "user", "u", "", "username to authenticate")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall time limit")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// readSecret prompts without echo on a terminal and otherwise reads one line.
func readSecret(in io.Reader, prompt io.Writer) (*secret.Buffer, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, pam.PasswordPrompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		defer secret.Zero(b)
		return secret.FromBytes(b), nil
	}

	line, err := bufio.NewReader(in).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read password: %w", err)
	}
	defer secret.Zero(line)
	trimmed := line
	if n := len(trimmed); n > 0 && trimmed[n-1] == '\n' {
		trimmed = trimmed[:n-1]
	}
	if n := len(trimmed); n > 0 && trimmed[n-1] == '\r' {
		trimmed = trimmed[:n-1]
	}
	return secret.FromBytes(trimmed), nil
}
