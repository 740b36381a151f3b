package main

import (
	"fmt"
	"os"
	"path/filepath"

	tollgate "github.com/lightninglabs/tollgate"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newServeCommand creates the command that runs the reverse proxy server.
func newServeCommand() *cobra.Command {
	var (
		configFile string
		baseDir    string
		insecure   bool
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the L402 reverse proxy",
		Long: `Runs the payment gated reverse proxy described by the
configuration file. All options of the configuration file also exist as
command line flags when the binary is started through the bare entry point.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := tollgate.DefaultConfig()
			cfg.BaseDir = baseDir

			file := configFile
			if file == "" {
				file = filepath.Join(
					cfg.DataDir(), "tollgate.yaml",
				)
			}
			if err := tollgate.LoadConfigFile(file, cfg); err != nil {
				return err
			}

			if insecure {
				cfg.Insecure = true
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}

			// A postgres backend without a configured password
			// asks for it instead of requiring it in a plain text
			// file.
			if cfg.DatabaseBackend == "postgres" &&
				cfg.Postgres.Password == "" {

				password, err := promptPassword(
					"Postgres password: ",
				)
				if err != nil {
					return err
				}
				cfg.Postgres.Password = password
			}

			interceptor, err := signal.Intercept()
			if err != nil {
				return err
			}

			return tollgate.Run(cfg, interceptor)
		},
	}

	cmd.Flags().StringVar(
		&configFile, "configfile", "", "custom path to the "+
			"configuration file",
	)
	cmd.Flags().StringVar(
		&baseDir, "basedir", "", "directory to place all of "+
			"tollgate's files in",
	)
	cmd.Flags().BoolVar(
		&insecure, "insecure", false, "disable TLS for incoming "+
			"connections",
	)
	cmd.Flags().StringVar(
		&listenAddr, "listenaddr", "", "the interface to listen on "+
			"for client requests",
	)

	return cmd
}

// promptPassword reads a password from the terminal without echoing it.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("unable to read password: %w", err)
	}

	return string(password), nil
}
