package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/tollgate/tollgatedb"
	"github.com/spf13/cobra"
)

// credentialsDatabaseFileName is the default database file the client side
// commands store their credentials in, relative to the application data
// directory.
const credentialsDatabaseFileName = "credentials.db"

// newCredentialsCommand creates the command that lists the credentials the
// fetch command has collected so far.
func newCredentialsCommand() *cobra.Command {
	var dbFile string

	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "List stored L402 credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openCredentialsStore(dbFile)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeStore()
			}()

			creds, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(
				cmd.OutOrStdout(), 0, 4, 2, ' ', 0,
			)
			fmt.Fprintln(w, "LOCATION\tCREATED\tSTATE")
			for _, credential := range creds {
				state := "unpaid"
				if credential.Preimage != "" {
					state = "paid"
				}

				fmt.Fprintf(
					w, "%s\t%s\t%s\n",
					credential.Location,
					credential.CreatedAt.Format(
						"2006-01-02 15:04:05",
					),
					state,
				)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(
		&dbFile, "dbfile", "", "path to the credentials database",
	)

	return cmd
}

// openCredentialsStore opens the sqlite backed credential store at the given
// path, creating the database on first use. An empty path selects the default
// file in the application data directory.
func openCredentialsStore(dbFile string) (*tollgatedb.CredentialsStore,
	func() error, error) {

	if dbFile == "" {
		dbFile = filepath.Join(
			btcutil.AppDataDir("tollgate", false),
			credentialsDatabaseFileName,
		)
	}

	err := os.MkdirAll(filepath.Dir(dbFile), 0700)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create credentials "+
			"database directory: %w", err)
	}

	db, err := tollgatedb.NewSqliteStore(&tollgatedb.SqliteConfig{
		DatabaseFileName: dbFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open credentials "+
			"database: %w", err)
	}

	txer := tollgatedb.NewTransactionExecutor(
		db, func(tx *sql.Tx) tollgatedb.CredentialsDB {
			return db.WithTx(tx)
		},
	)

	return tollgatedb.NewCredentialsStore(txer), db.DB.Close, nil
}
