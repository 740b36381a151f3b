package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/tollgate/client"
	"github.com/lightninglabs/tollgate/payer"
	"github.com/spf13/cobra"
)

// fetchTimeout bounds a whole fetch invocation, including a possible payment
// round trip.
const fetchTimeout = 5 * time.Minute

// newFetchCommand creates the command that requests a URL, transparently
// paying an L402 challenge if the server issues one.
func newFetchCommand() *cobra.Command {
	var (
		method      string
		data        string
		contentType string
		output      string
		dbFile      string

		albyKey    string
		fewsatsKey string
		lndHost    string
		tlsPath    string
		macDir     string
		network    string
		maxFeeSats int64
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Request a URL, paying an L402 challenge if needed",
		Long: `Sends an HTTP request to the given URL. If the server
answers with a 402 payment challenge, the invoice is paid through the
configured wallet, the resulting credential is stored and the request is sent
again. Later fetches of the same URL reuse the stored credential without
paying again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]

			p, err := buildPayer(
				albyKey, fewsatsKey, lndHost, tlsPath, macDir,
				network, btcutil.Amount(maxFeeSats),
			)
			if err != nil {
				return err
			}
			if p != nil {
				defer p.Stop()
			}

			store, closeStore, err := openCredentialsStore(dbFile)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeStore()
			}()

			opts := []client.Option{
				client.WithStore(store),
				client.WithUserAgent("tollgate/" + Version),
			}
			if p != nil {
				opts = append(opts, client.WithPayer(p))
			}
			httpClient := client.New(opts...)

			ctx, cancel := context.WithTimeout(
				cmd.Context(), fetchTimeout,
			)
			defer cancel()

			var body io.Reader
			if data != "" {
				body = strings.NewReader(data)
			}
			req, err := http.NewRequestWithContext(
				ctx, strings.ToUpper(method), url, body,
			)
			if err != nil {
				return err
			}
			if data != "" {
				req.Header.Set("Content-Type", contentType)
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			fmt.Fprintln(cmd.ErrOrStderr(), resp.Status)

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			_, err = io.Copy(out, resp.Body)
			return err
		},
	}

	cmd.Flags().StringVarP(
		&method, "method", "X", "GET", "HTTP method to use",
	)
	cmd.Flags().StringVarP(
		&data, "data", "d", "", "request body to send",
	)
	cmd.Flags().StringVar(
		&contentType, "contenttype", "application/json",
		"content type of the request body",
	)
	cmd.Flags().StringVarP(
		&output, "output", "o", "", "write the response body to the "+
			"given file instead of stdout",
	)
	cmd.Flags().StringVar(
		&dbFile, "dbfile", "", "path to the credentials database",
	)
	cmd.Flags().StringVar(
		&albyKey, "albykey", "", "API key to pay invoices through "+
			"Alby",
	)
	cmd.Flags().StringVar(
		&fewsatsKey, "fewsatskey", "", "API key to pay invoices "+
			"through Fewsats",
	)
	cmd.Flags().StringVar(
		&lndHost, "lndhost", "", "host:port of the lnd node to pay "+
			"invoices with",
	)
	cmd.Flags().StringVar(
		&tlsPath, "tlspath", "", "path to lnd's TLS certificate",
	)
	cmd.Flags().StringVar(
		&macDir, "macdir", "", "directory containing lnd's macaroon "+
			"files",
	)
	cmd.Flags().StringVar(
		&network, "network", "mainnet", "the network lnd runs on",
	)
	cmd.Flags().Int64Var(
		&maxFeeSats, "maxfee", 0, "routing fee limit in satoshis "+
			"for a single payment",
	)

	return cmd
}

// buildPayer creates the payer matching the given wallet flags. A nil payer
// is returned if no wallet is configured, in which case only already stored
// credentials can be used.
func buildPayer(albyKey, fewsatsKey, lndHost, tlsPath, macDir,
	network string, maxFee btcutil.Amount) (payer.Payer, error) {

	switch {
	case albyKey != "":
		return payer.NewAlbyPayer(&payer.AlbyConfig{
			APIKey: albyKey,
		})

	case fewsatsKey != "":
		return payer.NewFewsatsPayer(&payer.FewsatsConfig{
			APIKey: fewsatsKey,
		})

	case lndHost != "":
		return payer.DialLndPayer(&payer.LndConfig{
			LndHost: lndHost,
			TLSPath: tlsPath,
			MacDir:  macDir,
			Network: network,
			MaxFee:  maxFee,
		})

	default:
		return nil, nil
	}
}
