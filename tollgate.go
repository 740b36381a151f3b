package tollgate

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/challenger"
	"github.com/lightninglabs/tollgate/lnc"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightninglabs/tollgate/proxy"
	"github.com/lightninglabs/tollgate/secrets"
	"github.com/lightninglabs/tollgate/tollgatedb"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/cert"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/lightningnetwork/lnd/tor"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	// invoiceMacaroonName is the name of the invoice macaroon belonging
	// to the target lnd node.
	invoiceMacaroonName = "invoice.macaroon"

	// defaultMailboxAddress is the mailbox server that is used if the LNC
	// challenger doesn't configure one explicitly.
	defaultMailboxAddress = "mailbox.terminal.lightning.today:443"

	// selfSignedCertValidity is the certificate validity duration we are
	// using for tollgate certificates. This is higher than lnd's default
	// 14 months and is set to a maximum just below what some operating
	// systems set as a sane maximum certificate duration. See
	// https://support.apple.com/en-us/HT210176 for more information.
	selfSignedCertValidity = time.Hour * 24 * 820

	// selfSignedCertExpiryMargin is how much time before the certificate's
	// expiry date we already refresh it with a new one. We set this to half
	// the certificate validity length to make the chances bigger for it to
	// be refreshed on a routine server restart.
	selfSignedCertExpiryMargin = selfSignedCertValidity / 2
)

var (
	// http2TLSCipherSuites is the list of cipher suites we allow the server
	// to use. This list removes a CBC cipher from the list used in lnd's
	// cert package because the underlying HTTP/2 library treats it as a bad
	// cipher, according to https://tools.ietf.org/html/rfc7540#appendix-A
	// (also see golang.org/x/net/http2/ciphers.go).
	http2TLSCipherSuites = []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	}
)

// Main is the true entrypoint of tollgate.
func Main() {
	// Parse the command line flags once to obtain a possible custom
	// location of the configuration file before reading it.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(preCfg); err != nil {
		os.Exit(1)
	}

	cfg := DefaultConfig()
	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(
			preCfg.DataDir(), defaultConfigFilename,
		)
	}
	if err := LoadConfigFile(configFile, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Parse the flags again so that values given on the command line take
	// precedence over the configuration file.
	if _, err := flags.Parse(cfg); err != nil {
		os.Exit(1)
	}

	// Hook interceptor for os signals.
	interceptor, err := signal.Intercept()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := Run(cfg, interceptor); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Run starts the server with the given configuration and blocks until a
// shutdown is requested through the interceptor or a runtime error occurs.
func Run(cfg *Config, interceptor signal.Interceptor) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := setupLogging(cfg, interceptor); err != nil {
		return fmt.Errorf("unable to set up logging: %w", err)
	}

	errChan := make(chan error)
	server := NewTollgate(cfg)
	if err := server.Start(errChan); err != nil {
		return fmt.Errorf("unable to start the server: %w", err)
	}

	select {
	case <-interceptor.ShutdownChannel():
		log.Infof("Received interrupt signal, shutting down server.")

	case err := <-errChan:
		log.Errorf("Error while running server: %v", err)
	}

	return server.Stop()
}

// Tollgate is the main server struct of the L402 proxy. It houses all of the
// subsystems that together gate access to the configured backend services
// behind Lightning payments.
type Tollgate struct {
	cfg *Config

	etcdClient *clientv3.Client
	db         *tollgatedb.BaseDB
	dbCloser   func() error

	challenger    challenger.Challenger
	httpsServer   *http.Server
	torHTTPServer *http.Server
	torController *tor.Controller
	proxy         *proxy.Proxy

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewTollgate creates a new instance of the main server.
func NewTollgate(cfg *Config) *Tollgate {
	return &Tollgate{
		cfg:  cfg,
		quit: make(chan struct{}),
	}
}

// Start sets up the proxy server and starts serving client requests. Runtime
// errors of the serving goroutines are reported through the given error
// channel.
func (t *Tollgate) Start(errChan chan error) error {
	cfg := t.cfg

	// Initialize the chosen database backend and derive all the stores
	// the subsystems need from it.
	secretStore, onionStore, lncStore, err := t.setupDatabase()
	if err != nil {
		return err
	}

	// Create the challenger that talks to our Lightning backend to
	// generate the payment challenges.
	t.challenger, err = createChallenger(
		cfg.Authenticator, lncStore, errChan,
	)
	if err != nil {
		return fmt.Errorf("unable to create challenger: %w", err)
	}

	// With the stores and the challenger in place, the minter and the
	// authenticator can be assembled.
	var authenticator auth.Authenticator
	if cfg.Authenticator.Disable {
		log.Warnf("Authenticator is disabled, all requests will be " +
			"accepted without payment!")
		authenticator = auth.NewMockAuthenticator()
	} else {
		minter := mint.New(&mint.Config{
			Challenger:     t.challenger,
			Secrets:        secretStore,
			ServiceLimiter: newStaticServiceLimiter(cfg.Services),
		})
		authenticator = auth.NewL402Authenticator(
			minter, t.challenger,
		)
	}

	// Create the proxy that dispatches between the backend services.
	t.proxy, err = proxy.New(
		authenticator, cfg.Services, cfg.ServeStatic, cfg.StaticRoot,
	)
	if err != nil {
		return fmt.Errorf("unable to create the proxy: %w", err)
	}

	if err := StartPrometheusExporter(&cfg.Prometheus); err != nil {
		return fmt.Errorf("unable to start the prometheus "+
			"exporter: %w", err)
	}

	handler := instrumentHandler(
		&cfg.Prometheus, http.HandlerFunc(t.proxy.ServeHTTP),
	)
	t.httpsServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	// Create TLS configuration by either creating new self-signed certs or
	// trying to obtain one through Let's Encrypt.
	var serveFn func() error
	if cfg.Insecure {
		// Normally, HTTP/2 only works with TLS. But there is a special
		// version called HTTP/2 Cleartext (h2c) that some clients
		// support and that gRPC uses when the grpc.WithInsecure()
		// option is used. The default HTTP handler doesn't support it
		// though so we need to add a special h2c handler here.
		serveFn = t.httpsServer.ListenAndServe
		t.httpsServer.Handler = h2c.NewHandler(
			handler, &http2.Server{},
		)
	} else {
		t.httpsServer.TLSConfig, err = getTLSConfig(
			cfg.ServerName, cfg.DataDir(), cfg.AutoCert,
		)
		if err != nil {
			return err
		}
		serveFn = func() error {
			// The TLSConfig contains certificates at this point so
			// we don't need to pass in certificate and key file
			// names.
			return t.httpsServer.ListenAndServeTLS("", "")
		}
	}

	log.Infof("Starting the server, listening on %s.", cfg.ListenAddr)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		err := serveFn()
		if err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			case <-t.quit:
			}
		}
	}()

	// If we need to listen over Tor as well, we'll set up the onion
	// service now. We're not able to use TLS for onion services since
	// they can't be verified, so we'll spin up an additional HTTP/2
	// server _without_ TLS that is not exposed to the outside world. This
	// server will only be reached through the onion service, which
	// already provides encryption, so running this additional HTTP server
	// should be relatively safe.
	if cfg.Tor.V3 {
		torController, err := initTorListener(cfg, onionStore)
		if err != nil {
			return err
		}
		t.torController = torController

		t.torHTTPServer = &http.Server{
			Addr: fmt.Sprintf(
				"localhost:%d", cfg.Tor.ListenPort,
			),
			Handler: h2c.NewHandler(handler, &http2.Server{}),
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()

			err := t.torHTTPServer.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				select {
				case errChan <- err:
				case <-t.quit:
				}
			}
		}()
	}

	return nil
}

// Stop shuts down the server and all its subsystems.
func (t *Tollgate) Stop() error {
	var returnErr error

	if t.challenger != nil {
		t.challenger.Stop()
	}

	if t.httpsServer != nil {
		if err := t.httpsServer.Close(); err != nil {
			log.Errorf("Error closing server: %v", err)
			returnErr = err
		}
	}
	if t.torHTTPServer != nil {
		if err := t.torHTTPServer.Close(); err != nil {
			log.Errorf("Error closing tor server: %v", err)
			returnErr = err
		}
	}
	if t.torController != nil {
		if err := t.torController.Stop(); err != nil {
			log.Errorf("Error stopping tor controller: %v", err)
			returnErr = err
		}
	}

	if t.etcdClient != nil {
		if err := t.etcdClient.Close(); err != nil {
			log.Errorf("Error terminating etcd client: %v", err)
			returnErr = err
		}
	}
	if t.dbCloser != nil {
		if err := t.dbCloser(); err != nil {
			log.Errorf("Error closing database: %v", err)
			returnErr = err
		}
	}

	close(t.quit)
	t.wg.Wait()

	log.Info("Shutdown complete")

	return returnErr
}

// setupDatabase initializes the configured database backend and returns the
// stores all other subsystems are built on.
func (t *Tollgate) setupDatabase() (mint.SecretStore, tor.OnionStore,
	lnc.Store, error) {

	cfg := t.cfg
	switch cfg.DatabaseBackend {
	case "etcd":
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   []string{cfg.Etcd.Host},
			DialTimeout: 5 * time.Second,
			Username:    cfg.Etcd.User,
			Password:    cfg.Etcd.Password,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("unable to connect "+
				"to etcd: %w", err)
		}
		t.etcdClient = etcdClient

		// Sessions for Lightning Node Connect need a relational
		// store, so an LNC challenger isn't available on the etcd
		// backend.
		return secrets.NewStore(etcdClient),
			t.onionStore(newOnionStore(etcdClient)), nil, nil

	case "postgres":
		store, err := tollgatedb.NewPostgresStore(cfg.Postgres)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("unable to open "+
				"postgres database: %w", err)
		}
		t.db = store.BaseDB

	case "sqlite", "":
		if err := os.MkdirAll(cfg.DataDir(), 0700); err != nil {
			return nil, nil, nil, err
		}

		if cfg.Sqlite.DatabaseFileName == "" {
			cfg.Sqlite.DatabaseFileName = filepath.Join(
				cfg.DataDir(), defaultSqliteDatabaseFileName,
			)
		}

		store, err := tollgatedb.NewSqliteStore(cfg.Sqlite)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("unable to open "+
				"sqlite database: %w", err)
		}
		t.db = store.BaseDB

	default:
		return nil, nil, nil, fmt.Errorf("unknown database "+
			"backend %v", cfg.DatabaseBackend)
	}

	t.dbCloser = t.db.DB.Close

	secretsTxer := tollgatedb.NewTransactionExecutor(
		t.db, func(tx *sql.Tx) tollgatedb.SecretsDB {
			return t.db.WithTx(tx)
		},
	)
	onionTxer := tollgatedb.NewTransactionExecutor(
		t.db, func(tx *sql.Tx) tollgatedb.OnionDB {
			return t.db.WithTx(tx)
		},
	)
	lncTxer := tollgatedb.NewTransactionExecutor(
		t.db, func(tx *sql.Tx) tollgatedb.LNCSessionsDB {
			return t.db.WithTx(tx)
		},
	)

	return tollgatedb.NewSecretsStore(secretsTxer),
		t.onionStore(tollgatedb.NewOnionStore(onionTxer)),
		tollgatedb.NewLNCSessionsStore(lncTxer), nil
}

// onionStore returns the store the Tor onion service key should be kept in,
// honoring a configured on-disk location over the database backend.
func (t *Tollgate) onionStore(dbStore tor.OnionStore) tor.OnionStore {
	if t.cfg.Tor.PrivateKeyPath != "" {
		return newOnionStoreFile(t.cfg.Tor.PrivateKeyPath)
	}
	return dbStore
}

// createChallenger creates the challenger the configuration asks for. The
// default is a direct connection to an lnd node, alternatives are a
// Lightning Node Connect session, an LNURL-pay endpoint or one of the REST
// based wallet providers.
func createChallenger(cfg *AuthConfig, lncStore lnc.Store,
	errChan chan<- error) (challenger.Challenger, error) {

	if cfg.Disable {
		return nil, nil
	}

	genInvoiceReq := func(price int64) (*lnrpc.Invoice, error) {
		return &lnrpc.Invoice{
			Memo:  "L402",
			Value: price,
		}, nil
	}

	switch {
	// A pairing phrase is set, connect through Lightning Node Connect.
	case cfg.Passphrase != "":
		if lncStore == nil {
			return nil, fmt.Errorf("an LNC challenger requires " +
				"a sql database backend")
		}

		mailboxAddress := cfg.MailboxAddress
		if mailboxAddress == "" {
			mailboxAddress = defaultMailboxAddress
		}

		session, err := lnc.NewSession(
			cfg.Passphrase, mailboxAddress, cfg.DevServer,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to create lnc "+
				"session: %w", err)
		}

		return challenger.NewLNCChallenger(
			session, lncStore, cfg.InvoiceBatchSize, genInvoiceReq,
			errChan, cfg.StrictVerify,
		)

	// Fetch invoices from an LNURL-pay endpoint. Settlement of those
	// invoices cannot be observed, so strict verification is unavailable.
	case cfg.LNURL != "":
		return challenger.NewLNURLChallenger(cfg.LNURL, cfg.Network)

	// Create invoices through the Alby REST API.
	case cfg.AlbyAPIKey != "":
		return challenger.NewAlbyChallenger(&challenger.AlbyConfig{
			APIKey:   cfg.AlbyAPIKey,
			Currency: cfg.Currency,
		})

	// Create invoices through the Fewsats REST API.
	case cfg.FewsatsAPIKey != "":
		return challenger.NewFewsatsChallenger(
			&challenger.FewsatsConfig{
				APIKey:   cfg.FewsatsAPIKey,
				Currency: cfg.Currency,
			},
		)

	// The default is a direct connection to an lnd node.
	default:
		client, err := lndclient.NewBasicClient(
			cfg.LndHost, cfg.TLSPath, cfg.MacDir, cfg.Network,
			lndclient.MacFilename(invoiceMacaroonName),
		)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to "+
				"lnd: %w", err)
		}

		lndChallenger, err := challenger.NewLndChallenger(
			client, cfg.InvoiceBatchSize, genInvoiceReq,
			context.Background, errChan, cfg.StrictVerify,
		)
		if err != nil {
			return nil, err
		}
		if err := lndChallenger.Start(); err != nil {
			return nil, fmt.Errorf("unable to start lnd "+
				"challenger: %w", err)
		}

		return lndChallenger, nil
	}
}

// setupLogging parses the debug level and initializes the log file rotator.
func setupLogging(cfg *Config, interceptor signal.Interceptor) error {
	logCfg := build.DefaultLogConfig()
	logHandlers := build.NewDefaultLogHandlers(logCfg, logWriter)
	logMgr := build.NewSubLoggerManager(logHandlers...)

	SetupLoggers(logMgr, interceptor)

	err := logWriter.InitLogRotator(
		logCfg.File, filepath.Join(cfg.DataDir(), defaultLogFilename),
	)
	if err != nil {
		return err
	}

	if cfg.DebugLevel == "" {
		cfg.DebugLevel = defaultLogLevel
	}
	return build.ParseAndSetDebugLevels(cfg.DebugLevel, logMgr)
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// getTLSConfig returns a TLS configuration for either a self-signed
// certificate or one obtained through Let's Encrypt.
func getTLSConfig(serverName, baseDir string,
	autoCert bool) (*tls.Config, error) {

	// If requested, use the autocert library that will create a new
	// certificate through Let's Encrypt as soon as the first client HTTP
	// request on the server using the TLS config comes in. Unfortunately
	// you cannot tell the library to create a certificate on startup for a
	// specific host.
	if autoCert {
		if serverName == "" {
			return nil, fmt.Errorf("servername option is " +
				"required for secure operation")
		}

		certDir := filepath.Join(baseDir, "autocert")
		log.Infof("Configuring autocert for server %v with cache dir "+
			"%v", serverName, certDir)

		manager := autocert.Manager{
			Cache:      autocert.DirCache(certDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(serverName),
		}

		go func() {
			err := http.ListenAndServe(
				":http", manager.HTTPHandler(nil),
			)
			if err != nil {
				log.Errorf("autocert http: %v", err)
			}
		}()
		return &tls.Config{
			GetCertificate: manager.GetCertificate,
			CipherSuites:   http2TLSCipherSuites,
			MinVersion:     tls.VersionTLS12,
		}, nil
	}

	// If we're not using autocert, we want to create self-signed TLS certs
	// and save them at the specified location (if they don't already
	// exist).
	tlsKeyFile := filepath.Join(baseDir, defaultTLSKeyFilename)
	tlsCertFile := filepath.Join(baseDir, defaultTLSCertFilename)
	if !fileExists(tlsCertFile) && !fileExists(tlsKeyFile) {
		log.Infof("Generating TLS certificates...")
		certBytes, keyBytes, err := cert.GenCertPair(
			"tollgate autogenerated cert", nil, nil, false,
			selfSignedCertValidity,
		)
		if err != nil {
			return nil, err
		}
		err = cert.WriteCertPair(
			tlsCertFile, tlsKeyFile, certBytes, keyBytes,
		)
		if err != nil {
			return nil, err
		}
		log.Infof("Done generating TLS certificates")
	}

	// Load the certs now so we can inspect them and return a complete TLS
	// config later.
	certData, parsedCert, err := cert.LoadCert(tlsCertFile, tlsKeyFile)
	if err != nil {
		return nil, err
	}

	// The margin is negative, so adding it to the expiry date should give
	// us a date in about the middle of its validity period.
	expiryWithMargin := parsedCert.NotAfter.Add(
		-1 * selfSignedCertExpiryMargin,
	)

	// If the certificate expired or it was outdated, delete it and the TLS
	// key and generate a new pair.
	if time.Now().After(expiryWithMargin) {
		log.Info("TLS certificate will expire soon, generating a " +
			"new one")

		if err := os.Remove(tlsCertFile); err != nil {
			return nil, err
		}
		if err := os.Remove(tlsKeyFile); err != nil {
			return nil, err
		}

		log.Infof("Renewing TLS certificates...")
		certBytes, keyBytes, err := cert.GenCertPair(
			"tollgate autogenerated cert", nil, nil, false,
			selfSignedCertValidity,
		)
		if err != nil {
			return nil, err
		}
		err = cert.WriteCertPair(
			tlsCertFile, tlsKeyFile, certBytes, keyBytes,
		)
		if err != nil {
			return nil, err
		}
		log.Infof("Done renewing TLS certificates")

		// Reload the certificate data.
		certData, _, err = cert.LoadCert(tlsCertFile, tlsKeyFile)
		if err != nil {
			return nil, err
		}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certData},
		CipherSuites: http2TLSCipherSuites,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// initTorListener initiates a Tor controller instance with the Tor server
// specified in the config. An onion service will be created over which the
// proxy can be reached at.
func initTorListener(cfg *Config,
	store tor.OnionStore) (*tor.Controller, error) {

	// Establish a controller connection with the backing Tor server and
	// proceed to create the requested onion service.
	onionCfg := tor.AddOnionConfig{
		VirtualPort: int(cfg.Tor.VirtualPort),
		TargetPorts: []int{int(cfg.Tor.ListenPort)},
		Store:       store,
		Type:        tor.V3,
	}
	torController := tor.NewController(cfg.Tor.Control, "", "")
	if err := torController.Start(); err != nil {
		return nil, err
	}

	addr, err := torController.AddOnion(onionCfg)
	if err != nil {
		return nil, err
	}
	log.Infof("Listening over Tor on %v", addr)

	return torController, nil
}
