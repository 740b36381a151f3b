package tollgate

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/goccy/go-yaml"
	"github.com/lightninglabs/tollgate/proxy"
	"github.com/lightninglabs/tollgate/tollgatedb"
)

const (
	defaultConfigFilename  = "tollgate.yaml"
	defaultTLSKeyFilename  = "tls.key"
	defaultTLSCertFilename = "tls.cert"
	defaultLogLevel        = "info"
	defaultLogFilename     = "tollgate.log"
	defaultMaxLogFiles     = 3
	defaultMaxLogFileSize  = 10

	defaultSqliteDatabaseFileName = "tollgate.db"

	defaultInvoiceBatchSize = 100000
)

// tollgateDataDir is the default directory where tollgate looks for its
// configuration, TLS material, log files and the sqlite database.
var tollgateDataDir = btcutil.AppDataDir("tollgate", false)

// EtcdConfig holds the configuration options for the etcd database backend.
type EtcdConfig struct {
	Host     string `yaml:"host" long:"host" description:"host:port of an active etcd instance"`
	User     string `yaml:"user" long:"user" description:"user authorized to access the etcd host"`
	Password string `yaml:"password" long:"password" description:"password of the etcd user"`
}

// AuthConfig holds the configuration options for the challenger that is used
// to generate payment challenges.
type AuthConfig struct {
	// Disable signals that no payment challenges should be created and
	// all requests are accepted without authentication. Useful for
	// testing a deployment before hooking up a Lightning backend.
	Disable bool `yaml:"disable" long:"disable" description:"Disable the authenticator, accepting all requests"`

	// Network is the network the Lightning backend is running on.
	Network string `yaml:"network" long:"network" description:"The network the Lightning backend runs on (regtest, testnet, mainnet)"`

	// LndHost is the host:port of the lnd instance to connect to.
	LndHost string `yaml:"lndhost" long:"lndhost" description:"Hostname of the lnd instance to connect to"`

	// TLSPath is the path to lnd's TLS certificate.
	TLSPath string `yaml:"tlspath" long:"tlspath" description:"Path to lnd's TLS certificate"`

	// MacDir is the directory that contains lnd's macaroon files.
	MacDir string `yaml:"macdir" long:"macdir" description:"Directory containing lnd's macaroon files"`

	// Passphrase, if set, switches the challenger to a Lightning Node
	// Connect session instead of a direct lnd connection.
	Passphrase string `yaml:"passphrase" long:"passphrase" description:"The LNC pairing phrase to connect to a node"`

	// MailboxAddress is the host:port of the LNC mailbox server.
	MailboxAddress string `yaml:"mailboxaddress" long:"mailboxaddress" description:"The host:port of the LNC mailbox server"`

	// DevServer allows skipping TLS verification for a local LNC mailbox.
	DevServer bool `yaml:"devserver" long:"devserver" description:"Skip TLS verification for a local mailbox server"`

	// LNURL, if set, switches the challenger to fetching invoices from
	// the given LNURL-pay endpoint. No invoice settlement is verified in
	// that mode.
	LNURL string `yaml:"lnurl" long:"lnurl" description:"LNURL-pay endpoint to fetch challenge invoices from"`

	// AlbyAPIKey, if set, switches the challenger to creating invoices
	// through the Alby REST API. No invoice settlement is verified in
	// that mode.
	AlbyAPIKey string `yaml:"albyapikey" long:"albyapikey" description:"API key for creating challenge invoices through Alby"`

	// FewsatsAPIKey, if set, switches the challenger to creating invoices
	// through the Fewsats REST API. No invoice settlement is verified in
	// that mode.
	FewsatsAPIKey string `yaml:"fewsatsapikey" long:"fewsatsapikey" description:"API key for creating challenge invoices through Fewsats"`

	// Currency denominates invoice amounts requested from the HTTP
	// invoice providers (Alby, Fewsats).
	Currency string `yaml:"currency" long:"currency" description:"Currency for invoices requested from HTTP providers"`

	// InvoiceBatchSize is the number of invoices to fetch in one batch
	// when loading the invoice history from the Lightning backend.
	InvoiceBatchSize int `yaml:"invoicebatchsize" long:"invoicebatchsize" description:"Number of invoices to fetch per batch when loading the invoice history"`

	// StrictVerify makes the authenticator check the settlement status of
	// the invoice behind each presented token in addition to verifying
	// the preimage. Only supported by the lnd and LNC challengers.
	StrictVerify bool `yaml:"strictverify" long:"strictverify" description:"Check invoice settlement status when validating tokens"`
}

// TorConfig holds the configuration options for the Tor onion services that
// expose the proxy.
type TorConfig struct {
	Control     string `yaml:"control" long:"control" description:"The host:port of the Tor instance"`
	ListenPort  uint16 `yaml:"listenport" long:"listenport" description:"The port we should listen on for client requests over Tor. This port should not be exposed to the outside world, it is only meant to be reached through the onion service"`
	VirtualPort uint16 `yaml:"virtualport" long:"virtualport" description:"The port through which the onion service can be reached"`
	V3          bool   `yaml:"v3" long:"v3" description:"Whether we should listen for client requests through a v3 onion service"`

	// PrivateKeyPath, if set, stores the onion service's private key in
	// the given directory instead of the configured database backend.
	PrivateKeyPath string `yaml:"privatekeypath" long:"privatekeypath" description:"Directory to store the onion service's private key in, instead of the database"`
}

// Config is the main configuration struct of the tollgate server. It contains
// all configuration options of all subsystems.
type Config struct {
	// ListenAddr is the interface we should listen on for client requests.
	ListenAddr string `yaml:"listenaddr" long:"listenaddr" description:"The interface we should listen on for client requests"`

	// ServerName can be set to a fully qualifying domain name that should
	// be used while creating a certificate through Let's Encrypt.
	ServerName string `yaml:"servername" long:"servername" description:"Server name (FQDN) to use for the TLS certificate"`

	// AutoCert can be set to true if tollgate should try to create a
	// valid certificate through Let's Encrypt using ServerName.
	AutoCert bool `yaml:"autocert" long:"autocert" description:"Automatically create a Let's Encrypt cert using ServerName"`

	// Insecure can be set to disable TLS on incoming connections.
	Insecure bool `yaml:"insecure" long:"insecure" description:"Listen on an insecure connection, disabling TLS for incoming connections"`

	// StaticRoot is the folder where the static content served by the
	// proxy is located.
	StaticRoot string `yaml:"staticroot" long:"staticroot" description:"The folder where the static content is located"`

	// ServeStatic defines if static content should be served from the
	// directory defined by StaticRoot.
	ServeStatic bool `yaml:"servestatic" long:"servestatic" description:"Flag to enable or disable static content serving"`

	// DatabaseBackend is the database backend to be used by the server.
	// Must be either "etcd", "sqlite" or "postgres". Defaults to sqlite.
	DatabaseBackend string `yaml:"dbbackend" long:"dbbackend" description:"The database backend to use (etcd, sqlite, postgres)" choice:"etcd" choice:"sqlite" choice:"postgres"`

	// Etcd is the configuration for the etcd database backend.
	Etcd *EtcdConfig `yaml:"etcd" group:"etcd" namespace:"etcd"`

	// Sqlite is the configuration for the sqlite database backend.
	Sqlite *tollgatedb.SqliteConfig `yaml:"sqlite" group:"sqlite" namespace:"sqlite"`

	// Postgres is the configuration for the postgres database backend.
	Postgres *tollgatedb.PostgresConfig `yaml:"postgres" group:"postgres" namespace:"postgres"`

	// Authenticator is the configuration for the payment challenger.
	Authenticator *AuthConfig `yaml:"authenticator" group:"authenticator" namespace:"authenticator"`

	// Tor is the configuration for the Tor onion services.
	Tor *TorConfig `yaml:"tor" group:"tor" namespace:"tor"`

	// Services is the list of backend services the proxy dispatches
	// between.
	Services []*proxy.Service `yaml:"services" long:"service" description:"Configurations for each backend service"`

	// DebugLevel is a string defining the log level for the service
	// either for all subsystems the same or individual level by subsystem.
	DebugLevel string `yaml:"debuglevel" long:"debuglevel" description:"Debug level for tollgate and its subsystems"`

	// Prometheus is the configuration of the Prometheus metrics exporter.
	Prometheus PrometheusConfig `yaml:"prometheus" group:"prometheus" namespace:"prometheus"`

	// BaseDir is a custom directory to store all tollgate flies in, taking
	// precedence over the default data directory.
	BaseDir string `yaml:"basedir" long:"basedir" description:"Directory to place all of tollgate's files in"`

	// ConfigFile points to a custom configuration file to read instead of
	// the default one in the base directory.
	ConfigFile string `yaml:"-" long:"configfile" description:"Custom path to a configuration file"`
}

// DefaultConfig returns the default configuration of the tollgate server.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      "localhost:8081",
		DebugLevel:      defaultLogLevel,
		DatabaseBackend: "sqlite",
		Etcd:            &EtcdConfig{},
		Sqlite:          &tollgatedb.SqliteConfig{},
		Postgres:        &tollgatedb.PostgresConfig{},
		Authenticator: &AuthConfig{
			Network:          "mainnet",
			InvoiceBatchSize: defaultInvoiceBatchSize,
		},
		Tor: &TorConfig{},
	}
}

// DataDir returns the directory all of tollgate's files live in, honoring a
// custom base directory if one is configured.
func (c *Config) DataDir() string {
	if c.BaseDir != "" {
		return c.BaseDir
	}
	return tollgateDataDir
}

// validate checks the configuration for required values.
func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("missing listen address for server")
	}

	if c.AutoCert && c.ServerName == "" {
		return fmt.Errorf("servername option is required for " +
			"autocert")
	}

	switch c.DatabaseBackend {
	case "etcd":
		if c.Etcd == nil || c.Etcd.Host == "" {
			return fmt.Errorf("etcd backend requires etcd.host " +
				"to be set")
		}

	case "sqlite", "postgres", "":

	default:
		return fmt.Errorf("unknown database backend %v",
			c.DatabaseBackend)
	}

	return nil
}

// LoadConfigFile reads the configuration file at the given path into the
// passed config struct. Values present in the file override the defaults,
// a missing file is not an error as everything can be set through command
// line flags as well.
func LoadConfigFile(configFile string, cfg *Config) error {
	b, err := os.ReadFile(configFile)
	switch {
	case os.IsNotExist(err):
		return nil

	case err != nil:
		return err
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("error parsing config file %v: %w",
			configFile, err)
	}

	return nil
}
