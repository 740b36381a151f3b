package secrets

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

// etcdStartupTimeout is the maximum time we give the embedded etcd server to
// become ready.
const etcdStartupTimeout = 5 * time.Second

// EtcdSetup starts an embedded etcd server on localhost and returns a client
// connected to it. The returned closure shuts the server down again.
func EtcdSetup(t *testing.T) (*clientv3.Client, func()) {
	t.Helper()

	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.Logger = "zap"
	cfg.ListenClientUrls = []url.URL{{Host: "127.0.0.1:9125"}}
	cfg.ListenPeerUrls = []url.URL{{Host: "127.0.0.1:9126"}}

	etcd, err := embed.StartEtcd(cfg)
	require.NoError(t, err)

	select {
	case <-etcd.Server.ReadyNotify():

	case <-time.After(etcdStartupTimeout):
		etcd.Server.Stop()
		t.Fatal("etcd server took too long to start")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.ListenClientUrls[0].Host},
		DialTimeout: etcdStartupTimeout,
	})
	require.NoError(t, err)

	return client, func() {
		etcd.Close()
	}
}
