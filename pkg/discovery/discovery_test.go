package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeRoster(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func collectPeers() (func() []Peer, Callback) {
	var mu sync.Mutex
	var got []Peer
	return func() []Peer {
			mu.Lock()
			defer mu.Unlock()
			return append([]Peer(nil), got...)
		}, func(p Peer) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, p)
		}
}

func TestStaticRosterAnnouncesOnStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")
	writeRoster(t, path, `
peers:
  - nickname: BOB
    ip: 10.0.0.2
    port: 9000
  - nickname: CAROL
    ip: 10.0.0.3
    port: 9000
`)

	r := NewStaticRoster(path, time.Hour)
	snapshot, cb := collectPeers()
	require.NoError(t, r.Start(context.Background(), cb))
	defer r.Stop()

	peers := snapshot()
	require.Len(t, peers, 2)
	require.Equal(t, "BOB", peers[0].Nickname)
	require.Equal(t, "10.0.0.2:9000", peers[0].endpoint())
}

func TestStaticRosterMissingFile(t *testing.T) {
	r := NewStaticRoster(filepath.Join(t.TempDir(), "absent.yaml"), time.Hour)
	_, cb := collectPeers()
	require.Error(t, r.Start(context.Background(), cb))
}

func TestStaticRosterDeduplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")
	writeRoster(t, path, `
peers:
  - nickname: BOB
    ip: 10.0.0.2
    port: 9000
`)

	r := NewStaticRoster(path, 20*time.Millisecond)
	snapshot, cb := collectPeers()
	require.NoError(t, r.Start(context.Background(), cb))
	defer r.Stop()

	// Several poll cycles with an unchanged file announce nothing new.
	time.Sleep(100 * time.Millisecond)
	require.Len(t, snapshot(), 1)
}

func TestStaticRosterReAnnouncesChangedEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")
	writeRoster(t, path, `
peers:
  - nickname: BOB
    ip: 10.0.0.2
    port: 9000
`)

	r := NewStaticRoster(path, 20*time.Millisecond)
	snapshot, cb := collectPeers()
	require.NoError(t, r.Start(context.Background(), cb))
	defer r.Stop()

	writeRoster(t, path, `
peers:
  - nickname: BOB
    ip: 10.0.0.7
    port: 9001
`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		peers := snapshot()
		if len(peers) == 2 {
			require.Equal(t, "10.0.0.7:9001", peers[1].endpoint())
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("changed endpoint never re-announced: %v", snapshot())
}

func TestStaticRosterSkipsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")
	writeRoster(t, path, `
peers:
  - nickname: BOB
  - ip: 10.0.0.3
    port: 9000
  - nickname: CAROL
    ip: 10.0.0.4
    port: 9000
`)

	r := NewStaticRoster(path, time.Hour)
	snapshot, cb := collectPeers()
	require.NoError(t, r.Start(context.Background(), cb))
	defer r.Stop()

	peers := snapshot()
	require.Len(t, peers, 1)
	require.Equal(t, "CAROL", peers[0].Nickname)
}
