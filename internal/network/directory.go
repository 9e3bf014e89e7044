package network

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/observability"
	"github.com/danmuck/msfcore/internal/protocol/jce"
	"github.com/danmuck/msfcore/internal/protocol/tea"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultHost = "msfwifi.3g.qq.com"
	DefaultPort = 8080

	DefaultDirectoryURL = "https://configsvr.msf.3g.qq.com/configsvr/serverlist.jsp?mType=getssolist"
	// DefaultRefreshInterval bounds how often the server list is fetched.
	DefaultRefreshInterval = time.Hour

	cachedServers = 2
)

var directoryKey = func() tea.Key {
	raw, _ := hex.DecodeString("F0441F5FF42DA58FDCF7949ABA62D411")
	k, _ := tea.KeyFrom(raw)
	return k
}()

// Server is one gateway address.
type Server struct {
	Host string
	Port int
}

func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DefaultServer is used when the directory has never answered.
var DefaultServer = Server{Host: DefaultHost, Port: DefaultPort}

// DirectoryConfig identifies the client to the directory service.
type DirectoryConfig struct {
	URL             string
	SubID           uint32
	IMEI            string
	RefreshInterval time.Duration
	HTTPClient      *http.Client
}

// Directory caches the top ranked gateways returned by the directory service.
// Fetch failures are logged and leave the cache untouched.
type Directory struct {
	cfg   DirectoryConfig
	group singleflight.Group
	now   func() time.Time

	mu          sync.Mutex
	servers     []Server
	lastAttempt time.Time
}

func NewDirectory(cfg DirectoryConfig) *Directory {
	if cfg.URL == "" {
		cfg.URL = DefaultDirectoryURL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Directory{cfg: cfg, now: time.Now}
}

// Servers returns the ranked candidates, refreshing first when the cache is
// older than the refresh interval. The default server is always last.
func (d *Directory) Servers(ctx context.Context) []Server {
	d.mu.Lock()
	stale := d.lastAttempt.IsZero() || d.now().Sub(d.lastAttempt) >= d.cfg.RefreshInterval
	d.mu.Unlock()
	if stale {
		if err := d.Refresh(ctx); err != nil {
			logs.Warnf("network.Directory refresh failed err=%v", err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Server, 0, len(d.servers)+1)
	out = append(out, d.servers...)
	for _, s := range out {
		if s == DefaultServer {
			return out
		}
	}
	return append(out, DefaultServer)
}

// Refresh fetches the server list now. Concurrent callers share one request.
func (d *Directory) Refresh(ctx context.Context) error {
	_, err, _ := d.group.Do("refresh", func() (any, error) {
		d.mu.Lock()
		d.lastAttempt = d.now()
		d.mu.Unlock()

		servers, err := d.fetch(ctx)
		observability.RecordDirectoryRefresh(err == nil)
		if err != nil {
			return nil, err
		}
		if len(servers) > cachedServers {
			servers = servers[:cachedServers]
		}
		d.mu.Lock()
		d.servers = servers
		d.mu.Unlock()
		logs.Infof("network.Directory refreshed servers=%v", servers)
		return nil, nil
	})
	return err
}

func (d *Directory) fetch(ctx context.Context) ([]Server, error) {
	req := jce.NewStruct(nil, 0, 0, 1, "00000", 100, d.cfg.SubID, d.cfg.IMEI, 0, 0, 0, 0, 0, 0, 1)
	body, err := jce.EncodeWrapper("ConfigHttp", "HttpServerListReq", "HttpServerListReq", req, 0)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(tea.Encrypt(body, directoryKey)))
	if err != nil {
		return nil, err
	}
	resp, err := d.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("network: directory status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return ParseServerList(raw)
}

// EncodeServerList builds an encrypted directory response for servers. The
// in-process directory in tests serves it.
func EncodeServerList(servers []Server) ([]byte, error) {
	list := make([]jce.Struct, 0, len(servers))
	for _, s := range servers {
		list = append(list, jce.NewStruct(nil, s.Host, s.Port))
	}
	body, err := jce.EncodeWrapper("ConfigHttp", "HttpServerListRes", "HttpServerListRes", jce.NewStruct(nil, nil, list), 0)
	if err != nil {
		return nil, err
	}
	return tea.Encrypt(body, directoryKey), nil
}

// ParseServerList decrypts a directory response and returns its servers in
// ranked order.
func ParseServerList(raw []byte) ([]Server, error) {
	plain, err := tea.Decrypt(raw, directoryKey)
	if err != nil {
		return nil, fmt.Errorf("network: decrypt server list: %w", err)
	}
	rsp, err := jce.DecodeWrapper(plain)
	if err != nil {
		return nil, fmt.Errorf("network: decode server list: %w", err)
	}
	var out []Server
	for _, item := range rsp.List(2) {
		s, ok := item.(jce.Struct)
		if !ok {
			continue
		}
		host, port := s.String(1), int(s.Int(2))
		if host == "" || port <= 0 {
			continue
		}
		out = append(out, Server{Host: host, Port: port})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("network: empty server list")
	}
	return out, nil
}
