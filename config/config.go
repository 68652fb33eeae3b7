package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type
type Config struct {
	Version        string
	Bind           string
	BindTLS        string
	BindDOQ        string
	TLSCertificate string
	TLSPrivateKey  string
	API            string
	LogLevel       string
	AccessLog      string

	// Record store backend, "redis" or "memory".
	Backend       string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	// Per-call deadline for store round trips. Exceeding it maps to SERVFAIL.
	Timeout Duration

	// Geo database file, one "cidr lat lon" row per line. Empty disables
	// geo selection, every candidate set is then served in store order.
	GeoDB string
	// Grid size in degrees used to bucket client coordinates for the
	// answer cache key.
	GeoBucketDegrees float64

	Zones []Zone

	// SOA fields synthesized for every zone apex.
	SOAMaster      string
	SOAResponsible string
	SOARefresh     uint32
	SOARetry       uint32
	SOAExpire      uint32
	SOAMinTTL      uint32
	Nameservers    []string

	// Default TTL for records stored without one.
	RecordTTL uint32
	// Upper bound in seconds on answer cache entry lifetime. Entry expiry
	// still follows the shortest embedded record TTL when that is lower.
	Expire uint32

	CacheSize       int
	MaxCNAMEDepth   int
	ClientRateLimit int

	// DNSSEC signature validity window: signatures cover
	// [now-skew, now+horizon], clipped inside the key validity window.
	SignatureSkew    Duration
	SignatureHorizon Duration

	sVersion string
}

// Zone is one authoritative apex.
type Zone struct {
	Apex   string
	DNSSEC bool

	// ZSK file pair in BIND format (Kname.+alg+tag.key / .private).
	ZSKPublic  string
	ZSKPrivate string

	// Optional key validity bounds, RFC 3339. Zero means unbounded.
	KeyNotBefore string
	KeyNotAfter  string
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

var defaultConfig = `# Config version, config and build versions can be different.
version = "%s"

# Address to bind to for the DNS server
bind = ":53"

# Address to bind to for the DNS-over-TLS server
# bindtls = ":853"

# Address to bind to for the DNS-over-QUIC server
# binddoq = ":853"

# TLS certificate file
# tlscertificate = "server.crt"

# TLS private key file
# tlsprivatekey = "server.key"

# Address to bind to for the ops HTTP API (metrics, health, cache purge)
# api = "127.0.0.1:8280"

# What kind of information should be logged, Log verbosity level [debug|info|warn|error]
loglevel = "info"

# The location of access log file, left blank for disabled.
# accesslog = "access.log"

# Record store backend [redis|memory]
backend = "redis"

# Redis server address
redisaddress = "127.0.0.1:6379"

# Redis password, left blank for none
redispassword = ""

# Redis database number
redisdb = 0

# Redis connection pool size, zero for the client default
redispoolsize = 0

# Record store round trip timeout, backend slower than this answers SERVFAIL
timeout = "2s"

# Geo database file, one "cidr lat lon" row per line, '#' comments allowed.
# Left blank disables geo record selection.
# geodb = "/var/lib/constellation/geo.db"

# Client coordinates are rounded to this grid (degrees) for answer cache keys
geobucketdegrees = 10.0

# SOA record fields synthesized at every zone apex
soamaster = "ns1.example.com."
soaresponsible = "hostmaster.example.com."
soarefresh = 10000
soaretry = 2400
soaexpire = 604800
soaminttl = 3600

# NS records synthesized at every zone apex
nameservers = [
"ns1.example.com.",
"ns2.example.com.",
]

# Default TTL for records stored without one
recordttl = 600

# Answer cache entry lifetime cap in seconds
expire = 600

# Answer cache size (total entries)
cachesize = 256000

# Maximum CNAME chain length before SERVFAIL
maxcnamedepth = 10

# Maximum queries per minute for each client ip, zero for disabled
clientratelimit = 0

# Signature validity window starts this long before now (clock skew allowance)
signatureskew = "5m"

# Signature validity window ends this long after now
signaturehorizon = "48h"

# Authoritative zones
[[zones]]
apex = "example.com."
dnssec = false
# zskpublic = "/etc/constellation/Kexample.com.+013+34092.key"
# zskprivate = "/etc/constellation/Kexample.com.+013+34092.private"
# keynotbefore = "2026-01-01T00:00:00Z"
# keynotafter = "2027-01-01T00:00:00Z"
`

// Load loads the given config file
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %s", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version
	config.defaults()

	return config, nil
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = ":53"
	}
	if c.Backend == "" {
		c.Backend = "redis"
	}
	if c.RedisAddress == "" {
		c.RedisAddress = "127.0.0.1:6379"
	}
	if c.Timeout.Duration == 0 {
		c.Timeout.Duration = 2 * time.Second
	}
	if c.GeoBucketDegrees <= 0 {
		c.GeoBucketDegrees = 10
	}
	if c.RecordTTL == 0 {
		c.RecordTTL = 600
	}
	if c.Expire == 0 {
		c.Expire = 600
	}
	if c.CacheSize < 1024 {
		c.CacheSize = 1024
	}
	if c.MaxCNAMEDepth == 0 {
		c.MaxCNAMEDepth = 10
	}
	if c.SignatureSkew.Duration == 0 {
		c.SignatureSkew.Duration = 5 * time.Minute
	}
	if c.SignatureHorizon.Duration == 0 {
		c.SignatureHorizon.Duration = 48 * time.Hour
	}

	for i, z := range c.Zones {
		apex := strings.ToLower(z.Apex)
		if !strings.HasSuffix(apex, ".") {
			apex += "."
		}
		c.Zones[i].Apex = apex
	}
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %s", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %s", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
