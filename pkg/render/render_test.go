package render

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/phpkiln/phpkiln/pkg/config"
)

func alpineConfig() *config.FinalConfig {
	noCache := true
	return &config.FinalConfig{
		PlatformConfig: config.PlatformConfig{
			BaseConfig: config.BaseConfig{
				PHP: config.PHPConfig{
					Version:    "8.3",
					Extensions: []string{"mbstring", "opcache", "pdo_mysql"},
					FPM: config.FPMConfig{
						MaxChildren:     25,
						StartServers:    5,
						MinSpareServers: 2,
						MaxSpareServers: 10,
					},
				},
				Security: config.SecurityConfig{
					User:    "www-data",
					Group:   "www-data",
					NonRoot: true,
				},
				Nginx: config.NginxConfig{
					WorkerProcesses:   "auto",
					WorkerConnections: 1024,
					Gzip:              true,
				},
				Supervisor: config.SupervisorConfig{
					LogLevel: "info",
					NoDaemon: true,
				},
				Metadata: &config.Metadata{
					Maintainer: "platform@example.com",
					Version:    "1.4.0",
				},
			},
			Platform: "alpine",
			PlatformSpecific: config.PlatformSpecific{
				ApkNoCache: &noCache,
			},
		},
		Architecture: "amd64",
		Build: config.BuildConfig{
			BaseImage: "alpine:3.20",
		},
	}
}

func ubuntuConfig() *config.FinalConfig {
	yes := true
	return &config.FinalConfig{
		PlatformConfig: config.PlatformConfig{
			BaseConfig: config.BaseConfig{
				PHP: config.PHPConfig{
					Version:    "8.3",
					Extensions: []string{"mbstring", "intl"},
					FPM: config.FPMConfig{
						MaxChildren:        40,
						StartServers:       8,
						MinSpareServers:    4,
						MaxSpareServers:    16,
						MaxRequests:        500,
						ProcessIdleTimeout: 10,
					},
					RuntimeOptions: map[string]string{
						"upload_max_filesize": "10M",
						"memory_limit":        "256M",
					},
				},
				Security: config.SecurityConfig{
					User:  "www-data",
					Group: "www-data",
				},
				Nginx: config.NginxConfig{
					WorkerProcesses:   "4",
					WorkerConnections: 2048,
					SSL:               true,
					Options: &config.NginxOptions{
						ClientMaxBodySize: "10M",
						ConnectTimeout:    "5s",
						SendTimeout:       "30s",
						ReadTimeout:       "60s",
						RateLimit: &config.RateLimitConfig{
							Enabled:  true,
							Requests: 10,
							Window:   "1m",
						},
					},
				},
				Supervisor: config.SupervisorConfig{
					LogLevel: "warn",
					NoDaemon: true,
					User:     "root",
				},
				Metadata: &config.Metadata{
					Author: "legacy@example.com",
				},
			},
			Platform: "ubuntu",
			PlatformSpecific: config.PlatformSpecific{
				AptUpdate:       &yes,
				AptUpgrade:      &yes,
				AptCleanCache:   &yes,
				Repositories:    []string{"deb http://ppa.example.com/php jammy main"},
				OptimizeSize:    true,
				CleanupCommands: []string{"rm -rf /usr/share/doc", "rm -rf /usr/share/man"},
				Environment: map[string]string{
					"TZ":        "UTC",
					"APP_DEBUG": "false",
				},
			},
		},
		Architecture: "arm64",
		Build: config.BuildConfig{
			BaseImage: "ubuntu:22.04",
			BuildArgs: map[string]string{
				"VITE_KEY": "abc",
				"APP_ENV":  "prod",
			},
		},
	}
}

func renderArtifacts(t *testing.T, cfg *config.FinalConfig) []Artifact {
	t.Helper()
	r := NewRenderer(zerolog.New(nil).Level(zerolog.Disabled))
	artifacts, err := r.Render(cfg)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return artifacts
}

func artifactContent(t *testing.T, artifacts []Artifact, name string) string {
	t.Helper()
	for _, a := range artifacts {
		if a.Name == name {
			return string(a.Content)
		}
	}
	t.Fatalf("artifact %q not rendered", name)
	return ""
}

func assertContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("output missing %q\n%s", want, got)
	}
}

func assertNotContains(t *testing.T, got, want string) {
	t.Helper()
	if strings.Contains(got, want) {
		t.Errorf("output should not contain %q", want)
	}
}

func TestRenderArtifactSet(t *testing.T) {
	artifacts := renderArtifacts(t, alpineConfig())

	want := []struct {
		name string
		mode os.FileMode
	}{
		{"Dockerfile", 0o644},
		{"nginx.conf", 0o644},
		{"php-fpm.conf", 0o644},
		{"supervisord.conf", 0o644},
		{"docker-entrypoint.sh", 0o755},
	}
	if len(artifacts) != len(want) {
		t.Fatalf("got %d artifacts, want %d", len(artifacts), len(want))
	}
	for i, w := range want {
		if artifacts[i].Name != w.name {
			t.Errorf("artifact[%d] = %q, want %q", i, artifacts[i].Name, w.name)
		}
		if artifacts[i].Mode != w.mode {
			t.Errorf("artifact %s mode = %o, want %o", w.name, artifacts[i].Mode, w.mode)
		}
		if len(artifacts[i].Content) == 0 {
			t.Errorf("artifact %s is empty", w.name)
		}
	}
}

func TestRenderAlpineDockerfile(t *testing.T) {
	df := artifactContent(t, renderArtifacts(t, alpineConfig()), "Dockerfile")

	assertContains(t, df, "FROM alpine:3.20")
	assertContains(t, df, "apk add --no-cache ca-certificates curl nginx supervisor")
	assertContains(t, df, "php83 php83-fpm php83-mbstring php83-opcache php83-pdo_mysql")
	assertContains(t, df, "addgroup -S www-data")
	assertContains(t, df, `io.phpkiln.php-version="8.3"`)
	assertContains(t, df, `io.phpkiln.platform="alpine"`)
	assertContains(t, df, `org.opencontainers.image.authors="platform@example.com"`)
	assertContains(t, df, `org.opencontainers.image.version="1.4.0"`)
	assertContains(t, df, "\nUSER www-data\n")
	assertContains(t, df, "EXPOSE 80\n")
	assertContains(t, df, `ENTRYPOINT ["docker-entrypoint.sh"]`)
	assertNotContains(t, df, "apt-get")
	assertNotContains(t, df, "EXPOSE 80 443")
}

func TestRenderUbuntuDockerfile(t *testing.T) {
	df := artifactContent(t, renderArtifacts(t, ubuntuConfig()), "Dockerfile")

	assertContains(t, df, "FROM ubuntu:22.04")
	assertContains(t, df, "apt-get update")
	assertContains(t, df, "apt-get upgrade -y")
	assertContains(t, df, "apt-get install -y --no-install-recommends")
	assertContains(t, df, "php8.3-cli php8.3-fpm php8.3-mbstring php8.3-intl")
	assertContains(t, df, "apt-get clean")
	assertContains(t, df, "rm -rf /var/lib/apt/lists/*")
	assertContains(t, df, `RUN echo "deb http://ppa.example.com/php jammy main" >> /etc/apt/sources.list`)
	assertContains(t, df, "RUN rm -rf /usr/share/doc && rm -rf /usr/share/man")
	assertContains(t, df, `org.opencontainers.image.authors="legacy@example.com"`)
	assertContains(t, df, "EXPOSE 80 443")
	assertNotContains(t, df, "apk add")
	assertNotContains(t, df, "\nUSER ")

	// Build args and environment render in sorted key order.
	assertContains(t, df, "ARG APP_ENV")
	assertContains(t, df, "ARG VITE_KEY")
	if strings.Index(df, "ARG APP_ENV") > strings.Index(df, "ARG VITE_KEY") {
		t.Error("build args not sorted")
	}
	assertContains(t, df, `ENV APP_DEBUG="false"`)
	assertContains(t, df, `ENV TZ="UTC"`)
	if strings.Index(df, "ENV APP_DEBUG") > strings.Index(df, "ENV TZ") {
		t.Error("environment not sorted")
	}
}

func TestRenderUnknownPlatform(t *testing.T) {
	cfg := alpineConfig()
	cfg.Platform = "arch"

	r := NewRenderer(zerolog.New(nil).Level(zerolog.Disabled))
	if _, err := r.Render(cfg); err == nil {
		t.Fatal("expected error for unknown platform")
	} else if !strings.Contains(err.Error(), `unknown platform "arch"`) {
		t.Errorf("error = %v, want mention of unknown platform", err)
	}
}

func TestRenderNilConfig(t *testing.T) {
	r := NewRenderer(zerolog.New(nil).Level(zerolog.Disabled))
	if _, err := r.Render(nil); err == nil {
		t.Fatal("expected error for nil configuration")
	}
}

func TestRenderNginxConf(t *testing.T) {
	t.Run("non-root with gzip", func(t *testing.T) {
		conf := artifactContent(t, renderArtifacts(t, alpineConfig()), "nginx.conf")

		assertContains(t, conf, "worker_processes auto;")
		assertContains(t, conf, "worker_connections 1024;")
		assertContains(t, conf, "gzip on;")
		assertContains(t, conf, "location = /healthz")
		assertContains(t, conf, "fastcgi_pass php;")
		assertNotContains(t, conf, "user www-data;")
		assertNotContains(t, conf, "listen 443")
		assertNotContains(t, conf, "limit_req")
	})

	t.Run("root with ssl and rate limit", func(t *testing.T) {
		conf := artifactContent(t, renderArtifacts(t, ubuntuConfig()), "nginx.conf")

		assertContains(t, conf, "user www-data;")
		assertContains(t, conf, "worker_processes 4;")
		assertContains(t, conf, "listen 443 ssl;")
		assertContains(t, conf, "ssl_protocols TLSv1.2 TLSv1.3;")
		assertContains(t, conf, "limit_req_zone $binary_remote_addr zone=kiln:10m rate=10r/m;")
		assertContains(t, conf, "limit_req zone=kiln burst=10 nodelay;")
		assertContains(t, conf, "client_max_body_size 10M;")
		assertContains(t, conf, "send_timeout 30s;")
		assertContains(t, conf, "fastcgi_connect_timeout 5s;")
		assertContains(t, conf, "fastcgi_read_timeout 60s;")
		assertNotContains(t, conf, "gzip on;")
	})
}

func TestRenderPHPFPMConf(t *testing.T) {
	t.Run("non-root pool", func(t *testing.T) {
		conf := artifactContent(t, renderArtifacts(t, alpineConfig()), "php-fpm.conf")

		assertContains(t, conf, "pm.max_children = 25")
		assertContains(t, conf, "pm.start_servers = 5")
		assertContains(t, conf, "pm.min_spare_servers = 2")
		assertContains(t, conf, "pm.max_spare_servers = 10")
		assertNotContains(t, conf, "user = ")
		assertNotContains(t, conf, "pm.max_requests")
	})

	t.Run("root pool with overrides", func(t *testing.T) {
		conf := artifactContent(t, renderArtifacts(t, ubuntuConfig()), "php-fpm.conf")

		assertContains(t, conf, "user = www-data")
		assertContains(t, conf, "group = www-data")
		assertContains(t, conf, "pm.max_requests = 500")
		assertContains(t, conf, "pm.process_idle_timeout = 10s")
		assertContains(t, conf, "php_admin_value[memory_limit] = 256M")
		assertContains(t, conf, "php_admin_value[upload_max_filesize] = 10M")
		if strings.Index(conf, "memory_limit") > strings.Index(conf, "upload_max_filesize") {
			t.Error("php.ini overrides not sorted")
		}
	})
}

func TestRenderSupervisordConf(t *testing.T) {
	t.Run("alpine", func(t *testing.T) {
		conf := artifactContent(t, renderArtifacts(t, alpineConfig()), "supervisord.conf")

		assertContains(t, conf, "nodaemon=true")
		assertContains(t, conf, "loglevel=info")
		assertContains(t, conf, "command=php-fpm83 -F -y /etc/php-fpm.conf")
		assertContains(t, conf, `command=nginx -g "daemon off;"`)
		assertNotContains(t, conf, "\nuser=")
	})

	t.Run("ubuntu", func(t *testing.T) {
		conf := artifactContent(t, renderArtifacts(t, ubuntuConfig()), "supervisord.conf")

		assertContains(t, conf, "loglevel=warn")
		assertContains(t, conf, "user=root")
		assertContains(t, conf, "command=php-fpm8.3 -F -y /etc/php-fpm.conf")
	})
}

func TestRenderEntrypoint(t *testing.T) {
	script := artifactContent(t, renderArtifacts(t, alpineConfig()), "docker-entrypoint.sh")

	if !strings.HasPrefix(script, "#!/bin/sh\n") {
		t.Errorf("entrypoint missing shebang:\n%s", script)
	}
	assertContains(t, script, "php-fpm83 -t -y /etc/php-fpm.conf")
	assertContains(t, script, `exec "$@"`)
}

func TestRenderDeterministic(t *testing.T) {
	// The ubuntu fixture exercises every map-shaped input.
	first := renderArtifacts(t, ubuntuConfig())
	for i := 0; i < 5; i++ {
		again := renderArtifacts(t, ubuntuConfig())
		for j := range first {
			if !bytes.Equal(first[j].Content, again[j].Content) {
				t.Fatalf("artifact %s differs between renders", first[j].Name)
			}
		}
	}
}

func TestPHPPackageNaming(t *testing.T) {
	tests := []struct {
		platform   string
		version    string
		wantPrefix string
		wantBinary string
	}{
		{"alpine", "8.3", "php83", "php-fpm83"},
		{"alpine", "7.4", "php74", "php-fpm74"},
		{"ubuntu", "8.3", "php8.3", "php-fpm8.3"},
		{"ubuntu", "8.0", "php8.0", "php-fpm8.0"},
	}

	for _, tt := range tests {
		if got := phpPackagePrefix(tt.platform, tt.version); got != tt.wantPrefix {
			t.Errorf("phpPackagePrefix(%s, %s) = %q, want %q", tt.platform, tt.version, got, tt.wantPrefix)
		}
		if got := fpmBinary(tt.platform, tt.version); got != tt.wantBinary {
			t.Errorf("fpmBinary(%s, %s) = %q, want %q", tt.platform, tt.version, got, tt.wantBinary)
		}
	}
}

func TestRateLimitNotation(t *testing.T) {
	tests := []struct {
		name     string
		limit    *config.RateLimitConfig
		wantRate string
		wantNil  bool
	}{
		{"per minute", &config.RateLimitConfig{Enabled: true, Requests: 10, Window: "1m"}, "10r/m", false},
		{"sub-minute window", &config.RateLimitConfig{Enabled: true, Requests: 100, Window: "30s"}, "4r/s", false},
		{"hourly window", &config.RateLimitConfig{Enabled: true, Requests: 5, Window: "1h"}, "1r/m", false},
		{"bare seconds", &config.RateLimitConfig{Enabled: true, Requests: 90, Window: "90"}, "60r/m", false},
		{"per second", &config.RateLimitConfig{Enabled: true, Requests: 3, Window: "1s"}, "3r/s", false},
		{"default window", &config.RateLimitConfig{Enabled: true, Requests: 60}, "60r/m", false},
		{"disabled", &config.RateLimitConfig{Enabled: false, Requests: 10, Window: "1m"}, "", true},
		{"no requests", &config.RateLimitConfig{Enabled: true, Window: "1m"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rateLimit(&config.NginxOptions{RateLimit: tt.limit})
			if tt.wantNil {
				if got != nil {
					t.Fatalf("rateLimit = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("rateLimit = nil, want value")
			}
			if got.Rate != tt.wantRate {
				t.Errorf("rate = %q, want %q", got.Rate, tt.wantRate)
			}
			if got.Burst != tt.limit.Requests {
				t.Errorf("burst = %d, want %d", got.Burst, tt.limit.Requests)
			}
		})
	}

	if got := rateLimit(nil); got != nil {
		t.Errorf("rateLimit(nil) = %+v, want nil", got)
	}
}

func TestWriteTo(t *testing.T) {
	artifacts := renderArtifacts(t, alpineConfig())
	dir := filepath.Join(t.TempDir(), "out")

	if err := WriteTo(dir, artifacts); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	for _, a := range artifacts {
		path := filepath.Join(dir, a.Name)
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s: %v", a.Name, err)
		}
		if !bytes.Equal(content, a.Content) {
			t.Errorf("%s content differs after write", a.Name)
		}
	}

	info, err := os.Stat(filepath.Join(dir, "docker-entrypoint.sh"))
	if err != nil {
		t.Fatalf("stat entrypoint: %v", err)
	}
	if info.Mode()&0o100 == 0 {
		t.Errorf("entrypoint mode = %o, want executable", info.Mode())
	}
}
