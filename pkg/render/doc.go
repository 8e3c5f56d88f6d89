// Package render turns a validated build configuration into the concrete
// files a kiln image build consumes.
//
// Renderer takes a terminal *config.FinalConfig and produces a fixed set of
// Artifacts: a Dockerfile (Alpine or Ubuntu variant, chosen by the platform
// discriminator), nginx.conf, php-fpm.conf, supervisord.conf and the
// container entrypoint script. Templates are embedded in the binary; the
// package performs no I/O beyond the optional WriteTo helper.
//
// Rendering is deterministic: the same configuration always yields
// byte-identical artifacts. Map-shaped inputs (environment variables, build
// args, php.ini overrides) are emitted in sorted key order, everything else
// follows configuration order.
//
// # Package naming
//
// Distribution package names are derived from the PHP series. Alpine drops
// the dot (series 8.3 installs php83-fpm, php83-mbstring, ...), Ubuntu keeps
// it (php8.3-fpm, php8.3-mbstring, ...). The php-fpm binary follows the same
// rule: php-fpm83 on Alpine, php-fpm8.3 on Ubuntu.
package render
