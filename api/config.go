package api

import "errors"

type CORSConfig struct {
	TrustedOrigins []string `yaml:"trusted_origins"`
}

// Config configures the HTTP server. TLS is enabled when both CertFile and KeyFile are set.
type Config struct {
	Addr     string     `yaml:"addr"`
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	CORS     CORSConfig `yaml:"cors"`
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("api server address is required")
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("cert_file and key_file must be set together")
	}

	return nil
}
