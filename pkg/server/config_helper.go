package server

import (
	"net/http"

	"github.com/bitechdev/tagstream/pkg/config"
)

// FromServerConfig converts the server config section to a Config.
// The handler and readiness check are supplied by the caller.
func FromServerConfig(sc config.ServerConfig, handler http.Handler, ready func() error) Config {
	return Config{
		Addr:            sc.Addr,
		Handler:         handler,
		ShutdownTimeout: sc.ShutdownTimeout,
		DrainTimeout:    sc.DrainTimeout,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     sc.IdleTimeout,
		GZIP:            sc.GZIP,
		Ready:           ready,
	}
}
