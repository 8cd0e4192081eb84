// Package autoload configures the global logger from the LOG_*
// environment on import:
//
//	import _ "github.com/recmonkey/scout/pkg/logger/autoload"
package autoload

import (
	configx "github.com/recmonkey/scout/pkg/config"
	logx "github.com/recmonkey/scout/pkg/logger"
)

func init() {
	conf, err := configx.New[logx.Config]("LOG")
	if err != nil {
		logx.Init(*logx.DefaultConfig)
		return
	}
	logx.Init(*conf)
}
