package main

import (
	"github.com/OFFIS-RIT/indaga/backend/internal/server"
	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Prefix: "server",
		JSON:   util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)
	defer logger.Close()

	server.Init()
}
