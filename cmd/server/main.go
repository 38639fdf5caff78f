package main

import (
	"github.com/OFFIS-RIT/peerscope/backend/internal/app"
	"github.com/OFFIS-RIT/peerscope/backend/internal/config"
	"github.com/OFFIS-RIT/peerscope/backend/internal/server"
	"github.com/OFFIS-RIT/peerscope/backend/internal/util"
)

func main() {
	util.LoadEnv()

	cfg := config.Load()
	app.InitLogger(cfg.Log)

	server.Init(cfg)
}
