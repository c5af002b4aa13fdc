package main

import (
	"penpreserve/bot"
	"penpreserve/config"
	"penpreserve/handlers"
)

func main() {
	config.LoadConfig()
	bot.Run(handlers.Register)
}
